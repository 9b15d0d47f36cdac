// Package document defines the page-level document operations the assembler
// relies on, and provides a pdfcpu-backed implementation.
package document

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrPageOutOfRange is returned for page indices outside [0, PageCount).
var ErrPageOutOfRange = errors.New("page index out of range")

// Library loads and creates documents.
type Library interface {
	// Load parses document bytes. Encryption with an empty user password is
	// ignored so page structure is readable for any such file.
	Load(data []byte) (Document, error)
	// Merge concatenates whole documents in the given order.
	Merge(docs [][]byte) ([]byte, error)
	// ImportImages builds a new document with one page per image.
	ImportImages(imgs []io.Reader, layout Layout) ([]byte, error)
}

// Document is a loaded document. Implementations are not safe for concurrent use.
type Document interface {
	PageCount() int
	// CopyPages creates a new document holding copies of the given zero-based
	// pages, appended in the order given.
	CopyPages(indices []int) (Document, error)
	// Rotation returns the effective rotation of a page in degrees, [0, 360).
	Rotation(index int) (int, error)
	// SetRotation overwrites a page's rotation.
	SetRotation(index, degrees int) error
	// Save serialises the document. Output is never encrypted.
	Save(opts SaveOptions) ([]byte, error)
}

// SaveOptions tunes serialisation.
type SaveOptions struct {
	UseObjectStreams bool
	Optimize         bool
	DedupeContent    bool
}

// PageSize is the paper format for image import.
type PageSize int

const (
	A4 PageSize = iota
	Letter
)

func (p PageSize) String() string {
	switch p {
	case A4:
		return "A4"
	case Letter:
		return "Letter"
	default:
		return fmt.Sprintf("PageSize(%d)", int(p))
	}
}

// ParsePageSize accepts "a4" or "letter" in any case; empty means A4.
func ParsePageSize(s string) (PageSize, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "a4":
		return A4, nil
	case "letter":
		return Letter, nil
	default:
		return 0, fmt.Errorf("unknown page size %q", s)
	}
}

// Orientation of imported pages.
type Orientation int

const (
	Portrait Orientation = iota
	Landscape
)

func (o Orientation) String() string {
	if o == Landscape {
		return "landscape"
	}
	return "portrait"
}

// ParseOrientation accepts "portrait" or "landscape"; empty means portrait.
func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "portrait":
		return Portrait, nil
	case "landscape":
		return Landscape, nil
	default:
		return 0, fmt.Errorf("unknown orientation %q", s)
	}
}

// Layout places imported images on pages.
type Layout struct {
	Size        PageSize
	Orientation Orientation
}

// NormalizeRotation maps any multiple of 90 (or other degree value) into [0, 360).
func NormalizeRotation(deg int) int {
	return ((deg % 360) + 360) % 360
}
