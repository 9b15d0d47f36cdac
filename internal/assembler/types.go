package assembler

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/local/pdfdesk/internal/document"
)

const (
	ContentTypePDF = "application/pdf"
	ContentTypeZip = "application/zip"
)

// Source is a loaded input document. It is read-only to the assembler.
type Source struct {
	Name string
	Data []byte
	Doc  document.Document
}

// PageCount of the loaded document.
func (s *Source) PageCount() int { return s.Doc.PageCount() }

// Stem is the file name without directory or extension.
func (s *Source) Stem() string { return stem(s.Name) }

// Digest identifies the source bytes.
func (s *Source) Digest() string { return Digest(s.Data) }

// Digest returns the hex blake2b-256 of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Artifact is one finished output.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
	// Size is the formatted byte size.
	Size     string
	Pages    int
	Warnings []*Error
}

// Bytes is the raw payload length.
func (a *Artifact) Bytes() int64 { return int64(len(a.Data)) }

// CompressResult reports the outcome of Compress. ReductionPercent is negative
// when the output grew.
type CompressResult struct {
	Artifact         *Artifact
	OriginalBytes    int64
	OriginalSize     string
	ReductionPercent int
}

// Info describes a loaded document.
type Info struct {
	Name      string `json:"name"`
	PageCount int    `json:"page_count"`
	Bytes     int64  `json:"bytes"`
	Size      string `json:"size"`
}

// Image is one raster input for ImagesToPDF.
type Image struct {
	Name string
	Data []byte
}

// SplitMode selects between extracting a range and one file per page.
type SplitMode int

const (
	SplitRanges SplitMode = iota
	SplitAll
)

func (m SplitMode) String() string {
	if m == SplitAll {
		return "all"
	}
	return "ranges"
}

// ParseSplitMode accepts "ranges" or "all"; empty means ranges.
func ParseSplitMode(s string) (SplitMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ranges":
		return SplitRanges, nil
	case "all":
		return SplitAll, nil
	default:
		return 0, fmt.Errorf("unknown split mode %q", s)
	}
}

// CompressionLevel selects how hard Compress tries.
type CompressionLevel int

const (
	Recommended CompressionLevel = iota
	Extreme
)

func (l CompressionLevel) String() string {
	if l == Extreme {
		return "extreme"
	}
	return "recommended"
}

// ParseCompressionLevel accepts "recommended" or "extreme"; empty means recommended.
func ParseCompressionLevel(s string) (CompressionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "recommended":
		return Recommended, nil
	case "extreme":
		return Extreme, nil
	default:
		return 0, fmt.Errorf("unknown compression level %q", s)
	}
}

// RotationMap holds per-page rotation deltas keyed by zero-based page index.
// Values are kept in [0, 360); absent pages have delta 0.
type RotationMap map[int]int

// Rotate adds delta to the page's accumulated delta.
func (m RotationMap) Rotate(index, delta int) {
	d := document.NormalizeRotation(m[index] + delta)
	if d == 0 {
		delete(m, index)
		return
	}
	m[index] = d
}

// Delta returns the normalised delta for a page.
func (m RotationMap) Delta(index int) int {
	return document.NormalizeRotation(m[index])
}

// Indices returns the pages with a non-zero delta, ascending.
func (m RotationMap) Indices() []int {
	out := make([]int, 0, len(m))
	for idx := range m {
		if m.Delta(idx) != 0 {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

// Option adjusts a single operation.
type Option func(*options)

type options struct {
	password string
}

// WithPassword requests output password protection. Protection is not
// supported: the result is written without it and carries an
// UnsupportedProtection warning.
func WithPassword(pw string) Option {
	return func(o *options) { o.password = pw }
}

func collect(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func stem(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	s := strings.TrimSuffix(base, filepath.Ext(base))
	if s == "" || s == "." || s == "/" {
		return "document"
	}
	return s
}
