// Package archive packages several payloads into one in-memory zip.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zip"
)

// ErrDuplicateEntry is returned when an entry name is added twice.
var ErrDuplicateEntry = errors.New("duplicate archive entry")

// ErrClosed is returned when adding to an archive that was already serialised.
var ErrClosed = errors.New("archive already serialised")

// Archive collects named entries in insertion order.
type Archive struct {
	buf    bytes.Buffer
	zw     *zip.Writer
	names  map[string]struct{}
	closed bool
	now    func() time.Time
}

// New creates an empty archive.
func New() *Archive {
	a := &Archive{names: make(map[string]struct{}), now: time.Now}
	a.zw = zip.NewWriter(&a.buf)
	return a
}

// Add appends a deflated entry.
func (a *Archive) Add(name string, data []byte) error {
	if a.closed {
		return ErrClosed
	}
	if _, dup := a.names[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}
	w, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: a.now(),
	})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	a.names[name] = struct{}{}
	return nil
}

// Bytes finalises the archive and returns its serialised form. Further calls
// return the same bytes.
func (a *Archive) Bytes() ([]byte, error) {
	if !a.closed {
		if err := a.zw.Close(); err != nil {
			return nil, fmt.Errorf("close archive: %w", err)
		}
		a.closed = true
	}
	return a.buf.Bytes(), nil
}
