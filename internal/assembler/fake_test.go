package assembler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/local/pdfdesk/internal/document"
)

// fakeLib serialises documents as JSON so tests can inspect outputs without a
// real PDF stack.
type fakeLib struct {
	loads     int
	failSave  bool
	mergeErr  error
	importErr error
}

type fakePage struct {
	ID  string `json:"id"`
	Rot int    `json:"rot"`
}

type fakeDoc struct {
	lib   *fakeLib
	Pages []fakePage `json:"pages"`
}

const fakeMagic = "FAKEPDF:"

func newFakeSource(pages int) []byte {
	d := fakeDoc{}
	for i := 0; i < pages; i++ {
		d.Pages = append(d.Pages, fakePage{ID: fmt.Sprintf("p%d", i+1)})
	}
	return encodeFake(d.Pages)
}

func encodeFake(pages []fakePage) []byte {
	b, _ := json.Marshal(struct {
		Pages []fakePage `json:"pages"`
	}{pages})
	return append([]byte(fakeMagic), b...)
}

func decodeFake(data []byte) ([]fakePage, error) {
	s := string(data)
	if !strings.HasPrefix(s, fakeMagic) {
		return nil, errors.New("not a document")
	}
	var d struct {
		Pages []fakePage `json:"pages"`
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(s, fakeMagic)), &d); err != nil {
		return nil, err
	}
	return d.Pages, nil
}

func (l *fakeLib) Load(data []byte) (document.Document, error) {
	l.loads++
	pages, err := decodeFake(data)
	if err != nil {
		return nil, err
	}
	return &fakeDoc{lib: l, Pages: pages}, nil
}

func (l *fakeLib) Merge(docs [][]byte) ([]byte, error) {
	if l.mergeErr != nil {
		return nil, l.mergeErr
	}
	var all []fakePage
	for _, d := range docs {
		pages, err := decodeFake(d)
		if err != nil {
			return nil, err
		}
		all = append(all, pages...)
	}
	return encodeFake(all), nil
}

func (l *fakeLib) ImportImages(imgs []io.Reader, _ document.Layout) ([]byte, error) {
	if l.importErr != nil {
		return nil, l.importErr
	}
	var pages []fakePage
	for _, r := range imgs {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		pages = append(pages, fakePage{ID: string(b)})
	}
	return encodeFake(pages), nil
}

func (d *fakeDoc) PageCount() int { return len(d.Pages) }

func (d *fakeDoc) CopyPages(indices []int) (document.Document, error) {
	out := &fakeDoc{lib: d.lib}
	for _, i := range indices {
		if i < 0 || i >= len(d.Pages) {
			return nil, document.ErrPageOutOfRange
		}
		out.Pages = append(out.Pages, d.Pages[i])
	}
	return out, nil
}

func (d *fakeDoc) Rotation(index int) (int, error) {
	if index < 0 || index >= len(d.Pages) {
		return 0, document.ErrPageOutOfRange
	}
	return d.Pages[index].Rot, nil
}

func (d *fakeDoc) SetRotation(index, degrees int) error {
	if index < 0 || index >= len(d.Pages) {
		return document.ErrPageOutOfRange
	}
	d.Pages[index].Rot = document.NormalizeRotation(degrees)
	return nil
}

func (d *fakeDoc) Save(opts document.SaveOptions) ([]byte, error) {
	if d.lib != nil && d.lib.failSave {
		return nil, errors.New("disk full")
	}
	out := encodeFake(d.Pages)
	if opts.Optimize {
		out = []byte(strings.ReplaceAll(string(out), `"rot":0`, `"rot":0 `))
	}
	return out, nil
}

type fakeConverter struct {
	out []byte
	err error
}

func (c fakeConverter) ConvertToPDF(_ context.Context, _ string, _ []byte) ([]byte, error) {
	return c.out, c.err
}
