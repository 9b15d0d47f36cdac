package assembler

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfdesk/internal/document"
)

func realPDF(t *testing.T, lib document.Library, pages int) []byte {
	t.Helper()
	readers := make([]io.Reader, pages)
	for i := range readers {
		img := image.NewRGBA(image.Rect(0, 0, 16, 24))
		for x := 0; x < 16; x++ {
			for y := 0; y < 24; y++ {
				img.Set(x, y, color.RGBA{R: uint8(60 * i), G: 90, B: 30, A: 255})
			}
		}
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		readers[i] = &buf
	}
	data, err := lib.ImportImages(readers, document.Layout{})
	require.NoError(t, err)
	return data
}

func TestExtractPagesWithPDFCPU(t *testing.T) {
	lib := document.NewPDFCPU(document.PDFCPUOptions{})
	a := New(lib, nil)
	src, err := a.Open("deck.pdf", realPDF(t, lib, 3))
	require.NoError(t, err)

	art, err := a.ExtractPages(src, "3,1")
	require.NoError(t, err)
	assert.Equal(t, 2, art.Pages)

	out, err := lib.Load(art.Data)
	require.NoError(t, err)
	assert.Equal(t, 2, out.PageCount())
	assert.Equal(t, 3, src.PageCount())
}

func TestSplitAllPagesWithPDFCPU(t *testing.T) {
	lib := document.NewPDFCPU(document.PDFCPUOptions{})
	a := New(lib, nil)
	src, err := a.Open("deck.pdf", realPDF(t, lib, 3))
	require.NoError(t, err)

	art, err := a.SplitAllPages(src)
	require.NoError(t, err)
	names, entries := unzip(t, art.Data)
	assert.Equal(t, []string{"deck-page-1.pdf", "deck-page-2.pdf", "deck-page-3.pdf"}, names)
	for _, name := range names {
		doc, err := lib.Load(entries[name])
		require.NoError(t, err, name)
		assert.Equal(t, 1, doc.PageCount(), name)
	}
}

// shortCopyLib hands out documents whose copies report no pages.
type shortCopyLib struct{ *fakeLib }

type shortCopyDoc struct{ document.Document }

type emptyDoc struct{ document.Document }

func (l shortCopyLib) Load(data []byte) (document.Document, error) {
	doc, err := l.fakeLib.Load(data)
	if err != nil {
		return nil, err
	}
	return shortCopyDoc{doc}, nil
}

func (d shortCopyDoc) CopyPages(indices []int) (document.Document, error) {
	sub, err := d.Document.CopyPages(indices)
	if err != nil {
		return nil, err
	}
	return emptyDoc{sub}, nil
}

func (emptyDoc) PageCount() int { return 0 }

func TestExtractPagesRejectsShortCopy(t *testing.T) {
	lib := shortCopyLib{&fakeLib{}}
	a := New(lib, nil)
	src, err := a.Open("deck.pdf", newFakeSource(3))
	require.NoError(t, err)

	_, err = a.ExtractPages(src, "1-2")
	assert.ErrorIs(t, err, ErrWriteFailed)
}
