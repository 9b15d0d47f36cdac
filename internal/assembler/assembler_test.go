package assembler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfdesk/internal/document"
)

func open(t *testing.T, lib *fakeLib, name string, pages int) (*Assembler, *Source) {
	t.Helper()
	a := New(lib, nil)
	src, err := a.Open(name, newFakeSource(pages))
	require.NoError(t, err)
	return a, src
}

func pagesOf(t *testing.T, data []byte) []fakePage {
	t.Helper()
	pages, err := decodeFake(data)
	require.NoError(t, err)
	return pages
}

func ids(pages []fakePage) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.ID
	}
	return out
}

func unzip(t *testing.T, data []byte) ([]string, map[string][]byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	contents := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		names = append(names, f.Name)
		contents[f.Name] = b
	}
	return names, contents
}

func TestOpenRejectsGarbage(t *testing.T) {
	a := New(&fakeLib{}, nil)
	_, err := a.Open("x.pdf", []byte("garbage"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoadFailed))
	assert.Equal(t, LoadFailed, KindOf(err))
}

func TestOpenRejectsEmptyDocument(t *testing.T) {
	a := New(&fakeLib{}, nil)
	_, err := a.Open("x.pdf", newFakeSource(0))
	assert.True(t, errors.Is(err, ErrLoadFailed))
}

func TestInspect(t *testing.T) {
	a := New(&fakeLib{}, nil)
	data := newFakeSource(4)
	info, err := a.Inspect("report.pdf", data)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", info.Name)
	assert.Equal(t, 4, info.PageCount)
	assert.Equal(t, int64(len(data)), info.Bytes)
	assert.Contains(t, info.Size, "Bytes")
}

func TestExtractPagesOrderAndName(t *testing.T) {
	a, src := open(t, &fakeLib{}, "docs/report.pdf", 10)

	art, err := a.ExtractPages(src, "5,1")
	require.NoError(t, err)
	assert.Equal(t, "report-extracted.pdf", art.Name)
	assert.Equal(t, ContentTypePDF, art.ContentType)
	assert.Equal(t, 2, art.Pages)
	assert.Equal(t, []string{"p1", "p5"}, ids(pagesOf(t, art.Data)))
	assert.Equal(t, art.Bytes(), int64(len(art.Data)))
	assert.Empty(t, art.Warnings)
}

func TestExtractPagesFullRangeRoundTrip(t *testing.T) {
	a, src := open(t, &fakeLib{}, "a.pdf", 6)
	art, err := a.ExtractPages(src, "1-6")
	require.NoError(t, err)
	assert.Equal(t, ids(pagesOf(t, src.Data)), ids(pagesOf(t, art.Data)))
}

func TestExtractPagesClipsPairs(t *testing.T) {
	a, src := open(t, &fakeLib{}, "a.pdf", 5)
	art, err := a.ExtractPages(src, "4-9,12")
	require.NoError(t, err)
	assert.Equal(t, []string{"p4", "p5"}, ids(pagesOf(t, art.Data)))
}

func TestExtractPagesInvalidRange(t *testing.T) {
	lib := &fakeLib{}
	a, src := open(t, lib, "a.pdf", 3)
	loads := lib.loads

	for _, expr := range []string{"", "abc", "9", "0", "3-1"} {
		_, err := a.ExtractPages(src, expr)
		require.Error(t, err, expr)
		assert.True(t, errors.Is(err, ErrInvalidRange), expr)
	}
	assert.Equal(t, loads, lib.loads)
}

func TestExtractPagesWriteFailure(t *testing.T) {
	lib := &fakeLib{}
	a, src := open(t, lib, "a.pdf", 3)
	lib.failSave = true
	_, err := a.ExtractPages(src, "1")
	assert.True(t, errors.Is(err, ErrWriteFailed))
}

func TestSplitAllPagesArchive(t *testing.T) {
	a, src := open(t, &fakeLib{}, "book.pdf", 3)

	art, err := a.SplitAllPages(src)
	require.NoError(t, err)
	assert.Equal(t, "book-split.zip", art.Name)
	assert.Equal(t, ContentTypeZip, art.ContentType)
	assert.Equal(t, 3, art.Pages)

	names, contents := unzip(t, art.Data)
	assert.Equal(t, []string{"book-page-1.pdf", "book-page-2.pdf", "book-page-3.pdf"}, names)
	for i, n := range names {
		pages := pagesOf(t, contents[n])
		require.Len(t, pages, 1)
		assert.Equal(t, ids(pagesOf(t, src.Data))[i], pages[0].ID)
	}
}

func TestSplitAllPagesSinglePage(t *testing.T) {
	a, src := open(t, &fakeLib{}, "memo.pdf", 1)
	art, err := a.SplitAllPages(src)
	require.NoError(t, err)
	assert.Equal(t, "memo-page-1.pdf", art.Name)
	assert.Equal(t, ContentTypePDF, art.ContentType)
}

func TestSplitDispatch(t *testing.T) {
	a, src := open(t, &fakeLib{}, "a.pdf", 2)

	art, err := a.Split(src, SplitAll, "ignored")
	require.NoError(t, err)
	assert.Equal(t, "a-split.zip", art.Name)

	art, err = a.Split(src, SplitRanges, "2")
	require.NoError(t, err)
	assert.Equal(t, "a-extracted.pdf", art.Name)
}

func TestApplyRotations(t *testing.T) {
	a, src := open(t, &fakeLib{}, "scan.pdf", 3)
	rot := RotationMap{}
	rot.Rotate(0, 90)
	rot.Rotate(2, -90)

	art, err := a.ApplyRotations(src, rot)
	require.NoError(t, err)
	assert.Equal(t, "scan-rotated.pdf", art.Name)
	pages := pagesOf(t, art.Data)
	assert.Equal(t, []int{90, 0, 270}, []int{pages[0].Rot, pages[1].Rot, pages[2].Rot})

	// source untouched
	assert.Equal(t, 0, pagesOf(t, src.Data)[0].Rot)
}

func TestApplyRotationsFullTurnIsIdentity(t *testing.T) {
	a, src := open(t, &fakeLib{}, "scan.pdf", 2)
	rot := RotationMap{}
	for i := 0; i < 4; i++ {
		rot.Rotate(1, 90)
	}
	assert.Empty(t, rot.Indices())

	art, err := a.ApplyRotations(src, rot)
	require.NoError(t, err)
	assert.Equal(t, pagesOf(t, src.Data), pagesOf(t, art.Data))
}

func TestApplyRotationsOutOfRange(t *testing.T) {
	lib := &fakeLib{}
	a, src := open(t, lib, "scan.pdf", 2)
	loads := lib.loads
	_, err := a.ApplyRotations(src, RotationMap{5: 90})
	assert.True(t, errors.Is(err, ErrInvalidRange))
	assert.Equal(t, loads, lib.loads)
}

func TestCompressMayGrow(t *testing.T) {
	a, src := open(t, &fakeLib{}, "big.pdf", 3)
	res, err := a.Compress(src, Recommended)
	require.NoError(t, err)
	assert.Equal(t, "big-compressed.pdf", res.Artifact.Name)
	assert.Equal(t, int64(len(src.Data)), res.OriginalBytes)
	assert.Greater(t, res.Artifact.Bytes(), res.OriginalBytes)
	assert.Less(t, res.ReductionPercent, 0)
}

func TestReductionPercent(t *testing.T) {
	assert.Equal(t, 50, ReductionPercent(200, 100))
	assert.Equal(t, 0, ReductionPercent(100, 100))
	assert.Equal(t, -10, ReductionPercent(100, 110))
	assert.Equal(t, 1, ReductionPercent(200, 199))
	assert.Equal(t, 0, ReductionPercent(0, 10))
}

func TestPasswordWarning(t *testing.T) {
	a, src := open(t, &fakeLib{}, "a.pdf", 2)
	art, err := a.ExtractPages(src, "1", WithPassword("secret"))
	require.NoError(t, err)
	require.Len(t, art.Warnings, 1)
	assert.True(t, errors.Is(art.Warnings[0], ErrUnsupportedProtection))
}

func TestMerge(t *testing.T) {
	lib := &fakeLib{}
	a := New(lib, nil)
	s1, err := a.Open("a.pdf", newFakeSource(2))
	require.NoError(t, err)
	s2, err := a.Open("b.pdf", newFakeSource(3))
	require.NoError(t, err)

	art, err := a.Merge([]*Source{s1, s2})
	require.NoError(t, err)
	assert.Equal(t, "merged.pdf", art.Name)
	assert.Equal(t, 5, art.Pages)
	assert.Len(t, pagesOf(t, art.Data), 5)

	_, err = a.Merge([]*Source{s1})
	assert.True(t, errors.Is(err, ErrUnsupportedInput))

	lib.mergeErr = errors.New("boom")
	_, err = a.Merge([]*Source{s1, s2})
	assert.True(t, errors.Is(err, ErrWriteFailed))
}

func TestImagesToPDF(t *testing.T) {
	a := New(&fakeLib{}, nil)
	imgs := []Image{
		{Name: "one.png", Data: []byte("img-1")},
		{Name: "two.jpg", Data: []byte("img-2")},
		{Name: "one.png", Data: []byte("img-1")},
	}
	art, err := a.ImagesToPDF(imgs, document.Layout{})
	require.NoError(t, err)
	assert.Equal(t, "images.pdf", art.Name)
	assert.Equal(t, []string{"img-1", "img-2"}, ids(pagesOf(t, art.Data)))

	art, err = a.ImagesToPDF(imgs[:1], document.Layout{Size: document.Letter})
	require.NoError(t, err)
	assert.Equal(t, "one.pdf", art.Name)

	_, err = a.ImagesToPDF(nil, document.Layout{})
	assert.True(t, errors.Is(err, ErrUnsupportedInput))
}

func TestImagesToPDFErrors(t *testing.T) {
	lib := &fakeLib{importErr: document.ErrUnsupportedImage}
	a := New(lib, nil)
	_, err := a.ImagesToPDF([]Image{{Name: "x.txt", Data: []byte("x")}}, document.Layout{})
	assert.True(t, errors.Is(err, ErrUnsupportedInput))

	lib.importErr = errors.New("corrupt")
	_, err = a.ImagesToPDF([]Image{{Name: "x.png", Data: []byte("x")}}, document.Layout{})
	assert.True(t, errors.Is(err, ErrLoadFailed))
}

func TestConvertOffice(t *testing.T) {
	_, err := New(&fakeLib{}, nil).ConvertOffice(context.Background(), "a.docx", []byte("doc"))
	assert.True(t, errors.Is(err, ErrUnsupportedInput))

	a := New(&fakeLib{}, fakeConverter{out: newFakeSource(2)})
	art, err := a.ConvertOffice(context.Background(), "letters/offer.docx", []byte("doc"))
	require.NoError(t, err)
	assert.Equal(t, "offer.pdf", art.Name)
	assert.Equal(t, 2, art.Pages)

	a = New(&fakeLib{}, fakeConverter{err: errors.New("soffice exited 1")})
	_, err = a.ConvertOffice(context.Background(), "a.docx", []byte("doc"))
	assert.True(t, errors.Is(err, ErrLoadFailed))
}
