// Package assembler builds output documents from page selections of loaded
// sources: range extraction, one-file-per-page decomposition, rotation,
// re-compression, merging, and image or office conversion.
//
// Operations are synchronous and process pages strictly in index order, one
// document library call at a time. An Assembler holds no per-operation state,
// but a given Source must not be used by two operations at once.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfdesk/internal/bytesize"
	"github.com/local/pdfdesk/internal/document"
	"github.com/local/pdfdesk/internal/metrics"
	"github.com/local/pdfdesk/internal/pagerange"
)

// Converter turns an office document into PDF bytes.
type Converter interface {
	ConvertToPDF(ctx context.Context, name string, data []byte) ([]byte, error)
}

// Assembler runs document operations against a document library.
type Assembler struct {
	lib       document.Library
	converter Converter
}

// New creates an Assembler. conv may be nil, in which case ConvertOffice
// reports UnsupportedInput.
func New(lib document.Library, conv Converter) *Assembler {
	return &Assembler{lib: lib, converter: conv}
}

// Open loads a source document.
func (a *Assembler) Open(name string, data []byte) (*Source, error) {
	doc, err := a.lib.Load(data)
	if err != nil {
		return nil, newError(LoadFailed, "open", err)
	}
	if doc.PageCount() <= 0 {
		return nil, newError(LoadFailed, "open", errors.New("document has no pages"))
	}
	return &Source{Name: name, Data: data, Doc: doc}, nil
}

// Inspect loads data and reports its name, page count and size.
func (a *Assembler) Inspect(name string, data []byte) (*Info, error) {
	src, err := a.Open(name, data)
	if err != nil {
		return nil, err
	}
	return &Info{
		Name:      name,
		PageCount: src.PageCount(),
		Bytes:     int64(len(data)),
		Size:      bytesize.Format(int64(len(data))),
	}, nil
}

// Split dispatches on mode: SplitRanges extracts expr, SplitAll decomposes.
func (a *Assembler) Split(src *Source, mode SplitMode, expr string, opts ...Option) (*Artifact, error) {
	if mode == SplitAll {
		return a.SplitAllPages(src, opts...)
	}
	return a.ExtractPages(src, expr, opts...)
}

// ExtractPages copies the pages selected by expr, in ascending page order,
// into one new document named <stem>-extracted.pdf.
func (a *Assembler) ExtractPages(src *Source, expr string, opts ...Option) (art *Artifact, err error) {
	const op = "extract"
	start := time.Now()
	defer func() { observe(op, start, art, err) }()

	sel, perr := pagerange.Parse(expr, src.PageCount())
	if perr != nil {
		return nil, newError(InvalidRange, op, perr)
	}
	log.Debug().Str("op", op).Str("source", src.Name).Str("pages", sel.String()).Msg("extracting pages")

	data, err := a.copyAndSave(op, src.Doc, sel)
	if err != nil {
		return nil, err
	}
	out := single(src.Stem()+"-extracted.pdf", data, sel.Len())
	return finish(out, opts), nil
}

// SplitAllPages writes every page to its own document <stem>-page-<n>.pdf and
// packages them as <stem>-split.zip.
func (a *Assembler) SplitAllPages(src *Source, opts ...Option) (art *Artifact, err error) {
	const op = "split_all"
	start := time.Now()
	defer func() { observe(op, start, art, err) }()

	sel := pagerange.All(src.PageCount())
	parts := make([]part, 0, sel.Len())
	for _, idx := range sel {
		data, err := a.copyAndSave(op, src.Doc, pagerange.Selection{idx})
		if err != nil {
			return nil, err
		}
		parts = append(parts, part{name: fmt.Sprintf("%s-page-%d.pdf", src.Stem(), idx+1), data: data, pages: 1})
	}
	out, err := packageParts(op, src.Stem()+"-split.zip", parts)
	if err != nil {
		return nil, err
	}
	return finish(out, opts), nil
}

// ApplyRotations adds each non-zero delta in rotations to the page's current
// rotation on a fresh copy of the source, and saves it as <stem>-rotated.pdf.
// Pages absent from the map keep their rotation.
func (a *Assembler) ApplyRotations(src *Source, rotations RotationMap, opts ...Option) (art *Artifact, err error) {
	const op = "rotate"
	start := time.Now()
	defer func() { observe(op, start, art, err) }()

	indices := rotations.Indices()
	for _, idx := range indices {
		if idx < 0 || idx >= src.PageCount() {
			return nil, newError(InvalidRange, op, fmt.Errorf("page index %d outside document of %d pages", idx, src.PageCount()))
		}
	}

	doc, err := a.lib.Load(src.Data)
	if err != nil {
		return nil, newError(LoadFailed, op, err)
	}
	for _, idx := range indices {
		cur, err := doc.Rotation(idx)
		if err != nil {
			return nil, newError(LoadFailed, op, err)
		}
		next := document.NormalizeRotation(cur + rotations.Delta(idx))
		if err := doc.SetRotation(idx, next); err != nil {
			return nil, newError(WriteFailed, op, err)
		}
		log.Debug().Str("op", op).Int("page", idx+1).Int("from", cur).Int("to", next).Msg("rotated page")
	}
	data, err := doc.Save(document.SaveOptions{})
	if err != nil {
		return nil, newError(WriteFailed, op, err)
	}
	out := single(src.Stem()+"-rotated.pdf", data, doc.PageCount())
	return finish(out, opts), nil
}

// Compress reloads and re-saves the source with object streams and
// optimisation. Size reduction is not guaranteed: a grown output is returned
// as is with a negative ReductionPercent.
func (a *Assembler) Compress(src *Source, level CompressionLevel, opts ...Option) (res *CompressResult, err error) {
	const op = "compress"
	start := time.Now()
	var art *Artifact
	defer func() { observe(op, start, art, err) }()

	doc, err := a.lib.Load(src.Data)
	if err != nil {
		return nil, newError(LoadFailed, op, err)
	}
	data, err := doc.Save(document.SaveOptions{
		UseObjectStreams: true,
		Optimize:         true,
		DedupeContent:    level == Extreme,
	})
	if err != nil {
		return nil, newError(WriteFailed, op, err)
	}
	art = finish(single(src.Stem()+"-compressed.pdf", data, doc.PageCount()), opts)

	orig := int64(len(src.Data))
	pct := ReductionPercent(orig, int64(len(data)))
	metrics.ObserveCompression(pct)
	log.Info().Str("op", op).Str("source", src.Name).Str("level", level.String()).
		Int64("original", orig).Int64("compressed", int64(len(data))).Int("reduction_pct", pct).Msg("compressed document")
	return &CompressResult{
		Artifact:         art,
		OriginalBytes:    orig,
		OriginalSize:     bytesize.Format(orig),
		ReductionPercent: pct,
	}, nil
}

// ReductionPercent is round((orig-out)/orig*100), rounding halves up. It is
// negative when out is larger than orig.
func ReductionPercent(orig, out int64) int {
	if orig <= 0 {
		return 0
	}
	return int(math.Floor(float64(orig-out)/float64(orig)*100 + 0.5))
}

func (a *Assembler) copyAndSave(op string, doc document.Document, sel pagerange.Selection) ([]byte, error) {
	sub, err := doc.CopyPages(sel)
	if err != nil {
		return nil, newError(LoadFailed, op, err)
	}
	if got := sub.PageCount(); got != sel.Len() {
		return nil, newError(WriteFailed, op, fmt.Errorf("copied %d pages, selected %d", got, sel.Len()))
	}
	data, err := sub.Save(document.SaveOptions{})
	if err != nil {
		return nil, newError(WriteFailed, op, err)
	}
	return data, nil
}

func single(name string, data []byte, pages int) *Artifact {
	return &Artifact{
		Name:        name,
		ContentType: ContentTypePDF,
		Data:        data,
		Size:        bytesize.Format(int64(len(data))),
		Pages:       pages,
	}
}

func finish(art *Artifact, opts []Option) *Artifact {
	o := collect(opts)
	if o.password != "" {
		art.Warnings = append(art.Warnings, &Error{
			Kind: UnsupportedProtection,
			Err:  errors.New("output password protection is not supported; result is unprotected"),
		})
		log.Warn().Str("artifact", art.Name).Msg("password protection requested but not supported")
	}
	return art
}

func observe(op string, start time.Time, art *Artifact, err error) {
	dur := time.Since(start)
	if err != nil {
		metrics.ObserveOperation(op, KindOf(err).String(), dur)
		log.Warn().Err(err).Str("op", op).Str("kind", KindOf(err).String()).Dur("duration", dur).Msg("operation failed")
		return
	}
	metrics.ObserveOperation(op, "success", dur)
	if art == nil {
		return
	}
	metrics.AddPages(op, art.Pages)
	metrics.ObserveOutput(op, art.Bytes())
	log.Info().Str("op", op).Str("artifact", art.Name).Int("pages", art.Pages).Str("size", art.Size).Dur("duration", dur).Msg("operation complete")
}
