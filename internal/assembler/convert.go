package assembler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfdesk/internal/document"
)

// Merge concatenates whole sources, in the order given, into merged.pdf.
func (a *Assembler) Merge(srcs []*Source, opts ...Option) (art *Artifact, err error) {
	const op = "merge"
	start := time.Now()
	defer func() { observe(op, start, art, err) }()

	if len(srcs) < 2 {
		return nil, newError(UnsupportedInput, op, errors.New("at least two documents are needed to merge"))
	}
	payloads := make([][]byte, len(srcs))
	pages := 0
	for i, s := range srcs {
		payloads[i] = s.Data
		pages += s.PageCount()
	}
	data, err := a.lib.Merge(payloads)
	if err != nil {
		return nil, newError(WriteFailed, op, err)
	}
	return finish(single("merged.pdf", data, pages), opts), nil
}

// ImagesToPDF places each image, in order, centred on its own page. Images
// with the same name and size as an earlier one are skipped. A single image
// yields <stem>.pdf, several yield images.pdf.
func (a *Assembler) ImagesToPDF(images []Image, layout document.Layout, opts ...Option) (art *Artifact, err error) {
	const op = "images"
	start := time.Now()
	defer func() { observe(op, start, art, err) }()

	uniq := dedupeImages(images)
	if len(uniq) == 0 {
		return nil, newError(UnsupportedInput, op, errors.New("at least one image is needed"))
	}
	readers := make([]io.Reader, len(uniq))
	for i, img := range uniq {
		readers[i] = bytes.NewReader(img.Data)
	}
	log.Debug().Str("op", op).Int("images", len(uniq)).Str("size", layout.Size.String()).Str("orientation", layout.Orientation.String()).Msg("importing images")

	data, err := a.lib.ImportImages(readers, layout)
	if err != nil {
		if errors.Is(err, document.ErrUnsupportedImage) {
			return nil, newError(UnsupportedInput, op, err)
		}
		return nil, newError(LoadFailed, op, err)
	}
	name := "images.pdf"
	if len(uniq) == 1 {
		name = stem(uniq[0].Name) + ".pdf"
	}
	return finish(single(name, data, len(uniq)), opts), nil
}

func dedupeImages(images []Image) []Image {
	seen := make(map[string]struct{}, len(images))
	out := make([]Image, 0, len(images))
	for _, img := range images {
		key := fmt.Sprintf("%s-%d", img.Name, len(img.Data))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, img)
	}
	return out
}

// ConvertOffice converts a word-processing, spreadsheet or presentation file
// to <stem>.pdf using the configured converter.
func (a *Assembler) ConvertOffice(ctx context.Context, name string, data []byte, opts ...Option) (art *Artifact, err error) {
	const op = "convert"
	start := time.Now()
	defer func() { observe(op, start, art, err) }()

	if a.converter == nil {
		return nil, newError(UnsupportedInput, op, errors.New("office conversion is not available on this server"))
	}
	pdf, err := a.converter.ConvertToPDF(ctx, name, data)
	if err != nil {
		return nil, newError(LoadFailed, op, err)
	}
	doc, err := a.lib.Load(pdf)
	if err != nil {
		return nil, newError(LoadFailed, op, err)
	}
	return finish(single(stem(name)+".pdf", pdf, doc.PageCount()), opts), nil
}
