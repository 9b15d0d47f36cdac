package document

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog/log"
)

// PDFCPU implements Library on top of pdfcpu's in-memory model.
type PDFCPU struct {
	relaxed bool
}

// PDFCPUOptions configures the pdfcpu backend.
type PDFCPUOptions struct {
	// StrictValidation rejects files that only pass pdfcpu's relaxed mode.
	StrictValidation bool
}

// NewPDFCPU returns a pdfcpu-backed Library. pdfcpu's on-disk config dir is
// disabled; all configuration is per call.
func NewPDFCPU(opts PDFCPUOptions) *PDFCPU {
	api.DisableConfigDir()
	return &PDFCPU{relaxed: !opts.StrictValidation}
}

func (l *PDFCPU) conf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	if l.relaxed {
		conf.ValidationMode = model.ValidationRelaxed
	}
	return conf
}

// Load reads and validates a PDF.
func (l *PDFCPU) Load(data []byte) (Document, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), l.conf())
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, fmt.Errorf("validate pdf: %w", err)
	}
	if ctx.Encrypt != nil {
		log.Debug().Int("pages", ctx.PageCount).Msg("loaded encrypted pdf with empty user password")
	}
	return &pdfDoc{ctx: ctx}, nil
}

// Merge concatenates PDFs in order.
func (l *PDFCPU) Merge(docs [][]byte) ([]byte, error) {
	rsc := make([]io.ReadSeeker, len(docs))
	for i, d := range docs {
		rsc[i] = bytes.NewReader(d)
	}
	var buf bytes.Buffer
	if err := api.MergeRaw(rsc, &buf, false, l.conf()); err != nil {
		return nil, fmt.Errorf("merge pdfs: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportImages creates a PDF with one centred, fitted image per page.
func (l *PDFCPU) ImportImages(imgs []io.Reader, layout Layout) ([]byte, error) {
	imp, err := pdfcpu.ParseImportDetails(importDescription(layout), types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("import details: %w", err)
	}
	readers := make([]io.Reader, 0, len(imgs))
	for i, r := range imgs {
		nr, err := normalizeImage(r)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}
		readers = append(readers, nr)
	}
	var buf bytes.Buffer
	if err := api.ImportImages(nil, &buf, readers, imp, l.conf()); err != nil {
		return nil, fmt.Errorf("import images: %w", err)
	}
	return buf.Bytes(), nil
}

func importDescription(layout Layout) string {
	form := layout.Size.String()
	if layout.Orientation == Landscape {
		form += "L"
	}
	return fmt.Sprintf("formsize:%s, position:c, scalefactor:0.95", form)
}

type pdfDoc struct {
	ctx *model.Context
}

func (d *pdfDoc) PageCount() int { return d.ctx.PageCount }

func (d *pdfDoc) checkIndex(i int) error {
	if i < 0 || i >= d.ctx.PageCount {
		return fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, i, d.ctx.PageCount)
	}
	return nil
}

func (d *pdfDoc) CopyPages(indices []int) (Document, error) {
	nrs := make([]int, len(indices))
	for i, idx := range indices {
		if err := d.checkIndex(idx); err != nil {
			return nil, err
		}
		nrs[i] = idx + 1
	}
	ctx, err := pdfcpu.ExtractPages(d.ctx, nrs, false)
	if err != nil {
		return nil, fmt.Errorf("copy pages: %w", err)
	}
	// ExtractPages builds the page tree but leaves PageCount unset.
	if ctx.PageCount == 0 {
		if err := ctx.EnsurePageCount(); err != nil || ctx.PageCount == 0 {
			ctx.PageCount = len(nrs)
		}
	}
	return &pdfDoc{ctx: ctx}, nil
}

func (d *pdfDoc) Rotation(index int) (int, error) {
	if err := d.checkIndex(index); err != nil {
		return 0, err
	}
	_, _, inh, err := d.ctx.PageDict(index+1, false)
	if err != nil {
		return 0, fmt.Errorf("page %d: %w", index+1, err)
	}
	if inh == nil {
		return 0, nil
	}
	return NormalizeRotation(inh.Rotate), nil
}

func (d *pdfDoc) SetRotation(index, degrees int) error {
	if err := d.checkIndex(index); err != nil {
		return err
	}
	pd, _, _, err := d.ctx.PageDict(index+1, false)
	if err != nil {
		return fmt.Errorf("page %d: %w", index+1, err)
	}
	if pd == nil {
		return fmt.Errorf("page %d: missing page dict", index+1)
	}
	pd.Update("Rotate", types.Integer(NormalizeRotation(degrees)))
	return nil
}

func (d *pdfDoc) Save(opts SaveOptions) ([]byte, error) {
	if d.ctx.Encrypt != nil {
		// write the decrypted object graph
		d.ctx.Cmd = model.DECRYPT
	}
	d.ctx.WriteObjectStream = opts.UseObjectStreams
	d.ctx.WriteXRefStream = opts.UseObjectStreams
	d.ctx.OptimizeDuplicateContentStreams = opts.DedupeContent
	if opts.Optimize {
		if err := api.OptimizeContext(d.ctx); err != nil {
			return nil, fmt.Errorf("optimize: %w", err)
		}
	}
	var buf bytes.Buffer
	if err := api.WriteContext(d.ctx, &buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
