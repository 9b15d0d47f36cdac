package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfdesk/internal/assembler"
	"github.com/local/pdfdesk/internal/document"
	"github.com/local/pdfdesk/internal/filetype"
	"github.com/local/pdfdesk/internal/guard"
	"github.com/local/pdfdesk/internal/preview"
)

// Operation names accepted by Run.
const (
	OpInfo     = "info"
	OpSplit    = "split"
	OpRotate   = "rotate"
	OpCompress = "compress"
	OpMerge    = "merge"
	OpImages   = "images"
	OpConvert  = "convert"
	OpPreview  = "preview"
)

// Ops lists every operation name.
var Ops = []string{OpInfo, OpSplit, OpRotate, OpCompress, OpMerge, OpImages, OpConvert, OpPreview}

// File is one uploaded input.
type File struct {
	Name string
	Data []byte
}

// Request is an operation with its inputs and string parameters, as they
// arrive from an HTTP form or a queued job.
type Request struct {
	Op     string
	Files  []File
	Params map[string]string
}

func (r Request) param(name string) string {
	if r.Params == nil {
		return ""
	}
	return strings.TrimSpace(r.Params[name])
}

// Result holds whichever output the operation produced.
type Result struct {
	Artifact *assembler.Artifact
	Compress *assembler.CompressResult
	Info     *assembler.Info
	Preview  *preview.Page
}

// Runner validates requests and runs them through the assembler, holding the
// guard on every source for the duration.
type Runner struct {
	asm          *assembler.Assembler
	render       *preview.Service
	guard        *guard.Guard
	defaultLevel assembler.CompressionLevel
}

// NewRunner wires a Runner. render may be nil when previews are disabled.
func NewRunner(asm *assembler.Assembler, render *preview.Service, g *guard.Guard, defaultLevel assembler.CompressionLevel) *Runner {
	return &Runner{asm: asm, render: render, guard: g, defaultLevel: defaultLevel}
}

// Validate checks op, file count and file kinds without running anything.
func (r *Runner) Validate(req Request) error {
	if len(req.Files) == 0 {
		return invalid("file", "no file uploaded")
	}
	want := filetype.PDF
	switch req.Op {
	case OpInfo, OpSplit, OpRotate, OpCompress, OpPreview:
		if len(req.Files) != 1 {
			return invalid("file", "%s takes exactly one document", req.Op)
		}
	case OpMerge:
	case OpImages:
		want = filetype.Image
	case OpConvert:
		if len(req.Files) != 1 {
			return invalid("file", "%s takes exactly one document", req.Op)
		}
		want = filetype.Office
	default:
		return invalid("op", "unknown operation %q", req.Op)
	}
	for _, f := range req.Files {
		info := filetype.Detect(f.Name, f.Data)
		if info.Class != want {
			return &assembler.Error{
				Kind: assembler.UnsupportedInput,
				Op:   req.Op,
				Err:  fmt.Errorf("%s: %s, expected %s", f.Name, info.Description, want),
			}
		}
	}
	return nil
}

// Run executes req.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := r.Validate(req); err != nil {
		return nil, err
	}
	release, err := r.acquire(ctx, req.Files)
	if err != nil {
		return nil, err
	}
	defer release()

	var opts []assembler.Option
	if pw := req.param("password"); pw != "" {
		opts = append(opts, assembler.WithPassword(pw))
	}
	log.Debug().Str("op", req.Op).Int("files", len(req.Files)).Msg("running operation")

	switch req.Op {
	case OpInfo:
		info, err := r.asm.Inspect(req.Files[0].Name, req.Files[0].Data)
		return &Result{Info: info}, err
	case OpSplit:
		return r.split(req, opts)
	case OpRotate:
		return r.rotate(req, opts)
	case OpCompress:
		return r.compress(req, opts)
	case OpMerge:
		return r.merge(req, opts)
	case OpImages:
		return r.images(req, opts)
	case OpConvert:
		art, err := r.asm.ConvertOffice(ctx, req.Files[0].Name, req.Files[0].Data, opts...)
		return artifact(art, err)
	case OpPreview:
		return r.preview(ctx, req)
	}
	return nil, invalid("op", "unknown operation %q", req.Op)
}

// acquire takes the guard for every distinct source; on ErrBusy nothing is held.
func (r *Runner) acquire(ctx context.Context, files []File) (func(), error) {
	if r.guard == nil {
		return func() {}, nil
	}
	var releases []func()
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	seen := map[string]bool{}
	for _, f := range files {
		d := assembler.Digest(f.Data)
		if seen[d] {
			continue
		}
		seen[d] = true
		rel, err := r.guard.Acquire(ctx, d)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, rel)
	}
	return releaseAll, nil
}

func artifact(art *assembler.Artifact, err error) (*Result, error) {
	if err != nil {
		return nil, err
	}
	return &Result{Artifact: art}, nil
}

func (r *Runner) open(f File) (*assembler.Source, error) {
	return r.asm.Open(f.Name, f.Data)
}

func (r *Runner) split(req Request, opts []assembler.Option) (*Result, error) {
	mode, err := assembler.ParseSplitMode(req.param("mode"))
	if err != nil {
		return nil, invalid("mode", "%v", err)
	}
	src, err := r.open(req.Files[0])
	if err != nil {
		return nil, err
	}
	return artifact(r.asm.Split(src, mode, req.param("ranges"), opts...))
}

func (r *Runner) rotate(req Request, opts []assembler.Option) (*Result, error) {
	rot, err := ParseRotations(req.param("rotations"))
	if err != nil {
		return nil, err
	}
	src, err := r.open(req.Files[0])
	if err != nil {
		return nil, err
	}
	return artifact(r.asm.ApplyRotations(src, rot, opts...))
}

// ParseRotations reads a JSON object of zero-based page index to delta
// degrees, e.g. {"0":90,"3":-90}. Deltas must be multiples of 90.
func ParseRotations(raw string) (assembler.RotationMap, error) {
	if raw == "" {
		return nil, invalid("rotations", "no rotations given")
	}
	var m map[string]int
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, invalid("rotations", "expected an object of page index to degrees: %v", err)
	}
	rot := assembler.RotationMap{}
	for k, deg := range m {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			return nil, invalid("rotations", "bad page index %q", k)
		}
		if deg%90 != 0 {
			return nil, invalid("rotations", "page %d: %d is not a multiple of 90", idx, deg)
		}
		rot.Rotate(idx, deg)
	}
	return rot, nil
}

func (r *Runner) compress(req Request, opts []assembler.Option) (*Result, error) {
	level := r.defaultLevel
	if s := req.param("level"); s != "" {
		l, err := assembler.ParseCompressionLevel(s)
		if err != nil {
			return nil, invalid("level", "%v", err)
		}
		level = l
	}
	src, err := r.open(req.Files[0])
	if err != nil {
		return nil, err
	}
	res, err := r.asm.Compress(src, level, opts...)
	if err != nil {
		return nil, err
	}
	return &Result{Artifact: res.Artifact, Compress: res}, nil
}

func (r *Runner) merge(req Request, opts []assembler.Option) (*Result, error) {
	srcs := make([]*assembler.Source, 0, len(req.Files))
	for _, f := range req.Files {
		src, err := r.open(f)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, src)
	}
	return artifact(r.asm.Merge(srcs, opts...))
}

func (r *Runner) images(req Request, opts []assembler.Option) (*Result, error) {
	size, err := document.ParsePageSize(req.param("page_size"))
	if err != nil {
		return nil, invalid("page_size", "%v", err)
	}
	orient, err := document.ParseOrientation(req.param("orientation"))
	if err != nil {
		return nil, invalid("orientation", "%v", err)
	}
	imgs := make([]assembler.Image, len(req.Files))
	for i, f := range req.Files {
		imgs[i] = assembler.Image{Name: f.Name, Data: f.Data}
	}
	return artifact(r.asm.ImagesToPDF(imgs, document.Layout{Size: size, Orientation: orient}, opts...))
}

func (r *Runner) preview(ctx context.Context, req Request) (*Result, error) {
	page := 1
	if s := req.param("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return nil, invalid("page", "expected a page number from 1, got %q", s)
		}
		page = n
	}
	p, err := r.render.Render(ctx, req.Files[0].Data, page)
	switch {
	case errors.Is(err, preview.ErrPageOutOfRange):
		return nil, &assembler.Error{Kind: assembler.InvalidRange, Op: OpPreview, Err: err}
	case errors.Is(err, preview.ErrDisabled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	case err != nil:
		return nil, &assembler.Error{Kind: assembler.LoadFailed, Op: OpPreview, Err: err}
	}
	return &Result{Preview: p}, nil
}
