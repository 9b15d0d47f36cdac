// Package preview renders page thumbnails. A Service is created once at
// startup and handed to whatever needs previews; there is no package-level
// renderer state.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

var (
	// ErrDisabled is returned by a nil or closed Service.
	ErrDisabled = errors.New("preview rendering is not enabled")
	// ErrPageOutOfRange is returned for pages outside [1, page count].
	ErrPageOutOfRange = errors.New("page out of range")
)

// ColorMode defines the color mode for rendering
type ColorMode string

const (
	ColorRGB  ColorMode = "rgb"
	ColorGray ColorMode = "gray"
)

// Options configures a Service.
type Options struct {
	DPI         float64
	JPEGQuality int
	Color       ColorMode
	// Concurrency bounds simultaneous renders; MuPDF contexts are memory heavy.
	Concurrency int
}

// Page is one rendered page.
type Page struct {
	Number int
	Width  int
	Height int
	JPEG   []byte
}

// Service renders PDF pages to JPEG.
type Service struct {
	opts Options
	sem  chan struct{}
}

// New validates opts and returns a ready Service.
func New(opts Options) (*Service, error) {
	if opts.DPI <= 0 {
		opts.DPI = 72
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 80
	}
	if opts.Color == "" {
		opts.Color = ColorRGB
	}
	if opts.Color != ColorRGB && opts.Color != ColorGray {
		return nil, fmt.Errorf("unknown color mode %q", opts.Color)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	log.Info().Float64("dpi", opts.DPI).Int("quality", opts.JPEGQuality).Str("color", string(opts.Color)).Msg("preview service ready")
	return &Service{opts: opts, sem: make(chan struct{}, opts.Concurrency)}, nil
}

// Render renders one-based page of the PDF in data.
func (s *Service) Render(ctx context.Context, data []byte, page int) (*Page, error) {
	if s == nil {
		return nil, ErrDisabled
	}
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if page < 1 || page > doc.NumPage() {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, page, doc.NumPage())
	}

	// go-fitz uses 0-based indexing
	img, err := doc.ImageDPI(page-1, s.opts.DPI)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page, err)
	}
	return s.encode(page, img)
}

// PageCount reports the number of pages MuPDF sees in data.
func (s *Service) PageCount(data []byte) (int, error) {
	if s == nil {
		return 0, ErrDisabled
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

func (s *Service) encode(page int, img image.Image) (*Page, error) {
	bounds := img.Bounds()
	final := img
	if s.opts.Color == ColorGray {
		gray := image.NewGray(bounds)
		draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
		final = gray
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, final, &jpeg.Options{Quality: s.opts.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	log.Debug().
		Int("page", page).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Int("jpeg_size", buf.Len()).
		Str("color", string(s.opts.Color)).
		Msg("rendered page preview")

	return &Page{Number: page, Width: bounds.Dx(), Height: bounds.Dy(), JPEG: buf.Bytes()}, nil
}
