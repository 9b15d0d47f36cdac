package document

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/png"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/bmp"
	"golang.org/x/image/webp"
)

// ErrUnsupportedImage is returned for raster formats that cannot be imported.
var ErrUnsupportedImage = errors.New("unsupported image format")

// native formats are embedded as-is by pdfcpu
var native = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/tiff": true,
}

type decodeFunc func(io.Reader) (image.Image, error)

// transcoded formats are re-encoded as PNG before import
var transcoded = map[string]decodeFunc{
	"image/bmp":  bmp.Decode,
	"image/webp": webp.Decode,
	"image/gif":  gif.Decode,
}

// IsSupportedImage reports whether mime can be imported as a page.
func IsSupportedImage(mime string) bool {
	if native[mime] {
		return true
	}
	_, ok := transcoded[mime]
	return ok
}

func normalizeImage(r io.Reader) (io.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		if native[m.String()] {
			return bytes.NewReader(data), nil
		}
		if dec, ok := transcoded[m.String()]; ok {
			img, err := dec(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", m.String(), err)
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, img); err != nil {
				return nil, fmt.Errorf("transcode %s: %w", m.String(), err)
			}
			return &buf, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, mt.String())
}
