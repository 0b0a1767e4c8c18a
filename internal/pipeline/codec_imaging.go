//go:build !govips || !cgo

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imgopt/internal/domain"
	_ "golang.org/x/image/webp"
)

// imagingCodec is the pure Go codec used when the binary is built without
// libvips. It decodes with EXIF orientation already applied, so it reports
// every source as upright. AVIF output is not available.
type imagingCodec struct{}

func (imagingCodec) Probe(ctx context.Context, input []byte) (SourceInfo, error) {
	if err := ctx.Err(); err != nil {
		return SourceInfo{}, err
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return SourceInfo{}, fmt.Errorf("decode source config: %w", err)
	}
	src, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return SourceInfo{}, fmt.Errorf("decode source image: %w", err)
	}

	bounds := src.Bounds()
	return SourceInfo{
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Orientation: 1,
		HasAlpha:    hasAlpha(src),
		Format:      format,
	}, nil
}

func (imagingCodec) Transform(ctx context.Context, input []byte, op Operation) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(op.AutoRotate))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	r := op.Extract
	out := imaging.Crop(src, image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height))
	if out.Bounds().Empty() {
		return nil, fmt.Errorf("%w: region %+v outside source", ErrInvalidGeometry, r)
	}

	if op.Resize.Width <= 0 || op.Resize.Height <= 0 {
		return nil, fmt.Errorf("resize requires positive size, got %dx%d", op.Resize.Width, op.Resize.Height)
	}
	out = imaging.Resize(out, op.Resize.Width, op.Resize.Height, imaging.Lanczos)

	if bg := op.Encode.Background; bg != nil {
		canvas := imaging.New(out.Bounds().Dx(), out.Bounds().Dy(), color.NRGBA{R: bg.R, G: bg.G, B: bg.B, A: 0xff})
		out = imaging.Overlay(canvas, out, image.Pt(0, 0), 1.0)
	}

	return encodeImage(out, op.Encode.Format, op.Encode.Quality)
}

func encodeImage(img image.Image, format domain.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case domain.FormatJPEG:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case domain.FormatWebP:
		if err := encodeWebP(&buf, img, quality); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	case domain.FormatAVIF:
		return nil, fmt.Errorf("%w: avif export requires govips build tag", ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	return buf.Bytes(), nil
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}
