//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/imgopt/internal/domain"
)

type govipsCodec struct{}

func (govipsCodec) Probe(ctx context.Context, input []byte) (SourceInfo, error) {
	if err := ctx.Err(); err != nil {
		return SourceInfo{}, err
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return SourceInfo{}, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	return SourceInfo{
		Width:       img.Width(),
		Height:      img.Height(),
		Orientation: img.Orientation(),
		HasAlpha:    img.HasAlpha(),
		Format:      imageTypeName(img.Format()),
	}, nil
}

func (govipsCodec) Transform(ctx context.Context, input []byte, op Operation) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	if op.AutoRotate {
		if err := img.AutoRotate(); err != nil {
			return nil, fmt.Errorf("rotate image: %w", err)
		}
	}

	r := op.Extract
	if err := img.ExtractArea(r.Left, r.Top, r.Width, r.Height); err != nil {
		return nil, fmt.Errorf("extract region %+v: %w", r, err)
	}

	if err := resizeGovips(img, op.Resize.Width, op.Resize.Height); err != nil {
		return nil, err
	}

	if bg := op.Encode.Background; bg != nil && img.HasAlpha() {
		if err := img.Flatten(&vips.Color{R: bg.R, G: bg.G, B: bg.B}); err != nil {
			return nil, fmt.Errorf("flatten image: %w", err)
		}
	}

	return exportGovipsImage(img, op.Encode.Format, op.Encode.Quality)
}

func resizeGovips(img *vips.ImageRef, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("resize requires positive size, got %dx%d", width, height)
	}
	if img.Width() == width && img.Height() == height {
		return nil
	}

	hscale := float64(width) / float64(img.Width())
	vscale := float64(height) / float64(img.Height())
	if err := img.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
		return fmt.Errorf("resize image: %w", err)
	}
	return nil
}

func exportGovipsImage(img *vips.ImageRef, format domain.Format, quality int) ([]byte, error) {
	switch format {
	case domain.FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = quality
		params.StripMetadata = true
		params.Interlace = true
		params.OptimizeCoding = true
		params.TrellisQuant = true
		params.OvershootDeringing = true
		params.OptimizeScans = true
		params.QuantTable = 3
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case domain.FormatWebP:
		params := vips.NewWebpExportParams()
		params.Quality = quality
		params.StripMetadata = true
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	case domain.FormatAVIF:
		params := vips.NewAvifExportParams()
		params.Quality = quality
		params.StripMetadata = true
		data, _, err := img.ExportAvif(params)
		if err != nil {
			return nil, fmt.Errorf("encode avif: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func imageTypeName(t vips.ImageType) string {
	switch t {
	case vips.ImageTypeJPEG:
		return "jpeg"
	case vips.ImageTypePNG:
		return "png"
	case vips.ImageTypeWEBP:
		return "webp"
	case vips.ImageTypeGIF:
		return "gif"
	case vips.ImageTypeAVIF:
		return "avif"
	case vips.ImageTypeHEIF:
		return "heif"
	case vips.ImageTypeTIFF:
		return "tiff"
	case vips.ImageTypeSVG:
		return "svg"
	default:
		return "unknown"
	}
}
