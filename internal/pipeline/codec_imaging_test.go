//go:build !govips || !cgo

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imgopt/internal/domain"
	"github.com/dunamismax/imgopt/internal/geometry"
)

func TestImagingCodecProbe(t *testing.T) {
	codec := imagingCodec{}

	info, err := codec.Probe(context.Background(), buildTestPNG(t, 240, 120, 0xff))
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.Width != 240 || info.Height != 120 {
		t.Fatalf("expected 240x120, got %dx%d", info.Width, info.Height)
	}
	if info.Format != "png" || info.HasAlpha || info.Orientation != 1 {
		t.Fatalf("unexpected source info %+v", info)
	}

	info, err = codec.Probe(context.Background(), buildTestPNG(t, 10, 10, 0x80))
	if err != nil {
		t.Fatalf("probe translucent: %v", err)
	}
	if !info.HasAlpha {
		t.Fatal("expected translucent png to report alpha")
	}
}

func TestImagingCodecTransformJPEG(t *testing.T) {
	white := domain.White
	op := Operation{
		AutoRotate: true,
		Extract:    geometry.Region{Left: 20, Top: 10, Width: 100, Height: 100},
		Resize:     geometry.Dimensions{Width: 50, Height: 50},
		Encode:     Encoding{Format: domain.FormatJPEG, Quality: 80, Background: &white},
	}

	out, err := imagingCodec{}.Transform(context.Background(), buildTestPNG(t, 240, 120, 0x80), op)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" || cfg.Width != 50 || cfg.Height != 50 {
		t.Fatalf("expected 50x50 jpeg, got %dx%d %s", cfg.Width, cfg.Height, format)
	}
}

func TestImagingCodecRejectsAVIF(t *testing.T) {
	op := Operation{
		Extract: geometry.Region{Width: 10, Height: 10},
		Resize:  geometry.Dimensions{Width: 10, Height: 10},
		Encode:  Encoding{Format: domain.FormatAVIF, Quality: 50},
	}

	_, err := imagingCodec{}.Transform(context.Background(), buildTestPNG(t, 10, 10, 0xff), op)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestImagingCodecRejectsRegionOutsideSource(t *testing.T) {
	op := Operation{
		Extract: geometry.Region{Left: 500, Top: 500, Width: 10, Height: 10},
		Resize:  geometry.Dimensions{Width: 10, Height: 10},
		Encode:  Encoding{Format: domain.FormatJPEG, Quality: 50},
	}

	_, err := imagingCodec{}.Transform(context.Background(), buildTestPNG(t, 10, 10, 0xff), op)
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
}

func buildTestPNG(t testing.TB, width, height int, alpha uint8) []byte {
	t.Helper()

	img := imaging.New(width, height, color.NRGBA{R: 0x22, G: 0x88, B: 0xcc, A: alpha})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}
