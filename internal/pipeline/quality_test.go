package pipeline

import (
	"errors"
	"testing"

	"github.com/dunamismax/imgopt/internal/domain"
	"github.com/dunamismax/imgopt/internal/geometry"
)

func TestQualityLadders(t *testing.T) {
	tests := []struct {
		format domain.Format
		size   geometry.Dimensions
		want   int
	}{
		{domain.FormatJPEG, geometry.Dimensions{Width: 100, Height: 100}, 80},
		{domain.FormatJPEG, geometry.Dimensions{Width: 199, Height: 200}, 80},
		{domain.FormatJPEG, geometry.Dimensions{Width: 200, Height: 200}, 70},
		{domain.FormatWebP, geometry.Dimensions{Width: 320, Height: 200}, 70},
		{domain.FormatWebP, geometry.Dimensions{Width: 400, Height: 400}, 60},
		{domain.FormatWebP, geometry.Dimensions{Width: 600, Height: 599}, 60},
		{domain.FormatJPEG, geometry.Dimensions{Width: 600, Height: 600}, 50},
		{domain.FormatJPEG, geometry.Dimensions{Width: 800, Height: 800}, 40},
		{domain.FormatJPEG, geometry.Dimensions{Width: 4000, Height: 3000}, 40},
		{domain.FormatAVIF, geometry.Dimensions{Width: 100, Height: 100}, 50},
		{domain.FormatAVIF, geometry.Dimensions{Width: 400, Height: 400}, 42},
		{domain.FormatAVIF, geometry.Dimensions{Width: 799, Height: 800}, 42},
		{domain.FormatAVIF, geometry.Dimensions{Width: 800, Height: 800}, 35},
	}

	for _, tt := range tests {
		got, err := Quality(tt.format, tt.size)
		if err != nil {
			t.Fatalf("Quality(%s, %dx%d): %v", tt.format, tt.size.Width, tt.size.Height, err)
		}
		if got != tt.want {
			t.Fatalf("Quality(%s, %dx%d) = %d, want %d", tt.format, tt.size.Width, tt.size.Height, got, tt.want)
		}
	}
}

func TestQualityUnknownFormat(t *testing.T) {
	_, err := Quality(domain.Format("png"), geometry.Dimensions{Width: 10, Height: 10})
	if !errors.Is(err, ErrQualityNotImplemented) {
		t.Fatalf("expected ErrQualityNotImplemented, got %v", err)
	}
}
