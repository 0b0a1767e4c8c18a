package pipeline

import (
	"errors"
	"testing"

	"github.com/dunamismax/imgopt/internal/domain"
	"github.com/dunamismax/imgopt/internal/geometry"
	"github.com/dunamismax/imgopt/internal/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanDefaults(t *testing.T) {
	info := SourceInfo{Width: 1000, Height: 800, Orientation: 1, Format: "jpeg"}

	op, err := Plan(info, params.Request{ID: "x"}, domain.FormatJPEG, domain.White)
	require.NoError(t, err)

	assert.True(t, op.AutoRotate)
	assert.Equal(t, geometry.Region{Left: 0, Top: 0, Width: 1000, Height: 625}, op.Extract)
	assert.Equal(t, geometry.Dimensions{Width: DefaultWidth, Height: DefaultHeight}, op.Resize)
	assert.Equal(t, domain.FormatJPEG, op.Encode.Format)
	assert.Equal(t, 70, op.Encode.Quality)
	require.NotNil(t, op.Encode.Background)
	assert.Equal(t, domain.White, *op.Encode.Background)
}

func TestPlanAlphaFormatKeepsTransparency(t *testing.T) {
	info := SourceInfo{Width: 1000, Height: 800, Orientation: 1, HasAlpha: true, Format: "png"}

	op, err := Plan(info, params.Request{ID: "x"}, domain.FormatWebP, domain.White)
	require.NoError(t, err)
	assert.Nil(t, op.Encode.Background)
}

func TestPlanExplicitBackgroundAndQuality(t *testing.T) {
	black := domain.Color{}
	req := params.Request{ID: "x", Width: 100, Height: 100, Quality: 90, Background: &black}
	info := SourceInfo{Width: 1000, Height: 800, Orientation: 1}

	op, err := Plan(info, req, domain.FormatWebP, domain.White)
	require.NoError(t, err)

	assert.Equal(t, 90, op.Encode.Quality)
	require.NotNil(t, op.Encode.Background)
	assert.Equal(t, black, *op.Encode.Background)
	assert.Equal(t, geometry.Dimensions{Width: 100, Height: 100}, op.Resize)
}

func TestPlanUsesUprightSize(t *testing.T) {
	stored := SourceInfo{Width: 800, Height: 1000, Orientation: 6}
	upright := SourceInfo{Width: 1000, Height: 800, Orientation: 1}

	rotated, err := Plan(stored, params.Request{ID: "x"}, domain.FormatJPEG, domain.White)
	require.NoError(t, err)
	plain, err := Plan(upright, params.Request{ID: "x"}, domain.FormatJPEG, domain.White)
	require.NoError(t, err)

	assert.Equal(t, plain, rotated)
}

func TestPlanCropSetsRatio(t *testing.T) {
	req := params.Request{
		ID:    "x",
		Width: 50,
		Crop:  &geometry.Rectangle{X: 100, Y: 100, Width: 200, Height: 100},
	}
	info := SourceInfo{Width: 1000, Height: 800, Orientation: 1}

	op, err := Plan(info, req, domain.FormatJPEG, domain.White)
	require.NoError(t, err)

	assert.Equal(t, geometry.Region{Left: 100, Top: 100, Width: 200, Height: 100}, op.Extract)
	assert.Equal(t, geometry.Dimensions{Width: 50, Height: 25}, op.Resize)
	assert.Equal(t, 80, op.Encode.Quality)
}

func TestPlanNeverUpscales(t *testing.T) {
	req := params.Request{ID: "x", Width: 2000, Height: 2000}
	info := SourceInfo{Width: 300, Height: 600, Orientation: 1}

	op, err := Plan(info, req, domain.FormatAVIF, domain.White)
	require.NoError(t, err)

	assert.Equal(t, geometry.Region{Left: 0, Top: 50, Width: 300, Height: 300}, op.Extract)
	assert.Equal(t, geometry.Dimensions{Width: 300, Height: 300}, op.Resize)
	assert.Equal(t, 50, op.Encode.Quality)
	assert.Nil(t, op.Encode.Background)
}

func TestPlanErrors(t *testing.T) {
	info := SourceInfo{Width: 1000, Height: 800, Orientation: 1}

	tests := []struct {
		name   string
		info   SourceInfo
		req    params.Request
		format domain.Format
		target error
	}{
		{
			name:   "unknown format",
			info:   info,
			req:    params.Request{ID: "x"},
			format: domain.Format("gif"),
			target: ErrUnsupportedFormat,
		},
		{
			name:   "empty crop",
			info:   info,
			req:    params.Request{ID: "x", Crop: &geometry.Rectangle{X: 1, Y: 1, Width: 0, Height: 10}},
			format: domain.FormatJPEG,
			target: ErrInvalidGeometry,
		},
		{
			name:   "crop outside original",
			info:   info,
			req:    params.Request{ID: "x", Crop: &geometry.Rectangle{X: 2000, Y: 0, Width: 10, Height: 10}},
			format: domain.FormatJPEG,
			target: ErrInvalidGeometry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Plan(tt.info, tt.req, tt.format, domain.White)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}

	_, err := Plan(SourceInfo{}, params.Request{ID: "x"}, domain.FormatJPEG, domain.White)
	assert.Error(t, err)
}
