package pipeline

import (
	"errors"
	"fmt"

	"github.com/dunamismax/imgopt/internal/domain"
	"github.com/dunamismax/imgopt/internal/geometry"
	"github.com/dunamismax/imgopt/internal/params"
)

const (
	DefaultWidth  = 320
	DefaultHeight = 200
)

type formatTraits struct {
	alpha bool
}

// traits is consulted for every flatten decision.
var traits = map[domain.Format]formatTraits{
	domain.FormatWebP: {alpha: true},
	domain.FormatAVIF: {alpha: true},
	domain.FormatJPEG: {alpha: false},
}

// Plan resolves the crop, output size, quality and flattening for rendering
// req from an original described by info.
func Plan(info SourceInfo, req params.Request, format domain.Format, defaultBackground domain.Color) (Operation, error) {
	t, ok := traits[format]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return Operation{}, errors.New("original image has no size")
	}

	size := geometry.Upright(info.Width, info.Height, info.Orientation)

	width, height := req.Width, req.Height
	if width == 0 && height == 0 {
		width, height = DefaultWidth, DefaultHeight
	}

	focus := geometry.Point{X: size.Width / 2, Y: size.Height / 3}
	if req.Focus != nil {
		focus = *req.Focus
	}
	crop := geometry.Rectangle{Width: size.Width, Height: size.Height}
	if req.Crop != nil {
		crop = *req.Crop
	}
	if crop.Width <= 0 || crop.Height <= 0 {
		return Operation{}, fmt.Errorf("%w: empty crop rectangle", ErrInvalidGeometry)
	}

	ratio := crop.Width / crop.Height
	if width > 0 && height > 0 {
		ratio = float64(width) / float64(height)
	}

	source := geometry.LimitedRegion(geometry.FocusCrop(ratio, focus, crop), size)
	if source.Empty() {
		return Operation{}, fmt.Errorf("%w: region %+v outside %vx%v", ErrInvalidGeometry, source, size.Width, size.Height)
	}
	final := geometry.LimitedSize(width, height, ratio, source)

	quality := req.Quality
	if quality == 0 {
		q, err := Quality(format, final)
		if err != nil {
			return Operation{}, err
		}
		quality = q
	}

	var background *domain.Color
	switch {
	case req.Background != nil:
		bg := *req.Background
		background = &bg
	case !t.alpha:
		bg := defaultBackground
		background = &bg
	}

	return Operation{
		AutoRotate: true,
		Extract:    source,
		Resize:     final,
		Encode: Encoding{
			Format:     format,
			Quality:    quality,
			Background: background,
		},
	}, nil
}
