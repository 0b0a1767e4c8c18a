package pipeline

import (
	"errors"
	"fmt"

	"github.com/dunamismax/imgopt/internal/domain"
	"github.com/dunamismax/imgopt/internal/geometry"
)

var ErrQualityNotImplemented = errors.New("automatic quality not implemented")

type qualityStep struct {
	below   int
	quality int
}

// Larger outputs hide compression artifacts better, so quality drops with
// pixel count. AVIF needs less quality for the same perceived result.
var (
	lossyLadder = []qualityStep{
		{below: 200 * 200, quality: 80},
		{below: 400 * 400, quality: 70},
		{below: 600 * 600, quality: 60},
		{below: 800 * 800, quality: 50},
	}
	lossyFloor = 40

	avifLadder = []qualityStep{
		{below: 400 * 400, quality: 50},
		{below: 800 * 800, quality: 42},
	}
	avifFloor = 35
)

// Quality returns the default compression quality for an output of the given
// size.
func Quality(format domain.Format, size geometry.Dimensions) (int, error) {
	switch format {
	case domain.FormatJPEG, domain.FormatWebP:
		return climb(lossyLadder, lossyFloor, size.Pixels()), nil
	case domain.FormatAVIF:
		return climb(avifLadder, avifFloor, size.Pixels()), nil
	default:
		return 0, fmt.Errorf("%w for format %q", ErrQualityNotImplemented, format)
	}
}

func climb(ladder []qualityStep, floor, pixels int) int {
	for _, step := range ladder {
		if pixels < step.below {
			return step.quality
		}
	}
	return floor
}
