//go:build !cgo

package pipeline

import (
	"fmt"
	"image"
	"io"
)

func encodeWebP(io.Writer, image.Image, int) error {
	return fmt.Errorf("%w: webp export requires cgo", ErrUnsupportedFormat)
}
