package pipeline

import (
	"context"
	"errors"

	"github.com/dunamismax/imgopt/internal/domain"
	"github.com/dunamismax/imgopt/internal/geometry"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrInvalidGeometry   = errors.New("invalid crop geometry")
)

// Codec decodes, transforms and encodes pixels. Implementations are safe for
// concurrent use.
type Codec interface {
	Probe(ctx context.Context, input []byte) (SourceInfo, error)
	Transform(ctx context.Context, input []byte, op Operation) ([]byte, error)
}

// SourceInfo describes an original image as stored, before EXIF rotation.
type SourceInfo struct {
	Width       int
	Height      int
	Orientation int
	HasAlpha    bool
	Format      string
}

// Operation is applied in field order: rotate, extract, resize, encode.
type Operation struct {
	AutoRotate bool
	Extract    geometry.Region
	Resize     geometry.Dimensions
	Encode     Encoding
}

type Encoding struct {
	Format  domain.Format
	Quality int
	// Background, when set, replaces transparency with an opaque color.
	Background *domain.Color
}

func NewCodec() (Codec, error) {
	return newCodec()
}
