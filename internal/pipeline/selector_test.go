package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dunamismax/imgopt/internal/domain"
	"github.com/dunamismax/imgopt/internal/geometry"
	"github.com/dunamismax/imgopt/internal/params"
)

type fakeCodec struct {
	info  SourceInfo
	sizes map[domain.Format]int
	fail  map[domain.Format]error

	mu  sync.Mutex
	ops []Operation
}

func (f *fakeCodec) Probe(context.Context, []byte) (SourceInfo, error) {
	return f.info, nil
}

func (f *fakeCodec) Transform(_ context.Context, _ []byte, op Operation) ([]byte, error) {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()

	if err := f.fail[op.Encode.Format]; err != nil {
		return nil, err
	}
	return make([]byte, f.sizes[op.Encode.Format]), nil
}

func (f *fakeCodec) formats() map[domain.Format]Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[domain.Format]Operation, len(f.ops))
	for _, op := range f.ops {
		out[op.Encode.Format] = op
	}
	return out
}

func newTestSelector(codec Codec) *Selector {
	return NewSelector(codec, SelectorConfig{
		AlphaSourceFormats: []string{"png", " GIF "},
		DefaultBackground:  domain.White,
	})
}

var opaqueJPEG = SourceInfo{Width: 1000, Height: 800, Orientation: 1, Format: "jpeg"}

func TestOptimizeExplicitFormatEncodesOnce(t *testing.T) {
	codec := &fakeCodec{info: opaqueJPEG, sizes: map[domain.Format]int{domain.FormatAVIF: 10}}
	selector := newTestSelector(codec)

	result, err := selector.Optimize(context.Background(), []byte("src"), params.Request{ID: "x", Format: domain.FormatAVIF})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if result.Format != domain.FormatAVIF {
		t.Fatalf("expected avif, got %s", result.Format)
	}
	if len(codec.formats()) != 1 {
		t.Fatalf("expected one encode, got %d", len(codec.formats()))
	}
}

func TestOptimizeAlphaForcesWebP(t *testing.T) {
	tests := []struct {
		name string
		info SourceInfo
	}{
		{name: "alpha channel", info: SourceInfo{Width: 100, Height: 100, Orientation: 1, HasAlpha: true, Format: "webp"}},
		{name: "png without alpha", info: SourceInfo{Width: 100, Height: 100, Orientation: 1, Format: "png"}},
		{name: "gif", info: SourceInfo{Width: 100, Height: 100, Orientation: 1, Format: "gif"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := &fakeCodec{
				info:  tt.info,
				sizes: map[domain.Format]int{domain.FormatWebP: 500, domain.FormatJPEG: 10},
			}
			result, err := newTestSelector(codec).Optimize(context.Background(), nil, params.Request{ID: "x"})
			if err != nil {
				t.Fatalf("optimize: %v", err)
			}
			if result.Format != domain.FormatWebP {
				t.Fatalf("expected webp, got %s", result.Format)
			}
			if _, ok := codec.formats()[domain.FormatJPEG]; ok {
				t.Fatal("jpeg must not be rendered for alpha sources")
			}
			if result.Operation.Encode.Background != nil {
				t.Fatal("webp output must keep transparency")
			}
		})
	}
}

func TestOptimizeKeepsSmallerCandidate(t *testing.T) {
	tests := []struct {
		name  string
		sizes map[domain.Format]int
		want  domain.Format
	}{
		{name: "webp smaller", sizes: map[domain.Format]int{domain.FormatWebP: 100, domain.FormatJPEG: 200}, want: domain.FormatWebP},
		{name: "jpeg smaller", sizes: map[domain.Format]int{domain.FormatWebP: 300, domain.FormatJPEG: 200}, want: domain.FormatJPEG},
		{name: "tie goes to jpeg", sizes: map[domain.Format]int{domain.FormatWebP: 200, domain.FormatJPEG: 200}, want: domain.FormatJPEG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := &fakeCodec{info: opaqueJPEG, sizes: tt.sizes}
			result, err := newTestSelector(codec).Optimize(context.Background(), nil, params.Request{ID: "x"})
			if err != nil {
				t.Fatalf("optimize: %v", err)
			}
			if result.Format != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, result.Format)
			}
			if len(result.Data) != tt.sizes[tt.want] {
				t.Fatalf("expected %d bytes, got %d", tt.sizes[tt.want], len(result.Data))
			}
		})
	}
}

func TestOptimizeFlattensJPEGOnly(t *testing.T) {
	codec := &fakeCodec{
		info:  opaqueJPEG,
		sizes: map[domain.Format]int{domain.FormatWebP: 10, domain.FormatJPEG: 20},
	}
	if _, err := newTestSelector(codec).Optimize(context.Background(), nil, params.Request{ID: "x"}); err != nil {
		t.Fatalf("optimize: %v", err)
	}

	ops := codec.formats()
	jpeg := ops[domain.FormatJPEG].Encode.Background
	if jpeg == nil || *jpeg != domain.White {
		t.Fatalf("expected jpeg flattened onto white, got %v", jpeg)
	}
	if ops[domain.FormatWebP].Encode.Background != nil {
		t.Fatal("webp candidate must not be flattened")
	}
}

func TestOptimizeSkipsFailedCandidate(t *testing.T) {
	codec := &fakeCodec{
		info:  opaqueJPEG,
		sizes: map[domain.Format]int{domain.FormatJPEG: 900},
		fail:  map[domain.Format]error{domain.FormatWebP: errors.New("webp broke")},
	}

	result, err := newTestSelector(codec).Optimize(context.Background(), nil, params.Request{ID: "x"})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if result.Format != domain.FormatJPEG {
		t.Fatalf("expected jpeg fallback, got %s", result.Format)
	}
}

func TestOptimizeAllCandidatesFail(t *testing.T) {
	webpErr := errors.New("webp broke")
	jpegErr := errors.New("jpeg broke")
	codec := &fakeCodec{
		info: opaqueJPEG,
		fail: map[domain.Format]error{domain.FormatWebP: webpErr, domain.FormatJPEG: jpegErr},
	}

	_, err := newTestSelector(codec).Optimize(context.Background(), nil, params.Request{ID: "x"})
	if !errors.Is(err, webpErr) || !errors.Is(err, jpegErr) {
		t.Fatalf("expected both candidate errors, got %v", err)
	}
}

func TestOptimizePropagatesGeometryError(t *testing.T) {
	codec := &fakeCodec{info: opaqueJPEG}
	req := params.Request{
		ID:   "x",
		Crop: &geometry.Rectangle{X: 5000, Y: 0, Width: 10, Height: 10},
	}

	_, err := newTestSelector(codec).Optimize(context.Background(), nil, req)
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
	if len(codec.formats()) != 0 {
		t.Fatal("codec must not transform an invalid region")
	}
}
