package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dunamismax/imgopt/internal/domain"
	"github.com/dunamismax/imgopt/internal/params"
)

type SelectorConfig struct {
	// AlphaSourceFormats are source formats always rendered as webp, even
	// when the probe reports no alpha channel.
	AlphaSourceFormats []string
	DefaultBackground  domain.Color
}

type Selector struct {
	codec        Codec
	alphaFormats map[string]struct{}
	background   domain.Color
}

type Result struct {
	Data      []byte
	Format    domain.Format
	Operation Operation
	Source    SourceInfo
}

func NewSelector(codec Codec, cfg SelectorConfig) *Selector {
	alpha := make(map[string]struct{}, len(cfg.AlphaSourceFormats))
	for _, f := range cfg.AlphaSourceFormats {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			alpha[f] = struct{}{}
		}
	}
	return &Selector{
		codec:        codec,
		alphaFormats: alpha,
		background:   cfg.DefaultBackground,
	}
}

// Optimize renders source as described by req. Without an explicit format
// it renders webp and jpeg and keeps the smaller one.
func (s *Selector) Optimize(ctx context.Context, source []byte, req params.Request) (Result, error) {
	info, err := s.codec.Probe(ctx, source)
	if err != nil {
		return Result{}, fmt.Errorf("probe original: %w", err)
	}

	if req.Format != "" {
		return s.encode(ctx, source, info, req, req.Format)
	}
	if _, ok := s.alphaFormats[strings.ToLower(info.Format)]; ok || info.HasAlpha {
		return s.encode(ctx, source, info, req, domain.FormatWebP)
	}
	return s.smallest(ctx, source, info, req, domain.FormatWebP, domain.FormatJPEG)
}

func (s *Selector) encode(ctx context.Context, source []byte, info SourceInfo, req params.Request, format domain.Format) (Result, error) {
	op, err := Plan(info, req, format, s.background)
	if err != nil {
		return Result{}, err
	}
	data, err := s.codec.Transform(ctx, source, op)
	if err != nil {
		return Result{}, fmt.Errorf("transform to %s: %w", format, err)
	}
	return Result{Data: data, Format: format, Operation: op, Source: info}, nil
}

// smallest encodes every candidate concurrently. A failed candidate is
// skipped; on equal size the later candidate wins.
func (s *Selector) smallest(ctx context.Context, source []byte, info SourceInfo, req params.Request, candidates ...domain.Format) (Result, error) {
	results := make([]Result, len(candidates))
	errs := make([]error, len(candidates))

	var wg sync.WaitGroup
	for i, format := range candidates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.encode(ctx, source, info, req, format)
		}()
	}
	wg.Wait()

	best := -1
	for i := range candidates {
		if errs[i] != nil {
			continue
		}
		if best < 0 || len(results[i].Data) <= len(results[best].Data) {
			best = i
		}
	}
	if best < 0 {
		return Result{}, errors.Join(errs...)
	}
	return results[best], nil
}
