// Package params parses image paths of the form
//
//	<id-pattern>/[<format>|<w>x<h>|fp=<x>,<y>|crop=<x>,<y>,<w>,<h>|q=<n>|bg=<hex>|]*
//
// into transformation requests. Segments after the id may appear in any order.
package params

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dunamismax/imgopt/internal/domain"
	"github.com/dunamismax/imgopt/internal/geometry"
)

// MsgMissingID is the Request.Error of a path without an image id.
const MsgMissingID = "missing image id"

// Request is the transformation encoded in a path. Zero values mean unset.
type Request struct {
	ID         string
	Format     domain.Format
	Width      int
	Height     int
	Focus      *geometry.Point
	Crop       *geometry.Rectangle
	Quality    int
	Background *domain.Color
	Error      string
}

type Parser struct {
	pattern *regexp.Regexp
}

func NewParser(pattern string) (*Parser, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile image path pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, errors.New("image path pattern must capture the image id")
	}
	return &Parser{pattern: re}, nil
}

func (p *Parser) Parse(path string) Request {
	loc := p.pattern.FindStringSubmatchIndex(path)
	if loc == nil || loc[2] < 0 || loc[2] == loc[3] {
		return Request{Error: MsgMissingID}
	}

	req := Request{ID: path[loc[2]:loc[3]]}
	for _, segment := range strings.Split(path[loc[1]:], "/") {
		update, ok := classify(segment)
		if !ok {
			req.Error = fmt.Sprintf(`invalid segment "%s"`, segment)
			continue
		}
		update(&req)
	}
	return req
}

type update func(*Request)

type recognizer func(segment string) (update, bool)

// recognizers are tried in order; the first match wins. Their grammars do
// not overlap, so the order only acts as a tie-break.
var recognizers = []recognizer{
	emptySegment,
	formatSegment,
	dimensionsSegment,
	focusSegment,
	cropSegment,
	qualitySegment,
	backgroundSegment,
}

func classify(segment string) (update, bool) {
	for _, recognize := range recognizers {
		if u, ok := recognize(segment); ok {
			return u, true
		}
	}
	return nil, false
}

var (
	widthOnlyRe  = regexp.MustCompile(`^(\d+)$`)
	dimensionsRe = regexp.MustCompile(`^(\d+)?x(\d+)?$`)
	focusRe      = regexp.MustCompile(`^fp=(\d+),(\d+)$`)
	cropRe       = regexp.MustCompile(`^crop=(\d+),(\d+),(\d+),(\d+)$`)
	qualityRe    = regexp.MustCompile(`^q=(\d+)$`)
	backgroundRe = regexp.MustCompile(`^bg=([0-9a-f]{6})$`)
)

func emptySegment(segment string) (update, bool) {
	if segment != "" {
		return nil, false
	}
	return func(*Request) {}, true
}

func formatSegment(segment string) (update, bool) {
	f, ok := domain.ParseFormat(segment)
	if !ok {
		return nil, false
	}
	return func(r *Request) { r.Format = f }, true
}

func dimensionsSegment(segment string) (update, bool) {
	m := widthOnlyRe.FindStringSubmatch(segment)
	if m == nil {
		m = dimensionsRe.FindStringSubmatch(segment)
	}
	if m == nil {
		return nil, false
	}

	values, ok := optionalInts(m[1:]...)
	if !ok {
		return nil, false
	}
	width := values[0]
	height := 0
	if len(values) > 1 {
		height = values[1]
	}
	return func(r *Request) {
		r.Width = width
		r.Height = height
	}, true
}

func focusSegment(segment string) (update, bool) {
	m := focusRe.FindStringSubmatch(segment)
	if m == nil {
		return nil, false
	}
	v, ok := optionalInts(m[1:]...)
	if !ok {
		return nil, false
	}
	focus := geometry.Point{X: float64(v[0]), Y: float64(v[1])}
	return func(r *Request) { r.Focus = &focus }, true
}

func cropSegment(segment string) (update, bool) {
	m := cropRe.FindStringSubmatch(segment)
	if m == nil {
		return nil, false
	}
	v, ok := optionalInts(m[1:]...)
	if !ok {
		return nil, false
	}
	crop := geometry.Rectangle{
		X:      float64(v[0]),
		Y:      float64(v[1]),
		Width:  float64(v[2]),
		Height: float64(v[3]),
	}
	return func(r *Request) { r.Crop = &crop }, true
}

func qualitySegment(segment string) (update, bool) {
	m := qualityRe.FindStringSubmatch(segment)
	if m == nil {
		return nil, false
	}
	v, ok := optionalInts(m[1])
	if !ok || v[0] < 1 || v[0] > 100 {
		return nil, false
	}
	return func(r *Request) { r.Quality = v[0] }, true
}

func backgroundSegment(segment string) (update, bool) {
	m := backgroundRe.FindStringSubmatch(segment)
	if m == nil {
		return nil, false
	}
	c, err := domain.ParseHexColor(m[1])
	if err != nil {
		return nil, false
	}
	return func(r *Request) { r.Background = &c }, true
}

// optionalInts converts regexp groups to ints; an unmatched group yields 0.
func optionalInts(groups ...string) ([]int, bool) {
	out := make([]int, len(groups))
	for i, g := range groups {
		if g == "" {
			continue
		}
		n, err := strconv.Atoi(g)
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}
