package domain

import (
	"encoding/hex"
	"fmt"
)

type Format string

const (
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatAVIF Format = "avif"
)

// Formats lists every output format in path grammar order.
var Formats = []Format{FormatWebP, FormatJPEG, FormatAVIF}

func ParseFormat(s string) (Format, bool) {
	for _, f := range Formats {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

func (f Format) ContentType() string {
	return "image/" + string(f)
}

// Color is an opaque RGB color used to flatten transparency.
type Color struct {
	R uint8
	G uint8
	B uint8
}

var White = Color{R: 0xff, G: 0xff, B: 0xff}

// ParseHexColor parses six hex digits with an optional leading '#'.
func ParseHexColor(s string) (Color, error) {
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	if len(s) != 6 {
		return Color{}, fmt.Errorf("invalid hex color %q", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Color{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return Color{R: b[0], G: b[1], B: b[2]}, nil
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
