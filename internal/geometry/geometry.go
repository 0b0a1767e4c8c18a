// Package geometry derives source and destination rectangles for a crop and
// resize. All functions are pure and total; callers guard against degenerate
// (zero sized) results.
package geometry

import "math"

type Point struct {
	X float64
	Y float64
}

type Size struct {
	Width  float64
	Height float64
}

type Rectangle struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Region is an integer rectangle that lies inside a source image.
type Region struct {
	Left   int
	Top    int
	Width  int
	Height int
}

type Dimensions struct {
	Width  int
	Height int
}

func (r Region) Empty() bool {
	return r.Width < 1 || r.Height < 1
}

func (d Dimensions) Pixels() int {
	return d.Width * d.Height
}

// FocusCrop returns the largest rectangle with the given width/height ratio
// that fits into seed, centered on focus as far as seed allows. The result
// keeps either the full width or the full height of seed.
func FocusCrop(ratio float64, focus Point, seed Rectangle) Rectangle {
	if seed.Width/seed.Height < ratio {
		height := seed.Width / ratio
		return Rectangle{
			X:      seed.X,
			Y:      centered(focus.Y, height, seed.Y, seed.Y+seed.Height),
			Width:  seed.Width,
			Height: height,
		}
	}

	width := seed.Height * ratio
	return Rectangle{
		X:      centered(focus.X, width, seed.X, seed.X+seed.Width),
		Y:      seed.Y,
		Width:  width,
		Height: seed.Height,
	}
}

// centered returns the start of a window of length centered on center and
// clamped to [min, max].
func centered(center, length, min, max float64) float64 {
	return math.Min(math.Max(center-length/2, min)+length, max) - length
}

// LimitedRegion rounds rect to whole pixels and clips it to bounds.
func LimitedRegion(rect Rectangle, bounds Size) Region {
	left := maxInt(0, round(rect.X))
	top := maxInt(0, round(rect.Y))
	boundW := round(bounds.Width)
	boundH := round(bounds.Height)

	return Region{
		Left:   left,
		Top:    top,
		Width:  minInt(round(rect.Width), boundW, boundW-left),
		Height: minInt(round(rect.Height), boundH, boundH-top),
	}
}

// LimitedSize computes output dimensions with the given ratio that never
// exceed source. A zero width or height is derived from the other side.
func LimitedSize(width, height int, ratio float64, source Region) Dimensions {
	w := float64(width)
	h := float64(height)
	if w <= 0 {
		w = h * ratio
	}
	if h <= 0 {
		h = w / ratio
	}

	srcW := float64(source.Width)
	srcH := float64(source.Height)
	if w > srcW {
		w = srcW
		h = srcW / ratio
	}
	if h > srcH {
		w = srcH * ratio
		h = w / ratio
	}

	return Dimensions{
		Width:  maxInt(1, round(w)),
		Height: maxInt(1, round(h)),
	}
}

// Upright returns the displayed size of an image. EXIF orientations 5-8 are
// rotated by 90 degrees, so width and height swap.
func Upright(width, height, orientation int) Size {
	if orientation > 4 && orientation <= 8 {
		return Size{Width: float64(height), Height: float64(width)}
	}
	return Size{Width: float64(width), Height: float64(height)}
}

// round rounds halves up, so -0.5 becomes 0 and 0.5 becomes 1.
func round(v float64) int {
	return int(math.Floor(v + 0.5))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(first int, rest ...int) int {
	out := first
	for _, v := range rest {
		if v < out {
			out = v
		}
	}
	return out
}
