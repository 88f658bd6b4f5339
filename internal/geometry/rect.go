// Package geometry holds the integer and float rectangle helpers shared by the
// layer classifier, the MPP staging code and the window-update computation.
package geometry

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
)

// Rect is a half-open screen rectangle [Left, Right) x [Top, Bottom).
type Rect struct {
	Left   int `yaml:"left" json:"left"`
	Top    int `yaml:"top" json:"top"`
	Right  int `yaml:"right" json:"right"`
	Bottom int `yaml:"bottom" json:"bottom"`
}

// XYWH builds a Rect from an origin and a size.
func XYWH(x, y, w, h int) Rect {
	return Rect{Left: x, Top: y, Right: x + w, Bottom: y + h}
}

func (r Rect) Width() int  { return r.Right - r.Left }
func (r Rect) Height() int { return r.Bottom - r.Top }

// Area is zero for empty or inverted rectangles.
func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return r.Width() * r.Height()
}

func (r Rect) Empty() bool {
	return r.Right <= r.Left || r.Bottom <= r.Top
}

func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d]", r.Left, r.Top, r.Right, r.Bottom)
}

// Intersect returns the overlap of r and o. The result is Empty when they do
// not overlap.
func (r Rect) Intersect(o Rect) Rect {
	out := Rect{
		Left:   max(r.Left, o.Left),
		Top:    max(r.Top, o.Top),
		Right:  min(r.Right, o.Right),
		Bottom: min(r.Bottom, o.Bottom),
	}
	if out.Empty() {
		return Rect{}
	}
	return out
}

func (r Rect) Intersects(o Rect) bool {
	return !r.Intersect(o).Empty()
}

// Expand returns the bounding box of r and o. An empty operand is ignored so a
// zero Rect can seed an accumulation.
func (r Rect) Expand(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return Rect{
		Left:   min(r.Left, o.Left),
		Top:    min(r.Top, o.Top),
		Right:  max(r.Right, o.Right),
		Bottom: max(r.Bottom, o.Bottom),
	}
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return r.Left <= o.Left && r.Top <= o.Top && r.Right >= o.Right && r.Bottom >= o.Bottom
}

// Clip clamps r to the screen [0,xres) x [0,yres).
func (r Rect) Clip(xres, yres int) Rect {
	return Rect{
		Left:   clamp(r.Left, 0, xres),
		Top:    clamp(r.Top, 0, yres),
		Right:  clamp(r.Right, 0, xres),
		Bottom: clamp(r.Bottom, 0, yres),
	}
}

// FRect is a source crop with sub-pixel edges.
type FRect struct {
	Left   float64 `yaml:"left" json:"left"`
	Top    float64 `yaml:"top" json:"top"`
	Right  float64 `yaml:"right" json:"right"`
	Bottom float64 `yaml:"bottom" json:"bottom"`
}

func FRectOf(r Rect) FRect {
	return FRect{Left: float64(r.Left), Top: float64(r.Top), Right: float64(r.Right), Bottom: float64(r.Bottom)}
}

func (f FRect) Width() float64  { return f.Right - f.Left }
func (f FRect) Height() float64 { return f.Bottom - f.Top }

// IsIntegral reports whether every edge sits on a whole pixel.
func (f FRect) IsIntegral() bool {
	return isWhole(f.Left) && isWhole(f.Top) && isWhole(f.Right) && isWhole(f.Bottom)
}

// Rect truncates the edges toward zero.
func (f FRect) Rect() Rect {
	return Rect{Left: int(f.Left), Top: int(f.Top), Right: int(f.Right), Bottom: int(f.Bottom)}
}

// CeilSize returns the crop size with fractional parts rounded up.
func (f FRect) CeilSize() (int, int) {
	return int(math.Ceil(f.Width())), int(math.Ceil(f.Height()))
}

func isWhole(v float64) bool {
	return v == math.Trunc(v)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AlignUp rounds v up to a multiple of align. align <= 1 is a no-op.
func AlignUp[T constraints.Integer](v, align T) T {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

// AlignDown rounds v down to a multiple of align. align <= 1 is a no-op.
func AlignDown[T constraints.Integer](v, align T) T {
	if align <= 1 {
		return v
	}
	return v / align * align
}

func GCD[T constraints.Integer](a, b T) T {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// LCM of non-positive inputs is treated as 1.
func LCM[T constraints.Integer](a, b T) T {
	if a <= 0 {
		a = 1
	}
	if b <= 0 {
		b = 1
	}
	return a / GCD(a, b) * b
}
