// Package layer models one visual surface of a frame and the pure predicates
// the allocator uses to classify it.
package layer

import (
	"fmt"

	"vppdisplay/internal/fence"
	"vppdisplay/internal/geometry"
)

type CompositionType int

const (
	Framebuffer CompositionType = iota
	Overlay
	Background
	FramebufferTarget
)

func (c CompositionType) String() string {
	switch c {
	case Framebuffer:
		return "FB"
	case Overlay:
		return "OVERLAY"
	case Background:
		return "BACKGROUND"
	case FramebufferTarget:
		return "FB_TARGET"
	}
	return fmt.Sprintf("Composition(%d)", int(c))
}

func ParseCompositionType(s string) (CompositionType, error) {
	switch s {
	case "", "FB", "framebuffer":
		return Framebuffer, nil
	case "OVERLAY", "overlay":
		return Overlay, nil
	case "BACKGROUND", "background":
		return Background, nil
	case "FB_TARGET", "framebuffer_target":
		return FramebufferTarget, nil
	}
	return Framebuffer, fmt.Errorf("unknown composition type %q", s)
}

type Flag uint32

const (
	// SkipLayer asks for GPU composition regardless of capability.
	SkipLayer Flag = 1 << iota
	// SkipRendering means the layer produces no visible output this frame.
	SkipRendering
)

type Hint uint32

const (
	HintClearFB Hint = 1 << iota
)

type Blending int

const (
	BlendingNone Blending = iota
	BlendingPremult
	BlendingCoverage
	BlendingUnsupported
)

func (b Blending) Supported() bool {
	return b == BlendingNone || b == BlendingPremult || b == BlendingCoverage
}

func (b Blending) String() string {
	switch b {
	case BlendingNone:
		return "NONE"
	case BlendingPremult:
		return "PREMULT"
	case BlendingCoverage:
		return "COVERAGE"
	}
	return "UNSUPPORTED"
}

// Transform is the rotation/flip bitmask of a layer.
type Transform uint32

const (
	FlipH  Transform = 1
	FlipV  Transform = 2
	Rot90  Transform = 4
	Rot180           = FlipH | FlipV
	Rot270           = Rot180 | Rot90
)

// Handle describes the buffer behind a layer. ID identifies the buffer
// across frames.
type Handle struct {
	ID     uint64
	Format Format
	Stride int
	// VStride is the allocated height in lines; zero means the crop bottom.
	VStride    int
	Protected  bool
	Compressed bool
	FDs        [3]int
}

type Layer struct {
	Composition  CompositionType
	Flags        Flag
	Hints        Hint
	Handle       *Handle
	SourceCrop   geometry.FRect
	DisplayFrame geometry.Rect
	Blending     Blending
	PlaneAlpha   uint8
	Transform    Transform
	// BackgroundColor fills the window of a Background layer.
	BackgroundColor uint32
	// Damage is the surface damage since the previous frame. Nil means the
	// whole layer is damaged; a single empty rect means nothing changed.
	Damage       []geometry.Rect
	Transparent  []geometry.Rect
	Opaque       []geometry.Rect
	AcquireFence fence.Fd
	ReleaseFence fence.Fd
}

type DamageMode int

const (
	DamageFull DamageMode = iota
	DamagePartial
	DamageSkip
	DamageError
)

func (l *Layer) DamageMode() DamageMode {
	if len(l.Damage) == 0 {
		return DamageFull
	}
	if len(l.Damage) == 1 && l.Damage[0].Empty() {
		return DamageSkip
	}
	for _, r := range l.Damage {
		if r.Empty() {
			return DamageError
		}
	}
	return DamagePartial
}

// DamageBounds is the union of the damage rectangles in display space.
// Damage is reported in buffer space, so it is offset by the crop origin.
func (l *Layer) DamageBounds() geometry.Rect {
	var out geometry.Rect
	crop := l.SourceCrop.Rect()
	for _, r := range l.Damage {
		moved := geometry.Rect{
			Left:   r.Left - crop.Left + l.DisplayFrame.Left,
			Top:    r.Top - crop.Top + l.DisplayFrame.Top,
			Right:  r.Right - crop.Left + l.DisplayFrame.Left,
			Bottom: r.Bottom - crop.Top + l.DisplayFrame.Top,
		}
		out = out.Expand(moved.Intersect(l.DisplayFrame))
	}
	return out
}
