package mpp

import (
	"math"

	"vppdisplay/internal/geometry"
	"vppdisplay/internal/layer"
)

// StagingLayer is the immutable view of a layer that one processing stage
// sees. For a chained pair the internal stage gets a derived value; the
// shared layer.Layer is never modified.
type StagingLayer struct {
	Crop       geometry.FRect
	Dst        geometry.Rect
	Format     layer.Format
	Transform  layer.Transform
	Protected  bool
	Compressed bool
}

func NewStaging(l *layer.Layer) StagingLayer {
	return StagingLayer{
		Crop:       l.SourceCrop,
		Dst:        l.DisplayFrame,
		Format:     l.Format(),
		Transform:  l.Transform,
		Protected:  l.IsProtected(),
		Compressed: l.IsCompressed(),
	}
}

// DstSize is the destination size in source orientation.
func (s StagingLayer) DstSize() (int, int) {
	w, h := s.Dst.Width(), s.Dst.Height()
	if s.Transform&layer.Rot90 != 0 {
		return h, w
	}
	return w, h
}

// SrcSize is the crop size with fractional edges rounded up.
func (s StagingLayer) SrcSize() (int, int) {
	return s.Crop.CeilSize()
}

// AlignedCrop moves a misaligned crop origin up to the next aligned
// position, shrinking the crop instead of rejecting it.
func (s StagingLayer) AlignedCrop(xAlign, yAlign int) geometry.FRect {
	c := s.Crop
	left := int(c.Left)
	top := int(c.Top)
	if xAlign > 1 && left%xAlign != 0 {
		c.Left = float64(geometry.AlignUp(left, xAlign))
	}
	if yAlign > 1 && top%yAlign != 0 {
		c.Top = float64(geometry.AlignUp(top, yAlign))
	}
	return c
}

// IsBothProcessingRequired reports whether the layer's scale ratio is beyond
// what the internal unit can do alone but within what the external and
// internal unit can do together.
func IsBothProcessingRequired(s StagingLayer, ext, internal Capability) bool {
	srcW, srcH := s.SrcSize()
	dstW, dstH := s.DstSize()
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return false
	}

	intUp, extUp := internal.MaxUpscale(), ext.MaxUpscale()
	needUp := dstW > srcW*intUp || dstH > srcH*intUp
	fitsUp := dstW <= srcW*intUp*extUp && dstH <= srcH*intUp*extUp
	if needUp && fitsUp {
		return true
	}

	intDown, extDown := internal.MaxDownscale(), ext.MaxDownscale()
	needDown := srcW > dstW*intDown || srcH > dstH*intDown
	fitsDown := srcW <= dstW*intDown*extDown && srcH <= dstH*intDown*extDown
	return needDown && fitsDown
}

// ChainedStaging splits s into an external stage followed by an internal
// stage. The external stage applies the transform and as much of the scale
// as the internal stage cannot; its output size is aligned to the external
// unit's destination alignment and clamped to its ratio limits.
func ChainedStaging(s StagingLayer, ext, internal Capability, extDstFormat layer.Format) (StagingLayer, StagingLayer) {
	dstW, dstH := s.Dst.Width(), s.Dst.Height()
	srcW, srcH := s.SrcSize()
	if s.Transform&layer.Rot90 != 0 {
		// External output is in display orientation.
		srcW, srcH = srcH, srcW
	}
	alignW, alignH := ext.DstAlign()

	outW := stageOutput(srcW, dstW, internal.MaxUpscale(), internal.MaxDownscale(), alignW)
	outH := stageOutput(srcH, dstH, internal.MaxUpscale(), internal.MaxDownscale(), alignH)
	outW = clampStage(outW, srcW, ext.MaxUpscale(), ext.MaxDownscale(), alignW)
	outH = clampStage(outH, srcH, ext.MaxUpscale(), ext.MaxDownscale(), alignH)

	extStage := StagingLayer{
		Crop:       s.Crop,
		Dst:        geometry.XYWH(0, 0, outW, outH),
		Format:     s.Format,
		Transform:  s.Transform,
		Protected:  s.Protected,
		Compressed: s.Compressed,
	}
	intStage := StagingLayer{
		Crop:      geometry.FRect{Right: float64(outW), Bottom: float64(outH)},
		Dst:       s.Dst,
		Format:    extDstFormat,
		Protected: s.Protected,
	}
	return extStage, intStage
}

func stageOutput(src, dst, intUp, intDown, align int) int {
	switch {
	case dst > src*intUp:
		return geometry.AlignUp(int(math.Ceil(float64(dst)/float64(intUp))), align)
	case src > dst*intDown:
		return geometry.AlignUp(dst*intDown, align)
	default:
		return dst
	}
}

func clampStage(out, src, extUp, extDown, align int) int {
	lo := int(math.Ceil(float64(src) / float64(extDown)))
	hi := src * extUp
	if out < lo {
		out = geometry.AlignUp(lo, align)
	}
	if out > hi {
		out = geometry.AlignDown(hi, align)
	}
	return out
}
