package mpp

import (
	"strings"

	"vppdisplay/internal/geometry"
	"vppdisplay/internal/layer"
)

// Capability answers whether a unit can process a staging layer. It is a
// pure function of the staging layer and the destination format.
type Capability interface {
	IsFormatSupported(f layer.Format) bool
	IsProcessingSupported(s StagingLayer, dstFormat layer.Format) Verdict
	MaxUpscale() int
	MaxDownscale() int
	// SrcAlign is the alignment of the crop origin.
	SrcAlign(s StagingLayer) (x, y int)
	// CropAlign is the alignment of the crop size.
	CropAlign(s StagingLayer) (w, h int)
	// DstAlign is the alignment of the output size.
	DstAlign() (w, h int)
	MinSize() (w, h int)
}

// Verdict is a bitmask of reasons a unit rejected a staging layer. Zero
// means supported.
type Verdict uint32

const (
	VerdictOK              Verdict = 0
	UnsupportedFormat      Verdict = 1 << 0
	UnsupportedScale       Verdict = 1 << 1
	UnsupportedSize        Verdict = 1 << 2
	UnsupportedAlign       Verdict = 1 << 3
	UnsupportedCompression Verdict = 1 << 4
	UnsupportedRotation    Verdict = 1 << 5
	UnsupportedProtection  Verdict = 1 << 6
	UnsupportedDstFormat   Verdict = 1 << 7
)

func (v Verdict) String() string {
	if v == VerdictOK {
		return "OK"
	}
	var parts []string
	names := []struct {
		bit  Verdict
		name string
	}{
		{UnsupportedFormat, "format"},
		{UnsupportedScale, "scale"},
		{UnsupportedSize, "size"},
		{UnsupportedAlign, "align"},
		{UnsupportedCompression, "compression"},
		{UnsupportedRotation, "rotation"},
		{UnsupportedProtection, "protection"},
		{UnsupportedDstFormat, "dst_format"},
	}
	for _, n := range names {
		if v&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Limits is a table-driven Capability.
type Limits struct {
	// Formats is the accepted source formats; empty accepts every format the
	// controller can scan out.
	Formats         []layer.Format
	MaxUpscaleRatio int
	MaxDownRatio    int
	MinWidth        int
	MinHeight       int
	MaxWidth        int
	MaxHeight       int
	SrcAlignment    int
	CropAlignment   int
	DstAlignment    int
	Compression     bool
	Rotation        bool
	Protected       bool
}

// DefaultLimits returns the limits of a unit family as shipped on the
// reference hardware.
func DefaultLimits(t Type) Limits {
	switch t {
	case TypeVPPG:
		return Limits{
			Formats:         []layer.Format{layer.FormatRGBA8888, layer.FormatRGBX8888, layer.FormatBGRA8888, layer.FormatRGB565},
			MaxUpscaleRatio: 1, MaxDownRatio: 1,
			MinWidth: 16, MinHeight: 8, MaxWidth: 4096, MaxHeight: 4096,
			SrcAlignment: 1, CropAlignment: 1, DstAlignment: 1,
			Protected: true,
		}
	case TypeVG, TypeVGR:
		return Limits{
			Formats: []layer.Format{
				layer.FormatRGBA8888, layer.FormatRGBX8888, layer.FormatBGRA8888, layer.FormatRGB565,
				layer.FormatYCbCr420SPM, layer.FormatYCrCb420SPM, layer.FormatYCbCr420SPMPriv,
				layer.FormatYCrCb420SPMFull, layer.FormatYCbCr420SPMTiled,
			},
			MaxUpscaleRatio: 8, MaxDownRatio: 2,
			MinWidth: 16, MinHeight: 8, MaxWidth: 4096, MaxHeight: 4096,
			SrcAlignment: 1, CropAlignment: 1, DstAlignment: 1,
			Compression: t == TypeVGR,
			Rotation:    t == TypeVGR,
			Protected:   true,
		}
	default:
		return Limits{
			MaxUpscaleRatio: 8, MaxDownRatio: 16,
			MinWidth: 16, MinHeight: 16, MaxWidth: 8192, MaxHeight: 8192,
			SrcAlignment: 1, CropAlignment: 2, DstAlignment: 2,
			Rotation:  true,
			Protected: true,
		}
	}
}

func (l Limits) IsFormatSupported(f layer.Format) bool {
	if len(l.Formats) == 0 {
		return f != layer.FormatUnknown
	}
	for _, ok := range l.Formats {
		if ok == f {
			return true
		}
	}
	return false
}

func (l Limits) MaxUpscale() int   { return max(l.MaxUpscaleRatio, 1) }
func (l Limits) MaxDownscale() int { return max(l.MaxDownRatio, 1) }

func (l Limits) SrcAlign(s StagingLayer) (int, int) {
	a := max(l.SrcAlignment, 1)
	if layer.IsYUV420(s.Format) {
		a = geometry.LCM(a, 2)
	}
	return a, a
}

func (l Limits) CropAlign(s StagingLayer) (int, int) {
	a := max(l.CropAlignment, 1)
	if layer.IsYUV420(s.Format) {
		a = geometry.LCM(a, 2)
	}
	return a, a
}

func (l Limits) DstAlign() (int, int) {
	a := max(l.DstAlignment, 1)
	return a, a
}

func (l Limits) MinSize() (int, int) {
	return max(l.MinWidth, 1), max(l.MinHeight, 1)
}

func (l Limits) IsProcessingSupported(s StagingLayer, dstFormat layer.Format) Verdict {
	var v Verdict
	if !l.IsFormatSupported(s.Format) {
		v |= UnsupportedFormat
	}
	if dstFormat != layer.FormatUnknown && !layer.IsRGB(dstFormat) && !l.IsFormatSupported(dstFormat) {
		v |= UnsupportedDstFormat
	}
	if s.Compressed && !l.Compression {
		v |= UnsupportedCompression
	}
	if s.Transform != 0 && !l.Rotation {
		v |= UnsupportedRotation
	}
	if s.Protected && !l.Protected {
		v |= UnsupportedProtection
	}

	xAlign, yAlign := l.SrcAlign(s)
	crop := s.AlignedCrop(xAlign, yAlign)
	srcW, srcH := crop.CeilSize()
	dstW, dstH := s.DstSize()

	minW, minH := l.MinSize()
	if srcW < minW || srcH < minH || dstW < minW || dstH < minH {
		v |= UnsupportedSize
	}
	if (l.MaxWidth > 0 && (srcW > l.MaxWidth || dstW > l.MaxWidth)) ||
		(l.MaxHeight > 0 && (srcH > l.MaxHeight || dstH > l.MaxHeight)) {
		v |= UnsupportedSize
	}

	wAlign, hAlign := l.CropAlign(s)
	if srcW%wAlign != 0 || srcH%hAlign != 0 {
		v |= UnsupportedAlign
	}

	up, down := l.MaxUpscale(), l.MaxDownscale()
	if dstW > srcW*up || dstH > srcH*up || srcW > dstW*down || srcH > dstH*down {
		v |= UnsupportedScale
	}
	return v
}
