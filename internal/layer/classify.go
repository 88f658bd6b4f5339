package layer

// These predicates assume a well formed handle. A nil handle classifies as
// an RGB, unprotected, uncompressed buffer so the framebuffer target and
// colour layers pass through unchanged.

func (l *Layer) Format() Format {
	if l.Handle == nil {
		return FormatUnknown
	}
	return l.Handle.Format
}

func (l *Layer) IsRGB() bool {
	return l.Handle == nil || IsRGB(l.Handle.Format)
}

func (l *Layer) IsProtected() bool {
	return l.Handle != nil && l.Handle.Protected
}

func (l *Layer) IsCompressed() bool {
	return l.Handle != nil && l.Handle.Compressed
}

// IsScaled compares the destination size with the crop size, swapping the
// destination axes for 90 degree rotations.
func (l *Layer) IsScaled() bool {
	dstW, dstH := l.DisplayFrame.Width(), l.DisplayFrame.Height()
	if l.Transform&Rot90 != 0 {
		dstW, dstH = dstH, dstW
	}
	return float64(dstW) != l.SourceCrop.Width() || float64(dstH) != l.SourceCrop.Height()
}

func (l *Layer) IsRotated() bool {
	return l.Transform&(Rot90|Rot180) != 0
}

func (l *Layer) IsTransformed() bool {
	return l.Transform != 0
}

func (l *Layer) HasFloatCrop() bool {
	return !l.SourceCrop.IsIntegral()
}

// IsProcessingRequired reports whether the layer needs an MPP at all, as
// opposed to being fetched directly by a plain DMA channel.
func (l *Layer) IsProcessingRequired() bool {
	return !l.IsRGB() || l.IsScaled() || l.IsTransformed() || l.IsCompressed() || l.HasFloatCrop()
}

// BitsPerPixel of the buffer; 32 when there is no buffer.
func (l *Layer) BitsPerPixel() int {
	if l.Handle == nil {
		return 32
	}
	return BitsPerPixel(l.Handle.Format)
}

// VisibleWidth is the destination width left after clipping to [0, xres).
func (l *Layer) VisibleWidth(xres int) int {
	left := max(l.DisplayFrame.Left, 0)
	right := min(l.DisplayFrame.Right, xres)
	return max(right-left, 0)
}

func (l *Layer) HasPartialAlpha() bool {
	return l.PlaneAlpha > 0 && l.PlaneAlpha < 255
}
