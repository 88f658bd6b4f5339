package display

import (
	"math"

	"vppdisplay/internal/device"
	"vppdisplay/internal/geometry"
	"vppdisplay/internal/layer"
	"vppdisplay/internal/mpp"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// configureOverlay fills cfg for layer i, which owns its window.
func (d *Display) configureOverlay(i int, cfg *device.WindowConfig) {
	l := &d.layers[i]
	if l.Composition == layer.Background {
		cfg.State = device.WinColor
		cfg.Color = l.BackgroundColor & 0xffffff
		cfg.Dst = device.WinRect{W: d.cfg.XRes, H: d.cfg.YRes, FullW: d.cfg.XRes, FullH: d.cfg.YRes}
		return
	}
	if l.Handle == nil {
		return
	}
	crop, frame := l.SourceCrop, l.DisplayFrame
	if l.Composition == layer.FramebufferTarget {
		crop, frame = d.adjustFbUpdateRegion(i)
	}
	fullW, fullH := bufferSize(l.Handle, crop)
	d.configureHandle(i, crop, frame, l.Format(), l.Transform, fullW, fullH, cfg)
	cfg.Compressed = l.IsCompressed()
}

// configureM2M fills cfg for a layer whose buffer is first processed by an
// external unit. The window then reads the unit's output, which is already
// scaled and rotated.
func (d *Display) configureM2M(i int, cfg *device.WindowConfig) {
	l := &d.layers[i]
	info := &d.infos[i]
	if l.Handle == nil {
		return
	}
	frame := l.DisplayFrame
	crop := frectOfSize(frame.Width(), frame.Height())
	format := d.externalOutputFormat(l.Format())

	if intU := d.unit(info.Internal); intU != nil {
		extU := d.pool.Unit(info.External)
		s := mpp.NewStaging(l)
		if mpp.IsBothProcessingRequired(s, extU.Cap, intU.Cap) {
			extStage, intStage := d.chainStages(s, extU.Cap, intU.Cap)
			crop = frectOfSize(extStage.Dst.Width(), extStage.Dst.Height())
			format = intStage.Format
		}
	}
	// the intermediate buffer is exactly the size of what the unit wrote
	fullW, fullH := crop.CeilSize()
	d.configureHandle(i, crop, frame, format, 0, fullW, fullH, cfg)
	cfg.Compressed = false
}

// configureHandle translates one buffer into window coordinates. The
// destination is clipped to the screen; the source origin and size follow
// the alignment of the internal unit fetching it.
func (d *Display) configureHandle(i int, crop geometry.FRect, frame geometry.Rect, format layer.Format, transform layer.Transform, fullW, fullH int, cfg *device.WindowConfig) {
	l := &d.layers[i]
	info := &d.infos[i]
	h := l.Handle

	dst := frame.Clip(d.cfg.XRes, d.cfg.YRes)
	cfg.Dst = device.WinRect{
		X: dst.Left, Y: dst.Top, W: dst.Width(), H: dst.Height(),
		FullW: d.cfg.XRes, FullH: d.cfg.YRes,
	}
	cfg.BufferFDs = h.FDs

	x, y := max(int(crop.Left), 0), max(int(crop.Top), 0)
	u := d.unit(info.Internal)
	stage := mpp.StagingLayer{Crop: crop, Dst: frame, Format: format, Transform: transform}
	if u != nil {
		xa, ya := u.Cap.SrcAlign(stage)
		x = geometry.AlignUp(x, xa)
		y = geometry.AlignUp(y, ya)
	}
	w := int(crop.Width()) - (x - int(crop.Left))
	if x+w > fullW {
		w = fullW - x
	}
	ht := int(crop.Height()) - (y - int(crop.Top))
	if y+ht > fullH {
		ht = fullH - y
	}
	if u != nil {
		wa, ha := u.Cap.CropAlign(stage)
		w = geometry.AlignDown(w, wa)
		ht = geometry.AlignDown(ht, ha)
	}
	cfg.Src = device.WinRect{X: x, Y: y, W: max(w, 0), H: max(ht, 0), FullW: fullW, FullH: fullH}

	df, ok := layer.ToDecon(format)
	if !ok {
		d.logger.WithFields(logrus.Fields{"layer": i, "format": format.String()}).Warn("No window format for layer")
	}
	cfg.Format = df
	cfg.Blending = l.Blending
	cfg.PlaneAlpha = 255
	if l.HasPartialAlpha() {
		cfg.PlaneAlpha = int(l.PlaneAlpha)
	}

	// transparent rects are in buffer space, opaque ones in screen space
	cfg.TransparentArea = d.largestRect(l.Transparent)
	if !cfg.TransparentArea.Empty() {
		cfg.TransparentArea.Left += cfg.Dst.X
		cfg.TransparentArea.Right += cfg.Dst.X
		cfg.TransparentArea.Top += cfg.Dst.Y
		cfg.TransparentArea.Bottom += cfg.Dst.Y
	}
	cfg.OpaqueArea = d.largestRect(l.Opaque)

	cfg.DMA = info.DMA
	if info.DMA.Valid() {
		cfg.State = device.WinBuffer
	} else {
		cfg.State = device.WinDisabled
	}
	cfg.Protected = l.IsProtected()
}

// adjustFbUpdateRegion fits the framebuffer update region to the screen and
// to what the fetching unit accepts. When the result is usable the window
// only reads that part of the framebuffer.
func (d *Display) adjustFbUpdateRegion(i int) (geometry.FRect, geometry.Rect) {
	l := &d.layers[i]
	r := d.fbUpdateRegion
	r.Left = min(max(r.Left, 0), d.cfg.XRes)
	r.Right = min(max(r.Right, 0), d.cfg.XRes)
	r.Top = min(max(r.Top, 0), d.cfg.YRes)
	r.Bottom = min(max(r.Bottom, 0), d.cfg.YRes)

	minW, minH, align := 1, 1, 1
	if u := d.unit(d.infos[i].Internal); u != nil {
		s := mpp.NewStaging(l)
		if l.Handle == nil {
			s.Format = layer.FormatRGBA8888
		}
		minW, minH = u.Cap.MinSize()
		align, _ = u.Cap.CropAlign(s)
	}
	if r.Width()%align != 0 {
		r.Left = geometry.AlignDown(r.Left, align)
		r.Right = geometry.AlignUp(r.Right, align)
	}
	if r.Width() < minW {
		if r.Left+minW <= d.cfg.XRes {
			r.Right = r.Left + minW
		} else {
			r.Left = r.Right - minW
		}
	}
	if r.Height() < minH {
		if r.Top+minH <= d.cfg.YRes {
			r.Bottom = r.Top + minH
		} else {
			r.Top = r.Bottom - minH
		}
	}

	if r.Left >= 0 && r.Top >= 0 && r.Right <= d.cfg.XRes && r.Bottom <= d.cfg.YRes {
		d.fbUpdateRegion = r
		return geometry.FRectOf(r), r
	}
	d.fbUpdateRegion = l.DisplayFrame
	return l.SourceCrop, l.DisplayFrame
}

// bufferSize is the allocated size of h, falling back to the crop's far
// edges when the stride is not known.
func bufferSize(h *layer.Handle, crop geometry.FRect) (int, int) {
	w, ht := h.Stride, h.VStride
	if w <= 0 {
		w = int(math.Ceil(crop.Right))
	}
	if ht <= 0 {
		ht = int(math.Ceil(crop.Bottom))
	}
	return w, ht
}

func (d *Display) largestRect(rects []geometry.Rect) geometry.Rect {
	var best geometry.Rect
	for _, r := range rects {
		c := r.Clip(d.cfg.XRes, d.cfg.YRes)
		if c.Area() > best.Area() {
			best = c
		}
	}
	return best
}

func frectOfSize(w, h int) geometry.FRect {
	return geometry.FRect{Right: float64(w), Bottom: float64(h)}
}

// windowChanged compares the fields that make the controller reprogram a
// window.
func windowChanged(a, b *device.WindowConfig) bool {
	return a.State != b.State ||
		a.BufferFDs != b.BufferFDs ||
		a.Dst.X != b.Dst.X || a.Dst.Y != b.Dst.Y || a.Dst.W != b.Dst.W || a.Dst.H != b.Dst.H ||
		a.Src.X != b.Src.X || a.Src.Y != b.Src.Y || a.Src.W != b.Src.W || a.Src.H != b.Src.H ||
		a.Format != b.Format ||
		a.Blending != b.Blending ||
		a.PlaneAlpha != b.PlaneAlpha
}

// checkConfigChanged reports whether cfgs differs from the last accepted
// configuration.
func (d *Display) checkConfigChanged(cfgs []device.WindowConfig) bool {
	if len(d.lastConfig) != len(cfgs) {
		return true
	}
	for i := range cfgs {
		if windowChanged(&cfgs[i], &d.lastConfig[i]) {
			return true
		}
	}
	return false
}

// checkConfigValidation disables every window that would make the
// controller reject the whole configuration and returns what it found.
func (d *Display) checkConfigValidation(cfgs []device.WindowConfig) error {
	var errs error
	limit := min(len(cfgs), d.cfg.Windows)
	for i := 0; i < len(cfgs); i++ {
		c := &cfgs[i]
		if c.State == device.WinDisabled || c.State == device.WinUpdate {
			continue
		}
		if i >= limit {
			errs = errors.CombineErrors(errs, errors.Newf("window %d: index beyond %d windows", i, d.cfg.Windows))
			cfgs[i] = device.Disabled()
			continue
		}
		if c.State == device.WinBuffer {
			for j := i + 1; j < limit; j++ {
				if cfgs[j].State == device.WinBuffer && cfgs[j].DMA == c.DMA {
					errs = errors.CombineErrors(errs, errors.Newf("windows %d and %d share DMA %s", i, j, c.DMA))
					cfgs[j].State = device.WinDisabled
				}
			}
		}
		if c.Src.X < 0 || c.Src.Y < 0 || c.Dst.X < 0 || c.Dst.Y < 0 ||
			c.Dst.X+c.Dst.W > d.cfg.XRes || c.Dst.Y+c.Dst.H > d.cfg.YRes {
			errs = errors.CombineErrors(errs, errors.Newf("window %d: invalid position or size", i))
			c.State = device.WinDisabled
			continue
		}
		if c.State == device.WinBuffer && c.Format == layer.DeconFormatMax {
			errs = errors.CombineErrors(errs, errors.Newf("window %d: invalid pixel format", i))
			c.State = device.WinDisabled
		}
	}
	return errs
}
