package display

import (
	"fmt"

	"vppdisplay/internal/device"
	"vppdisplay/internal/geometry"
	"vppdisplay/internal/layer"
	"vppdisplay/internal/mpp"

	"github.com/sirupsen/logrus"
)

// WinUpdateStatus is the outcome of the partial update computation.
// Negative values say why the whole screen is refreshed.
type WinUpdateStatus int

const (
	WinUpdateDisabled           WinUpdateStatus = 0
	WinUpdateInvalidIndex       WinUpdateStatus = -1
	WinUpdateGeometryChanged    WinUpdateStatus = -2
	WinUpdateInvalidRegion      WinUpdateStatus = -3
	WinUpdateNotUpdated         WinUpdateStatus = -4
	WinUpdateOverThreshold      WinUpdateStatus = -5
	WinUpdateAdjustmentFail     WinUpdateStatus = -6
	WinUpdateInvalidConfig      WinUpdateStatus = -7
	WinUpdateUnsupportedUseCase WinUpdateStatus = -8
	WinUpdateApplied            WinUpdateStatus = 1
)

func (s WinUpdateStatus) String() string {
	switch s {
	case WinUpdateDisabled:
		return "disabled"
	case WinUpdateInvalidIndex:
		return "invalid_index"
	case WinUpdateGeometryChanged:
		return "geometry_changed"
	case WinUpdateInvalidRegion:
		return "invalid_region"
	case WinUpdateNotUpdated:
		return "not_updated"
	case WinUpdateOverThreshold:
		return "over_threshold"
	case WinUpdateAdjustmentFail:
		return "adjustment_fail"
	case WinUpdateInvalidConfig:
		return "invalid_config"
	case WinUpdateUnsupportedUseCase:
		return "unsupported_use_case"
	case WinUpdateApplied:
		return "updated"
	}
	return fmt.Sprintf("WinUpdateStatus(%d)", int(s))
}

// windowed returns the indices of the layers that own an enabled window
// this frame.
func (d *Display) windowed(cfgs []device.WindowConfig) []int {
	var out []int
	for i := range d.layers {
		l := &d.layers[i]
		if l.Composition == layer.Framebuffer || l.Flags&layer.SkipRendering != 0 {
			continue
		}
		if l.Composition == layer.FramebufferTarget && !d.fbNeeded {
			continue
		}
		w := d.infos[i].Window
		if w < 0 || w >= d.cfg.Windows || cfgs[w].State == device.WinDisabled {
			continue
		}
		out = append(out, i)
	}
	return out
}

// handleWindowUpdate computes the smallest aligned screen region that covers
// every window changed since the last frame and writes it to the update
// slot of cfgs.
func (d *Display) handleWindowUpdate(cfgs []device.WindowConfig) (WinUpdateStatus, geometry.Rect) {
	wu := d.cfg.WinUpdate
	if !wu.Enabled {
		return WinUpdateDisabled, geometry.Rect{}
	}
	slot := d.cfg.Windows
	if slot >= len(cfgs) {
		return WinUpdateInvalidIndex, geometry.Rect{}
	}
	if d.geometryChanged {
		return WinUpdateGeometryChanged, geometry.Rect{}
	}

	xAlign, wAlign, yAlign, hAlign := wu.XAlign, wu.WAlign, 1, 1
	if d.cfg.Panel == PanelDSC {
		xAlign = d.cfg.XRes / wu.DSCHSlices
		wAlign = xAlign
		yAlign = wu.DSCSliceHeight
		hAlign = wu.DSCSliceHeight
	}
	xAlign, wAlign, yAlign, hAlign = max(xAlign, 1), max(wAlign, 1), max(yAlign, 1), max(hAlign, 1)

	layers := d.windowed(cfgs)
	var update geometry.Rect
	updated := 0
	for _, i := range layers {
		l := &d.layers[i]
		c := &cfgs[d.infos[i].Window]
		if d.infos[i].Window < len(d.lastConfig) && !windowChanged(c, &d.lastConfig[d.infos[i].Window]) {
			continue
		}
		updated++
		cur := c.Dst.Rect()
		if l.Handle != nil {
			switch l.DamageMode() {
			case layer.DamageSkip:
				continue
			case layer.DamageError:
				return WinUpdateInvalidRegion, geometry.Rect{}
			case layer.DamagePartial:
				if !l.IsScaled() && !l.IsRotated() {
					cur = l.DamageBounds().Clip(d.cfg.XRes, d.cfg.YRes)
				}
			}
		}
		if cur.Left > cur.Right || cur.Top > cur.Bottom {
			return WinUpdateInvalidRegion, geometry.Rect{}
		}
		d.logger.WithFields(logrus.Fields{"window": d.infos[i].Window, "layer": i, "rect": cur.String()}).Debug("Window updated")
		update = update.Expand(cur)
	}
	if updated == 0 || update.Empty() {
		return WinUpdateNotUpdated, geometry.Rect{}
	}

	for _, i := range layers {
		c := &cfgs[d.infos[i].Window]
		if !c.Dst.Rect().Intersects(update) {
			continue
		}
		if d.layers[i].Handle == nil {
			return WinUpdateInvalidConfig, geometry.Rect{}
		}
		u := d.unit(d.infos[i].Internal)
		if u == nil {
			continue
		}
		if c.Src.W != c.Dst.W || c.Src.H != c.Dst.H {
			return WinUpdateUnsupportedUseCase, geometry.Rect{}
		}
		s, ok := d.windowStage(i, c)
		if !ok {
			return WinUpdateInvalidConfig, geometry.Rect{}
		}
		sx, sy := u.Cap.SrcAlign(s)
		cw, ch := u.Cap.CropAlign(s)
		xAlign = geometry.LCM(xAlign, sx)
		yAlign = geometry.LCM(yAlign, sy)
		wAlign = geometry.LCM(wAlign, cw)
		hAlign = geometry.LCM(hAlign, ch)
	}

	update.Left = geometry.AlignDown(update.Left, xAlign)
	update.Top = geometry.AlignDown(update.Top, yAlign)
	if update.Height() < wu.MinHeight {
		if update.Top+wu.MinHeight <= d.cfg.YRes {
			update.Bottom = update.Top + wu.MinHeight
		} else {
			update.Top = update.Bottom - wu.MinHeight
		}
	}
	if 100*update.Area()/(d.cfg.XRes*d.cfg.YRes) > wu.ThresholdPercent {
		return WinUpdateOverThreshold, geometry.Rect{}
	}

	adjust := geometry.LCM(xAlign, wAlign)
	burst := d.burstLength(d.hasDrmSurface)
	for {
		update = alignUpdate(update, xAlign, wAlign, yAlign, hAlign)
		done := true
		for _, i := range layers {
			c := &cfgs[d.infos[i].Window]
			width := c.Dst.Rect().Intersect(update).Width()
			if width != 0 && width*c.Format.BitsPerPixel()/8 < burst {
				done = false
				break
			}
		}
		if done {
			break
		}
		switch {
		case update.Left >= adjust:
			update.Left -= adjust
		case update.Right+adjust <= d.cfg.XRes:
			update.Right += adjust
		default:
			return WinUpdateAdjustmentFail, geometry.Rect{}
		}
	}
	update = alignUpdate(update, xAlign, wAlign, yAlign, hAlign)
	// width and height alignment may grow the region past the panel
	if update.Right > d.cfg.XRes || update.Bottom > d.cfg.YRes {
		return WinUpdateAdjustmentFail, geometry.Rect{}
	}

	for _, i := range layers {
		c := &cfgs[d.infos[i].Window]
		in := c.Dst.Rect().Intersect(update)
		if in.Empty() {
			continue
		}
		u := d.unit(d.infos[i].Internal)
		if u == nil {
			continue
		}
		s, _ := d.windowStage(i, c)
		sx, sy := u.Cap.SrcAlign(s)
		cw, ch := u.Cap.CropAlign(s)
		if in.Left%sx != 0 || in.Top%sy != 0 || in.Width()%cw != 0 || in.Height()%ch != 0 {
			return WinUpdateAdjustmentFail, geometry.Rect{}
		}
	}

	cfgs[slot] = device.Disabled()
	cfgs[slot].State = device.WinUpdate
	cfgs[slot].Dst = device.WinRect{
		X: update.Left, Y: update.Top, W: update.Width(), H: update.Height(),
		FullW: d.cfg.XRes, FullH: d.cfg.YRes,
	}
	if update != geometry.XYWH(0, 0, d.cfg.XRes, d.cfg.YRes) {
		for w := 0; w < d.cfg.Windows; w++ {
			cfgs[w].TransparentArea = geometry.Rect{}
			cfgs[w].OpaqueArea = geometry.Rect{}
		}
	}
	d.logger.WithFields(logrus.Fields{"region": update.String(), "windows": updated}).Debug("Partial update")
	return WinUpdateApplied, update
}

// windowStage is the staging view of what the window of layer i fetches.
// Rotation done by an external unit is not seen by the window.
func (d *Display) windowStage(i int, c *device.WindowConfig) (mpp.StagingLayer, bool) {
	l := &d.layers[i]
	f, ok := layer.FromDecon(c.Format)
	if !ok {
		return mpp.StagingLayer{}, false
	}
	s := mpp.NewStaging(l)
	s.Format = f
	if d.infos[i].External != mpp.NoUnit {
		s.Transform = 0
	}
	return s, true
}

func alignUpdate(r geometry.Rect, xAlign, wAlign, yAlign, hAlign int) geometry.Rect {
	r.Left = geometry.AlignDown(r.Left, xAlign)
	if r.Width()%wAlign != 0 {
		r.Right = r.Left + geometry.AlignDown(r.Width(), wAlign) + wAlign
	}
	r.Top = geometry.AlignDown(r.Top, yAlign)
	if r.Height()%hAlign != 0 {
		r.Bottom = r.Top + geometry.AlignDown(r.Height(), hAlign) + hAlign
	}
	return r
}
