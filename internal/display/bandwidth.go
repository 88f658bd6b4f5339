package display

import (
	"vppdisplay/internal/accounting"
	"vppdisplay/internal/dma"
	"vppdisplay/internal/geometry"
	"vppdisplay/internal/layer"
	"vppdisplay/internal/mpp"

	"github.com/sirupsen/logrus"
)

// determineBandwidthSupport binds DMA channels and units to the overlay
// layers pass by pass. Each pass starts from a clean slate; a pass that has
// to reject a layer demotes it and starts over. The loop ends when a pass
// changes nothing or after MaxRetries passes.
func (d *Display) determineBandwidthSupport() BandwidthResult {
	var res BandwidthResult
	for {
		changed := d.bandwidthPass()
		if d.handleTotalBandwidthOverload() {
			changed = true
		}
		res.Iterations++
		if !changed {
			res.Converged = true
			break
		}
		if res.Iterations >= d.cfg.MaxRetries {
			d.logger.WithFields(logrus.Fields{
				"retries": res.Iterations,
				"state":   d.dumpLocked(),
			}).Error("Bandwidth repair did not converge")
			break
		}
	}
	return res
}

// bandwidthPass runs one walk over the layers and reports whether it had to
// demote one.
func (d *Display) bandwidthPass() bool {
	n := len(d.layers)
	if n == 0 {
		return false
	}
	fb := d.fbIndex()
	top := d.topIndex()
	d.resetPass()

	videoOverlays := 0
	used := 0
	windowsLeft := min(d.allowedOverlays, d.cfg.MaxOverlays, d.cfg.Windows)
	fbSecure := d.fbOnSecure()
	if fbSecure {
		windowsLeft = min(windowsLeft, d.cfg.Windows-1)
	}

	if d.fbPreAssigned {
		if d.fbNeeded {
			windowsLeft--
			used++
			d.chargeFb()
		}
	} else if d.fbNeeded && n > 1 {
		used++
		switch {
		case fbSecure:
			d.infos[fb].DMA = dma.Secure
		case len(d.dmas.Channels()) > 0 && !d.infos[fb].Compressed:
			windowsLeft--
			if ch, ok := d.dmas.Take(fb); ok {
				d.infos[fb].DMA = ch
			}
		default:
			windowsLeft--
			if intU, _, ok := d.isOverlaySupported(fb, true); ok && intU != mpp.NoUnit {
				d.bindUnits(fb, intU, mpp.NoUnit)
				d.infos[fb].DMA = dma.FromUnit(d.pool.Unit(intU))
			}
		}
		d.chargeFb()
	}

	changed := false
	for i := 0; i < fb; i++ {
		l := &d.layers[i]
		info := &d.infos[i]
		if l.Flags&(layer.SkipRendering|layer.SkipLayer) != 0 || l.Composition == layer.Framebuffer {
			continue
		}

		accepted := false
		var flag OverlayFlag
		if l.Composition == layer.Background {
			if windowsLeft > 0 {
				windowsLeft--
				used++
				continue
			}
			flag = FlagInsufficientWindow
		} else {
			if l.PlaneAlpha == 0 || l.Handle == nil {
				continue
			}
			accepted, flag = d.placeOverlay(i, top, fbSecure, windowsLeft, used, &videoOverlays)
		}

		if accepted {
			if err := d.bandwidth.Add(i, int64(l.DisplayFrame.Clip(d.cfg.XRes, d.cfg.YRes).Area())); err != nil {
				d.logger.WithError(err).WithField("layer", i).Warn("Bandwidth charge failed")
			}
			used++
			if info.DMA != dma.Secure {
				windowsLeft--
			}
			continue
		}

		changedIdx := i
		if l.IsProtected() {
			changedIdx = -1
			for k := i - 1; k >= 0; k-- {
				if d.layers[k].Composition == layer.Overlay && d.layers[k].Flags&layer.SkipRendering == 0 {
					changedIdx = k
					break
				}
			}
			if changedIdx < 0 {
				changedIdx = 0
			}
		}
		d.logger.WithFields(logrus.Fields{
			"layer":        i,
			"demoted":      changedIdx,
			"reason":       (flag | info.Flags).String(),
			"windows_left": windowsLeft,
		}).Debug("Layer rejected by bandwidth pass")
		d.demote(changedIdx, flag)
		if !d.fbNeeded {
			d.fbNeeded = true
			d.firstFb = changedIdx
			d.lastFb = changedIdx
		} else {
			d.widenFb(changedIdx)
		}
		d.capFirstFb()
		changed = true
		break
	}

	if changed {
		d.repairSandwich(&videoOverlays)
	}
	return changed
}

// placeOverlay tries to give layer i a DMA path. It returns the flag to
// record when the layer has to be rejected.
func (d *Display) placeOverlay(i, top int, fbSecure bool, windowsLeft, used int, videoOverlays *int) (bool, OverlayFlag) {
	l := &d.layers[i]
	info := &d.infos[i]

	// the secure channel always drives the top window, so the top layer may
	// use it even when the regular window budget is spent
	topCandidate := d.cfg.SecureDMA && i == top && !info.Compressed && !fbSecure
	secureFree := topCandidate && used < d.cfg.Windows
	needProc := l.IsProcessingRequired()

	switch {
	case windowsLeft <= 0 && !secureFree:
		return false, FlagInsufficientWindow
	case !l.IsRGB() && *videoOverlays >= d.cfg.VideoOverlays:
		return false, FlagInsufficientMPP
	case !needProc && windowsLeft > 0 && d.dmas.Available() > 0:
		ch, _ := d.dmas.Take(i)
		info.DMA = ch
		return true, 0
	case !needProc && secureFree:
		info.DMA = dma.Secure
		return true, 0
	case windowsLeft <= 0:
		return false, FlagInsufficientWindow
	}

	mustUseVpp := !needProc || (d.dmas.Available() == 0 && !secureFree)
	intU, extU, ok := d.isOverlaySupported(i, mustUseVpp)
	if !ok {
		return false, 0
	}
	d.bindUnits(i, intU, extU)
	if intU != mpp.NoUnit {
		info.DMA = dma.FromUnit(d.pool.Unit(intU))
	} else if ch, taken := d.dmas.Take(i); taken {
		info.DMA = ch
	} else {
		info.DMA = dma.Secure
	}
	d.mppLayers++
	if !l.IsRGB() {
		*videoOverlays++
	}
	return true, 0
}

// resetPass returns everything the previous pass handed out, except the
// units of the DRM layer and the reserved framebuffer unit.
func (d *Display) resetPass() {
	drm := -1
	if d.hasDrmSurface && d.forceOverlayIndex >= 0 &&
		d.layers[d.forceOverlayIndex].Composition == layer.Overlay {
		drm = d.forceOverlayIndex
	}
	fb := d.fbIndex()
	keep := func(id mpp.UnitID) bool {
		if drm >= 0 && (d.infos[drm].Internal == id || d.infos[drm].External == id) {
			return true
		}
		return d.fbPreAssigned && d.infos[fb].Internal == id
	}
	for _, ids := range [][]mpp.UnitID{d.internalMPPs, d.externalMPPs} {
		for _, id := range ids {
			u := d.pool.Unit(id)
			if u.State == mpp.Transition || keep(id) {
				continue
			}
			u.State = mpp.Free
		}
	}
	for i := range d.infos {
		info := &d.infos[i]
		if i == fb && d.fbPreAssigned {
			continue
		}
		if i != drm {
			info.Internal = mpp.NoUnit
			info.External = mpp.NoUnit
		}
		info.DMA = dma.None
	}
	d.bandwidth.Reset()
	d.dmas.Reset()
	d.mppLayers = 0
}

// fbOnSecure reports whether the framebuffer target is the top window and
// is fetched by the secure channel.
func (d *Display) fbOnSecure() bool {
	return d.cfg.SecureDMA && d.fbNeeded && !d.fbPreAssigned &&
		!d.infos[d.fbIndex()].Compressed && d.lastFb == d.topIndex()
}

func (d *Display) chargeFb() {
	if d.bandwidth.Charged(accounting.FramebufferOwner) {
		return
	}
	if err := d.bandwidth.Add(accounting.FramebufferOwner, int64(d.cfg.XRes*d.cfg.YRes)); err != nil {
		d.logger.WithError(err).Warn("Framebuffer bandwidth charge failed")
	}
}

// handleTotalBandwidthOverload grows the framebuffer range until the
// charged pixels fit the limit. It reports whether any layer was demoted.
func (d *Display) handleTotalBandwidthOverload() bool {
	if !d.bandwidth.Over() {
		return false
	}
	d.logger.WithFields(logrus.Fields{
		"total": d.bandwidth.Total(),
		"limit": d.bandwidth.Limit(),
	}).Debug("Total bandwidth over limit")

	n := len(d.layers)
	demoted := false
	movable := func(i int) bool {
		l := &d.layers[i]
		return l.Composition == layer.Overlay && !l.IsProtected() && l.Flags&layer.SkipRendering == 0
	}

	if d.fbNeeded {
		for i := d.firstFb - 1; i >= 0 && d.bandwidth.Over(); i-- {
			if d.forceOverlayIndex == 0 && i == 0 {
				break
			}
			if !movable(i) {
				break
			}
			d.demote(i, FlagInsufficientBandwidth)
			d.firstFb = i
			demoted = true
		}
		for i := d.lastFb + 1; i < n-1 && d.bandwidth.Over(); i++ {
			if !movable(i) {
				break
			}
			d.demote(i, FlagInsufficientBandwidth)
			d.lastFb = i
			demoted = true
		}
		return demoted
	}

	// the framebuffer comes into play, so its area is charged before any
	// layer is moved into it
	d.chargeFb()
	first, last := -1, -1
	for i := 0; i < n-1 && d.bandwidth.Over(); i++ {
		if i == d.forceOverlayIndex || !movable(i) {
			continue
		}
		d.demote(i, FlagInsufficientBandwidth)
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		d.bandwidth.Remove(accounting.FramebufferOwner)
		return false
	}
	d.fbNeeded = true
	d.firstFb = first
	d.lastFb = last
	d.capFirstFb()
	d.repairSandwich(nil)
	return true
}

// computeFbUpdateRegion is the part of the framebuffer the GPU has to
// redraw. It is widened to at least one burst of pixels.
func (d *Display) computeFbUpdateRegion() {
	d.fbUpdateRegion = geometry.Rect{}
	if !d.fbNeeded {
		return
	}
	var r geometry.Rect
	for i := 0; i < d.fbIndex(); i++ {
		l := &d.layers[i]
		switch {
		case l.Composition == layer.Framebuffer:
			r = r.Expand(l.DisplayFrame)
		case l.Composition == layer.Overlay && i > d.lastFb && l.HasPartialAlpha():
			r = r.Expand(l.DisplayFrame)
		}
	}
	r = r.Clip(d.cfg.XRes, d.cfg.YRes)
	minW := d.burstLength(d.hasDrmSurface) * 8 / 32
	if !r.Empty() && r.Width() < minW {
		if r.Left+minW <= d.cfg.XRes {
			r.Right = r.Left + minW
		} else {
			r.Left = max(r.Right-minW, 0)
		}
	}
	d.fbUpdateRegion = r
}
