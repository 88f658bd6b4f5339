package display

import (
	"math"

	"vppdisplay/internal/dma"
	"vppdisplay/internal/geometry"
	"vppdisplay/internal/layer"
	"vppdisplay/internal/mpp"

	"github.com/sirupsen/logrus"
)

// HandleHighPriority places the layers that must not fall back to GPU
// composition: the DRM surface first, then the video layers up to and
// including it. It runs before any display's low priority pass so video
// wins units across displays.
func (d *Display) HandleHighPriority() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.addAssignableUnits()
	d.preAssignFbTarget()
	d.determineYuvOverlay()
	d.dropUnassignedUnits()
}

// FBPreassignedUnit returns the VPP_G unit reserved for the framebuffer
// target, if any.
func (d *Display) FBPreassignedUnit() mpp.UnitID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.fbPreAssigned || len(d.infos) == 0 {
		return mpp.NoUnit
	}
	return d.infos[d.fbIndex()].Internal
}

func (d *Display) preAssignFbTarget() {
	if d.cfg.FBDMA == dma.None || len(d.layers) == 0 {
		return
	}
	fb := d.fbIndex()
	d.infos[fb].DMA = d.cfg.FBDMA
	d.fbPreAssigned = true

	if d.cfg.FBDMA < dma.G0 || d.cfg.FBDMA > dma.G3 {
		return
	}
	id, ok := d.pool.Lookup(mpp.TypeVPPG, int(d.cfg.FBDMA-dma.G0))
	if !ok {
		return
	}
	u := d.pool.Unit(id)
	if u.PreAssigned != mpp.NoDisplay && u.PreAssigned != d.id {
		d.logger.WithField("mpp", u.String()).Warn("Framebuffer unit is reserved by another display")
		return
	}
	u.State = mpp.Assigned
	d.infos[fb].Internal = id
	kept := d.internalMPPs[:0]
	for _, have := range d.internalMPPs {
		if have != id {
			kept = append(kept, have)
		}
	}
	d.internalMPPs = kept
}

func (d *Display) determineYuvOverlay() {
	n := len(d.layers)
	if n == 0 {
		return
	}
	start := 0
	if d.hasDrmSurface && d.forceOverlayIndex >= 0 {
		start = d.forceOverlayIndex
	}
	d.hasDrmSurface = false
	d.forceOverlayIndex = -1
	d.yuvLayers = 0

	// protected content is hidden while an external display is attached,
	// unless the video playback path is active
	hideDRM := !d.cfg.VideoPlayback && (d.cfg.Type == External || d.externalConnected)
	for j := 0; j < n; j++ {
		i := (start + j) % n
		l := &d.layers[i]
		if l.Handle == nil || l.Composition == layer.FramebufferTarget {
			continue
		}
		drm := l.IsProtected()
		if drm && hideDRM {
			l.Flags |= layer.SkipRendering
			continue
		}

		if !l.IsRGB() {
			if d.forceFb && !drm {
				d.setComposition(i, layer.Framebuffer)
				d.infos[i].Flags |= FlagForceFbEnabled
			} else {
				l.SourceCrop = integerCrop(l.SourceCrop)
				intU, extU, ok := d.isOverlaySupported(i, drm)
				switch {
				case ok:
					d.yuvLayers++
					// once a DRM layer has been visited, placed or not, it
					// owns the forced overlay slot
					if !d.hasDrmSurface {
						d.bindUnits(i, intU, extU)
						d.forceOverlayIndex = i
						d.setComposition(i, layer.Overlay)
						if drm {
							d.alignDRMFrame(i)
						}
						d.logger.WithFields(logrus.Fields{
							"layer":    i,
							"internal": d.unitName(intU),
							"external": d.unitName(extU),
							"drm":      drm,
						}).Debug("Placed high priority layer")
					}
				case drm:
					d.setComposition(i, layer.Overlay)
					l.Flags |= layer.SkipRendering
					d.logger.WithField("layer", i).Warn("DRM layer cannot be shown")
				}
			}
		}
		if drm {
			d.hasDrmSurface = true
			d.forceOverlayIndex = i
		}
	}
}

// alignDRMFrame trims a chained DRM layer's frame to what its internal
// unit can take as input.
func (d *Display) alignDRMFrame(i int) {
	info := &d.infos[i]
	if info.Internal == mpp.NoUnit || info.External == mpp.NoUnit {
		return
	}
	l := &d.layers[i]
	c := d.pool.Unit(info.Internal).Cap
	s := mpp.NewStaging(l)
	wAlign, hAlign := c.CropAlign(s)
	minW, minH := c.MinSize()
	w := max(geometry.AlignDown(l.DisplayFrame.Width(), wAlign), minW)
	h := max(geometry.AlignDown(l.DisplayFrame.Height(), hAlign), minH)
	l.DisplayFrame.Right = l.DisplayFrame.Left + w
	l.DisplayFrame.Bottom = l.DisplayFrame.Top + h
}

// bindUnits records the units of layer i and marks them used.
func (d *Display) bindUnits(i int, intU, extU mpp.UnitID) {
	info := &d.infos[i]
	info.Internal = intU
	info.External = extU
	if u := d.unit(intU); u != nil {
		u.State = mpp.Assigned
	}
	if u := d.unit(extU); u != nil {
		u.State = mpp.Assigned
	}
}

func (d *Display) unitName(id mpp.UnitID) string {
	if u := d.unit(id); u != nil {
		return u.String()
	}
	return "-"
}

// integerCrop snaps a video crop to whole pixels, rounding the far edges
// up when they are within a tenth of the next pixel.
func integerCrop(c geometry.FRect) geometry.FRect {
	return geometry.FRect{
		Left:   math.Floor(c.Left),
		Top:    math.Floor(c.Top),
		Right:  math.Floor(c.Right + 0.9),
		Bottom: math.Floor(c.Bottom + 0.9),
	}
}
