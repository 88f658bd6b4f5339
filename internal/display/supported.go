package display

import (
	"vppdisplay/internal/dma"
	"vppdisplay/internal/layer"
)

// determineSupportedOverlays decides per layer whether it may have its own
// window at all and derives the framebuffer range from the rest.
func (d *Display) determineSupportedOverlays() {
	n := len(d.layers)
	d.fbNeeded = false
	d.firstFb = n
	d.lastFb = 0

	for i := 0; i < n; i++ {
		l := &d.layers[i]
		info := &d.infos[i]
		info.Compressed = l.IsCompressed()

		if l.Composition == layer.FramebufferTarget {
			continue
		}
		if l.Composition == layer.Background && !d.forceFb {
			continue
		}
		if l.Flags&layer.SkipRendering != 0 {
			d.setComposition(i, layer.Overlay)
			continue
		}

		accepted := false
		if l.Handle != nil {
			if !l.IsRGB() && l.Composition == layer.Overlay {
				accepted = true
			} else if l.IsProtected() || !d.forceFb {
				if intU, extU, ok := d.isOverlaySupported(i, false); ok {
					d.bindUnits(i, intU, extU)
					d.setComposition(i, layer.Overlay)
					accepted = true
				}
			}
			if !accepted {
				if d.forceFb {
					info.Flags |= FlagForceFbEnabled
				} else if info.Flags == 0 {
					info.Flags |= FlagUnknown
				}
			}
		} else {
			info.Flags |= FlagInvalidHandle
		}

		if !accepted {
			d.setComposition(i, layer.Framebuffer)
			d.widenFb(i)
		}
	}

	d.demotePartialAlpha()
	d.capFirstFb()
	d.repairSandwich(nil)
}

// demotePartialAlpha walks the bottom run of overlays. A translucent layer
// is only blended by hardware when it lies inside the bottom layer.
func (d *Display) demotePartialAlpha() {
	if len(d.layers) < 2 {
		return
	}
	base := d.layers[0].DisplayFrame
	for i := 0; i < d.fbIndex(); i++ {
		l := &d.layers[i]
		if l.Composition != layer.Overlay {
			return
		}
		if i == 0 {
			continue
		}
		if l.HasPartialAlpha() && !base.Contains(l.DisplayFrame) {
			d.setComposition(i, layer.Framebuffer)
			d.infos[i].Flags |= FlagUnsupportedBlending
			d.releaseUnits(i)
			d.widenFb(i)
			return
		}
	}
}

func (d *Display) widenFb(i int) {
	d.fbNeeded = true
	d.firstFb = min(d.firstFb, i)
	d.lastFb = max(d.lastFb, i)
}

// capFirstFb keeps the framebuffer below the window count so it always has
// a window of its own.
func (d *Display) capFirstFb() {
	if d.fbNeeded {
		d.firstFb = min(d.firstFb, d.cfg.Windows-1)
	}
}

// repairSandwich sends every layer between firstFb and lastFb to the
// framebuffer so no overlay is stacked between two GPU composed layers.
// DRM layers cannot be composed by the GPU; the region under them is
// cleared instead. video counts overlays of YUV layers that are demoted.
func (d *Display) repairSandwich(video *int) {
	if !d.fbNeeded {
		return
	}
	for i := d.firstFb; i < d.lastFb; i++ {
		l := &d.layers[i]
		if l.Flags&layer.SkipRendering != 0 || l.Composition != layer.Overlay {
			continue
		}
		if l.IsProtected() {
			l.Hints |= layer.HintClearFB
			continue
		}
		if video != nil && !l.IsRGB() && *video > 0 {
			*video--
		}
		d.demote(i, FlagSandwiched)
	}
}

// demote sends layer i to GPU composition and returns everything it held.
func (d *Display) demote(i int, flag OverlayFlag) {
	d.setComposition(i, layer.Framebuffer)
	d.infos[i].Flags |= flag
	d.releaseUnits(i)
	d.dmas.Release(i)
	d.infos[i].DMA = dma.None
	d.bandwidth.Remove(i)
}
