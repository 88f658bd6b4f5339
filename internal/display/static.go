package display

import (
	"vppdisplay/internal/device"
	"vppdisplay/internal/fence"
	"vppdisplay/internal/layer"

	"github.com/sirupsen/logrus"
)

// Prepare finishes the frame's decision. When the GPU composed layers are
// the same buffers as in the previous frame, the previous framebuffer
// window is shown again and the GPU pass is skipped.
func (d *Display) Prepare() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.forceFb {
		d.skipStaticLayers()
	} else {
		d.virtualOverlay = false
	}
	if d.virtualOverlay {
		d.fbNeeded = false
	}
	if !d.fbNeeded {
		d.fbWindow = noWindow
	}
}

func (d *Display) skipStaticLayers() {
	d.virtualOverlay = false
	n := len(d.layers)
	fb := n - 1

	if !d.cfg.SkipStaticLayers || d.bypassSkipStatic || n == 0 {
		return
	}
	if d.geometryChanged {
		d.skipStaticInit = false
		return
	}
	if !d.fbNeeded || d.lastFb-d.firstFb+1 > maxStaticLayers {
		d.skipStaticInit = false
		return
	}

	if d.skipStaticInit {
		if len(d.staticHandles) != d.lastFb-d.firstFb+1 {
			d.skipStaticInit = false
			return
		}
		for i := d.firstFb; i <= d.lastFb; i++ {
			l := &d.layers[i]
			if l.Handle == nil || l.Flags&layer.SkipLayer != 0 || d.staticHandles[i-d.firstFb] != l.Handle.ID {
				d.skipStaticInit = false
				return
			}
		}
		if d.lastFbWindow < 0 || d.lastFbWindow >= d.cfg.Windows || d.lastFbWindow >= len(d.lastConfig) {
			d.skipStaticInit = false
			d.logger.WithField("last_fb_window", d.lastFbWindow).Error("Invalid framebuffer window for static layers")
			return
		}
		// the saved window is replayed in place, so channel and slot must match
		if d.lastConfig[d.lastFbWindow].DMA != d.infos[fb].DMA || d.fbWindow != d.lastFbWindow {
			d.skipStaticInit = false
			return
		}

		d.virtualOverlay = true
		for i := 0; i < fb; i++ {
			if d.layers[i].Composition == layer.Framebuffer {
				d.setComposition(i, layer.Overlay)
				d.infos[i].Flags |= FlagSkipStaticLayer
			}
		}
		d.logger.WithFields(logrus.Fields{
			"first_fb":  d.firstFb,
			"last_fb":   d.lastFb,
			"fb_window": d.lastFbWindow,
		}).Debug("Reusing static framebuffer window")
		return
	}

	d.skipStaticInit = true
	d.staticHandles = d.staticHandles[:0]
	for i := d.firstFb; i <= d.lastFb; i++ {
		var id uint64
		if h := d.layers[i].Handle; h != nil {
			id = h.ID
		}
		d.staticHandles = append(d.staticHandles, id)
	}
}

// isStaticLayer reports a layer whose content is taken from the replayed
// framebuffer window.
func (d *Display) isStaticLayer(i int) bool {
	l := &d.layers[i]
	return d.virtualOverlay && l.Composition == layer.Overlay && l.Handle != nil &&
		!l.IsProtected() && i >= d.firstFb && i <= d.lastFb
}

// handleStaticLayers replays the last framebuffer window and drops the
// acquire fences of the layers it stands for.
func (d *Display) handleStaticLayers(cfgs []device.WindowConfig) {
	w := d.lastFbWindow
	if w < 0 || w >= d.cfg.Windows || w >= len(d.lastConfig) {
		d.logger.WithField("last_fb_window", w).Error("Invalid framebuffer window for static layers")
		return
	}
	if err := d.fences.Close(cfgs[w].AcquireFence); err != nil {
		d.logger.WithError(err).Warn("Closing replaced acquire fence failed")
	}
	cfgs[w] = d.lastConfig[w]
	cfgs[w].AcquireFence = fence.None

	for i := d.firstFb; i <= d.lastFb && i < len(d.layers); i++ {
		if d.isStaticLayer(i) {
			d.closeAcquire(i)
		}
	}
}
