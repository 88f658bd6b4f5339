package display

import (
	"vppdisplay/internal/dma"
	"vppdisplay/internal/fence"
	"vppdisplay/internal/geometry"
	"vppdisplay/internal/layer"
	"vppdisplay/internal/mpp"

	"github.com/sirupsen/logrus"
)

// HandleLowPriority places every layer the high priority pass left alone
// and assigns windows.
func (d *Display) HandleLowPriority() BandwidthResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.layers) == 0 {
		d.fbNeeded = false
		d.fbWindow = noWindow
		d.fbUpdateRegion = geometry.Rect{}
		d.bandwidth.Reset()
		d.bwResult = BandwidthResult{Converged: true}
		return d.bwResult
	}
	d.addAssignableUnits()
	d.determineSupportedOverlays()
	d.allowedOverlays = len(d.internalMPPs) + len(d.dmas.Channels())
	d.bwResult = d.determineBandwidthSupport()
	d.computeFbUpdateRegion()
	d.assignWindows()
	d.dropUnassignedUnits()
	return d.bwResult
}

// PrepareFrame runs the whole allocation of one frame for a display that
// owns its units alone. The pool's frame must have been started by the
// caller.
func (d *Display) PrepareFrame(c *Contents) BandwidthResult {
	d.Load(c)
	d.HandleHighPriority()
	res := d.HandleLowPriority()
	d.Prepare()
	return res
}

// assignWindows gives every overlay the next free window in layer order and
// the framebuffer target the window at the position of the topmost GPU
// composed layer. The secure channel always drives the top window.
func (d *Display) assignWindows() {
	n := len(d.layers)
	fb := d.fbIndex()
	top := d.cfg.Windows - 1

	d.fbWindow = noWindow
	if d.fbNeeded && d.fbOnSecure() {
		d.infos[fb].DMA = dma.Secure
		d.fbWindow = top
	}

	nextWindow := 0
	for i := 0; i < n; i++ {
		l := &d.layers[i]
		info := &d.infos[i]

		if d.fbNeeded && d.fbWindow == noWindow && i == d.lastFb {
			d.fbWindow = nextWindow
			nextWindow++
		}
		if l.Flags&layer.SkipRendering != 0 {
			continue
		}

		switch l.Composition {
		case layer.Background:
			info.Window = nextWindow
			nextWindow++
		case layer.Overlay:
			if l.PlaneAlpha == 0 {
				d.closeAcquire(i)
				continue
			}
			if info.DMA == dma.Secure {
				info.Window = top
			} else {
				info.Window = nextWindow
				nextWindow++
			}
			if info.DMA == dma.None {
				d.fallbackInternal(i)
			}
			d.pinUnits(i)
		case layer.FramebufferTarget:
			if d.fbNeeded {
				d.pinUnits(i)
			}
		}
	}

	fbDMA := d.infos[fb].DMA
	for i := 0; i < n; i++ {
		switch d.layers[i].Composition {
		case layer.Framebuffer, layer.FramebufferTarget:
			d.infos[i].Window = d.fbWindow
			d.infos[i].DMA = fbDMA
		}
	}

	if nextWindow > d.cfg.Windows || (d.fbWindow == top && nextWindow > top) {
		d.logger.WithFields(logrus.Fields{
			"windows": d.cfg.Windows,
			"used":    nextWindow,
		}).Error("Window assignment overflow")
	}
}

// fallbackInternal gives an overlay without a channel the first free
// internal unit of the working set.
func (d *Display) fallbackInternal(i int) {
	for _, id := range d.internalMPPs {
		u := d.pool.Unit(id)
		if !u.IsEligibleFor(d.id) {
			continue
		}
		u.State = mpp.Assigned
		d.infos[i].Internal = id
		d.infos[i].DMA = dma.FromUnit(u)
		return
	}
	d.logger.WithField("layer", i).Warn("Overlay has no DMA channel")
}

func (d *Display) pinUnits(i int) {
	if u := d.unit(d.infos[i].Internal); u != nil {
		u.SetDisplay(d.id)
	}
	if u := d.unit(d.infos[i].External); u != nil {
		u.SetDisplay(d.id)
	}
}

func (d *Display) closeAcquire(i int) {
	l := &d.layers[i]
	if err := d.fences.Close(l.AcquireFence); err != nil {
		d.logger.WithError(err).WithField("layer", i).Warn("Closing acquire fence failed")
	}
	l.AcquireFence = fence.None
}
