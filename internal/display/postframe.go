package display

import (
	"context"

	"vppdisplay/internal/device"
	"vppdisplay/internal/fence"
	"vppdisplay/internal/geometry"
	"vppdisplay/internal/layer"
	"vppdisplay/internal/mpp"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// SetResult is what the caller gets back from Set. Retire is owned by the
// caller and must be closed by it.
type SetResult struct {
	Retire       fence.Fd
	Submitted    bool
	WinUpdate    WinUpdateStatus
	UpdateRegion geometry.Rect
	Validation   error
}

// Set builds the window configuration for the prepared frame and submits
// it unless it equals the last accepted one. Every acquire fence handed in
// with the layers is consumed; every shown layer gets a release fence.
func (d *Display) Set(ctx context.Context) (SetResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := SetResult{Retire: fence.None}
	if d.fbWindow != noWindow {
		if n := len(d.layers); n == 0 || d.layers[n-1].Composition != layer.FramebufferTarget {
			return res, errors.Newf("display %q: framebuffer target expected", d.cfg.Name)
		}
	}

	cfgs := d.buildConfig()
	if d.virtualOverlay {
		d.handleStaticLayers(cfgs)
	}
	res.WinUpdate, res.UpdateRegion = d.handleWindowUpdate(cfgs)
	if res.WinUpdate < 0 {
		d.logger.WithField("status", res.WinUpdate.String()).Debug("Update region is the full screen")
	}
	if err := d.checkConfigValidation(cfgs); err != nil {
		res.Validation = err
		d.logger.WithError(err).WithField("config", dumpConfigs(cfgs)).Error("Window configuration is not valid")
	}

	var err error
	retire := fence.None
	if d.checkConfigChanged(cfgs) {
		retire, err = d.dev.Submit(ctx, cfgs)
		if err == nil {
			res.Submitted = true
			d.lastConfig = cloneConfigs(cfgs)
		} else {
			err = errors.Mark(err, device.ErrSubmit)
			d.logger.WithError(err).Error("Window configuration submit failed")
		}
	}
	d.closeConfigFences(cfgs)
	d.closeLayerAcquires()

	if err != nil {
		retire, err = d.clearDisplay(ctx, err)
	}

	if retire == fence.None {
		// nothing was submitted; the previous frame stays on screen
		retire, _ = d.fences.Dup(d.lastRetire)
	} else {
		if cerr := d.fences.Close(d.lastRetire); cerr != nil {
			d.logger.WithError(cerr).Warn("Closing previous retire fence failed")
		}
		d.lastRetire = retire
		retire, _ = d.fences.Dup(retire)
	}
	d.distributeReleaseFences()
	res.Retire = retire

	if !d.virtualOverlay && err == nil {
		d.lastFbWindow = d.fbWindow
	}
	d.report = d.buildReport(res)
	return res, err
}

// buildConfig turns the allocation into one record per window plus the
// update slot.
func (d *Display) buildConfig() []device.WindowConfig {
	cfgs := make([]device.WindowConfig, d.cfg.Windows+1)
	for i := range cfgs {
		cfgs[i] = device.Disabled()
	}

	for i := range d.layers {
		l := &d.layers[i]
		info := &d.infos[i]
		w := info.Window

		if l.Flags&layer.SkipRendering != 0 ||
			(l.Composition == layer.Overlay && (w < 0 || w >= d.cfg.Windows)) {
			if l.Flags&layer.SkipRendering == 0 && l.PlaneAlpha != 0 {
				d.logger.WithFields(logrus.Fields{"layer": i, "window": w}).Error("Overlay has no window")
			}
			d.closeAcquire(i)
			continue
		}
		if d.isStaticLayer(i) {
			continue
		}
		owns := l.Composition == layer.Overlay || l.Composition == layer.Background ||
			(d.fbNeeded && l.Composition == layer.FramebufferTarget)
		if !owns || w < 0 || w >= d.cfg.Windows {
			continue
		}

		c := &cfgs[w]
		if c.AcquireFence != fence.None {
			if err := d.fences.Close(c.AcquireFence); err != nil {
				d.logger.WithError(err).Warn("Closing replaced acquire fence failed")
			}
		}
		*c = device.Disabled()
		if info.External != mpp.NoUnit {
			d.configureM2M(i, c)
		} else {
			d.configureOverlay(i, c)
		}
		c.AcquireFence = l.AcquireFence
		l.AcquireFence = fence.None

		if w == 0 && c.Blending != layer.BlendingNone {
			c.Blending = layer.BlendingNone
		}
		if c.State != device.WinDisabled && c.State != device.WinColor &&
			(c.Src.W == 0 || c.Src.H == 0 || c.Dst.W == 0 || c.Dst.H == 0) {
			c.State = device.WinDisabled
		}
	}
	return cfgs
}

// clearDisplay blanks the screen after a failed submit. A failure to blank
// is returned together with the original error.
func (d *Display) clearDisplay(ctx context.Context, cause error) (fence.Fd, error) {
	cfgs := make([]device.WindowConfig, d.cfg.Windows+1)
	for i := range cfgs {
		cfgs[i] = device.Disabled()
	}
	retire, err := d.dev.Submit(ctx, cfgs)
	if err != nil {
		d.logger.WithError(err).Error("Clearing the display failed")
		return fence.None, errors.CombineErrors(cause, err)
	}
	d.lastConfig = cfgs
	return retire, cause
}

func (d *Display) closeConfigFences(cfgs []device.WindowConfig) {
	for i := range cfgs {
		if err := d.fences.Close(cfgs[i].AcquireFence); err != nil {
			d.logger.WithError(err).WithField("window", i).Warn("Closing acquire fence failed")
		}
		cfgs[i].AcquireFence = fence.None
	}
}

// closeLayerAcquires consumes the acquire fences no window took, those of
// GPU composed layers and of an unused framebuffer target.
func (d *Display) closeLayerAcquires() {
	for i := range d.layers {
		if d.layers[i].AcquireFence != fence.None {
			d.closeAcquire(i)
		}
	}
}

// distributeReleaseFences gives every shown layer its own descriptor of the
// retire fence.
func (d *Display) distributeReleaseFences() {
	for i := range d.layers {
		l := &d.layers[i]
		if l.Flags&layer.SkipRendering != 0 || d.isStaticLayer(i) {
			continue
		}
		shown := l.Composition == layer.Overlay ||
			(l.Composition == layer.FramebufferTarget && (d.fbNeeded || d.virtualOverlay))
		if !shown {
			continue
		}
		if err := d.fences.Close(l.ReleaseFence); err != nil {
			d.logger.WithError(err).WithField("layer", i).Warn("Closing stale release fence failed")
		}
		fd, err := d.fences.Dup(d.lastRetire)
		if err != nil {
			d.logger.WithError(err).WithField("layer", i).Warn("Release fence dup failed")
			fd = fence.None
		}
		l.ReleaseFence = fd
	}
}

func cloneConfigs(cfgs []device.WindowConfig) []device.WindowConfig {
	out := append([]device.WindowConfig(nil), cfgs...)
	for i := range out {
		out[i].AcquireFence = fence.None
	}
	return out
}
