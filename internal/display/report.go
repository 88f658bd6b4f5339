package display

import (
	"time"

	"vppdisplay/internal/layer"
	"vppdisplay/internal/mpp"
)

// FrameReport summarises one submitted frame for the metrics sinks.
type FrameReport struct {
	Timestamp       time.Time       `json:"timestamp"`
	Display         string          `json:"display"`
	Frame           uint64          `json:"frame"`
	Layers          int             `json:"layers"`
	Overlays        int             `json:"overlays"`
	GPULayers       int             `json:"gpu_layers"`
	MPPLayers       int             `json:"mpp_layers"`
	FbNeeded        bool            `json:"fb_needed"`
	StaticReuse     bool            `json:"static_reuse"`
	Iterations      int             `json:"iterations"`
	Converged       bool            `json:"converged"`
	BandwidthPixels int64           `json:"bandwidth_pixels"`
	BandwidthLimit  int64           `json:"bandwidth_limit"`
	WinUpdate       WinUpdateStatus `json:"win_update"`
	Submitted       bool            `json:"submitted"`
}

func (d *Display) buildReport(res SetResult) FrameReport {
	r := FrameReport{
		Timestamp:       time.Now(),
		Display:         d.cfg.Name,
		Frame:           d.frame,
		FbNeeded:        d.fbNeeded,
		StaticReuse:     d.virtualOverlay,
		Iterations:      d.bwResult.Iterations,
		Converged:       d.bwResult.Converged,
		BandwidthPixels: d.bandwidth.Total(),
		BandwidthLimit:  d.bandwidth.Limit(),
		WinUpdate:       res.WinUpdate,
		Submitted:       res.Submitted,
	}
	for i := range d.layers {
		switch d.layers[i].Composition {
		case layer.FramebufferTarget:
			continue
		case layer.Overlay, layer.Background:
			r.Overlays++
		case layer.Framebuffer:
			r.GPULayers++
		}
		r.Layers++
		if d.infos[i].Internal != mpp.NoUnit || d.infos[i].External != mpp.NoUnit {
			r.MPPLayers++
		}
	}
	return r
}

// Report returns the summary of the last Set.
func (d *Display) Report() FrameReport {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.report
}
