package config

import (
	"fmt"

	"vppdisplay/internal/display"
	"vppdisplay/internal/dma"
	"vppdisplay/internal/layer"
	"vppdisplay/internal/mpp"
)

// UnitSpecs builds the pool inventory. Limits start from the unit family
// and take every field the file sets.
func (c *HardwareConfig) UnitSpecs() ([]mpp.UnitSpec, error) {
	specs := make([]mpp.UnitSpec, 0, len(c.MPPs))
	for _, m := range c.MPPs {
		ref, err := parseRef(m.Type, m.Index)
		if err != nil {
			return nil, fmt.Errorf("mpp %s%d: %w", m.Type, m.Index, err)
		}
		limits, err := m.limits(ref.typ)
		if err != nil {
			return nil, fmt.Errorf("mpp %s%d: %w", ref.typ, ref.index, err)
		}
		specs = append(specs, mpp.UnitSpec{Type: ref.typ, Index: ref.index, Cap: limits})
	}
	return specs, nil
}

func (m MPPConfig) limits(t mpp.Type) (mpp.Limits, error) {
	l := mpp.DefaultLimits(t)
	if len(m.Formats) > 0 {
		l.Formats = make([]layer.Format, 0, len(m.Formats))
		for _, name := range m.Formats {
			f, err := layer.ParseFormat(name)
			if err != nil {
				return l, err
			}
			l.Formats = append(l.Formats, f)
		}
	}
	if m.MaxUpscale > 0 {
		l.MaxUpscaleRatio = m.MaxUpscale
	}
	if m.MaxDownscale > 0 {
		l.MaxDownRatio = m.MaxDownscale
	}
	if m.MinSize != nil {
		l.MinWidth, l.MinHeight = m.MinSize.Width, m.MinSize.Height
	}
	if m.MaxSize != nil {
		l.MaxWidth, l.MaxHeight = m.MaxSize.Width, m.MaxSize.Height
	}
	if m.SrcAlign > 0 {
		l.SrcAlignment = m.SrcAlign
	}
	if m.CropAlign > 0 {
		l.CropAlignment = m.CropAlign
	}
	if m.DstAlign > 0 {
		l.DstAlignment = m.DstAlign
	}
	if m.Compression != nil {
		l.Compression = *m.Compression
	}
	if m.Rotation != nil {
		l.Rotation = *m.Rotation
	}
	if m.Protected != nil {
		l.Protected = *m.Protected
	}
	return l, nil
}

// DisplayConfig converts one display entry, with the hardware wide
// settings folded in.
func (c *HardwareConfig) DisplayConfig(d DisplayConfig) (display.Config, error) {
	t, err := display.ParseType(d.Type)
	if err != nil {
		return display.Config{}, err
	}
	panel, err := parsePanel(d.Panel)
	if err != nil {
		return display.Config{}, err
	}

	cfg := display.DefaultConfig(d.Name, t, d.XRes, d.YRes)
	hw := c.Hardware
	cfg.Panel = panel
	cfg.Windows = hw.Windows
	cfg.MaxOverlays = hw.MaxOverlays
	cfg.VideoOverlays = hw.VideoOverlays
	cfg.BurstLength = hw.BurstLength
	cfg.DRMBurstLength = hw.DRMBurstLength
	cfg.BandwidthLimit = hw.TotalBandwidthLimit
	cfg.MaxRetries = hw.MaxRetries
	cfg.SkipStaticLayers = hw.SkipStaticLayers
	cfg.ForceFB = d.ForceFB
	if cfg.ExternalDstFormat, err = layer.ParseFormat(hw.ExternalDstFormat); err != nil {
		return display.Config{}, err
	}

	cfg.PlainDMAs = cfg.PlainDMAs[:0]
	for _, name := range d.PlainDMAs {
		ch, err := dma.ParseChannel(name)
		if err != nil {
			return display.Config{}, err
		}
		cfg.PlainDMAs = append(cfg.PlainDMAs, ch)
	}
	if d.FBDMA != "" {
		if cfg.FBDMA, err = dma.ParseChannel(d.FBDMA); err != nil {
			return display.Config{}, err
		}
	}
	if d.SecureDMA != nil {
		cfg.SecureDMA = *d.SecureDMA
	}
	if d.VideoPlayback != nil {
		cfg.VideoPlayback = *d.VideoPlayback
	}

	wu := c.WindowUpdate
	cfg.WinUpdate = display.WinUpdateConfig{
		Enabled:          wu.Enabled,
		XAlign:           wu.XAlign,
		WAlign:           wu.WAlign,
		DSCHSlices:       wu.DSCHSlices,
		DSCSliceHeight:   wu.DSCSliceHeight,
		ThresholdPercent: wu.ThresholdPercent,
		MinHeight:        wu.MinHeight,
	}
	return cfg, nil
}

// ExternalUnit returns the unit reserved for d, or false when it has none.
func (d DisplayConfig) ExternalUnit() (mpp.Type, int, bool) {
	if d.ExternalMPP == nil {
		return 0, 0, false
	}
	ref, err := parseRef(d.ExternalMPP.Type, d.ExternalMPP.Index)
	if err != nil {
		return 0, 0, false
	}
	return ref.typ, ref.index, true
}
