package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"vppdisplay/internal/display"
	"vppdisplay/internal/dma"
	"vppdisplay/internal/layer"
	"vppdisplay/internal/logging"
	"vppdisplay/internal/mpp"

	"gopkg.in/yaml.v3"
)

func LoadConfig(filepath string) (*HardwareConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

// LoadConfigWithContent also returns the file as written, before
// environment expansion.
func LoadConfigWithContent(filepath string) (*HardwareConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)
	config, err := ParseConfig([]byte(expandEnvVars(originalContent)))
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to load config file")
		return nil, "", err
	}
	return config, originalContent, nil
}

// ParseConfig decodes an already expanded document, applies defaults and
// validates the result.
func ParseConfig(data []byte) (*HardwareConfig, error) {
	var config HardwareConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func applyDefaults(config *HardwareConfig) {
	hw := &config.Hardware
	if hw.Windows == 0 {
		hw.Windows = display.DefaultWindows
	}
	if hw.MaxOverlays == 0 {
		hw.MaxOverlays = hw.Windows
	}
	if hw.VideoOverlays == 0 {
		hw.VideoOverlays = display.DefaultVideoOverlays
	}
	if hw.BurstLength == 0 {
		hw.BurstLength = display.DefaultBurstLength
	}
	if hw.DRMBurstLength == 0 {
		hw.DRMBurstLength = display.DefaultDRMBurstLength
	}
	if hw.TotalBandwidthLimit == 0 {
		hw.TotalBandwidthLimit = display.DefaultBandwidthLimit
	}
	if hw.MaxRetries == 0 {
		hw.MaxRetries = display.DefaultMaxRetries
	}
	if hw.ExternalDstFormat == "" {
		hw.ExternalDstFormat = layer.FormatRGBX8888.String()
	}

	wu := &config.WindowUpdate
	def := display.DefaultWinUpdateConfig()
	if wu.XAlign == 0 {
		wu.XAlign = def.XAlign
	}
	if wu.WAlign == 0 {
		wu.WAlign = def.WAlign
	}
	if wu.DSCHSlices == 0 {
		wu.DSCHSlices = def.DSCHSlices
	}
	if wu.DSCSliceHeight == 0 {
		wu.DSCSliceHeight = def.DSCSliceHeight
	}
	if wu.ThresholdPercent == 0 {
		wu.ThresholdPercent = def.ThresholdPercent
	}
	if wu.MinHeight == 0 {
		wu.MinHeight = def.MinHeight
	}

	plain := defaultPlainDMAs(config.MPPs)
	for i := range config.Displays {
		d := &config.Displays[i]
		if d.Type == "" {
			d.Type = display.Primary.String()
		}
		if d.Panel == "" {
			d.Panel = display.PanelLegacy.String()
		}
		if len(d.PlainDMAs) == 0 {
			d.PlainDMAs = append([]string(nil), plain...)
		}
	}
}

// defaultPlainDMAs returns the first two G channels without a VPP_G unit.
func defaultPlainDMAs(mpps []MPPConfig) []string {
	driven := make(map[int]bool)
	for _, m := range mpps {
		if t, err := mpp.ParseType(m.Type); err == nil && t == mpp.TypeVPPG {
			driven[m.Index] = true
		}
	}
	var out []string
	for ch := dma.G0; ch <= dma.G3 && len(out) < 2; ch++ {
		if !driven[int(ch-dma.G0)] {
			out = append(out, ch.String())
		}
	}
	return out
}

func validateConfig(config *HardwareConfig) error {
	hw := config.Hardware
	if hw.Windows <= 0 {
		return fmt.Errorf("windows must be greater than 0")
	}
	if hw.MaxOverlays > hw.Windows {
		return fmt.Errorf("max_overlays %d exceeds windows %d", hw.MaxOverlays, hw.Windows)
	}
	if hw.VideoOverlays < 0 || hw.VideoOverlays > hw.Windows {
		return fmt.Errorf("video_overlays must be between 0 and %d", hw.Windows)
	}
	if hw.BurstLength <= 0 || hw.DRMBurstLength <= 0 {
		return fmt.Errorf("burst lengths must be greater than 0")
	}
	if hw.TotalBandwidthLimit <= 0 {
		return fmt.Errorf("total_bandwidth_limit must be greater than 0")
	}
	if hw.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be greater than 0")
	}
	if _, err := layer.ParseFormat(hw.ExternalDstFormat); err != nil {
		return fmt.Errorf("external_dst_format: %w", err)
	}

	wu := config.WindowUpdate
	if wu.XAlign <= 0 || wu.WAlign <= 0 || wu.DSCSliceHeight <= 0 || wu.DSCHSlices <= 0 || wu.MinHeight <= 0 {
		return fmt.Errorf("window_update alignments must be greater than 0")
	}
	if wu.ThresholdPercent > 100 || wu.ThresholdPercent < 0 {
		return fmt.Errorf("window_update threshold_percent must be between 0 and 100")
	}

	units, err := validateMPPs(config.MPPs)
	if err != nil {
		return err
	}

	if len(config.Displays) == 0 {
		return fmt.Errorf("at least one display must be defined")
	}

	names := make(map[string]bool)
	externals := make(map[unitRef]string)
	primaries := 0
	for _, d := range config.Displays {
		if d.Name == "" {
			return fmt.Errorf("display name is required")
		}
		if names[d.Name] {
			return fmt.Errorf("display %s: name is already used", d.Name)
		}
		names[d.Name] = true

		t, err := display.ParseType(d.Type)
		if err != nil {
			return fmt.Errorf("display %s: %w", d.Name, err)
		}
		if t == display.Primary {
			primaries++
		}
		if d.XRes <= 0 || d.YRes <= 0 {
			return fmt.Errorf("display %s: resolution %dx%d is invalid", d.Name, d.XRes, d.YRes)
		}
		if _, err := parsePanel(d.Panel); err != nil {
			return fmt.Errorf("display %s: %w", d.Name, err)
		}

		if err := validateDMAs(d, units); err != nil {
			return fmt.Errorf("display %s: %w", d.Name, err)
		}

		if d.ExternalMPP != nil {
			ref, err := parseRef(d.ExternalMPP.Type, d.ExternalMPP.Index)
			if err != nil {
				return fmt.Errorf("display %s: external_mpp: %w", d.Name, err)
			}
			if ref.typ.Kind() != mpp.External {
				return fmt.Errorf("display %s: external_mpp %s%d is not an external unit", d.Name, ref.typ, ref.index)
			}
			if !units[ref] {
				return fmt.Errorf("display %s: external_mpp %s%d is not in mpps", d.Name, ref.typ, ref.index)
			}
			if owner, taken := externals[ref]; taken {
				return fmt.Errorf("display %s: external_mpp %s%d is already used by %s", d.Name, ref.typ, ref.index, owner)
			}
			externals[ref] = d.Name
		}
	}
	if primaries > 1 {
		return fmt.Errorf("at most one primary display can be defined")
	}

	db := config.Data.DB
	if db.Enabled() && (db.Name == "" || db.Password == "" || db.Org == "") {
		return fmt.Errorf("incomplete database configuration")
	}

	return nil
}

type unitRef struct {
	typ   mpp.Type
	index int
}

func parseRef(typ string, index int) (unitRef, error) {
	t, err := mpp.ParseType(typ)
	if err != nil {
		return unitRef{}, err
	}
	if index < 0 {
		return unitRef{}, fmt.Errorf("index %d must not be negative", index)
	}
	return unitRef{typ: t, index: index}, nil
}

func validateMPPs(mpps []MPPConfig) (map[unitRef]bool, error) {
	units := make(map[unitRef]bool, len(mpps))
	for _, m := range mpps {
		ref, err := parseRef(m.Type, m.Index)
		if err != nil {
			return nil, fmt.Errorf("mpp %s%d: %w", m.Type, m.Index, err)
		}
		if units[ref] {
			return nil, fmt.Errorf("mpp %s%d is defined twice", ref.typ, ref.index)
		}
		units[ref] = true

		if m.MaxUpscale < 0 || m.MaxDownscale < 0 {
			return nil, fmt.Errorf("mpp %s%d: scaling ratios must not be negative", ref.typ, ref.index)
		}
		if m.SrcAlign < 0 || m.CropAlign < 0 || m.DstAlign < 0 {
			return nil, fmt.Errorf("mpp %s%d: alignments must not be negative", ref.typ, ref.index)
		}
		if m.MinSize != nil && m.MaxSize != nil &&
			(m.MinSize.Width > m.MaxSize.Width || m.MinSize.Height > m.MaxSize.Height) {
			return nil, fmt.Errorf("mpp %s%d: min_size exceeds max_size", ref.typ, ref.index)
		}
		for _, f := range m.Formats {
			if _, err := layer.ParseFormat(f); err != nil {
				return nil, fmt.Errorf("mpp %s%d: %w", ref.typ, ref.index, err)
			}
		}
	}
	return units, nil
}

// validateDMAs checks the plain channels of a display. A G channel fetched
// through a VPP_G unit is not a plain channel.
func validateDMAs(d DisplayConfig, units map[unitRef]bool) error {
	seen := make(map[dma.Channel]bool)
	for _, name := range d.PlainDMAs {
		ch, err := dma.ParseChannel(name)
		if err != nil {
			return fmt.Errorf("plain_dmas: %w", err)
		}
		if ch < dma.G0 || ch > dma.G3 {
			return fmt.Errorf("plain_dmas: %s is not a plain channel", ch)
		}
		if seen[ch] {
			return fmt.Errorf("plain_dmas: %s is listed twice", ch)
		}
		seen[ch] = true
		if units[unitRef{typ: mpp.TypeVPPG, index: int(ch - dma.G0)}] {
			return fmt.Errorf("plain_dmas: %s is driven by unit %s%d", ch, mpp.TypeVPPG, int(ch-dma.G0))
		}
	}
	if d.FBDMA != "" {
		ch, err := dma.ParseChannel(d.FBDMA)
		if err != nil {
			return fmt.Errorf("fb_dma: %w", err)
		}
		if ch == dma.Secure {
			return fmt.Errorf("fb_dma: the secure channel cannot be reserved")
		}
	}
	return nil
}

func parsePanel(s string) (display.Panel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "legacy":
		return display.PanelLegacy, nil
	case "dsc":
		return display.PanelDSC, nil
	}
	return display.PanelLegacy, fmt.Errorf("unknown panel %q", s)
}
