package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vppdisplay/internal/display"
	"vppdisplay/internal/dma"
	"vppdisplay/internal/layer"
	"vppdisplay/internal/mpp"
)

const boardYAML = `
hardware:
  name: board
  video_overlays: 3
  skip_static_layers: true
window_update:
  enabled: true
  threshold_percent: 60
displays:
  - name: lcd
    type: primary
    xres: 1080
    yres: 1920
    panel: dsc
    fb_dma: G0
    external_mpp:
      type: MSC
      index: 0
  - name: hdmi
    type: external
    xres: 1920
    yres: 1080
    plain_dmas: [G3]
    video_playback: false
mpps:
  - type: VPP_G
    index: 0
  - type: VG
    index: 0
    max_upscale: 4
  - type: MSC
    index: 0
    formats: [RGBA8888, YCbCr420SPM]
    protected: false
data:
  db:
    host: ${VPP_TEST_DB_HOST}
    name: frames
    password: secret
    org: lab
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hw.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigWithContent_ExpandsAndDefaults(t *testing.T) {
	t.Setenv("VPP_TEST_DB_HOST", "http://influx:8086")
	path := writeConfig(t, boardYAML)

	cfg, content, err := LoadConfigWithContent(path)
	if err != nil {
		t.Fatalf("LoadConfigWithContent: %v", err)
	}
	if !strings.Contains(content, "${VPP_TEST_DB_HOST}") {
		t.Fatalf("returned content was expanded")
	}
	if cfg.Data.DB.Host != "http://influx:8086" || !cfg.Data.DB.Enabled() {
		t.Fatalf("db host = %q", cfg.Data.DB.Host)
	}
	if cfg.Hardware.Windows != display.DefaultWindows || cfg.Hardware.MaxOverlays != display.DefaultWindows {
		t.Fatalf("windows = %d, max overlays = %d", cfg.Hardware.Windows, cfg.Hardware.MaxOverlays)
	}
	if cfg.Hardware.ExternalDstFormat != "RGBX8888" {
		t.Fatalf("external dst format = %q", cfg.Hardware.ExternalDstFormat)
	}
	if cfg.WindowUpdate.XAlign != 8 || cfg.WindowUpdate.ThresholdPercent != 60 {
		t.Fatalf("window update = %+v", cfg.WindowUpdate)
	}
	lcd, ok := cfg.GetDisplay("lcd")
	if !ok {
		t.Fatalf("lcd missing")
	}
	// G0 is driven by VPP_G0 so the defaults skip it
	if got := strings.Join(lcd.PlainDMAs, ","); got != "G1,G2" {
		t.Fatalf("default plain DMAs = %s", got)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDisplayConfig_Conversion(t *testing.T) {
	t.Setenv("VPP_TEST_DB_HOST", "http://influx:8086")
	cfg, err := LoadConfig(writeConfig(t, boardYAML))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	lcd, _ := cfg.GetDisplay("lcd")
	dc, err := cfg.DisplayConfig(lcd)
	if err != nil {
		t.Fatalf("DisplayConfig(lcd): %v", err)
	}
	if dc.Type != display.Primary || dc.Panel != display.PanelDSC || !dc.SecureDMA {
		t.Fatalf("lcd = %+v", dc)
	}
	if dc.FBDMA != dma.G0 || len(dc.PlainDMAs) != 2 || dc.PlainDMAs[0] != dma.G1 {
		t.Fatalf("lcd DMAs fb=%s plain=%v", dc.FBDMA, dc.PlainDMAs)
	}
	if dc.VideoOverlays != 3 || !dc.SkipStaticLayers || !dc.WinUpdate.Enabled || dc.WinUpdate.ThresholdPercent != 60 {
		t.Fatalf("lcd hardware settings = %+v", dc)
	}
	if typ, idx, ok := lcd.ExternalUnit(); !ok || typ != mpp.TypeMSC || idx != 0 {
		t.Fatalf("lcd external unit = %s%d %v", typ, idx, ok)
	}

	hdmi, _ := cfg.GetDisplay("hdmi")
	hc, err := cfg.DisplayConfig(hdmi)
	if err != nil {
		t.Fatalf("DisplayConfig(hdmi): %v", err)
	}
	if hc.Type != display.External || hc.SecureDMA || hc.VideoPlayback || hc.FBDMA != dma.None {
		t.Fatalf("hdmi = %+v", hc)
	}
	if _, _, ok := hdmi.ExternalUnit(); ok {
		t.Fatalf("hdmi should have no external unit")
	}
}

func TestUnitSpecs_OverrideFamilyLimits(t *testing.T) {
	t.Setenv("VPP_TEST_DB_HOST", "http://influx:8086")
	cfg, err := LoadConfig(writeConfig(t, boardYAML))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	specs, err := cfg.UnitSpecs()
	if err != nil {
		t.Fatalf("UnitSpecs: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("got %d specs", len(specs))
	}

	vg := specs[1].Cap.(mpp.Limits)
	if specs[1].Type != mpp.TypeVG || vg.MaxUpscaleRatio != 4 || vg.MaxDownRatio != mpp.DefaultLimits(mpp.TypeVG).MaxDownRatio {
		t.Fatalf("VG limits = %+v", vg)
	}
	msc := specs[2].Cap.(mpp.Limits)
	if msc.Protected || len(msc.Formats) != 2 || msc.Formats[1] != layer.FormatYCbCr420SPM {
		t.Fatalf("MSC limits = %+v", msc)
	}

	pool, err := mpp.NewPool(specs, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if len(pool.Internal()) != 2 || len(pool.External()) != 1 {
		t.Fatalf("pool internal=%d external=%d", len(pool.Internal()), len(pool.External()))
	}
}

func TestParseConfig_Rejections(t *testing.T) {
	const base = `
displays:
  - name: lcd
    xres: 1080
    yres: 1920
`
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no displays", "hardware:\n  windows: 4\n", "at least one display"},
		{"bad resolution", "displays:\n  - name: lcd\n    xres: 0\n    yres: 10\n", "resolution"},
		{"duplicate name", base + "  - name: lcd\n    type: external\n    xres: 10\n    yres: 10\n", "already used"},
		{"two primaries", base + "  - name: lcd2\n    xres: 10\n    yres: 10\n", "primary"},
		{"too many overlays", "hardware:\n  windows: 3\n  max_overlays: 4\n" + base, "max_overlays"},
		{"plain channel driven by vpp", base + "    plain_dmas: [G0]\nmpps:\n  - type: VPP_G\n    index: 0\n", "driven by"},
		{"non plain channel", base + "    plain_dmas: [VG0]\n", "not a plain channel"},
		{"duplicate plain channel", base + "    plain_dmas: [G1, G1]\n", "listed twice"},
		{"secure fb dma", base + "    fb_dma: SECURE\n", "secure"},
		{"internal external mpp", base + "    external_mpp:\n      type: VG\n      index: 0\nmpps:\n  - type: VG\n    index: 0\n", "not an external unit"},
		{"missing external mpp", base + "    external_mpp:\n      type: MSC\n      index: 1\n", "not in mpps"},
		{"duplicate mpp", base + "mpps:\n  - type: VG\n    index: 0\n  - type: vg\n    index: 0\n", "defined twice"},
		{"unknown mpp format", base + "mpps:\n  - type: MSC\n    index: 0\n    formats: [P010]\n", "pixel format"},
		{"unknown panel", base + "    panel: oled\n", "panel"},
		{"incomplete db", base + "data:\n  db:\n    host: http://influx\n", "database"},
		{"bad threshold", "window_update:\n  threshold_percent: 120\n" + base, "threshold"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.content))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestParseConfig_SharedExternalUnit(t *testing.T) {
	content := `
displays:
  - name: lcd
    xres: 1080
    yres: 1920
    external_mpp: {type: MSC, index: 0}
  - name: hdmi
    type: external
    xres: 1920
    yres: 1080
    plain_dmas: [G3]
    external_mpp: {type: MSC, index: 0}
mpps:
  - type: MSC
    index: 0
`
	_, err := ParseConfig([]byte(content))
	if err == nil || !strings.Contains(err.Error(), "already used by lcd") {
		t.Fatalf("err = %v", err)
	}
}
