package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vppdisplay/internal/fence"
	"vppdisplay/internal/geometry"
	"vppdisplay/internal/layer"
)

const scenarioYAML = `
name: video call
frames:
  - displays:
      lcd:
        geometry_changed: true
        layers:
          - id: 1
            format: RGBA8888
            frame: [0, 0, 1080, 1920]
          - id: 2
            format: YCbCr420SPM
            crop: [0, 0, 640, 360]
            frame: [0, 0, 1080, 608]
            protected: true
            acquire_fence: true
          - background: true
            frame: [0, 1800, 1080, 1920]
            color: 0xff000000
  - repeat: 2
    displays:
      lcd:
        layers:
          - id: 1
            format: RGBA8888
            frame: [0, 0, 1080, 1920]
            alpha: 128
            blending: coverage
            damage: [[0, 0, 0, 0]]
      hdmi:
        layers:
          - id: 9
            format: RGB565
            frame: [0, 0, 1920, 1080]
            skip: true
`

func TestLoadScenario_BuildsContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.yaml")
	if err := os.WriteFile(path, []byte(scenarioYAML), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	s, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if s.Name != "video call" || len(s.Frames) != 2 || s.Frames[1].Repeat != 2 {
		t.Fatalf("scenario = %+v", s)
	}

	fences := fence.NewRegistry()
	c, err := s.Frames[0].Displays["lcd"].Contents(1080, 1920, 1000, fences)
	if err != nil {
		t.Fatalf("Contents: %v", err)
	}
	if !c.GeometryChanged || len(c.Layers) != 4 {
		t.Fatalf("contents = %+v", c)
	}

	video := c.Layers[1]
	if video.Handle.Format != layer.FormatYCbCr420SPM || !video.IsProtected() {
		t.Fatalf("video layer = %+v", video.Handle)
	}
	if video.SourceCrop != (geometry.FRect{Right: 640, Bottom: 360}) {
		t.Fatalf("video crop = %+v", video.SourceCrop)
	}
	if video.AcquireFence == fence.None || fences.Outstanding() != 1 {
		t.Fatalf("acquire fence = %d, outstanding = %d", video.AcquireFence, fences.Outstanding())
	}

	bg := c.Layers[2]
	if bg.Composition != layer.Background || bg.Handle != nil || bg.BackgroundColor != 0xff000000 {
		t.Fatalf("background layer = %+v", bg)
	}

	target := c.Layers[3]
	if target.Composition != layer.FramebufferTarget || target.Handle.ID != 1000 ||
		target.DisplayFrame != geometry.XYWH(0, 0, 1080, 1920) {
		t.Fatalf("framebuffer target = %+v", target)
	}

	second := s.Frames[1]
	if got := strings.Join(second.DisplayNames(), ","); got != "hdmi,lcd" {
		t.Fatalf("display names = %s", got)
	}
	lcd, err := second.Displays["lcd"].Contents(1080, 1920, 1000, nil)
	if err != nil {
		t.Fatalf("Contents: %v", err)
	}
	l := lcd.Layers[0]
	if l.PlaneAlpha != 128 || l.Blending != layer.BlendingCoverage || l.DamageMode() != layer.DamageSkip {
		t.Fatalf("layer = %+v", l)
	}
	hdmi, err := second.Displays["hdmi"].Contents(1920, 1080, 1001, nil)
	if err != nil {
		t.Fatalf("Contents: %v", err)
	}
	if hdmi.Layers[0].Flags&layer.SkipLayer == 0 {
		t.Fatalf("skip flag missing")
	}
}

func TestScenario_Check(t *testing.T) {
	t.Setenv("VPP_TEST_DB_HOST", "http://influx:8086")
	hw, err := ParseConfig([]byte(expandEnvVars(boardYAML)))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	s, err := ParseScenario([]byte(scenarioYAML))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	if err := s.Check(hw); err != nil {
		t.Fatalf("Check: %v", err)
	}

	s.Frames[0].Displays["wfd"] = DisplayFrame{}
	if err := s.Check(hw); err == nil || !strings.Contains(err.Error(), "wfd") {
		t.Fatalf("Check err = %v", err)
	}
}

func TestParseScenario_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no frames", "name: empty\n"},
		{"short frame", "frames:\n  - displays:\n      lcd:\n        layers:\n          - {id: 1, format: RGBA8888, frame: [0, 0, 10]}\n"},
		{"inverted frame", "frames:\n  - displays:\n      lcd:\n        layers:\n          - {id: 1, format: RGBA8888, frame: [10, 0, 0, 10]}\n"},
		{"unknown format", "frames:\n  - displays:\n      lcd:\n        layers:\n          - {id: 1, format: ARGB2101010, frame: [0, 0, 10, 10]}\n"},
		{"alpha out of range", "frames:\n  - displays:\n      lcd:\n        layers:\n          - {id: 1, format: RGBA8888, frame: [0, 0, 10, 10], alpha: 300}\n"},
		{"unknown blending", "frames:\n  - displays:\n      lcd:\n        layers:\n          - {id: 1, format: RGBA8888, frame: [0, 0, 10, 10], blending: add}\n"},
		{"negative repeat", "frames:\n  - repeat: -1\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseScenario([]byte(tc.content)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
