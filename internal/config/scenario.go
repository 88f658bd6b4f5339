package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"vppdisplay/internal/display"
	"vppdisplay/internal/fence"
	"vppdisplay/internal/geometry"
	"vppdisplay/internal/layer"
	"vppdisplay/internal/logging"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of frames for the simulator.
type Scenario struct {
	Name   string      `yaml:"name"`
	Frames []FrameSpec `yaml:"frames"`
}

// FrameSpec holds the layers of every display that has contents in the
// frame, keyed by display name.
type FrameSpec struct {
	Displays map[string]DisplayFrame `yaml:"displays"`
	// Repeat submits the same frame this many extra times.
	Repeat int `yaml:"repeat"`
}

type DisplayFrame struct {
	GeometryChanged bool        `yaml:"geometry_changed"`
	Layers          []LayerSpec `yaml:"layers"`
}

// LayerSpec is one layer, bottom first. Rectangles are [left, top, right,
// bottom].
type LayerSpec struct {
	ID           uint64    `yaml:"id"`
	Format       string    `yaml:"format"`
	Crop         []float64 `yaml:"crop,omitempty"`
	Frame        []int     `yaml:"frame"`
	Stride       int       `yaml:"stride,omitempty"`
	VStride      int       `yaml:"vstride,omitempty"`
	Alpha        *int      `yaml:"alpha,omitempty"`
	Blending     string    `yaml:"blending,omitempty"`
	Transform    uint32    `yaml:"transform,omitempty"`
	Protected    bool      `yaml:"protected,omitempty"`
	Compressed   bool      `yaml:"compressed,omitempty"`
	Skip         bool      `yaml:"skip,omitempty"`
	Background   bool      `yaml:"background,omitempty"`
	Color        uint32    `yaml:"color,omitempty"`
	Damage       [][]int   `yaml:"damage,omitempty"`
	AcquireFence bool      `yaml:"acquire_fence,omitempty"`
}

func LoadScenario(filepath string) (*Scenario, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read scenario file")
		return nil, err
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to load scenario file")
		return nil, err
	}
	return scenario, nil
}

func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(scenario.Frames) == 0 {
		return nil, fmt.Errorf("invalid scenario: at least one frame must be defined")
	}
	for i, f := range scenario.Frames {
		if f.Repeat < 0 {
			return nil, fmt.Errorf("invalid scenario: frame %d: repeat must not be negative", i)
		}
		for name, d := range f.Displays {
			for j, l := range d.Layers {
				if _, err := l.Layer(nil); err != nil {
					return nil, fmt.Errorf("invalid scenario: frame %d display %s layer %d: %w", i, name, j, err)
				}
			}
		}
	}
	return &scenario, nil
}

// Check verifies that every display the scenario draws on exists in hw.
func (s *Scenario) Check(hw *HardwareConfig) error {
	for i, f := range s.Frames {
		for _, name := range f.DisplayNames() {
			if _, ok := hw.GetDisplay(name); !ok {
				return fmt.Errorf("frame %d: unknown display %s", i, name)
			}
		}
	}
	return nil
}

// DisplayNames returns the displays of the frame in a stable order.
func (f FrameSpec) DisplayNames() []string {
	names := make([]string, 0, len(f.Displays))
	for name := range f.Displays {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Contents builds the allocator input of one display: the scripted layers
// followed by a framebuffer target covering the whole panel. Acquire fences
// are taken from fences when the layer asks for one.
func (d DisplayFrame) Contents(xres, yres int, targetID uint64, fences *fence.Registry) (*display.Contents, error) {
	layers := make([]layer.Layer, 0, len(d.Layers)+1)
	for i, spec := range d.Layers {
		l, err := spec.Layer(fences)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		layers = append(layers, l)
	}
	layers = append(layers, framebufferTarget(xres, yres, targetID))
	return &display.Contents{Layers: layers, GeometryChanged: d.GeometryChanged}, nil
}

func framebufferTarget(xres, yres int, id uint64) layer.Layer {
	return layer.Layer{
		Composition: layer.FramebufferTarget,
		Handle: &layer.Handle{
			ID:     id,
			Format: layer.FormatRGBA8888,
			Stride: xres,
			FDs:    [3]int{int(id), -1, -1},
		},
		SourceCrop:   geometry.FRect{Right: float64(xres), Bottom: float64(yres)},
		DisplayFrame: geometry.XYWH(0, 0, xres, yres),
		Blending:     layer.BlendingPremult,
		PlaneAlpha:   255,
		AcquireFence: fence.None,
		ReleaseFence: fence.None,
	}
}

// Layer converts the spec. fences may be nil when no fence is wanted.
func (s LayerSpec) Layer(fences *fence.Registry) (layer.Layer, error) {
	frame, err := rectOf(s.Frame)
	if err != nil {
		return layer.Layer{}, fmt.Errorf("frame: %w", err)
	}
	crop := geometry.FRectOf(geometry.XYWH(0, 0, frame.Width(), frame.Height()))
	if len(s.Crop) > 0 {
		if len(s.Crop) != 4 {
			return layer.Layer{}, fmt.Errorf("crop needs 4 values, got %d", len(s.Crop))
		}
		crop = geometry.FRect{Left: s.Crop[0], Top: s.Crop[1], Right: s.Crop[2], Bottom: s.Crop[3]}
	}
	blending, err := parseBlending(s.Blending)
	if err != nil {
		return layer.Layer{}, err
	}
	alpha := 255
	if s.Alpha != nil {
		alpha = *s.Alpha
	}
	if alpha < 0 || alpha > 255 {
		return layer.Layer{}, fmt.Errorf("alpha %d is out of range", alpha)
	}

	l := layer.Layer{
		SourceCrop:      crop,
		DisplayFrame:    frame,
		Blending:        blending,
		PlaneAlpha:      uint8(alpha),
		Transform:       layer.Transform(s.Transform),
		BackgroundColor: s.Color,
		AcquireFence:    fence.None,
		ReleaseFence:    fence.None,
	}
	if s.Background {
		l.Composition = layer.Background
		return l, nil
	}

	format, err := layer.ParseFormat(s.Format)
	if err != nil {
		return layer.Layer{}, err
	}
	l.Handle = &layer.Handle{
		ID:         s.ID,
		Format:     format,
		Stride:     s.Stride,
		VStride:    s.VStride,
		Protected:  s.Protected,
		Compressed: s.Compressed,
		FDs:        [3]int{int(s.ID), -1, -1},
	}
	if s.Skip {
		l.Flags |= layer.SkipLayer
	}
	if s.Damage != nil {
		l.Damage = make([]geometry.Rect, 0, len(s.Damage))
		for _, d := range s.Damage {
			r, err := rectOf(d)
			if err != nil {
				return layer.Layer{}, fmt.Errorf("damage: %w", err)
			}
			l.Damage = append(l.Damage, r)
		}
	}
	if s.AcquireFence && fences != nil {
		l.AcquireFence = fences.New()
	}
	return l, nil
}

func rectOf(v []int) (geometry.Rect, error) {
	if len(v) != 4 {
		return geometry.Rect{}, fmt.Errorf("rect needs 4 values, got %d", len(v))
	}
	r := geometry.Rect{Left: v[0], Top: v[1], Right: v[2], Bottom: v[3]}
	if r.Right < r.Left || r.Bottom < r.Top {
		return geometry.Rect{}, fmt.Errorf("rect %v is inverted", v)
	}
	return r, nil
}

func parseBlending(s string) (layer.Blending, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "premult", "premultiplied":
		return layer.BlendingPremult, nil
	case "none":
		return layer.BlendingNone, nil
	case "coverage":
		return layer.BlendingCoverage, nil
	}
	return layer.BlendingUnsupported, fmt.Errorf("unknown blending %q", s)
}
