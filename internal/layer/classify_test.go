package layer

import (
	"testing"

	"vppdisplay/internal/geometry"
)

func rgbLayer(w, h int) Layer {
	return Layer{
		Handle:       &Handle{ID: 1, Format: FormatRGBA8888},
		SourceCrop:   geometry.FRect{Right: float64(w), Bottom: float64(h)},
		DisplayFrame: geometry.XYWH(0, 0, w, h),
		PlaneAlpha:   255,
	}
}

func TestLayer_PlainRGBNeedsNoProcessing(t *testing.T) {
	l := rgbLayer(1080, 1920)
	if l.IsProcessingRequired() {
		t.Fatalf("unscaled RGB layer should not need an MPP")
	}
}

func TestLayer_ProcessingRequiredReasons(t *testing.T) {
	cases := map[string]func(l *Layer){
		"yuv":        func(l *Layer) { l.Handle.Format = FormatYCbCr420SPM },
		"scaled":     func(l *Layer) { l.DisplayFrame = geometry.XYWH(0, 0, 540, 960) },
		"flipped":    func(l *Layer) { l.Transform = FlipH },
		"compressed": func(l *Layer) { l.Handle.Compressed = true },
		"float crop": func(l *Layer) { l.SourceCrop.Left = 0.5 },
	}
	for name, mutate := range cases {
		l := rgbLayer(1080, 1920)
		mutate(&l)
		if !l.IsProcessingRequired() {
			t.Fatalf("%s: expected processing to be required", name)
		}
	}
}

func TestLayer_Rot90IsNotScaled(t *testing.T) {
	l := rgbLayer(1920, 1080)
	l.DisplayFrame = geometry.XYWH(0, 0, 1080, 1920)
	l.Transform = Rot90
	if l.IsScaled() {
		t.Fatalf("a pure 90 degree rotation is not a scale")
	}
	if !l.IsRotated() {
		t.Fatalf("expected rotated")
	}
}

func TestLayer_VisibleWidthClipsToScreen(t *testing.T) {
	l := rgbLayer(100, 100)
	l.DisplayFrame = geometry.Rect{Left: 1070, Top: 0, Right: 1170, Bottom: 100}
	if got := l.VisibleWidth(1080); got != 10 {
		t.Fatalf("visible width: got %d want 10", got)
	}
	l.DisplayFrame = geometry.Rect{Left: 1100, Top: 0, Right: 1200, Bottom: 100}
	if got := l.VisibleWidth(1080); got != 0 {
		t.Fatalf("off-screen visible width: got %d", got)
	}
}

func TestLayer_DamageMode(t *testing.T) {
	l := rgbLayer(100, 100)
	if l.DamageMode() != DamageFull {
		t.Fatalf("nil damage must be full")
	}
	l.Damage = []geometry.Rect{{}}
	if l.DamageMode() != DamageSkip {
		t.Fatalf("single empty rect must be skip")
	}
	l.Damage = []geometry.Rect{geometry.XYWH(10, 10, 5, 5)}
	if l.DamageMode() != DamagePartial {
		t.Fatalf("expected partial damage")
	}
	l.DisplayFrame = geometry.XYWH(200, 300, 100, 100)
	if got := l.DamageBounds(); got != geometry.XYWH(210, 310, 5, 5) {
		t.Fatalf("damage bounds: got %v", got)
	}
}

func TestFormat_DeconMapping(t *testing.T) {
	if d, ok := ToDecon(FormatYCbCr420SPMPriv); !ok || d != DeconNV12M {
		t.Fatalf("priv NV12 should map to NV12M, got %v %v", d, ok)
	}
	if _, ok := ToDecon(FormatYV12); ok {
		t.Fatalf("YV12 is not scanned out by the controller")
	}
	f, err := ParseFormat("rgbx8888")
	if err != nil || f != FormatRGBX8888 {
		t.Fatalf("parse: %v %v", f, err)
	}
}
