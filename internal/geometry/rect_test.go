package geometry

import "testing"

func TestRect_IntersectDisjointIsEmpty(t *testing.T) {
	a := XYWH(0, 0, 10, 10)
	b := XYWH(10, 0, 5, 5)
	if got := a.Intersect(b); !got.Empty() || got != (Rect{}) {
		t.Fatalf("expected empty intersection, got %v", got)
	}
	if a.Intersects(b) {
		t.Fatalf("touching edges must not intersect")
	}
}

func TestRect_ExpandIgnoresEmpty(t *testing.T) {
	var acc Rect
	acc = acc.Expand(XYWH(5, 5, 10, 10))
	acc = acc.Expand(Rect{})
	acc = acc.Expand(XYWH(0, 20, 2, 2))
	want := Rect{Left: 0, Top: 5, Right: 15, Bottom: 22}
	if acc != want {
		t.Fatalf("expand: got %v want %v", acc, want)
	}
}

func TestRect_ClipAndContains(t *testing.T) {
	r := Rect{Left: -20, Top: 10, Right: 1100, Bottom: 30}.Clip(1080, 1920)
	if r != (Rect{Left: 0, Top: 10, Right: 1080, Bottom: 30}) {
		t.Fatalf("clip: got %v", r)
	}
	if !XYWH(0, 0, 1080, 1920).Contains(r) {
		t.Fatalf("screen should contain clipped rect")
	}
	if r.Contains(XYWH(0, 0, 1080, 1920)) {
		t.Fatalf("small rect cannot contain the screen")
	}
}

func TestFRect_IsIntegral(t *testing.T) {
	if !(FRect{0, 0, 100, 50}).IsIntegral() {
		t.Fatalf("whole crop reported fractional")
	}
	f := FRect{0.5, 0, 100, 50}
	if f.IsIntegral() {
		t.Fatalf("fractional crop reported whole")
	}
	w, h := FRect{0, 0, 10.25, 4}.CeilSize()
	if w != 11 || h != 4 {
		t.Fatalf("ceil size: got %dx%d", w, h)
	}
}

func TestAlignHelpers(t *testing.T) {
	cases := []struct {
		v, a, up, down int
	}{
		{13, 8, 16, 8},
		{16, 8, 16, 16},
		{7, 1, 7, 7},
		{7, 0, 7, 7},
	}
	for _, c := range cases {
		if got := AlignUp(c.v, c.a); got != c.up {
			t.Fatalf("AlignUp(%d,%d)=%d want %d", c.v, c.a, got, c.up)
		}
		if got := AlignDown(c.v, c.a); got != c.down {
			t.Fatalf("AlignDown(%d,%d)=%d want %d", c.v, c.a, got, c.down)
		}
	}
	if got := LCM(4, 6); got != 12 {
		t.Fatalf("LCM(4,6)=%d", got)
	}
	if got := LCM(0, 8); got != 8 {
		t.Fatalf("LCM(0,8)=%d", got)
	}
	if got := GCD(uint32(270), uint32(192)); got != 6 {
		t.Fatalf("GCD=%d", got)
	}
}
