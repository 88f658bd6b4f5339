package manager

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"vppdisplay/internal/device"
	"vppdisplay/internal/display"
	"vppdisplay/internal/dma"
	"vppdisplay/internal/fence"
	"vppdisplay/internal/geometry"
	"vppdisplay/internal/layer"
	"vppdisplay/internal/mpp"

	"github.com/stretchr/testify/require"
)

type harness struct {
	pool   *mpp.Pool
	fences *fence.Registry
	dev    *device.Recorder
	rm     *ResourceManager
}

func newHarness(t *testing.T, specs []mpp.UnitSpec) *harness {
	t.Helper()
	pool, err := mpp.NewPool(specs, nil)
	require.NoError(t, err)
	fences := fence.NewRegistry()
	return &harness{
		pool:   pool,
		fences: fences,
		dev:    device.NewRecorder(fences),
		rm:     NewResourceManager(pool, nil),
	}
}

func (h *harness) addDisplay(t *testing.T, id mpp.DisplayID, cfg display.Config, external mpp.UnitID) *display.Display {
	t.Helper()
	d, err := display.New(id, cfg, h.pool, h.dev, h.fences, nil)
	require.NoError(t, err)
	require.NoError(t, h.rm.RegisterDisplay(d, external))
	return d
}

func (h *harness) unit(t *testing.T, typ mpp.Type, index int) mpp.UnitID {
	t.Helper()
	id, ok := h.pool.Lookup(typ, index)
	require.True(t, ok)
	return id
}

func rgb(id uint64, crop geometry.FRect, frame geometry.Rect) layer.Layer {
	return layer.Layer{
		Handle: &layer.Handle{
			ID:     id,
			Format: layer.FormatRGBA8888,
			Stride: int(crop.Right),
			FDs:    [3]int{int(id), -1, -1},
		},
		SourceCrop:   crop,
		DisplayFrame: frame,
		PlaneAlpha:   255,
		AcquireFence: fence.None,
		ReleaseFence: fence.None,
	}
}

func full(w, h int) (geometry.FRect, geometry.Rect) {
	return geometry.FRect{Right: float64(w), Bottom: float64(h)}, geometry.XYWH(0, 0, w, h)
}

func target(w, h int) layer.Layer {
	crop, frame := full(w, h)
	l := rgb(999, crop, frame)
	l.Composition = layer.FramebufferTarget
	return l
}

func video(id uint64, protected bool) layer.Layer {
	crop, frame := full(640, 360)
	l := rgb(id, crop, frame)
	l.Handle.Format = layer.FormatYCbCr420SPM
	l.Handle.Protected = protected
	return l
}

func TestAssignResources_MirrorForcesFramebuffer(t *testing.T) {
	h := newHarness(t, nil)
	primary := h.addDisplay(t, 0, display.DefaultConfig("primary", display.Primary, 1080, 1920), mpp.NoUnit)
	hdmi := h.addDisplay(t, 1, display.DefaultConfig("hdmi", display.External, 1080, 1920), mpp.NoUnit)

	crop, frame := full(1080, 1920)
	frames := map[mpp.DisplayID]*display.Contents{
		0: {Layers: []layer.Layer{rgb(1, crop, frame), target(1080, 1920)}},
		1: {Layers: []layer.Layer{rgb(1, crop, frame), target(1080, 1920)}},
	}
	require.NoError(t, h.rm.AssignResources(frames))

	require.Equal(t, layer.Overlay, primary.LayerInfos()[0].Composition)
	info := hdmi.LayerInfos()[0]
	require.Equal(t, layer.Framebuffer, info.Composition)
	require.True(t, info.Flags.Has(display.FlagForceFbEnabled))
}

func TestAssignResources_ExternalUnitNeedsStableGeometry(t *testing.T) {
	h := newHarness(t, []mpp.UnitSpec{{Type: mpp.TypeMSC, Index: 0}})
	msc := h.unit(t, mpp.TypeMSC, 0)
	primary := h.addDisplay(t, 0, display.DefaultConfig("primary", display.Primary, 1080, 1920), msc)

	build := func(geometryChanged bool) map[mpp.DisplayID]*display.Contents {
		_, frame := full(1080, 1920)
		scaled := rgb(1, geometry.FRect{Right: 540, Bottom: 960}, frame)
		return map[mpp.DisplayID]*display.Contents{
			0: {Layers: []layer.Layer{scaled, target(1080, 1920)}, GeometryChanged: geometryChanged},
		}
	}

	require.NoError(t, h.rm.AssignResources(build(false)))
	info := primary.LayerInfos()[0]
	require.Equal(t, layer.Overlay, info.Composition)
	require.Equal(t, msc, info.External)
	require.Equal(t, dma.G0, info.DMA)

	require.NoError(t, h.rm.AssignResources(build(true)))
	info = primary.LayerInfos()[0]
	require.Equal(t, layer.Framebuffer, info.Composition)
	require.True(t, info.Flags.Has(display.FlagInsufficientMPP))
}

func TestAssignResources_PreviousDRMUnitCoolsDown(t *testing.T) {
	h := newHarness(t, []mpp.UnitSpec{
		{Type: mpp.TypeVG, Index: 0},
		{Type: mpp.TypeVG, Index: 1},
	})
	vg0 := h.unit(t, mpp.TypeVG, 0)
	vg1 := h.unit(t, mpp.TypeVG, 1)
	primary := h.addDisplay(t, 0, display.DefaultConfig("primary", display.Primary, 1920, 1080), mpp.NoUnit)

	first := map[mpp.DisplayID]*display.Contents{
		0: {Layers: []layer.Layer{video(1, true), target(1920, 1080)}},
	}
	require.NoError(t, h.rm.AssignResources(first))
	require.Equal(t, vg0, primary.LayerInfos()[0].Internal)
	results, err := h.rm.Commit(context.Background(), []mpp.DisplayID{0})
	require.NoError(t, err)
	require.True(t, results[0].Submitted)
	prev, ok := primary.PreviousDRMUnit()
	require.True(t, ok)
	require.Equal(t, vg0, prev)

	second := map[mpp.DisplayID]*display.Contents{
		0: {Layers: []layer.Layer{video(2, false), target(1920, 1080)}},
	}
	require.NoError(t, h.rm.AssignResources(second))
	require.False(t, h.pool.Unit(vg0).CanBeUsed)
	info := primary.LayerInfos()[0]
	require.Equal(t, layer.Overlay, info.Composition)
	require.Equal(t, vg1, info.Internal)
	require.Equal(t, dma.VG1, info.DMA)
}

func TestAssignResources_ExternalDisplayHidesProtectedLayers(t *testing.T) {
	h := newHarness(t, []mpp.UnitSpec{{Type: mpp.TypeVG, Index: 0}})
	vg0 := h.unit(t, mpp.TypeVG, 0)
	cfg := display.DefaultConfig("primary", display.Primary, 1920, 1080)
	cfg.VideoPlayback = false
	primary := h.addDisplay(t, 0, cfg, mpp.NoUnit)
	h.addDisplay(t, 1, display.DefaultConfig("hdmi", display.External, 1920, 1080), mpp.NoUnit)

	crop, frame := full(1920, 1080)
	withHDMI := map[mpp.DisplayID]*display.Contents{
		0: {Layers: []layer.Layer{video(1, true), target(1920, 1080)}},
		1: {Layers: []layer.Layer{rgb(2, crop, frame), target(1920, 1080)}},
	}
	require.NoError(t, h.rm.AssignResources(withHDMI))
	hidden := withHDMI[0].Layers[0]
	require.NotZero(t, hidden.Flags&layer.SkipRendering)
	require.Equal(t, mpp.NoUnit, primary.LayerInfos()[0].Internal)

	alone := map[mpp.DisplayID]*display.Contents{
		0: {Layers: []layer.Layer{video(1, true), target(1920, 1080)}},
	}
	require.NoError(t, h.rm.AssignResources(alone))
	shown := alone[0].Layers[0]
	require.Zero(t, shown.Flags&layer.SkipRendering)
	require.Equal(t, layer.Overlay, shown.Composition)
	require.Equal(t, vg0, primary.LayerInfos()[0].Internal)
}

func TestAssignResources_FramebufferUnitIsReserved(t *testing.T) {
	h := newHarness(t, []mpp.UnitSpec{
		{Type: mpp.TypeVPPG, Index: 0},
		{Type: mpp.TypeVG, Index: 0},
	})
	g0 := h.unit(t, mpp.TypeVPPG, 0)
	cfg := display.DefaultConfig("primary", display.Primary, 1080, 1920)
	cfg.FBDMA = dma.G0
	cfg.PlainDMAs = []dma.Channel{dma.G0, dma.G1}
	primary := h.addDisplay(t, 0, cfg, mpp.NoUnit)
	virtual := h.addDisplay(t, 2, display.DefaultConfig("wfd", display.Virtual, 1080, 1920), mpp.NoUnit)

	crop, frame := full(1080, 1920)
	translucent := rgb(1, crop, frame)
	translucent.PlaneAlpha = 100
	frames := map[mpp.DisplayID]*display.Contents{
		0: {Layers: []layer.Layer{translucent, target(1080, 1920)}},
		2: {Layers: []layer.Layer{rgb(5, crop, frame), target(1080, 1920)}},
	}
	require.NoError(t, h.rm.AssignResources(frames))

	require.Equal(t, g0, primary.FBPreassignedUnit())
	require.Equal(t, mpp.DisplayID(0), h.pool.Unit(g0).PreAssigned)
	infos := primary.LayerInfos()
	require.Equal(t, dma.G0, infos[len(infos)-1].DMA)
	for _, info := range virtual.LayerInfos() {
		require.NotEqual(t, g0, info.Internal)
	}

	h.rm.Reset()
	require.Equal(t, mpp.NoDisplay, h.pool.Unit(g0).PreAssigned)
}

func TestRegisterDisplay_Rejections(t *testing.T) {
	h := newHarness(t, []mpp.UnitSpec{
		{Type: mpp.TypeVG, Index: 0},
		{Type: mpp.TypeGSC, Index: 0},
	})
	gsc := h.unit(t, mpp.TypeGSC, 0)
	h.addDisplay(t, 0, display.DefaultConfig("primary", display.Primary, 1080, 1920), gsc)

	dup, err := display.New(0, display.DefaultConfig("again", display.Primary, 1080, 1920), h.pool, h.dev, h.fences, nil)
	require.NoError(t, err)
	require.Error(t, h.rm.RegisterDisplay(dup, mpp.NoUnit))

	other, err := display.New(1, display.DefaultConfig("hdmi", display.External, 1920, 1080), h.pool, h.dev, h.fences, nil)
	require.NoError(t, err)
	require.Error(t, h.rm.RegisterDisplay(other, gsc))
	require.Error(t, h.rm.RegisterDisplay(other, h.unit(t, mpp.TypeVG, 0)))
	require.NoError(t, h.rm.RegisterDisplay(other, mpp.NoUnit))

	_, err = h.rm.GetDisplay(7)
	require.Error(t, err)
	require.Error(t, h.rm.AssignResources(map[mpp.DisplayID]*display.Contents{7: {}}))
}

func TestCommit_ReportsEveryDisplay(t *testing.T) {
	h := newHarness(t, nil)
	h.addDisplay(t, 0, display.DefaultConfig("primary", display.Primary, 1080, 1920), mpp.NoUnit)
	h.addDisplay(t, 1, display.DefaultConfig("hdmi", display.External, 1920, 1080), mpp.NoUnit)

	crop, frame := full(1080, 1920)
	hcrop, hframe := full(1920, 1080)
	frames := map[mpp.DisplayID]*display.Contents{
		0: {Layers: []layer.Layer{rgb(1, crop, frame), target(1080, 1920)}},
		1: {Layers: []layer.Layer{rgb(2, hcrop, hframe), target(1920, 1080)}},
	}
	require.NoError(t, h.rm.AssignResources(frames))
	results, err := h.rm.Commit(context.Background(), []mpp.DisplayID{1, 0})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, 2, h.dev.Submissions())

	reports := h.rm.Reports()
	require.Len(t, reports, 2)
	require.Equal(t, "primary", reports[0].Display)
	require.Equal(t, "hdmi", reports[1].Display)
	for _, r := range reports {
		require.True(t, r.Submitted)
		require.Equal(t, 1, r.Overlays)
	}

	var buf bytes.Buffer
	h.rm.Dump(&buf)
	require.True(t, strings.Contains(buf.String(), "display primary"))
	require.True(t, strings.Contains(buf.String(), "display hdmi"))
}
