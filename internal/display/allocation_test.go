package display

import (
	"testing"

	"vppdisplay/internal/accounting"
	"vppdisplay/internal/device"
	"vppdisplay/internal/dma"
	"vppdisplay/internal/geometry"
	"vppdisplay/internal/layer"
	"vppdisplay/internal/mpp"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestBandwidthOverload_StopsOnceUnderLimit(t *testing.T) {
	const side = 1000
	cfg := DefaultConfig("primary", Primary, side, side)
	cfg.PlainDMAs = []dma.Channel{dma.G0, dma.G1, dma.G2, dma.G3}
	cfg.SecureDMA = false
	cfg.BandwidthLimit = 3 * side * side
	f := newFixture(t, cfg, nil)

	c := &Contents{}
	for i := 0; i < 3; i++ {
		c.Layers = append(c.Layers, rgbLayer(uint64(i+1), geometry.XYWH(0, 0, side, side)))
	}
	c.Layers = append(c.Layers, fbTarget(side, side))

	f.prepare(c)

	res := f.d.LastBandwidthResult()
	require.True(t, res.Converged)
	require.Equal(t, 2, res.Iterations)

	needed, first, last := f.d.FramebufferRange()
	require.True(t, needed)
	require.Equal(t, 0, first)
	require.Equal(t, 1, last)

	infos := f.d.LayerInfos()
	require.True(t, infos[0].Flags.Has(FlagInsufficientBandwidth))
	require.True(t, infos[1].Flags.Has(FlagInsufficientBandwidth))
	require.Equal(t, layer.Overlay, infos[2].Composition)
	require.False(t, infos[2].Flags.Has(FlagInsufficientBandwidth))
	// the framebuffer and the remaining overlay
	require.Equal(t, int64(2*side*side), f.d.bandwidth.Total())
	require.True(t, f.d.bandwidth.Charged(accounting.FramebufferOwner))
	requireAllocationInvariants(t, f.d, c.Layers)
}

func TestDetermineBandwidthSupport_StopsAtMaxRetries(t *testing.T) {
	cfg := portraitConfig()
	cfg.Windows = 3
	cfg.MaxOverlays = 3
	cfg.MaxRetries = 2
	cfg.PlainDMAs = []dma.Channel{dma.G0, dma.G1, dma.G2}
	cfg.SecureDMA = false
	f := newFixture(t, cfg, nil)
	c := windowLimitedContents(5)

	res := f.frame(t, c)

	bw := f.d.LastBandwidthResult()
	require.False(t, bw.Converged)
	require.Equal(t, 2, bw.Iterations)
	require.False(t, f.d.Report().Converged)
	// the frame is still shown
	require.True(t, res.Submitted)
	f.releaseAll(t, res, c)
}

func TestDetermineYuvOverlay_FailedDRMKeepsForcedSlot(t *testing.T) {
	cfg := DefaultConfig("primary", Primary, 1920, 1080)
	cfg.SecureDMA = false
	f := newFixture(t, cfg, []mpp.UnitSpec{
		{Type: mpp.TypeVG, Index: 0},
		{Type: mpp.TypeVG, Index: 1},
	})

	// a protected layer narrower than one burst cannot get a window
	narrow := yuvLayer(2, 10, 360, geometry.XYWH(700, 0, 10, 360))
	narrow.Handle.Protected = true
	c := &Contents{Layers: []layer.Layer{
		yuvLayer(1, 640, 360, geometry.XYWH(0, 0, 640, 360)),
		narrow,
		fbTarget(1920, 1080),
	}}

	f.prepare(c)

	idx, _ := f.d.ForcedOverlay()
	require.Equal(t, 1, idx)
	require.True(t, f.d.HasDRMSurface())

	// fail open: the layer keeps an overlay slot but is not rendered
	require.Equal(t, layer.Overlay, c.Layers[1].Composition)
	require.NotZero(t, c.Layers[1].Flags&layer.SkipRendering)
	infos := f.d.LayerInfos()
	require.True(t, infos[1].Flags.Has(FlagUnsupportedDstWidth))
	require.Equal(t, mpp.NoUnit, infos[1].Internal)

	// the plain video layer is still placed, by the low priority pass
	require.Equal(t, layer.Overlay, infos[0].Composition)
	require.NotEqual(t, mpp.NoUnit, infos[0].Internal)
}

func TestIsOverlaySupported_NarrowLayerNeedsBurst(t *testing.T) {
	f := newFixture(t, portraitConfig(), nil)
	c := &Contents{Layers: []layer.Layer{
		rgbLayer(1, geometry.XYWH(0, 0, portraitW, portraitH)),
		// 20 pixels of RGBA are 80 bytes, less than one 128 byte burst
		rgbLayer(2, geometry.XYWH(100, 100, 20, 200)),
		fbTarget(portraitW, portraitH),
	}}

	res := f.frame(t, c)

	infos := f.d.LayerInfos()
	require.Equal(t, layer.Framebuffer, infos[1].Composition)
	require.True(t, infos[1].Flags.Has(FlagUnsupportedDstWidth))
	// it is drawn into the framebuffer and shares its window
	require.Equal(t, f.d.FramebufferWindow(), infos[1].Window)
	require.NotEqual(t, infos[0].Window, infos[1].Window)
	requireAllocationInvariants(t, f.d, c.Layers)
	f.releaseAll(t, res, c)
}

func TestRepairSandwich_ProtectedLayerIsCleared(t *testing.T) {
	cfg := DefaultConfig("primary", Primary, 1920, 1080)
	cfg.SecureDMA = false
	f := newFixture(t, cfg, []mpp.UnitSpec{{Type: mpp.TypeVG, Index: 0}})
	vg0, ok := f.pool.Lookup(mpp.TypeVG, 0)
	require.True(t, ok)

	bottom := rgbLayer(1, geometry.XYWH(0, 0, 1920, 1080))
	bottom.PlaneAlpha = 128
	drm := yuvLayer(2, 1920, 1080, geometry.XYWH(0, 0, 1920, 1080))
	drm.Handle.Protected = true
	top := rgbLayer(3, geometry.XYWH(0, 0, 1920, 200))
	top.Flags |= layer.SkipLayer
	c := &Contents{Layers: []layer.Layer{bottom, drm, top, fbTarget(1920, 1080)}}

	f.prepare(c)

	needed, first, last := f.d.FramebufferRange()
	require.True(t, needed)
	require.Equal(t, 0, first)
	require.Equal(t, 2, last)

	infos := f.d.LayerInfos()
	require.Equal(t, layer.Overlay, c.Layers[1].Composition)
	require.NotZero(t, c.Layers[1].Hints&layer.HintClearFB)
	require.False(t, infos[1].Flags.Has(FlagSandwiched))
	require.Equal(t, vg0, infos[1].Internal)
	require.True(t, infos[2].Flags.Has(FlagSkipLayer))
}

func TestSet_EmptyFrameAfterFramebuffer(t *testing.T) {
	f := newFixture(t, portraitConfig(), nil)
	bottom := rgbLayer(1, geometry.XYWH(0, 0, portraitW, portraitH))
	bottom.PlaneAlpha = 128
	c := &Contents{Layers: []layer.Layer{bottom, fbTarget(portraitW, portraitH)}}

	res := f.frame(t, c)
	require.NotEqual(t, noWindow, f.d.FramebufferWindow())
	f.releaseAll(t, res, c)

	empty := &Contents{}
	res = f.frame(t, empty)
	require.True(t, res.Submitted)
	require.Equal(t, noWindow, f.d.FramebufferWindow())
	needed, _, _ := f.d.FramebufferRange()
	require.False(t, needed)
	require.Zero(t, f.d.Report().BandwidthPixels)
	for w, cfg := range f.rec.Last() {
		require.Equal(t, device.WinDisabled, cfg.State, "window %d", w)
	}
	f.releaseAll(t, res, empty)
	require.Equal(t, 1, f.fences.Outstanding())
}

func TestSet_PartialUpdatePastPanelEdgeFails(t *testing.T) {
	cfg := portraitConfig()
	cfg.WinUpdate.Enabled = true
	// 1080 is not a multiple of 48, so a region at the right edge cannot
	// be widened without leaving the panel
	cfg.WinUpdate.WAlign = 48
	f := newFixture(t, cfg, nil)
	build := func(topFD int, damage []geometry.Rect) *Contents {
		top := rgbLayer(2, geometry.XYWH(0, 0, portraitW, 200))
		top.Handle.FDs[0] = topFD
		top.Damage = damage
		return &Contents{Layers: []layer.Layer{
			rgbLayer(1, geometry.XYWH(0, 0, portraitW, portraitH)),
			top,
			fbTarget(portraitW, portraitH),
		}}
	}

	c := build(40, nil)
	res := f.frame(t, c)
	require.Equal(t, WinUpdateOverThreshold, res.WinUpdate)
	f.releaseAll(t, res, c)

	c = build(41, []geometry.Rect{{Left: 1060, Top: 0, Right: portraitW, Bottom: 200}})
	res = f.frame(t, c)
	require.Equal(t, WinUpdateAdjustmentFail, res.WinUpdate)
	require.True(t, res.UpdateRegion.Empty())
	require.True(t, res.Submitted)
	require.Equal(t, device.WinDisabled, f.rec.Last()[cfg.Windows].State)
	f.releaseAll(t, res, c)
}

func TestNew_NamesLoggerOnlyWhenMissing(t *testing.T) {
	f := newFixture(t, portraitConfig(), nil)
	entry, ok := f.d.logger.(*logrus.Entry)
	require.True(t, ok)
	require.Equal(t, "primary", entry.Data["display"])

	given := logrus.New().WithFields(logrus.Fields{"display": "lcd", "display_index": 0})
	d, err := New(1, portraitConfig(), f.pool, f.dev, f.fences, given)
	require.NoError(t, err)
	require.Same(t, given, d.logger)
}
