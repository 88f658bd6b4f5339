package mpp

import (
	"bytes"
	"encoding/json"
	"testing"

	"vppdisplay/internal/geometry"
	"vppdisplay/internal/layer"

	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T) *Pool {
	t.Helper()
	p, err := NewPool([]UnitSpec{
		{Type: TypeVGR, Index: 0},
		{Type: TypeMSC, Index: 0},
		{Type: TypeVG, Index: 1},
		{Type: TypeVG, Index: 0},
	}, nil)
	require.NoError(t, err)
	return p
}

func TestPool_InternalOrderIsTypeThenIndex(t *testing.T) {
	p := testPool(t)
	var names []string
	for _, id := range p.Internal() {
		names = append(names, p.Unit(id).String())
	}
	require.Equal(t, []string{"VG0", "VG1", "VGR0"}, names)
	require.Len(t, p.External(), 1)
	require.Equal(t, External, p.Unit(p.External()[0]).Kind())

	id, ok := p.Lookup(TypeVG, 1)
	require.True(t, ok)
	require.Equal(t, "VG1", p.Unit(id).String())
	_, ok = p.Lookup(TypeGSC, 0)
	require.False(t, ok)
}

func TestPool_RejectsDuplicateUnit(t *testing.T) {
	_, err := NewPool([]UnitSpec{{Type: TypeVG, Index: 0}, {Type: TypeVG, Index: 0}}, nil)
	require.Error(t, err)
}

func TestPool_BeginFrameCompletesTransition(t *testing.T) {
	p := testPool(t)
	vg0, _ := p.Lookup(TypeVG, 0)
	u := p.Unit(vg0)
	u.SetDisplay(0)
	u.StartTransition(1)
	u.CanBeUsed = false

	require.False(t, u.IsEligibleFor(1))
	p.BeginFrame()
	require.Equal(t, Free, u.State)
	require.Equal(t, DisplayID(1), u.Display)
	require.True(t, u.CanBeUsed)
	require.True(t, u.IsEligibleFor(1))
	require.False(t, u.IsEligibleFor(0))
}

func TestPool_AssignableHonoursReservation(t *testing.T) {
	p := testPool(t)
	vg1, _ := p.Lookup(TypeVG, 1)
	p.Unit(vg1).PreAssign(1)
	require.Len(t, p.Assignable(0), 2)
	require.Len(t, p.Assignable(1), 3)
}

func TestUnit_WasUsedByOnlyWhileFree(t *testing.T) {
	p := testPool(t)
	vg0, _ := p.Lookup(TypeVG, 0)
	u := p.Unit(vg0)
	require.False(t, u.WasUsedBy(0))

	u.SetDisplay(0)
	require.True(t, u.WasUsedBy(0))
	require.False(t, u.WasUsedBy(1))

	u.State = Assigned
	require.False(t, u.WasUsedBy(0))
	u.StartTransition(1)
	require.False(t, u.WasUsedBy(1))
}

func TestPool_DumpJSONIsValid(t *testing.T) {
	p := testPool(t)
	var units []map[string]any
	require.NoError(t, json.Unmarshal(p.DumpJSON(), &units))
	require.Len(t, units, 4)
	require.Equal(t, "VG0", units[0]["Name"])

	var buf bytes.Buffer
	p.Dump(&buf)
	require.Contains(t, buf.String(), "VGR")
}

func yuvStaging(srcW, srcH, dstW, dstH int) StagingLayer {
	return StagingLayer{
		Crop:      geometry.FRect{Right: float64(srcW), Bottom: float64(srcH)},
		Dst:       geometry.XYWH(0, 0, dstW, dstH),
		Format:    layer.FormatYCbCr420SPM,
		Protected: true,
	}
}

func TestLimits_ScaleVerdicts(t *testing.T) {
	vg := DefaultLimits(TypeVG)
	vg.MaxUpscaleRatio = 2
	require.Equal(t, VerdictOK, vg.IsProcessingSupported(yuvStaging(960, 540, 1920, 1080), layer.FormatRGBX8888))
	v := vg.IsProcessingSupported(yuvStaging(480, 270, 1920, 1080), layer.FormatRGBX8888)
	require.NotZero(t, v&UnsupportedScale)

	g := DefaultLimits(TypeVPPG)
	v = g.IsProcessingSupported(yuvStaging(960, 540, 960, 540), layer.FormatRGBX8888)
	require.NotZero(t, v&UnsupportedFormat)
}

func TestChainedStaging_QuadUpscale(t *testing.T) {
	internal := DefaultLimits(TypeVG)
	internal.MaxUpscaleRatio = 2
	ext := DefaultLimits(TypeMSC)
	ext.MaxUpscaleRatio = 4

	s := yuvStaging(480, 270, 1920, 1080)
	s.Dst = geometry.XYWH(0, 0, 1920, 1080)
	require.True(t, IsBothProcessingRequired(s, ext, internal))

	extStage, intStage := ChainedStaging(s, ext, internal, layer.FormatRGBX8888)
	require.Equal(t, geometry.XYWH(0, 0, 960, 540), extStage.Dst)
	require.Equal(t, layer.FormatYCbCr420SPM, extStage.Format)
	require.Equal(t, geometry.FRect{Right: 960, Bottom: 540}, intStage.Crop)
	require.Equal(t, s.Dst, intStage.Dst)
	require.Equal(t, layer.FormatRGBX8888, intStage.Format)
	require.Zero(t, intStage.Transform)

	require.Equal(t, VerdictOK, ext.IsProcessingSupported(extStage, layer.FormatRGBX8888))
	require.Equal(t, VerdictOK, internal.IsProcessingSupported(intStage, layer.FormatRGBX8888))

	// the source value is untouched
	require.Equal(t, layer.FormatYCbCr420SPM, s.Format)
}

func TestIsBothProcessingRequired_BeyondChainLimit(t *testing.T) {
	internal := DefaultLimits(TypeVG)
	internal.MaxUpscaleRatio = 2
	ext := DefaultLimits(TypeMSC)
	ext.MaxUpscaleRatio = 2
	require.False(t, IsBothProcessingRequired(yuvStaging(100, 100, 1000, 1000), ext, internal))
	require.False(t, IsBothProcessingRequired(yuvStaging(500, 500, 1000, 1000), ext, internal))
}
