package display

import "strings"

// OverlayFlag records why a layer did not end up in its own window.
type OverlayFlag uint32

const (
	FlagSkipLayer             OverlayFlag = 0x00000001
	FlagUnsupportedPlaneAlpha OverlayFlag = 0x00000002
	FlagInvalidHandle         OverlayFlag = 0x00000004
	FlagHasFloatSrcCrop       OverlayFlag = 0x00000008
	FlagUnsupportedDstWidth   OverlayFlag = 0x00000010
	FlagUnsupportedCoordinate OverlayFlag = 0x00000020
	FlagUnsupportedFormat     OverlayFlag = 0x00000040
	FlagUnsupportedBlending   OverlayFlag = 0x00000080
	FlagDynamicRecomposition  OverlayFlag = 0x00000100
	FlagForceFbEnabled        OverlayFlag = 0x00000200
	FlagSandwiched            OverlayFlag = 0x00000400
	FlagInsufficientBandwidth OverlayFlag = 0x00002000
	FlagInsufficientWindow    OverlayFlag = 0x00008000
	FlagInsufficientMPP       OverlayFlag = 0x00010000
	FlagSkipStaticLayer       OverlayFlag = 0x00080000
	FlagNotAlignedDstPosition OverlayFlag = 0x00100000
	FlagUnsupportedUseCase    OverlayFlag = 0x00200000
	FlagUnknown               OverlayFlag = 0x80000000
)

var flagNames = []struct {
	flag OverlayFlag
	name string
}{
	{FlagSkipLayer, "skip_layer"},
	{FlagUnsupportedPlaneAlpha, "plane_alpha"},
	{FlagInvalidHandle, "invalid_handle"},
	{FlagHasFloatSrcCrop, "float_crop"},
	{FlagUnsupportedDstWidth, "dst_width"},
	{FlagUnsupportedCoordinate, "coordinate"},
	{FlagUnsupportedFormat, "format"},
	{FlagUnsupportedBlending, "blending"},
	{FlagDynamicRecomposition, "dynamic_recomposition"},
	{FlagForceFbEnabled, "force_fb"},
	{FlagSandwiched, "sandwiched"},
	{FlagInsufficientBandwidth, "bandwidth"},
	{FlagInsufficientWindow, "window"},
	{FlagInsufficientMPP, "mpp"},
	{FlagSkipStaticLayer, "static"},
	{FlagNotAlignedDstPosition, "dst_position"},
	{FlagUnsupportedUseCase, "use_case"},
	{FlagUnknown, "unknown"},
}

func (f OverlayFlag) Has(o OverlayFlag) bool { return f&o != 0 }

func (f OverlayFlag) String() string {
	if f == 0 {
		return "-"
	}
	var parts []string
	for _, n := range flagNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
