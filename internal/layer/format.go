package layer

import (
	"fmt"
	"strings"
)

// Format is the pixel format of a layer's buffer as the display server
// reports it.
type Format int

const (
	FormatUnknown Format = iota
	FormatRGBA8888
	FormatRGBX8888
	FormatBGRA8888
	FormatBGRX8888
	FormatRGB565
	FormatYV12
	FormatYCrCb420SP
	FormatYV12M
	FormatYCbCr420PM
	FormatYCrCb420SPM
	FormatYCrCb420SPMFull
	FormatYCbCr420SPM
	FormatYCbCr420SPMPriv
	FormatYCbCr420SPMTiled
	FormatYCbCr420SPN
)

var formatNames = map[Format]string{
	FormatUnknown:          "UNKNOWN",
	FormatRGBA8888:         "RGBA8888",
	FormatRGBX8888:         "RGBX8888",
	FormatBGRA8888:         "BGRA8888",
	FormatBGRX8888:         "BGRX8888",
	FormatRGB565:           "RGB565",
	FormatYV12:             "YV12",
	FormatYCrCb420SP:       "YCrCb420SP",
	FormatYV12M:            "YV12M",
	FormatYCbCr420PM:       "YCbCr420PM",
	FormatYCrCb420SPM:      "YCrCb420SPM",
	FormatYCrCb420SPMFull:  "YCrCb420SPMFull",
	FormatYCbCr420SPM:      "YCbCr420SPM",
	FormatYCbCr420SPMPriv:  "YCbCr420SPMPriv",
	FormatYCbCr420SPMTiled: "YCbCr420SPMTiled",
	FormatYCbCr420SPN:      "YCbCr420SPN",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat is case-insensitive and accepts the names printed by String.
func ParseFormat(s string) (Format, error) {
	for f, name := range formatNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("unknown pixel format %q", s)
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

func IsRGB(f Format) bool {
	switch f {
	case FormatRGBA8888, FormatRGBX8888, FormatBGRA8888, FormatBGRX8888, FormatRGB565:
		return true
	}
	return false
}

func IsYUV420(f Format) bool {
	switch f {
	case FormatYV12, FormatYCrCb420SP, FormatYV12M, FormatYCbCr420PM,
		FormatYCrCb420SPM, FormatYCrCb420SPMFull, FormatYCbCr420SPM,
		FormatYCbCr420SPMPriv, FormatYCbCr420SPMTiled, FormatYCbCr420SPN:
		return true
	}
	return false
}

// BitsPerPixel of the first plane's effective density; YUV 4:2:0 is 12.
func BitsPerPixel(f Format) int {
	switch f {
	case FormatRGBA8888, FormatRGBX8888, FormatBGRA8888, FormatBGRX8888:
		return 32
	case FormatRGB565:
		return 16
	}
	if IsYUV420(f) {
		return 12
	}
	return 0
}

// DeconFormat is the pixel format code understood by the display controller.
type DeconFormat int

const (
	DeconARGB8888 DeconFormat = iota
	DeconABGR8888
	DeconRGBA8888
	DeconBGRA8888
	DeconXRGB8888
	DeconXBGR8888
	DeconRGBX8888
	DeconBGRX8888
	DeconRGBA5551
	DeconRGB565
	DeconNV16
	DeconNV61
	DeconYVU422_3P
	DeconNV12
	DeconNV21
	DeconNV12M
	DeconNV21M
	DeconYUV420
	DeconYVU420
	DeconYUV420M
	DeconYVU420M
	DeconNV12N
	DeconFormatMax
)

var deconNames = [...]string{
	"ARGB8888", "ABGR8888", "RGBA8888", "BGRA8888", "XRGB8888", "XBGR8888",
	"RGBX8888", "BGRX8888", "RGBA5551", "RGB565", "NV16", "NV61", "YVU422_3P",
	"NV12", "NV21", "NV12M", "NV21M", "YUV420", "YVU420", "YUV420M", "YVU420M",
	"NV12N",
}

func (d DeconFormat) String() string {
	if d >= 0 && int(d) < len(deconNames) {
		return deconNames[d]
	}
	return "N/A"
}

// ToDecon maps a buffer format to the controller format. ok is false for
// formats the controller cannot scan out.
func ToDecon(f Format) (DeconFormat, bool) {
	switch f {
	case FormatRGBA8888:
		return DeconRGBA8888, true
	case FormatRGBX8888:
		return DeconRGBX8888, true
	case FormatRGB565:
		return DeconRGB565, true
	case FormatBGRA8888:
		return DeconBGRA8888, true
	case FormatBGRX8888:
		return DeconBGRX8888, true
	case FormatYV12M:
		return DeconYVU420M, true
	case FormatYCbCr420PM:
		return DeconYUV420M, true
	case FormatYCrCb420SPM, FormatYCrCb420SPMFull:
		return DeconNV21M, true
	case FormatYCrCb420SP:
		return DeconNV21, true
	case FormatYCbCr420SPM, FormatYCbCr420SPMPriv:
		return DeconNV12M, true
	case FormatYCbCr420SPN:
		return DeconNV12N, true
	}
	return DeconFormatMax, false
}

// BitsPerPixel of the controller format as the window fetch sees it.
func (d DeconFormat) BitsPerPixel() int {
	switch d {
	case DeconRGBA5551, DeconRGB565:
		return 16
	case DeconNV12, DeconNV21, DeconNV12M, DeconNV21M, DeconNV12N:
		return 12
	}
	return 32
}

// FromDecon maps a controller format back to the buffer format the
// allocator reasons about.
func FromDecon(d DeconFormat) (Format, bool) {
	switch d {
	case DeconRGBA8888:
		return FormatRGBA8888, true
	case DeconRGBX8888:
		return FormatRGBX8888, true
	case DeconRGB565:
		return FormatRGB565, true
	case DeconBGRA8888:
		return FormatBGRA8888, true
	case DeconBGRX8888:
		return FormatBGRX8888, true
	case DeconYVU420M:
		return FormatYV12M, true
	case DeconYUV420M:
		return FormatYCbCr420PM, true
	case DeconNV21M:
		return FormatYCrCb420SPM, true
	case DeconNV21:
		return FormatYCrCb420SP, true
	case DeconNV12M:
		return FormatYCbCr420SPM, true
	case DeconNV12N:
		return FormatYCbCr420SPN, true
	}
	return FormatUnknown, false
}
