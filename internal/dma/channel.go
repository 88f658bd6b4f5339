// Package dma names the display controller's input DMA channels and hands
// out the plain (non-VPP) channels of a display frame by frame.
package dma

import (
	"fmt"
	"strings"

	"vppdisplay/internal/mpp"
)

// Channel is an input DMA channel of the display controller.
type Channel int

const (
	None Channel = iota - 1
	G0
	G1
	G2
	G3
	VG0
	VG1
	VGR0
	VGR1
	Secure
	numChannels
)

var channelNames = [...]string{"G0", "G1", "G2", "G3", "VG0", "VG1", "VGR0", "VGR1", "SECURE"}

func (c Channel) String() string {
	if c >= 0 && c < numChannels {
		return channelNames[c]
	}
	return "NONE"
}

func (c Channel) Valid() bool {
	return c >= 0 && c < numChannels
}

func ParseChannel(s string) (Channel, error) {
	for i, n := range channelNames {
		if strings.EqualFold(n, strings.TrimSpace(s)) {
			return Channel(i), nil
		}
	}
	return None, fmt.Errorf("unknown DMA channel %q", s)
}

func (c Channel) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Channel) UnmarshalText(text []byte) error {
	parsed, err := ParseChannel(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// FromUnit derives the channel an internal unit feeds.
func FromUnit(u *mpp.Unit) Channel {
	switch u.Type {
	case mpp.TypeVG:
		if u.Index <= 1 {
			return VG0 + Channel(u.Index)
		}
	case mpp.TypeVGR:
		if u.Index <= 1 {
			return VGR0 + Channel(u.Index)
		}
	case mpp.TypeVPPG:
		if u.Index <= 3 {
			return G0 + Channel(u.Index)
		}
	}
	return None
}

// UnitFor is the inverse of FromUnit for the VPP channels. The G channels
// are plain DMA paths and have no unit.
func UnitFor(c Channel) (mpp.Type, int, bool) {
	switch c {
	case VG0, VG1:
		return mpp.TypeVG, int(c - VG0), true
	case VGR0, VGR1:
		return mpp.TypeVGR, int(c - VGR0), true
	}
	return 0, 0, false
}
