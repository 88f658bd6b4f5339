// Package device is the seam to the display controller: the per-window
// configuration record and the blocking submit call that consumes an array
// of them.
package device

import (
	"context"
	"fmt"
	"sync"

	"vppdisplay/internal/dma"
	"vppdisplay/internal/fence"
	"vppdisplay/internal/geometry"
	"vppdisplay/internal/layer"

	"github.com/cockroachdb/errors"
)

var ErrSubmit = errors.New("window config submission failed")

type WinState int

const (
	WinDisabled WinState = iota
	WinBuffer
	WinColor
	WinUpdate
)

func (s WinState) String() string {
	switch s {
	case WinDisabled:
		return "DISABLED"
	case WinBuffer:
		return "BUFFER"
	case WinColor:
		return "COLOR"
	case WinUpdate:
		return "UPDATE"
	}
	return fmt.Sprintf("WinState(%d)", int(s))
}

// WinRect is a window-space rectangle plus the full size of the surface it
// is taken from.
type WinRect struct {
	X, Y, W, H int
	FullW      int
	FullH      int
}

func (r WinRect) Rect() geometry.Rect {
	return geometry.XYWH(r.X, r.Y, r.W, r.H)
}

// WindowConfig is one hardware window record.
type WindowConfig struct {
	State           WinState
	BufferFDs       [3]int
	AcquireFence    fence.Fd
	Src             WinRect
	Dst             WinRect
	Format          layer.DeconFormat
	Blending        layer.Blending
	PlaneAlpha      int
	DMA             dma.Channel
	Protected       bool
	Compressed      bool
	Color           uint32
	TransparentArea geometry.Rect
	OpaqueArea      geometry.Rect
}

// Disabled returns a cleared window record.
func Disabled() WindowConfig {
	return WindowConfig{
		State:        WinDisabled,
		AcquireFence: fence.None,
		DMA:          dma.None,
		BufferFDs:    [3]int{-1, -1, -1},
	}
}

// Device accepts a fixed-size window array and returns the fence that
// signals when the hardware has latched it.
type Device interface {
	Submit(ctx context.Context, configs []WindowConfig) (fence.Fd, error)
}

// Recorder is an in-memory Device. It keeps a copy of every submission and
// returns fresh fences from its registry.
type Recorder struct {
	mu      sync.Mutex
	fences  *fence.Registry
	history [][]WindowConfig
	failErr error
}

func NewRecorder(fences *fence.Registry) *Recorder {
	return &Recorder{fences: fences}
}

// FailWith makes subsequent submissions fail with err; nil clears it.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
}

func (r *Recorder) Submit(ctx context.Context, configs []WindowConfig) (fence.Fd, error) {
	if err := ctx.Err(); err != nil {
		return fence.None, errors.Wrap(err, "submit")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return fence.None, errors.Mark(errors.Wrap(r.failErr, "submit"), ErrSubmit)
	}
	r.history = append(r.history, append([]WindowConfig(nil), configs...))
	return r.fences.New(), nil
}

// Submissions returns how many configurations were accepted.
func (r *Recorder) Submissions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}

// Last returns a copy of the most recent accepted configuration.
func (r *Recorder) Last() []WindowConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return nil
	}
	return append([]WindowConfig(nil), r.history[len(r.history)-1]...)
}
