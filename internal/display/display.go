// Package display decides, frame by frame, which layers of one logical
// display are scanned out by hardware windows and which are left to GPU
// composition, binds the chosen layers to MPP units, DMA channels and
// windows, and turns the result into the window configuration the device
// consumes.
package display

import (
	"fmt"
	"strings"
	"sync"

	"vppdisplay/internal/accounting"
	"vppdisplay/internal/device"
	"vppdisplay/internal/dma"
	"vppdisplay/internal/fence"
	"vppdisplay/internal/geometry"
	"vppdisplay/internal/layer"
	"vppdisplay/internal/logging"
	"vppdisplay/internal/mpp"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

type Type int

const (
	Primary Type = iota
	External
	Virtual
)

func (t Type) String() string {
	switch t {
	case Primary:
		return "primary"
	case External:
		return "external"
	case Virtual:
		return "virtual"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "":
		return Primary, nil
	case "external", "hdmi":
		return External, nil
	case "virtual", "wfd":
		return Virtual, nil
	}
	return Primary, errors.Newf("unknown display type %q", s)
}

type Panel int

const (
	PanelLegacy Panel = iota
	PanelDSC
)

func (p Panel) String() string {
	if p == PanelDSC {
		return "dsc"
	}
	return "legacy"
}

const (
	DefaultWindows        = 7
	DefaultVideoOverlays  = 2
	DefaultBurstLength    = 8 * 16
	DefaultDRMBurstLength = 8 * 8
	DefaultBandwidthLimit = 2560 * 1600 * 5
	DefaultMaxRetries     = 100

	// the framebuffer range is only reused as a static window when it is
	// at most this many layers deep
	maxStaticLayers = 5

	noWindow = -1
)

type WinUpdateConfig struct {
	Enabled          bool
	XAlign           int
	WAlign           int
	DSCHSlices       int
	DSCSliceHeight   int
	ThresholdPercent int
	MinHeight        int
}

func DefaultWinUpdateConfig() WinUpdateConfig {
	return WinUpdateConfig{
		XAlign:           8,
		WAlign:           8,
		DSCHSlices:       4,
		DSCSliceHeight:   64,
		ThresholdPercent: 75,
		MinHeight:        1,
	}
}

type Config struct {
	Name  string
	Type  Type
	XRes  int
	YRes  int
	Panel Panel

	Windows       int
	MaxOverlays   int
	VideoOverlays int
	// BurstLength is the minimum number of bytes a window must fetch per
	// line; protected layers use DRMBurstLength.
	BurstLength    int
	DRMBurstLength int
	BandwidthLimit int64
	MaxRetries     int

	PlainDMAs []dma.Channel
	SecureDMA bool
	// FBDMA pins the framebuffer target to one channel. dma.None disables
	// the reservation.
	FBDMA dma.Channel

	VideoPlayback     bool
	ForceFB           bool
	SkipStaticLayers  bool
	ExternalDstFormat layer.Format
	WinUpdate         WinUpdateConfig
}

func DefaultConfig(name string, t Type, xres, yres int) Config {
	return Config{
		Name:              name,
		Type:              t,
		XRes:              xres,
		YRes:              yres,
		Windows:           DefaultWindows,
		MaxOverlays:       DefaultWindows,
		VideoOverlays:     DefaultVideoOverlays,
		BurstLength:       DefaultBurstLength,
		DRMBurstLength:    DefaultDRMBurstLength,
		BandwidthLimit:    DefaultBandwidthLimit,
		MaxRetries:        DefaultMaxRetries,
		PlainDMAs:         []dma.Channel{dma.G0, dma.G1},
		SecureDMA:         t == Primary,
		FBDMA:             dma.None,
		VideoPlayback:     true,
		ExternalDstFormat: layer.FormatRGBX8888,
		WinUpdate:         DefaultWinUpdateConfig(),
	}
}

func (c Config) validate() error {
	if c.XRes <= 0 || c.YRes <= 0 {
		return errors.Newf("display %q: invalid resolution %dx%d", c.Name, c.XRes, c.YRes)
	}
	if c.Windows <= 0 {
		return errors.Newf("display %q: needs at least one window", c.Name)
	}
	if c.MaxOverlays <= 0 {
		return errors.Newf("display %q: max overlays must be positive", c.Name)
	}
	if c.BurstLength <= 0 || c.DRMBurstLength <= 0 {
		return errors.Newf("display %q: burst lengths must be positive", c.Name)
	}
	if c.MaxRetries <= 0 {
		return errors.Newf("display %q: max retries must be positive", c.Name)
	}
	if c.Panel == PanelDSC && c.WinUpdate.DSCHSlices <= 0 {
		return errors.Newf("display %q: DSC panel needs a slice count", c.Name)
	}
	return nil
}

// Contents is one frame's input for a display. The last layer is the
// framebuffer target. Composition types, flags, hints and fences of the
// layers are written back by the allocator.
type Contents struct {
	Layers          []layer.Layer
	GeometryChanged bool
}

// LayerInfo is the per-frame allocation record of one layer.
type LayerInfo struct {
	Composition layer.CompositionType
	Flags       OverlayFlag
	MPPFlags    mpp.Verdict
	Window      int
	DMA         dma.Channel
	Internal    mpp.UnitID
	External    mpp.UnitID
	Compressed  bool
}

func newLayerInfo() LayerInfo {
	return LayerInfo{
		Window:   noWindow,
		DMA:      dma.None,
		Internal: mpp.NoUnit,
		External: mpp.NoUnit,
	}
}

// BandwidthResult is the outcome of the bounded repair loop.
type BandwidthResult struct {
	Converged  bool
	Iterations int
}

type Display struct {
	id        mpp.DisplayID
	cfg       Config
	pool      *mpp.Pool
	dev       device.Device
	fences    *fence.Registry
	logger    logrus.FieldLogger
	dmas      *dma.PlainAllocator
	bandwidth *accounting.Ledger

	mu sync.RWMutex

	layers          []layer.Layer
	infos           []LayerInfo
	geometryChanged bool

	// per-frame working sets handed out by the resource manager
	internalMPPs []mpp.UnitID
	externalMPPs []mpp.UnitID

	forceFb           bool
	externalConnected bool
	hasDrmSurface     bool
	forceOverlayIndex int
	yuvLayers         int
	fbNeeded          bool
	firstFb           int
	lastFb            int
	fbPreAssigned     bool
	allowedOverlays   int
	fbUpdateRegion    geometry.Rect
	fbWindow          int
	mppLayers         int

	bypassSkipStatic bool
	skipStaticInit   bool
	virtualOverlay   bool
	staticHandles    []uint64
	lastFbWindow     int

	lastConfig []device.WindowConfig
	lastRetire fence.Fd

	bwResult BandwidthResult
	report   FrameReport
	frame    uint64
}

func New(id mpp.DisplayID, cfg Config, pool *mpp.Pool, dev device.Device, fences *fence.Registry, logger logrus.FieldLogger) (*Display, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if pool == nil || dev == nil || fences == nil {
		return nil, errors.Newf("display %q: pool, device and fence registry are required", cfg.Name)
	}
	if logger == nil {
		logger = logging.GetAllocatorLogger().WithField("display", cfg.Name)
	}

	plain, err := dma.NewPlainAllocator(cfg.PlainDMAs, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "display %q", cfg.Name)
	}
	if cfg.FBDMA != dma.None {
		if !cfg.FBDMA.Valid() {
			return nil, errors.Newf("display %q: invalid framebuffer DMA %d", cfg.Name, int(cfg.FBDMA))
		}
		plain.Remove(cfg.FBDMA)
	}
	ledger, err := accounting.NewLedger(cfg.BandwidthLimit, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "display %q", cfg.Name)
	}
	if cfg.ExternalDstFormat == layer.FormatUnknown {
		cfg.ExternalDstFormat = layer.FormatRGBX8888
	}

	return &Display{
		id:                id,
		cfg:               cfg,
		pool:              pool,
		dev:               dev,
		fences:            fences,
		logger:            logger,
		dmas:              plain,
		bandwidth:         ledger,
		forceOverlayIndex: -1,
		fbWindow:          noWindow,
		lastFbWindow:      noWindow,
		lastRetire:        fence.None,
	}, nil
}

func (d *Display) ID() mpp.DisplayID { return d.id }
func (d *Display) Name() string      { return d.cfg.Name }
func (d *Display) Type() Type        { return d.cfg.Type }
func (d *Display) Config() Config    { return d.cfg }

// Load starts a frame: it takes the layer list, rebuilds the LayerInfo
// array and collects the facts the resource manager needs before any
// unit is handed out.
func (d *Display) Load(c *Contents) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.layers = c.Layers
	d.geometryChanged = c.GeometryChanged
	d.infos = make([]LayerInfo, len(d.layers))
	for i := range d.infos {
		d.infos[i] = newLayerInfo()
	}
	d.internalMPPs = d.internalMPPs[:0]
	d.externalMPPs = d.externalMPPs[:0]
	d.forceFb = d.cfg.ForceFB
	d.fbPreAssigned = false
	d.frame++

	n := len(d.layers)
	for i := range d.layers {
		l := &d.layers[i]
		l.Hints = 0
		l.Flags &^= layer.SkipRendering
		l.ReleaseFence = fence.None
		switch {
		case i == n-1:
			l.Composition = layer.FramebufferTarget
		case l.Composition != layer.Background:
			l.Composition = layer.Framebuffer
		}
		d.infos[i].Composition = l.Composition
	}
	d.preprocess()
}

func (d *Display) preprocess() {
	d.hasDrmSurface = false
	d.forceOverlayIndex = -1
	d.yuvLayers = 0
	for i := range d.layers {
		l := &d.layers[i]
		if l.Handle == nil {
			continue
		}
		if l.IsProtected() {
			d.hasDrmSurface = true
			d.forceOverlayIndex = i
		}
		if !l.IsRGB() {
			d.yuvLayers++
		}
	}
}

func (d *Display) HasDRMSurface() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hasDrmSurface
}

func (d *Display) YUVLayers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.yuvLayers
}

func (d *Display) GeometryChanged() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.geometryChanged
}

// FirstHandle identifies the buffer of the bottom layer, used to detect
// mirroring between displays.
func (d *Display) FirstHandle() (uint64, int, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.layers) == 0 || d.layers[0].Handle == nil {
		return 0, len(d.layers), false
	}
	return d.layers[0].Handle.ID, len(d.layers), true
}

// SetForceFB sends every layer that does not need a window to GPU
// composition for this frame.
func (d *Display) SetForceFB(force bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forceFb = force
}

// SetExternalConnected tells the display whether an external display takes
// part in the current frame. Protected layers are hidden while one does.
func (d *Display) SetExternalConnected(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.externalConnected = connected
}

func (d *Display) AddExternalUnit(id mpp.UnitID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.externalMPPs = append(d.externalMPPs, id)
}

// PreviousDRMUnit returns the internal unit whose DMA channel carried
// protected content in the last submitted configuration.
func (d *Display) PreviousDRMUnit() (mpp.UnitID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i := 0; i < d.cfg.Windows && i < len(d.lastConfig); i++ {
		c := d.lastConfig[i]
		if c.State == device.WinDisabled || !c.Protected {
			continue
		}
		typ, idx, ok := dma.UnitFor(c.DMA)
		if !ok {
			return mpp.NoUnit, false
		}
		return d.pool.Lookup(typ, idx)
	}
	return mpp.NoUnit, false
}

// ForcedOverlayUnit is the internal unit bound to the DRM or video layer
// placed by the high priority pass.
func (d *Display) ForcedOverlayUnit() mpp.UnitID {
	_, id := d.ForcedOverlay()
	return id
}

// ForcedOverlay returns the index of the layer placed by the high priority
// pass, -1 when there is none, and its internal unit.
func (d *Display) ForcedOverlay() (int, mpp.UnitID) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.forceOverlayIndex < 0 || d.forceOverlayIndex >= len(d.infos) {
		return -1, mpp.NoUnit
	}
	return d.forceOverlayIndex, d.infos[d.forceOverlayIndex].Internal
}

// LayerInfos returns a copy of the current allocation records.
func (d *Display) LayerInfos() []LayerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]LayerInfo(nil), d.infos...)
}

// FramebufferRange reports whether GPU composition is needed and which
// layers it spans.
func (d *Display) FramebufferRange() (needed bool, first, last int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fbNeeded, d.firstFb, d.lastFb
}

func (d *Display) FramebufferWindow() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fbWindow
}

func (d *Display) FBUpdateRegion() geometry.Rect {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fbUpdateRegion
}

func (d *Display) LastBandwidthResult() BandwidthResult {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bwResult
}

// LastConfig returns a copy of the last configuration accepted by the
// device.
func (d *Display) LastConfig() []device.WindowConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]device.WindowConfig(nil), d.lastConfig...)
}

func (d *Display) setComposition(i int, c layer.CompositionType) {
	d.layers[i].Composition = c
	d.infos[i].Composition = c
}

func (d *Display) unit(id mpp.UnitID) *mpp.Unit {
	if id == mpp.NoUnit {
		return nil
	}
	return d.pool.Unit(id)
}

// releaseUnits frees the units bound to layer i and forgets them.
func (d *Display) releaseUnits(i int) {
	info := &d.infos[i]
	if u := d.unit(info.Internal); u != nil {
		u.State = mpp.Free
	}
	if u := d.unit(info.External); u != nil {
		u.State = mpp.Free
	}
	info.Internal = mpp.NoUnit
	info.External = mpp.NoUnit
}

func (d *Display) fbIndex() int { return len(d.layers) - 1 }

// topIndex is the highest layer below the framebuffer target.
func (d *Display) topIndex() int { return len(d.layers) - 2 }

func (d *Display) burstLength(protected bool) int {
	if protected {
		return d.cfg.DRMBurstLength
	}
	return d.cfg.BurstLength
}

// addAssignableUnits appends the pool's free internal units this display
// may use to the working set.
func (d *Display) addAssignableUnits() {
	for _, id := range d.pool.Assignable(d.id) {
		present := false
		for _, have := range d.internalMPPs {
			if have == id {
				present = true
				break
			}
		}
		if !present {
			d.internalMPPs = append(d.internalMPPs, id)
		}
	}
}

// dropUnassignedUnits removes units this display did not end up using from
// its working set so the next display can take them.
func (d *Display) dropUnassignedUnits() {
	kept := d.internalMPPs[:0]
	for _, id := range d.internalMPPs {
		u := d.pool.Unit(id)
		if u.State == mpp.Assigned {
			kept = append(kept, id)
		}
	}
	d.internalMPPs = kept
}
