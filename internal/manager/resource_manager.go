package manager

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"vppdisplay/internal/display"
	"vppdisplay/internal/dma"
	"vppdisplay/internal/logging"
	"vppdisplay/internal/mpp"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// DisplayAllocation is one registered display and the external unit it is
// given each frame.
type DisplayAllocation struct {
	Display  *display.Display
	External mpp.UnitID
	// order keeps primary, external, virtual processing order
	order int
}

// ResourceManager runs the allocation of every display against the shared
// unit pool. Displays are handled one after another, high priority layers
// of all displays before any low priority layer.
type ResourceManager struct {
	pool     *mpp.Pool
	logger   logrus.FieldLogger
	displays map[mpp.DisplayID]*DisplayAllocation
	mu       sync.RWMutex
	frame    uint64
}

func NewResourceManager(pool *mpp.Pool, logger logrus.FieldLogger) *ResourceManager {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &ResourceManager{
		pool:     pool,
		logger:   logger,
		displays: make(map[mpp.DisplayID]*DisplayAllocation),
	}
}

// RegisterDisplay adds d with the external unit reserved for it.
// mpp.NoUnit means the display has none.
func (rm *ResourceManager) RegisterDisplay(d *display.Display, external mpp.UnitID) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if d == nil {
		return errors.New("display is nil")
	}
	if _, exists := rm.displays[d.ID()]; exists {
		return errors.Newf("display %d already registered", d.ID())
	}
	if external != mpp.NoUnit {
		if int(external) < 0 || int(external) >= rm.pool.Len() {
			return errors.Newf("display %q: unknown external unit %d", d.Name(), external)
		}
		if u := rm.pool.Unit(external); u.Kind() != mpp.External {
			return errors.Newf("display %q: %s is not an external unit", d.Name(), u)
		}
		for _, other := range rm.displays {
			if other.External == external {
				return errors.Newf("display %q: external unit %s already given to %q",
					d.Name(), rm.pool.Unit(external), other.Display.Name())
			}
		}
	}

	rm.displays[d.ID()] = &DisplayAllocation{
		Display:  d,
		External: external,
		order:    int(d.Type())*1000 + len(rm.displays),
	}

	rm.logger.WithFields(logrus.Fields{
		"display":  d.Name(),
		"type":     d.Type().String(),
		"external": rm.unitName(external),
	}).Debug("Display registered with ResourceManager")
	return nil
}

func (rm *ResourceManager) GetDisplay(id mpp.DisplayID) (*display.Display, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	allocation, exists := rm.displays[id]
	if !exists {
		return nil, fmt.Errorf("display %d not registered", id)
	}
	return allocation.Display, nil
}

// frameEntry is one display taking part in the current frame.
type frameEntry struct {
	alloc       *DisplayAllocation
	contents    *display.Contents
	previousDRM mpp.UnitID
}

// AssignResources decides the composition of one frame on every display
// that has contents. Displays without contents keep their last
// configuration and take no units.
func (rm *ResourceManager) AssignResources(frames map[mpp.DisplayID]*display.Contents) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	entries, err := rm.frameEntriesLocked(frames)
	if err != nil {
		return err
	}
	rm.frame++
	rm.pool.BeginFrame()

	for _, e := range entries {
		e.previousDRM = mpp.NoUnit
		if id, ok := e.alloc.Display.PreviousDRMUnit(); ok {
			e.previousDRM = id
		}
		e.alloc.Display.Load(e.contents)
	}

	rm.preAssignResources(entries)
	rm.addExternalMpp(entries)

	primaryDRM, external := false, false
	for _, e := range entries {
		switch e.alloc.Display.Type() {
		case display.Primary:
			primaryDRM = primaryDRM || e.alloc.Display.HasDRMSurface()
		case display.External:
			external = true
		}
	}
	for _, e := range entries {
		e.alloc.Display.SetExternalConnected(external)
		rm.handleHighPriorityLayers(e, primaryDRM)
	}

	primary := rm.primaryEntry(entries)
	for _, e := range entries {
		if primary != nil && e != primary && isMirror(primary.contents, e.contents) {
			e.alloc.Display.SetForceFB(true)
			rm.logger.WithField("display", e.alloc.Display.Name()).Debug("Mirror mode, forcing framebuffer composition")
		}
		rm.handleLowPriorityLayers(e)
	}
	return nil
}

func (rm *ResourceManager) frameEntriesLocked(frames map[mpp.DisplayID]*display.Contents) ([]*frameEntry, error) {
	entries := make([]*frameEntry, 0, len(frames))
	for id, contents := range frames {
		alloc, exists := rm.displays[id]
		if !exists {
			return nil, errors.Newf("frame for unregistered display %d", id)
		}
		if contents == nil {
			continue
		}
		entries = append(entries, &frameEntry{alloc: alloc, contents: contents})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].alloc.order < entries[j].alloc.order
	})
	return entries, nil
}

func (rm *ResourceManager) primaryEntry(entries []*frameEntry) *frameEntry {
	for _, e := range entries {
		if e.alloc.Display.Type() == display.Primary {
			return e
		}
	}
	return nil
}

// preAssignResources restricts the VPP_G unit behind each display's
// framebuffer DMA to that display for this frame.
func (rm *ResourceManager) preAssignResources(entries []*frameEntry) {
	for _, id := range rm.pool.Internal() {
		rm.pool.Unit(id).PreAssign(mpp.NoDisplay)
	}
	for _, e := range entries {
		fb := e.alloc.Display.Config().FBDMA
		if fb < dma.G0 || fb > dma.G3 {
			continue
		}
		id, ok := rm.pool.Lookup(mpp.TypeVPPG, int(fb-dma.G0))
		if !ok {
			continue
		}
		u := rm.pool.Unit(id)
		if u.PreAssigned != mpp.NoDisplay {
			rm.logger.WithFields(logrus.Fields{
				"display": e.alloc.Display.Name(),
				"mpp":     u.String(),
			}).Warn("Framebuffer unit already reserved")
			continue
		}
		u.PreAssign(e.alloc.Display.ID())
	}
}

// addExternalMpp hands out the external units. The primary display only
// gets its unit when it shows video or its geometry is stable, so a
// geometry change without video leaves the unit idle.
func (rm *ResourceManager) addExternalMpp(entries []*frameEntry) {
	for _, e := range entries {
		d := e.alloc.Display
		if e.alloc.External == mpp.NoUnit {
			continue
		}
		if d.Type() == display.Primary && !d.HasDRMSurface() && d.YUVLayers() == 0 && d.GeometryChanged() {
			continue
		}
		d.AddExternalUnit(e.alloc.External)
	}
}

func (rm *ResourceManager) handleHighPriorityLayers(e *frameEntry, primaryDRM bool) {
	d := e.alloc.Display
	prev := e.previousDRM

	// the unit that carried DRM content cools down for a frame once the
	// content is gone
	if prev != mpp.NoUnit && !d.HasDRMSurface() {
		rm.coolDown(d, prev)
	}

	d.HandleHighPriority()

	if prev != mpp.NoUnit && primaryDRM {
		if idx, id := d.ForcedOverlay(); idx >= 0 && id != prev {
			rm.coolDown(d, prev)
		}
	}
}

func (rm *ResourceManager) handleLowPriorityLayers(e *frameEntry) {
	d := e.alloc.Display
	res := d.HandleLowPriority()
	d.Prepare()

	needed, first, last := d.FramebufferRange()
	rm.logger.WithFields(logrus.Fields{
		"display":    d.Name(),
		"frame":      rm.frame,
		"iterations": res.Iterations,
		"converged":  res.Converged,
		"fb_needed":  needed,
		"first_fb":   first,
		"last_fb":    last,
	}).Debug("Display resources assigned")
}

func (rm *ResourceManager) coolDown(d *display.Display, id mpp.UnitID) {
	u := rm.pool.Unit(id)
	if !u.CanBeUsed {
		return
	}
	u.CanBeUsed = false
	rm.logger.WithFields(logrus.Fields{
		"display": d.Name(),
		"mpp":     u.String(),
	}).Debug("Previous DRM unit held back for one frame")
}

// isMirror reports whether secondary shows the same first buffer as
// primary with the same number of layers.
func isMirror(primary, secondary *display.Contents) bool {
	if primary == nil || secondary == nil || len(primary.Layers) == 0 ||
		len(primary.Layers) != len(secondary.Layers) {
		return false
	}
	a, b := primary.Layers[0].Handle, secondary.Layers[0].Handle
	return a != nil && b != nil && a.ID == b.ID
}

// Commit submits the prepared frame of every display in processing order.
// Every display is submitted even when an earlier one fails; the failures
// are returned together.
func (rm *ResourceManager) Commit(ctx context.Context, ids []mpp.DisplayID) (map[mpp.DisplayID]display.SetResult, error) {
	rm.mu.RLock()
	allocs := make([]*DisplayAllocation, 0, len(ids))
	for _, id := range ids {
		alloc, exists := rm.displays[id]
		if !exists {
			rm.mu.RUnlock()
			return nil, errors.Newf("commit for unregistered display %d", id)
		}
		allocs = append(allocs, alloc)
	}
	rm.mu.RUnlock()
	sort.Slice(allocs, func(i, j int) bool { return allocs[i].order < allocs[j].order })

	results := make(map[mpp.DisplayID]display.SetResult, len(allocs))
	var errs error
	for _, alloc := range allocs {
		res, err := alloc.Display.Set(ctx)
		results[alloc.Display.ID()] = res
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "display %q", alloc.Display.Name()))
		}
	}
	return results, errs
}

// Reports returns the last frame report of every registered display.
func (rm *ResourceManager) Reports() []display.FrameReport {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	out := make([]display.FrameReport, 0, len(rm.displays))
	for _, alloc := range rm.sortedLocked() {
		out = append(out, alloc.Display.Report())
	}
	return out
}

// Dump writes the pool followed by every display's allocation.
func (rm *ResourceManager) Dump(w io.Writer) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	fmt.Fprintf(w, "frame %d, %d MPP units\n", rm.frame, rm.pool.Len())
	rm.pool.Dump(w)
	for _, alloc := range rm.sortedLocked() {
		alloc.Display.Dump(w)
	}
}

// Reset drops every framebuffer reservation and unpins all units.
func (rm *ResourceManager) Reset() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for _, ids := range [][]mpp.UnitID{rm.pool.Internal(), rm.pool.External()} {
		for _, id := range ids {
			u := rm.pool.Unit(id)
			u.PreAssign(mpp.NoDisplay)
			u.SetDisplay(mpp.NoDisplay)
		}
	}
	rm.pool.BeginFrame()
	rm.logger.Info("MPP reservations reset")
}

func (rm *ResourceManager) sortedLocked() []*DisplayAllocation {
	out := make([]*DisplayAllocation, 0, len(rm.displays))
	for _, alloc := range rm.displays {
		out = append(out, alloc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

func (rm *ResourceManager) unitName(id mpp.UnitID) string {
	if id == mpp.NoUnit {
		return "-"
	}
	return rm.pool.Unit(id).String()
}
