package mpp

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/sirupsen/logrus"
)

// UnitSpec describes one unit of the hardware inventory.
type UnitSpec struct {
	Type  Type
	Index int
	Cap   Capability
}

type unitKey struct {
	typ   Type
	index int
}

// Pool owns every MPP unit. Displays refer to units by UnitID only.
// Internal units are ordered by type (VPP_G, VG, VGR) then index, which is
// the order the selection policy walks them in.
type Pool struct {
	units    []Unit
	byKey    *swiss.Map[unitKey, UnitID]
	internal []UnitID
	external []UnitID
	logger   logrus.FieldLogger
}

func NewPool(specs []UnitSpec, logger logrus.FieldLogger) (*Pool, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	sorted := append([]UnitSpec(nil), specs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Type != sorted[j].Type {
			return sorted[i].Type < sorted[j].Type
		}
		return sorted[i].Index < sorted[j].Index
	})

	p := &Pool{
		units:  make([]Unit, 0, len(sorted)),
		byKey:  swiss.NewMap[unitKey, UnitID](uint32(len(sorted) + 1)),
		logger: logger,
	}
	for _, spec := range sorted {
		key := unitKey{typ: spec.Type, index: spec.Index}
		if p.byKey.Has(key) {
			return nil, errors.Newf("duplicate MPP unit %s%d", spec.Type, spec.Index)
		}
		if spec.Index < 0 {
			return nil, errors.Newf("MPP unit %s has negative index %d", spec.Type, spec.Index)
		}
		capability := spec.Cap
		if capability == nil {
			capability = DefaultLimits(spec.Type)
		}
		id := UnitID(len(p.units))
		p.units = append(p.units, Unit{
			ID:          id,
			Type:        spec.Type,
			Index:       spec.Index,
			State:       Free,
			Display:     NoDisplay,
			PreAssigned: NoDisplay,
			CanBeUsed:   true,
			Cap:         capability,
		})
		p.byKey.Put(key, id)
		if spec.Type.Kind() == Internal {
			p.internal = append(p.internal, id)
		} else {
			p.external = append(p.external, id)
		}
	}
	return p, nil
}

func (p *Pool) Len() int { return len(p.units) }

// Unit returns the unit for id. It panics on an id that did not come from
// this pool.
func (p *Pool) Unit(id UnitID) *Unit {
	return &p.units[id]
}

func (p *Pool) Lookup(t Type, index int) (UnitID, bool) {
	return p.byKey.Get(unitKey{typ: t, index: index})
}

func (p *Pool) Internal() []UnitID { return p.internal }
func (p *Pool) External() []UnitID { return p.external }

// BeginFrame resets per-frame state. Units that were handed over during the
// previous frame finish their transition and become free, pinned to their
// new display. Internal units get their usable flag back.
func (p *Pool) BeginFrame() {
	for i := range p.units {
		u := &p.units[i]
		if u.State == Transition {
			p.logger.WithFields(logrus.Fields{
				"mpp":     u.String(),
				"display": u.Display,
			}).Debug("MPP transition complete")
		}
		u.State = Free
		if u.Kind() == Internal {
			u.CanBeUsed = true
		}
	}
}

// Assignable returns the internal units d may add to its working set this
// frame: free, usable and not reserved for another display.
func (p *Pool) Assignable(d DisplayID) []UnitID {
	var out []UnitID
	for _, id := range p.internal {
		u := &p.units[id]
		if u.State == Free && u.CanBeUsed && u.IsAssignable(d) {
			out = append(out, id)
		}
	}
	return out
}

// Dump writes a text table of every unit.
func (p *Pool) Dump(w io.Writer) {
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-5s %-10s %-7s %-11s %s\n", "type", "index", "state", "display", "preassigned", "usable")
	for i := range p.units {
		u := &p.units[i]
		fmt.Fprintf(&b, "%-6s %-5d %-10s %-7d %-11d %t\n",
			u.Type, u.Index, u.State, u.Display, u.PreAssigned, u.CanBeUsed)
	}
	_, _ = io.WriteString(w, b.String())
}

// DumpJSON renders the pool state as a JSON array of units.
func (p *Pool) DumpJSON() []byte {
	writer := jwriter.NewWriter()
	arr := writer.Array()
	for i := range p.units {
		p.units[i].writeJSON(&arr)
	}
	arr.End()
	return writer.Bytes()
}

func (u *Unit) writeJSON(arr *jwriter.ArrayState) {
	obj := arr.Object()
	defer obj.End()
	obj.Name("Name").String(u.String())
	obj.Name("Kind").String(u.Kind().String())
	obj.Name("State").String(u.State.String())
	obj.Name("Display").Int(int(u.Display))
	obj.Name("PreAssigned").Int(int(u.PreAssigned))
	obj.Name("CanBeUsed").Bool(u.CanBeUsed)
}
