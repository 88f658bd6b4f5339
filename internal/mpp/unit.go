// Package mpp models the hardware scaler/blender units (MPPs) shared by all
// displays, the per-unit capability query, and the staging layers used when
// two units are chained for one layer.
package mpp

import (
	"fmt"
	"strings"
)

type Kind int

const (
	Internal Kind = iota
	External
)

func (k Kind) String() string {
	if k == External {
		return "external"
	}
	return "internal"
}

// Type is the hardware family of a unit. The internal types are listed in
// their assignment order.
type Type int

const (
	TypeVPPG Type = iota
	TypeVG
	TypeVGR
	TypeMSC
	TypeGSC
)

var typeNames = map[Type]string{
	TypeVPPG: "VPP_G",
	TypeVG:   "VG",
	TypeVGR:  "VGR",
	TypeMSC:  "MSC",
	TypeGSC:  "GSC",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

func ParseType(s string) (Type, error) {
	for t, n := range typeNames {
		if strings.EqualFold(n, strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown MPP type %q", s)
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Type) Kind() Kind {
	if t == TypeMSC || t == TypeGSC {
		return External
	}
	return Internal
}

type State int

const (
	Free State = iota
	Assigned
	// Transition marks a unit being handed from one display to another. It
	// is not usable until the next frame begins.
	Transition
)

func (s State) String() string {
	switch s {
	case Free:
		return "FREE"
	case Assigned:
		return "ASSIGNED"
	case Transition:
		return "TRANSITION"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// UnitID is a stable index into the pool arena.
type UnitID int

const NoUnit UnitID = -1

// DisplayID identifies a logical display.
type DisplayID int

const NoDisplay DisplayID = -1

type Unit struct {
	ID    UnitID
	Type  Type
	Index int
	State State
	// Display is the display the unit is pinned to, NoDisplay when unpinned.
	Display DisplayID
	// PreAssigned restricts the unit to one display, NoDisplay when any
	// display may use it.
	PreAssigned DisplayID
	// CanBeUsed is revoked for one frame to let a unit cool down.
	CanBeUsed bool
	Cap       Capability
}

func (u *Unit) Kind() Kind { return u.Type.Kind() }

func (u *Unit) String() string {
	return fmt.Sprintf("%s%d", u.Type, u.Index)
}

func (u *Unit) IsAssignable(d DisplayID) bool {
	return u.PreAssigned == d || u.PreAssigned == NoDisplay
}

// WasUsedBy reports a free unit still pinned to d from an earlier frame.
func (u *Unit) WasUsedBy(d DisplayID) bool {
	return u.State == Free && u.Display == d
}

// IsEligibleFor reports whether d may take the unit right now.
func (u *Unit) IsEligibleFor(d DisplayID) bool {
	return u.State == Free && u.CanBeUsed && (u.Display == NoDisplay || u.Display == d)
}

func (u *Unit) StartTransition(d DisplayID) {
	u.State = Transition
	u.Display = d
}

func (u *Unit) SetDisplay(d DisplayID) {
	u.Display = d
}

func (u *Unit) PreAssign(d DisplayID) {
	u.PreAssigned = d
}
