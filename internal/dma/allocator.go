package dma

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Allocator hands out a display's plain DMA channels to layers for one
// frame. Owners are layer indices.
type Allocator interface {
	// Reserve marks ch as used by owner. It fails if ch is not one of the
	// display's channels or is held by a different owner.
	Reserve(owner int, ch Channel) error

	// Take gives owner the first free channel in configured order.
	Take(owner int) (Channel, bool)

	// Release frees the channel held by owner, if any.
	Release(owner int)

	// Returns the channel held by owner.
	Get(owner int) (Channel, bool)

	// Available is the number of free channels.
	Available() int

	// Reset frees every channel.
	Reset()

	// Returns a copy of all current assignments.
	Snapshot() map[int]Channel
}

type PlainAllocator struct {
	order      []Channel
	logger     logrus.FieldLogger
	mu         sync.Mutex
	assigned   map[int]Channel // owner -> channel
	reservedBy map[Channel]int // channel -> owner
}

func NewPlainAllocator(channels []Channel, logger logrus.FieldLogger) (*PlainAllocator, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	seen := make(map[Channel]bool, len(channels))
	order := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if !ch.Valid() {
			return nil, fmt.Errorf("invalid DMA channel %d", int(ch))
		}
		if ch == Secure {
			return nil, fmt.Errorf("the secure channel cannot be a plain channel")
		}
		if seen[ch] {
			return nil, fmt.Errorf("DMA channel %s listed twice", ch)
		}
		seen[ch] = true
		order = append(order, ch)
	}
	return &PlainAllocator{
		order:      order,
		logger:     logger,
		assigned:   make(map[int]Channel),
		reservedBy: make(map[Channel]int),
	}, nil
}

func (a *PlainAllocator) Reserve(owner int, ch Channel) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ownsLocked(ch) {
		return fmt.Errorf("DMA channel %s is not available on this display", ch)
	}
	if prev, ok := a.reservedBy[ch]; ok && prev != owner {
		return fmt.Errorf("DMA channel %s already reserved by layer %d", ch, prev)
	}
	a.releaseLocked(owner)
	a.assignLocked(owner, ch)
	return nil
}

func (a *PlainAllocator) Take(owner int) (Channel, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ch, ok := a.assigned[owner]; ok {
		return ch, true
	}
	for _, ch := range a.order {
		if _, used := a.reservedBy[ch]; used {
			continue
		}
		a.assignLocked(owner, ch)
		return ch, true
	}
	return None, false
}

func (a *PlainAllocator) Release(owner int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked(owner)
}

func (a *PlainAllocator) Get(owner int) (Channel, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.assigned[owner]
	return ch, ok
}

func (a *PlainAllocator) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order) - len(a.reservedBy)
}

func (a *PlainAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assigned = make(map[int]Channel)
	a.reservedBy = make(map[Channel]int)
}

func (a *PlainAllocator) Snapshot() map[int]Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int]Channel, len(a.assigned))
	for k, v := range a.assigned {
		out[k] = v
	}
	return out
}

// Channels returns the configured channels in order.
func (a *PlainAllocator) Channels() []Channel {
	return append([]Channel(nil), a.order...)
}

// Remove drops ch from the display's plain channels, for example when it is
// permanently dedicated to the framebuffer target.
func (a *PlainAllocator) Remove(ch Channel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if owner, ok := a.reservedBy[ch]; ok {
		a.releaseLocked(owner)
	}
	out := a.order[:0]
	for _, c := range a.order {
		if c != ch {
			out = append(out, c)
		}
	}
	a.order = out
}

func (a *PlainAllocator) ownsLocked(ch Channel) bool {
	for _, c := range a.order {
		if c == ch {
			return true
		}
	}
	return false
}

func (a *PlainAllocator) releaseLocked(owner int) {
	ch, ok := a.assigned[owner]
	if !ok {
		return
	}
	delete(a.assigned, owner)
	delete(a.reservedBy, ch)
	a.logger.WithFields(logrus.Fields{"layer": owner, "dma": ch.String()}).Debug("Released DMA channel")
}

func (a *PlainAllocator) assignLocked(owner int, ch Channel) {
	a.assigned[owner] = ch
	a.reservedBy[ch] = owner
	a.logger.WithFields(logrus.Fields{"layer": owner, "dma": ch.String()}).Debug("Assigned DMA channel")
}

// Owners returns the owners holding a channel, sorted.
func (a *PlainAllocator) Owners() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, 0, len(a.assigned))
	for k := range a.assigned {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
