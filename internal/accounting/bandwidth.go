// Package accounting keeps the per-frame pixel bandwidth ledger of a display.
package accounting

import (
	"fmt"
	"sort"
	"sync"

	"vppdisplay/internal/logging"

	"github.com/sirupsen/logrus"
)

// FramebufferOwner is the ledger key of the framebuffer target's full-screen
// fetch.
const FramebufferOwner = -1

// Ledger tracks the pixels each accepted window fetches per frame against the
// controller's total bandwidth limit. Removing an owner gives back exactly
// what it added.
type Ledger struct {
	limit  int64
	logger logrus.FieldLogger
	mu     sync.RWMutex

	entries map[int]int64 // owner -> pixels
	total   int64
}

func NewLedger(limit int64, logger logrus.FieldLogger) (*Ledger, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("bandwidth limit must be positive, got %d", limit)
	}
	if logger == nil {
		logger = logging.GetAllocatorLogger()
	}
	return &Ledger{
		limit:   limit,
		logger:  logger,
		entries: make(map[int]int64),
	}, nil
}

// Add charges pixels to owner. An owner can be charged once per frame.
func (l *Ledger) Add(owner int, pixels int64) error {
	if pixels < 0 {
		return fmt.Errorf("negative pixel count %d for owner %d", pixels, owner)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[owner]; exists {
		return fmt.Errorf("owner %d already charged", owner)
	}
	l.entries[owner] = pixels
	l.total += pixels
	return nil
}

// Remove refunds owner's charge and returns it.
func (l *Ledger) Remove(owner int) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pixels, ok := l.entries[owner]
	if !ok {
		return 0, false
	}
	delete(l.entries, owner)
	l.total -= pixels
	l.logger.WithFields(logrus.Fields{
		"layer":  owner,
		"pixels": pixels,
		"total":  l.total,
	}).Debug("Refunded bandwidth")
	return pixels, true
}

func (l *Ledger) Charged(owner int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[owner]
	return ok
}

func (l *Ledger) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

func (l *Ledger) Limit() int64 { return l.limit }

// Over reports whether the frame reaches the limit.
func (l *Ledger) Over() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total >= l.limit
}

func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[int]int64)
	l.total = 0
}

// Owners returns the charged owners in ascending order.
func (l *Ledger) Owners() []int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]int, 0, len(l.entries))
	for k := range l.entries {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
