// Package fence tracks the sync-fence descriptors exchanged with the display
// device and the display server. Every descriptor handed out must be closed
// exactly once; Outstanding makes leaks observable.
package fence

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

// Fd is a fence descriptor. None means "no fence".
type Fd int

const None Fd = -1

var ErrUnknownFence = errors.New("unknown fence descriptor")

type Registry struct {
	mu   sync.Mutex
	next Fd
	// descriptor -> sync point it refers to
	open *swiss.Map[Fd, uint64]
	seq  uint64
}

func NewRegistry() *Registry {
	return &Registry{
		next: 3,
		open: swiss.NewMap[Fd, uint64](16),
	}
}

// New creates a fresh sync point and returns its first descriptor.
func (r *Registry) New() Fd {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.allocLocked(r.seq)
}

// Dup returns a second descriptor for the same sync point as fd.
func (r *Registry) Dup(fd Fd) (Fd, error) {
	if fd == None {
		return None, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	point, ok := r.open.Get(fd)
	if !ok {
		return None, errors.Wrapf(ErrUnknownFence, "dup fd %d", fd)
	}
	return r.allocLocked(point), nil
}

// Close releases fd. Closing None is a no-op.
func (r *Registry) Close(fd Fd) error {
	if fd == None {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open.Has(fd) {
		return errors.Wrapf(ErrUnknownFence, "close fd %d", fd)
	}
	r.open.Delete(fd)
	return nil
}

// SamePoint reports whether two open descriptors refer to one sync point.
func (r *Registry) SamePoint(a, b Fd) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pa, okA := r.open.Get(a)
	pb, okB := r.open.Get(b)
	return okA && okB && pa == pb
}

// Outstanding is the number of descriptors not yet closed.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open.Count()
}

func (r *Registry) allocLocked(point uint64) Fd {
	fd := r.next
	r.next++
	r.open.Put(fd, point)
	return fd
}
