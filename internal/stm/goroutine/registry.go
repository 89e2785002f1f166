package goroutine

import (
	"sync"
	"sync/atomic"
)

// DefaultCleanupInterval is the number of registrations between background
// sweeps of dead goroutines.
const DefaultCleanupInterval = 1000

// Slot is the per-goroutine entry of a Registry.
type Slot[T any] struct {
	// GID is the goroutine that owns the slot.
	GID int64

	// Owner is the lock owner id assigned to the goroutine. Never 0.
	Owner uint64

	// Value is the state created by the registry's constructor.
	Value T

	seq  uint64 // registration number, see Cleanup
	busy atomic.Bool
}

// Enter marks the slot busy. Returns false if it already was, which means
// the goroutine re-entered a section it is already inside.
func (s *Slot[T]) Enter() bool {
	return s.busy.CompareAndSwap(false, true)
}

// Leave clears the busy mark set by Enter.
func (s *Slot[T]) Leave() {
	s.busy.Store(false)
}

// Busy reports whether the slot is between Enter and Leave.
func (s *Slot[T]) Busy() bool {
	return s.busy.Load()
}

// Registry maps goroutines to lazily created per-goroutine values.
//
// First access from a goroutine:
//  1. Parses the goroutine id
//  2. Takes an owner id from the pool
//  3. Builds the value with the constructor
//  4. Caches the slot
//
// Later accesses are a sync.Map lookup after the id parse.
//
// Every DefaultCleanupInterval registrations a background sweep removes
// slots of goroutines that have exited and returns their owner ids to the
// pool. Busy slots are never removed.
//
// Thread Safety: Safe for concurrent use.
type Registry[T any] struct {
	slots    sync.Map // int64 -> *Slot[T]
	owners   *OwnerPool
	newValue func(owner uint64) T

	registered atomic.Uint64
	interval   uint64
	sweeping   atomic.Bool
}

// NewRegistry creates a registry whose values are built by newValue.
func NewRegistry[T any](newValue func(owner uint64) T) *Registry[T] {
	return &Registry[T]{
		owners:   NewOwnerPool(),
		newValue: newValue,
		interval: DefaultCleanupInterval,
	}
}

// SetCleanupInterval changes the number of registrations between sweeps.
// n < 1 disables background sweeps. Must be called before the registry is
// shared between goroutines.
func (r *Registry[T]) SetCleanupInterval(n int) {
	if n < 1 {
		r.interval = 0
		return
	}
	r.interval = uint64(n)
}

// Current returns the slot of the calling goroutine, creating it on first use.
func (r *Registry[T]) Current() *Slot[T] {
	gid := CurrentID()
	if v, ok := r.slots.Load(gid); ok {
		return v.(*Slot[T])
	}

	seq := r.registered.Add(1)
	owner := r.owners.Get()
	s := &Slot[T]{GID: gid, Owner: owner, Value: r.newValue(owner), seq: seq}
	// Only this goroutine registers under its own gid, so no other Store can
	// race with this one.
	r.slots.Store(gid, s)
	r.maybeCleanup(seq)
	return s
}

// Range calls fn for every registered slot until fn returns false.
func (r *Registry[T]) Range(fn func(*Slot[T]) bool) {
	r.slots.Range(func(_, v interface{}) bool {
		return fn(v.(*Slot[T]))
	})
}

// Len returns the number of registered slots.
func (r *Registry[T]) Len() int {
	n := 0
	r.Range(func(*Slot[T]) bool {
		n++
		return true
	})
	return n
}

// Owners returns the number of owner ids currently handed out.
func (r *Registry[T]) Owners() int {
	return r.owners.InUse()
}

// Cleanup removes slots of goroutines that have exited and returns how many
// were reclaimed.
//
// Only slots registered before the goroutine dump are candidates. A slot
// registered later belongs to a goroutine the dump may not show, and its
// owner id must not be handed out again while that goroutine runs.
func (r *Registry[T]) Cleanup() int {
	horizon := r.registered.Load()
	live := LiveIDs()
	alive := make(map[int64]struct{}, len(live))
	for _, gid := range live {
		alive[gid] = struct{}{}
	}

	reclaimed := 0
	r.Range(func(s *Slot[T]) bool {
		if s.seq > horizon || s.Busy() {
			return true
		}
		if _, ok := alive[s.GID]; ok {
			return true
		}
		// LoadAndDelete makes concurrent sweeps return each owner id once.
		if old, loaded := r.slots.LoadAndDelete(s.GID); loaded {
			r.owners.Put(old.(*Slot[T]).Owner)
			reclaimed++
		}
		return true
	})
	return reclaimed
}

func (r *Registry[T]) maybeCleanup(count uint64) {
	if r.interval == 0 || count%r.interval != 0 {
		return
	}
	if !r.sweeping.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer r.sweeping.Store(false)
		r.Cleanup()
	}()
}
