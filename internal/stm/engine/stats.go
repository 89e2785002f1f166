package engine

import (
	"go.uber.org/atomic"

	"github.com/kolkov/gostm/internal/stm/heap"
)

// counters are the engine's running totals.
type counters struct {
	starts          atomic.Uint64
	commits         atomic.Uint64
	readOnlyCommits atomic.Uint64
	retries         atomic.Uint64
	aborts          [NumReasons]atomic.Uint64
	allocs          atomic.Uint64
	frees           atomic.Uint64
	rolledBack      atomic.Uint64
}

// Stats is a snapshot of engine activity.
type Stats struct {
	// Starts counts Atomically and AtomicallyReadOnly calls.
	Starts uint64
	// Commits counts committed transactions, read-only ones included.
	Commits uint64
	// ReadOnlyCommits counts transactions committed in read-only mode.
	ReadOnlyCommits uint64
	// Retries counts attempts re-run after an abort.
	Retries uint64
	// Aborts counts aborted attempts, indexed by Reason.
	Aborts [NumReasons]uint64
	// Allocs counts transactional allocations, rolled-back ones included.
	Allocs uint64
	// Frees counts committed transactional frees.
	Frees uint64
	// RolledBackAllocs counts allocations released because their
	// transaction aborted.
	RolledBackAllocs uint64
	// FaultConflicts counts heap faults converted into conflict aborts.
	FaultConflicts uint64
	// GenuineFaults counts faults that surfaced as *FaultError.
	GenuineFaults uint64
	// Clock is the global version clock.
	Clock uint64
	// Goroutines is the number of registered transaction contexts.
	Goroutines int
	// Heap is the heap occupancy.
	Heap heap.Stats
}

// TotalAborts returns the sum of Aborts over all reasons.
func (s Stats) TotalAborts() uint64 {
	var n uint64
	for _, a := range s.Aborts {
		n += a
	}
	return n
}

// AbortRate returns aborts per started transaction.
func (s Stats) AbortRate() float64 {
	if s.Starts == 0 {
		return 0
	}
	return float64(s.TotalAborts()) / float64(s.Starts)
}

// Stats returns a snapshot of engine activity.
//
// Counters are read individually, so a snapshot taken while transactions run
// is only approximately consistent.
func (e *Engine) Stats() Stats {
	s := Stats{
		Starts:           e.counters.starts.Load(),
		Commits:          e.counters.commits.Load(),
		ReadOnlyCommits:  e.counters.readOnlyCommits.Load(),
		Retries:          e.counters.retries.Load(),
		Allocs:           e.counters.allocs.Load(),
		Frees:            e.counters.frees.Load(),
		RolledBackAllocs: e.counters.rolledBack.Load(),
		Clock:            e.clock.Load(),
		Goroutines:       e.registry.Len(),
		Heap:             e.heap.Stats(),
	}
	for i := range s.Aborts {
		s.Aborts[i] = e.counters.aborts[i].Load()
	}
	s.FaultConflicts, s.GenuineFaults = e.guard.Stats()
	return s
}
