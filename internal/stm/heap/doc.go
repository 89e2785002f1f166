// Package heap implements the transactional heap: a fixed array of atomic
// machine words addressed by stable word indices.
//
// Go gives library code neither raw pointer arithmetic over a shared arena nor
// hardware fault handlers, so the STM engine manages its own memory. Every
// object lives in this heap and is referred to by an Addr, the index of its
// first payload word. Addr 0 (Nil) is never handed out.
//
// Layout of one allocation of n words:
//
//	[ header: n ][ w0 ][ w1 ] ... [ w(n-1) ]
//	             ^ Addr returned by Alloc
//
// Each cell carries a small state flag (unused, header, data, freed). Load and
// Store on a cell that is not live data return a *Fault instead of touching the
// word. The STM's use-after-free guard is built on top of these faults: a
// transaction that races with a committed free sees a Fault instead of reading
// recycled memory.
//
// Cells are sync/atomic words so optimistic readers racing with a committing
// writer are well-defined under the Go memory model. The engine's versioned
// locks decide whether what a reader saw is consistent; the heap itself makes
// no ordering promises beyond single-word atomicity.
//
// Allocation metadata (bump pointer and exact-size free lists) is protected by
// a mutex. Allocation is rare compared to loads and stores.
package heap
