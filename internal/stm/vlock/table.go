package vlock

import (
	"encoding/binary"

	"github.com/dgryski/go-farm"
)

// DefaultTableSize is the number of stripes when none is configured.
const DefaultTableSize = 1 << 18

// Table is a fixed-size array of versioned locks.
//
// Addresses are striped onto locks by a fixed hash modulo the table size, so
// several addresses may share one lock. Aliasing only ever produces spurious
// conflicts, never missed ones: two transactions touching the same address
// always touch the same lock.
//
// The table is created once per engine and never resized.
type Table struct {
	locks []VersionedLock
	mask  uint64
}

// NewTable creates a table with size stripes.
//
// size is rounded up to the next power of two; values < 1 use
// DefaultTableSize.
//
// Example:
//
//	t := NewTable(1024)
//	l := t.For(42)        // lock covering address 42
//	same := t.For(42) == l // true, the mapping is fixed
func NewTable(size int) *Table {
	if size < 1 {
		size = DefaultTableSize
	}
	n := nextPowerOfTwo(uint64(size))
	return &Table{
		locks: make([]VersionedLock, n),
		mask:  n - 1,
	}
}

// Len returns the number of stripes.
func (t *Table) Len() int {
	return len(t.locks)
}

// Index returns the stripe index covering addr.
func (t *Table) Index(addr uint64) int {
	if t.mask == 0 {
		return 0
	}
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], addr)
	return int(farm.Fingerprint64(key[:]) & t.mask)
}

// For returns the lock covering addr.
//
//go:nosplit
func (t *Table) For(addr uint64) *VersionedLock {
	return &t.locks[t.Index(addr)]
}

// Held returns the number of stripes currently locked.
//
// Intended for tests and diagnostics; the result is a racy snapshot.
func (t *Table) Held() int {
	n := 0
	for i := range t.locks {
		if t.locks[i].IsLocked() {
			n++
		}
	}
	return n
}

func nextPowerOfTwo(n uint64) uint64 {
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}
