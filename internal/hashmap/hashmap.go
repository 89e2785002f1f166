// Package hashmap implements a separate-chaining int64 -> int64 map stored in
// STM heap memory.
//
// Every access goes through an engine.Memory, so the same code runs
// transactionally (with a *engine.Tx) or plainly (with the *engine.Engine, for
// setup and verification).
//
// Layout:
//
//	table: [ nbuckets ][ b0 ][ b1 ] ... [ b(n-1) ]   bucket heads
//	node:  [ key ][ value ][ next ]
//
// Keys map to bucket key mod nbuckets. The bucket array is fixed at creation;
// the map never rehashes.
package hashmap

import (
	"github.com/pingcap/errors"

	"github.com/kolkov/gostm/internal/stm/engine"
)

// Node field offsets.
const (
	fieldKey = iota
	fieldValue
	fieldNext
	nodeWords
)

// DefaultBuckets is the bucket count used when none is given.
const DefaultBuckets = 1024

// Map is a handle to a hash map in heap memory. It holds only the address of
// the bucket table and is safe to copy and share.
type Map struct {
	table engine.Addr
}

// New allocates an empty map with buckets buckets through m.
func New(m engine.Memory, buckets int) Map {
	if buckets < 1 {
		buckets = DefaultBuckets
	}
	table := m.Alloc(buckets + 1)
	m.Store(table, engine.Word(buckets))
	return Map{table: table}
}

// Attach returns a handle to the map whose bucket table is at table.
func Attach(table engine.Addr) Map {
	return Map{table: table}
}

// Table returns the address of the bucket table.
func (h Map) Table() engine.Addr {
	return h.table
}

// Buckets returns the number of buckets.
func (h Map) Buckets(m engine.Memory) int {
	return int(m.Load(h.table))
}

func (h Map) bucket(m engine.Memory, key int64) engine.Addr {
	n := uint64(m.Load(h.table))
	return h.table.Offset(1 + int(uint64(key)%n))
}

func next(n engine.Addr) engine.Addr { return n.Offset(fieldNext) }

func keyOf(m engine.Memory, n engine.Addr) int64 {
	return int64(m.Load(n.Offset(fieldKey)))
}

// Get returns the value stored under key.
func (h Map) Get(m engine.Memory, key int64) (int64, bool) {
	for n := engine.Addr(m.Load(h.bucket(m, key))); n != engine.Nil; n = engine.Addr(m.Load(next(n))) {
		if keyOf(m, n) == key {
			return int64(m.Load(n.Offset(fieldValue))), true
		}
	}
	return 0, false
}

// Contains reports whether key is present.
func (h Map) Contains(m engine.Memory, key int64) bool {
	_, ok := h.Get(m, key)
	return ok
}

// Put stores value under key and reports whether key was newly inserted.
// New keys are appended at the tail of their chain.
func (h Map) Put(m engine.Memory, key, value int64) bool {
	link := h.bucket(m, key)
	for n := engine.Addr(m.Load(link)); n != engine.Nil; n = engine.Addr(m.Load(link)) {
		if keyOf(m, n) == key {
			m.Store(n.Offset(fieldValue), engine.Word(value))
			return false
		}
		link = next(n)
	}

	n := m.Alloc(nodeWords)
	m.Store(n.Offset(fieldKey), engine.Word(key))
	m.Store(n.Offset(fieldValue), engine.Word(value))
	m.Store(link, engine.Word(n))
	return true
}

// Remove deletes key and frees its node. Reports whether key was present.
func (h Map) Remove(m engine.Memory, key int64) bool {
	link := h.bucket(m, key)
	for n := engine.Addr(m.Load(link)); n != engine.Nil; n = engine.Addr(m.Load(link)) {
		if keyOf(m, n) == key {
			m.Store(link, m.Load(next(n)))
			m.Free(n)
			return true
		}
		link = next(n)
	}
	return false
}

// Range calls fn for every entry, bucket by bucket, until fn returns false.
func (h Map) Range(m engine.Memory, fn func(key, value int64) bool) {
	buckets := h.Buckets(m)
	for b := 0; b < buckets; b++ {
		for n := engine.Addr(m.Load(h.table.Offset(1 + b))); n != engine.Nil; n = engine.Addr(m.Load(next(n))) {
			if !fn(keyOf(m, n), int64(m.Load(n.Offset(fieldValue)))) {
				return
			}
		}
	}
}

// Len returns the number of entries. It walks every bucket.
func (h Map) Len(m engine.Memory) int {
	count := 0
	h.Range(m, func(int64, int64) bool {
		count++
		return true
	})
	return count
}

// Verify checks that every key sits in its own bucket exactly once.
func (h Map) Verify(m engine.Memory) error {
	buckets := h.Buckets(m)
	if buckets < 1 {
		return errors.Errorf("hashmap: invalid bucket count %d", buckets)
	}
	seen := make(map[int64]struct{})
	for b := 0; b < buckets; b++ {
		for n := engine.Addr(m.Load(h.table.Offset(1 + b))); n != engine.Nil; n = engine.Addr(m.Load(next(n))) {
			k := keyOf(m, n)
			if want := int(uint64(k) % uint64(buckets)); want != b {
				return errors.Errorf("hashmap: key %d in bucket %d, want %d", k, b, want)
			}
			if _, dup := seen[k]; dup {
				return errors.Errorf("hashmap: duplicate key %d", k)
			}
			seen[k] = struct{}{}
		}
	}
	return nil
}

// Destroy frees every node and the bucket table.
func (h Map) Destroy(m engine.Memory) {
	buckets := h.Buckets(m)
	for b := 0; b < buckets; b++ {
		n := engine.Addr(m.Load(h.table.Offset(1 + b)))
		for n != engine.Nil {
			nx := engine.Addr(m.Load(next(n)))
			m.Free(n)
			n = nx
		}
	}
	m.Free(h.table)
}
