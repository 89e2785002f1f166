package workload

import (
	"github.com/kolkov/gostm/internal/hashmap"
	"github.com/kolkov/gostm/internal/rbtree"
	"github.com/kolkov/gostm/internal/stm/engine"
)

// Set is a transactional key set under benchmark.
type Set interface {
	Name() string
	Get(m engine.Memory, key int64) bool
	Put(m engine.Memory, key int64) bool
	Delete(m engine.Memory, key int64) bool
	Len(m engine.Memory) int
	Verify(m engine.Memory) error
}

type hashSet struct {
	h hashmap.Map
}

// NewHashMap allocates an empty hash map with the given bucket count in e.
func NewHashMap(e *engine.Engine, buckets int) Set {
	return hashSet{h: hashmap.New(e, buckets)}
}

func (s hashSet) Name() string { return "hashmap" }

func (s hashSet) Get(m engine.Memory, key int64) bool { return s.h.Contains(m, key) }

func (s hashSet) Put(m engine.Memory, key int64) bool { return s.h.Put(m, key, 0) }

func (s hashSet) Delete(m engine.Memory, key int64) bool { return s.h.Remove(m, key) }

func (s hashSet) Len(m engine.Memory) int { return s.h.Len(m) }

func (s hashSet) Verify(m engine.Memory) error { return s.h.Verify(m) }

type treeSet struct {
	t rbtree.Tree
}

// NewTree allocates an empty red-black tree in e.
func NewTree(e *engine.Engine) Set {
	return treeSet{t: rbtree.New(e)}
}

func (s treeSet) Name() string { return "rbtree" }

func (s treeSet) Get(m engine.Memory, key int64) bool { return s.t.Contains(m, key) }

func (s treeSet) Put(m engine.Memory, key int64) bool { return s.t.Insert(m, key) }

func (s treeSet) Delete(m engine.Memory, key int64) bool { return s.t.Delete(m, key) }

func (s treeSet) Len(m engine.Memory) int { return s.t.Len(m) }

func (s treeSet) Verify(m engine.Memory) error { return s.t.Verify(m) }
