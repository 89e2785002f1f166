package hashmap

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/gostm/internal/stm/engine"
)

func newEngine() *engine.Engine {
	return engine.New(engine.Options{HeapWords: 1 << 18, LockTableSize: 1 << 12})
}

func TestBasicOperations(t *testing.T) {
	e := newEngine()
	h := New(e, 8)

	assert.True(t, h.Put(e, 1, 10))
	assert.True(t, h.Put(e, 9, 90)) // same bucket as 1
	assert.True(t, h.Put(e, -3, 30))
	assert.False(t, h.Put(e, 9, 91), "existing key is updated, not inserted")

	v, ok := h.Get(e, 9)
	assert.True(t, ok)
	assert.Equal(t, int64(91), v)
	assert.True(t, h.Contains(e, -3))
	assert.False(t, h.Contains(e, 2))
	assert.Equal(t, 3, h.Len(e))

	assert.True(t, h.Remove(e, 1))
	assert.False(t, h.Remove(e, 1))
	v, ok = h.Get(e, 9)
	assert.True(t, ok, "chain must survive removal of its head")
	assert.Equal(t, int64(91), v)
	assert.Equal(t, 2, h.Len(e))
	assert.NoError(t, h.Verify(e))
	assert.Equal(t, 8, h.Buckets(e))
	assert.Equal(t, h, Attach(h.Table()))
}

// TestAgainstReference runs a random op sequence against a Go map.
func TestAgainstReference(t *testing.T) {
	e := newEngine()
	h := New(e, 16)
	ref := make(map[int64]int64)
	r := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 5000; i++ {
		k := int64(r.IntN(200)) - 100
		switch r.IntN(3) {
		case 0:
			_, existed := ref[k]
			assert.Equal(t, !existed, h.Put(e, k, int64(i)))
			ref[k] = int64(i)
		case 1:
			_, existed := ref[k]
			assert.Equal(t, existed, h.Remove(e, k))
			delete(ref, k)
		default:
			want, existed := ref[k]
			got, ok := h.Get(e, k)
			assert.Equal(t, existed, ok)
			assert.Equal(t, want, got)
		}
	}

	require.NoError(t, h.Verify(e))
	assert.Equal(t, len(ref), h.Len(e))
	h.Range(e, func(k, v int64) bool {
		assert.Equal(t, ref[k], v)
		return true
	})
}

func TestRemoveFreesNodes(t *testing.T) {
	e := newEngine()
	h := New(e, 4)
	base := e.Stats().Heap.LiveObjects

	for k := int64(0); k < 10; k++ {
		require.NoError(t, e.Atomically(func(tx *engine.Tx) error {
			h.Put(tx, k, k)
			return nil
		}))
	}
	assert.Equal(t, base+10, e.Stats().Heap.LiveObjects)

	for k := int64(0); k < 10; k++ {
		require.NoError(t, e.Atomically(func(tx *engine.Tx) error {
			h.Remove(tx, k)
			return nil
		}))
	}
	assert.Equal(t, base, e.Stats().Heap.LiveObjects)

	h.Destroy(e)
	assert.Equal(t, base-1, e.Stats().Heap.LiveObjects)
}

func TestConcurrentTransactions(t *testing.T) {
	const (
		goroutines = 8
		perG       = 200
	)
	e := newEngine()
	h := New(e, 32)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				key := int64(g*perG + i)
				assert.NoError(t, e.Atomically(func(tx *engine.Tx) error {
					h.Put(tx, key, key*2)
					return nil
				}))
				if i%2 == 1 {
					assert.NoError(t, e.Atomically(func(tx *engine.Tx) error {
						h.Remove(tx, key-1)
						return nil
					}))
				}
				var ok bool
				assert.NoError(t, e.AtomicallyReadOnly(func(tx *engine.Tx) error {
					_, ok = h.Get(tx, key)
					return nil
				}))
				assert.True(t, ok, "own insert of %d must be visible", key)
			}
		}(g)
	}
	wg.Wait()

	require.NoError(t, h.Verify(e))
	assert.Equal(t, goroutines*perG/2, h.Len(e))
	for g := 0; g < goroutines; g++ {
		for i := 0; i < perG; i++ {
			key := int64(g*perG + i)
			v, ok := h.Get(e, key)
			assert.Equal(t, i%2 == 1, ok, "key %d", key)
			if ok {
				assert.Equal(t, key*2, v)
			}
		}
	}
}

func BenchmarkPutGet(b *testing.B) {
	e := newEngine()
	h := New(e, 1024)
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewPCG(rand.Uint64(), 0))
		for pb.Next() {
			k := int64(r.IntN(4096))
			_ = e.Atomically(func(tx *engine.Tx) error {
				h.Put(tx, k, k)
				return nil
			})
			_ = e.AtomicallyReadOnly(func(tx *engine.Tx) error {
				h.Get(tx, k)
				return nil
			})
		}
	})
}
