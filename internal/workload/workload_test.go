package workload

import (
	"context"
	"strings"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kolkov/gostm/internal/stm/engine"
)

func newEngine() *engine.Engine {
	return engine.New(engine.Options{HeapWords: 1 << 18, LockTableSize: 1 << 12})
}

func TestGenerate(t *testing.T) {
	m := Mix{Ops: 10000, KeyMin: 100, KeyMax: 200, PutRatio: 0.3, DeleteRatio: 0.3, Seed: 7}
	ops, err := Generate(m)
	require.NoError(t, err)
	require.Len(t, ops, m.Ops)

	var counts [numOps]int
	for _, op := range ops {
		assert.GreaterOrEqual(t, op.Key, m.KeyMin)
		assert.Less(t, op.Key, m.KeyMax)
		counts[op.Op]++
	}
	assert.InDelta(t, 3000, counts[OpPut], 300)
	assert.InDelta(t, 3000, counts[OpDelete], 300)
	assert.InDelta(t, 4000, counts[OpGet], 300)

	again, err := Generate(m)
	require.NoError(t, err)
	assert.Equal(t, ops, again, "same seed, same workload")
}

func TestGenerateRejectsBadMix(t *testing.T) {
	tests := []struct {
		name string
		mix  Mix
	}{
		{"negative ops", Mix{Ops: -1, KeyMax: 10}},
		{"empty range", Mix{Ops: 1, KeyMin: 5, KeyMax: 5}},
		{"ratios over one", Mix{Ops: 1, KeyMax: 10, PutRatio: 0.7, DeleteRatio: 0.7}},
		{"negative ratio", Mix{Ops: 1, KeyMax: 10, PutRatio: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Generate(tt.mix)
			assert.Error(t, err)
		})
	}
}

func TestPartition(t *testing.T) {
	ops := make([]Operation, 10)
	for i := range ops {
		ops[i].Key = int64(i)
	}
	parts := Partition(ops, 3)
	require.Len(t, parts, 3)
	assert.Equal(t, []Operation{{Key: 0}, {Key: 3}, {Key: 6}, {Key: 9}}, parts[0])
	assert.Equal(t, []Operation{{Key: 1}, {Key: 4}, {Key: 7}}, parts[1])
	assert.Equal(t, []Operation{{Key: 2}, {Key: 5}, {Key: 8}}, parts[2])

	assert.Len(t, Partition(ops, 0), 1)
}

// TestSingleThreadMatchesReplay checks a one-worker run against a Go map
// replay of the same operations.
func TestSingleThreadMatchesReplay(t *testing.T) {
	lo, hi := KeyRange(true)
	ops, err := Generate(Mix{Ops: 3000, KeyMin: lo, KeyMax: hi, PutRatio: 0.4, DeleteRatio: 0.3, Seed: 11})
	require.NoError(t, err)

	for _, mk := range []func(*engine.Engine) Set{
		func(e *engine.Engine) Set { return NewHashMap(e, 64) },
		NewTree,
	} {
		e := newEngine()
		set := mk(e)
		t.Run(set.Name(), func(t *testing.T) {
			ref := make(map[int64]bool)
			for k := lo; k < hi; k += 2 {
				ref[k] = true
			}
			assert.Equal(t, len(ref), Prefill(e, set, lo, hi))
			for _, op := range ops {
				switch op.Op {
				case OpPut:
					ref[op.Key] = true
				case OpDelete:
					delete(ref, op.Key)
				}
			}

			res, err := Run(context.Background(), e, set, ops, Config{Threads: 1, Logger: zaptest.NewLogger(t)})
			require.NoError(t, err)
			assert.Equal(t, len(ops), res.Ops)
			assert.Equal(t, len(ref), res.FinalSize)
			for k := lo; k < hi; k++ {
				assert.Equal(t, ref[k], set.Get(e, k), "key %d", k)
			}
			assert.Zero(t, res.Aborts, "a lone worker never conflicts")
			assert.Equal(t, uint64(len(ops)), res.Commits)
		})
	}
}

func TestConcurrentRunKeepsInvariants(t *testing.T) {
	lo, hi := KeyRange(true)
	ops, err := Generate(Mix{Ops: 8000, KeyMin: lo, KeyMax: hi, PutRatio: 0.3, DeleteRatio: 0.3, Seed: 5})
	require.NoError(t, err)

	for _, mk := range []func(*engine.Engine) Set{
		func(e *engine.Engine) Set { return NewHashMap(e, 16) },
		NewTree,
	} {
		e := newEngine()
		set := mk(e)
		t.Run(set.Name(), func(t *testing.T) {
			Prefill(e, set, lo, hi)
			res, err := Run(context.Background(), e, set, ops, Config{Threads: 8})
			require.NoError(t, err)
			assert.Equal(t, len(ops), res.Ops)
			assert.Equal(t, uint64(len(ops)), res.Commits)
			assert.Equal(t, res.Aborts, res.Retries, "every abort is followed by one retry")
			assert.LessOrEqual(t, res.FinalSize, int(hi-lo))
			assert.LessOrEqual(t, res.P50, res.P99)
			assert.Contains(t, res.String(), set.Name())
		})
	}
}

func TestRunCancelled(t *testing.T) {
	e := newEngine()
	set := NewHashMap(e, 16)
	ops, err := Generate(Mix{Ops: 100, KeyMin: 0, KeyMax: 10, Seed: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, e, set, ops, Config{Threads: 2})
	assert.Equal(t, context.Canceled, errors.Cause(err))
	assert.Zero(t, res.Ops)
}

func TestRateLimitedRun(t *testing.T) {
	e := newEngine()
	set := NewTree(e)
	ops, err := Generate(Mix{Ops: 50, KeyMin: 0, KeyMax: 10, PutRatio: 1, Seed: 2})
	require.NoError(t, err)

	res, err := Run(context.Background(), e, set, ops, Config{Threads: 2, OpsPerSecond: 10000})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Ops)
	assert.Equal(t, 50, res.Counts[OpPut])
}

func TestRunCounter(t *testing.T) {
	e := newEngine()
	res, err := RunCounter(context.Background(), e, 4, 250, nil)
	require.NoError(t, err)
	assert.Equal(t, 1000, res.FinalSize)
	assert.Equal(t, "counter", res.Structure)
	assert.True(t, strings.HasPrefix(res.String(), "counter: 1000 ops on 4 threads"))
	assert.Zero(t, e.Stats().Heap.LiveObjects, "counter cell is released")
}

func TestDetectHost(t *testing.T) {
	h := DetectHost()
	assert.Positive(t, h.LogicalCPUs)
	assert.Positive(t, h.DefaultThreads())
	assert.Positive(t, h.GOMAXPROCS)
}
