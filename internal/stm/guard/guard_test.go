package guard

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kolkov/gostm/internal/stm/heap"
)

type fakeTx struct {
	active   bool
	inFlight heap.Addr
	readSet  map[heap.Addr]bool
	stale    bool
}

func (f *fakeTx) Active() bool { return f.active }
func (f *fakeTx) Owner() uint64 { return 9 }
func (f *fakeTx) InFlight(a heap.Addr) bool { return a == f.inFlight }
func (f *fakeTx) ReadSetContains(a heap.Addr) bool { return f.readSet[a] }
func (f *fakeTx) Stale(heap.Addr) bool { return f.stale }

func TestJudge(t *testing.T) {
	fault := &heap.Fault{Addr: 40, Kind: heap.FaultFreed, Op: "load"}

	tests := []struct {
		name string
		tx   Snapshot
		want Verdict
	}{
		{"outside transaction", nil, Propagate},
		{"inactive transaction", &fakeTx{active: false, inFlight: 40, stale: true}, Propagate},
		{"in flight and stale", &fakeTx{active: true, inFlight: 40, stale: true}, Conflict},
		{"in read-set and stale", &fakeTx{active: true, readSet: map[heap.Addr]bool{40: true}, stale: true}, Conflict},
		{"in flight but fresh snapshot", &fakeTx{active: true, inFlight: 40, stale: false}, Propagate},
		{"untracked address", &fakeTx{active: true, inFlight: 41, stale: true}, Propagate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(nil)
			assert.Equal(t, tt.want, g.Judge(fault, tt.tx))
		})
	}
}

func TestJudgeCounts(t *testing.T) {
	g := New(nil)
	fault := &heap.Fault{Addr: 1, Kind: heap.FaultFreed, Op: "load"}
	g.Judge(fault, &fakeTx{active: true, inFlight: 1, stale: true})
	g.Judge(fault, nil)
	g.Judge(fault, nil)

	conflicts, genuine := g.Stats()
	assert.Equal(t, uint64(1), conflicts)
	assert.Equal(t, uint64(2), genuine)
}

func TestReportLogsOnceWithStack(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	g := New(zap.New(core))
	fault := &heap.Fault{Addr: 40, Kind: heap.FaultFreed, Op: "load"}
	tx := &fakeTx{active: true}

	var errs []*FaultError
	for i := 0; i < 2; i++ {
		errs = append(errs, g.Report(fault, tx, 17, 0))
	}

	require.Equal(t, 2, logs.Len())
	first := logs.All()[0]
	assert.Equal(t, "heap fault", first.Message)
	assert.Contains(t, first.ContextMap()["stack"], "TestReportLogsOnceWithStack")
	assert.Equal(t, "repeated heap fault", logs.All()[1].Message)
	assert.NotContains(t, logs.All()[1].ContextMap(), "stack")

	fe := errs[0]
	assert.True(t, fe.InTx)
	assert.Equal(t, uint64(9), fe.Owner)
	assert.Equal(t, int64(17), fe.GID)
	assert.True(t, errors.Is(fe, fault), "FaultError must unwrap to the heap fault")
	assert.True(t, strings.Contains(fe.Error(), "freed fault at 0x28"), fe.Error())
}

func TestFaultErrorOutsideTransaction(t *testing.T) {
	g := New(nil)
	fe := g.Report(&heap.Fault{Addr: 3, Kind: heap.FaultUnallocated, Op: "store"}, nil, 1, 0)
	assert.False(t, fe.InTx)
	assert.Contains(t, fe.Error(), "outside a transaction")
}
