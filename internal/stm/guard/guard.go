// Package guard implements the fault-based use-after-free guard.
//
// TL2 lets a transaction read memory optimistically. Between reading a
// pointer and dereferencing it, a concurrent transaction may commit a free of
// the target, so the dereference can land on a released heap cell. The heap
// reports such accesses as a *heap.Fault; the Guard decides what the fault
// means:
//
//   - Conflict: the faulting address belongs to the transaction's in-flight
//     load or its read-set, and the snapshot is stale (the covering lock moved
//     past rv or is held, or the read-set no longer validates). The fault is a
//     symptom of a conflict that validation would have caught anyway; the
//     transaction aborts and retries.
//   - Propagate: anything else. The fault is a genuine use-after-free or wild
//     access in the caller's code. The guard logs a report with the stack that
//     faulted and the engine panics with a *FaultError.
//
// Faults outside a transaction are always propagated.
//
// The guard is best-effort. Pre- and post-validation catch most conflicts
// before the raw access; the guard covers the window in between.
package guard

import (
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/kolkov/gostm/internal/stm/heap"
	"github.com/kolkov/gostm/internal/stm/stackdepot"
)

// Verdict is the guard's decision about a fault.
type Verdict int

const (
	// Propagate means the fault is genuine and must surface.
	Propagate Verdict = iota
	// Conflict means the fault is explained by a concurrent commit.
	Conflict
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case Propagate:
		return "propagate"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Snapshot is the faulting transaction as seen by the guard.
type Snapshot interface {
	// Active reports whether a transaction is in progress.
	Active() bool

	// Owner is the lock owner id of the transaction's goroutine.
	Owner() uint64

	// InFlight reports whether addr is the address currently being loaded.
	InFlight(addr heap.Addr) bool

	// ReadSetContains reports whether addr was recorded in the read-set.
	ReadSetContains(addr heap.Addr) bool

	// Stale reports whether the snapshot observed at rv can no longer be
	// trusted for addr.
	Stale(addr heap.Addr) bool
}

// Guard classifies faults and reports genuine ones.
//
// Thread Safety: Safe for concurrent use.
type Guard struct {
	logger *zap.Logger
	depot  *stackdepot.Depot

	// reported holds dedup keys of faults already logged with a full stack.
	reported sync.Map

	conflicts atomic.Uint64
	genuine   atomic.Uint64
}

// New creates a guard that logs to logger. A nil logger discards reports.
func New(logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		logger: logger.Named("guard"),
		depot:  stackdepot.New(),
	}
}

// Judge classifies f raised inside the transaction described by s.
func (g *Guard) Judge(f *heap.Fault, s Snapshot) Verdict {
	if f == nil || s == nil || !s.Active() {
		g.genuine.Inc()
		return Propagate
	}
	tracked := s.InFlight(f.Addr) || s.ReadSetContains(f.Addr)
	if tracked && s.Stale(f.Addr) {
		g.conflicts.Inc()
		return Conflict
	}
	g.genuine.Inc()
	return Propagate
}

// Report captures the stack of a genuine fault, logs it and returns the
// error the engine panics with.
//
// skip is the number of frames above Report's caller to omit from the stack.
// The full stack is logged the first time a (kind, address, call site)
// combination is seen; repeats are logged with the stack id only.
func (g *Guard) Report(f *heap.Fault, s Snapshot, gid int64, skip int) *FaultError {
	stackID := g.depot.Capture(skip + 1)
	fe := &FaultError{
		Fault:   f,
		GID:     gid,
		StackID: stackID,
		Stack:   g.depot.Get(stackID),
	}
	if s != nil {
		fe.InTx = s.Active()
		fe.Owner = s.Owner()
	}

	key := f.Kind.String() + ":" + f.Addr.String() + ":" + strconv.FormatUint(stackID, 16)
	fields := []zap.Field{
		zap.Stringer("addr", f.Addr),
		zap.Stringer("kind", f.Kind),
		zap.String("op", f.Op),
		zap.Bool("in-tx", fe.InTx),
		zap.Uint64("owner", fe.Owner),
		zap.Int64("goroutine", gid),
		zap.Uint64("stack-id", stackID),
	}
	if _, dup := g.reported.LoadOrStore(key, struct{}{}); dup {
		g.logger.Error("repeated heap fault", fields...)
		return fe
	}
	g.logger.Error("heap fault", append(fields, zap.String("stack", fe.Stack.Format()))...)
	return fe
}

// Stats returns the number of faults judged as conflicts and as genuine.
func (g *Guard) Stats() (conflicts, genuine uint64) {
	return g.conflicts.Load(), g.genuine.Load()
}

// FaultError is the panic value for a genuine fault.
type FaultError struct {
	Fault   *heap.Fault
	InTx    bool
	Owner   uint64
	GID     int64
	StackID uint64
	Stack   *stackdepot.StackTrace
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	where := "outside a transaction"
	if e.InTx {
		where = fmt.Sprintf("in transaction of owner %d", e.Owner)
	}
	return fmt.Sprintf("stm: %s fault at %s during %s %s (goroutine %d, at %s)",
		e.Fault.Kind, e.Fault.Addr, e.Fault.Op, where, e.GID, e.Stack.Top())
}

// Unwrap returns the heap fault.
func (e *FaultError) Unwrap() error {
	return e.Fault
}
