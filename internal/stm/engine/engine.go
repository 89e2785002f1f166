// Package engine implements a TL2 software transactional memory engine.
//
// An Engine owns a global version clock, a striped table of versioned locks,
// the transactional heap and a per-goroutine registry of transaction
// contexts. Callers run transactions with Atomically:
//
//	e := engine.New(engine.Options{})
//	counter := e.Alloc(1)
//	err := e.Atomically(func(tx *engine.Tx) error {
//		tx.Store(counter, tx.Load(counter)+1)
//		return nil
//	})
//
// Inside fn every Load is validated against the snapshot taken at begin (rv);
// Stores are buffered in a write-map and published at commit under the
// versioned locks. A conflicting attempt unwinds from deep inside fn back to
// Atomically, which rolls it back and runs fn again. Conflicts never reach
// the caller.
//
// Commit:
//  1. Acquire every required write lock, each with up to LockAttempts
//     non-blocking tries.
//  2. wv = clock.Advance().
//  3. Validate the read-set unless wv == rv+1.
//  4. Check that every write target is still live.
//  5. Write back, then release speculative frees.
//  6. Unlock every held lock with version wv.
//
// Read-only transactions and transactions that neither write nor free commit
// without touching the clock or any lock.
package engine

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/kolkov/gostm/internal/stm/clock"
	"github.com/kolkov/gostm/internal/stm/goroutine"
	"github.com/kolkov/gostm/internal/stm/guard"
	"github.com/kolkov/gostm/internal/stm/heap"
	"github.com/kolkov/gostm/internal/stm/misuse"
	"github.com/kolkov/gostm/internal/stm/vlock"
)

// Addr is a heap address. Nil is never allocated.
type Addr = heap.Addr

// Word is one heap cell.
type Word = heap.Word

// Nil is the null address.
const Nil = heap.Nil

// Memory is the set of primitives client data structures are written
// against. *Tx implements it transactionally; *Engine implements it with
// plain, untracked accesses.
type Memory interface {
	Load(addr Addr) Word
	Store(addr Addr, w Word)
	Alloc(words int) Addr
	Free(addr Addr)
}

var (
	_ Memory = (*Tx)(nil)
	_ Memory = (*Engine)(nil)
)

// hooks lets tests interleave other goroutines at precise points.
type hooks struct {
	// beforeRawLoad runs after pre-validation and before the heap read.
	beforeRawLoad func(tx *Tx, addr Addr)
}

// Engine is a TL2 transactional memory instance.
//
// Thread Safety: Safe for concurrent use. Each goroutine may have at most one
// transaction in progress per engine.
type Engine struct {
	opts     Options
	logger   *zap.Logger
	clock    *clock.Clock
	locks    *vlock.Table
	heap     *heap.Heap
	guard    *guard.Guard
	registry *goroutine.Registry[*Tx]
	sampler  *sampler
	counters counters
	hooks    hooks
}

// New creates an engine.
func New(opts Options) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		opts:    opts,
		logger:  opts.Logger.Named("stm"),
		clock:   clock.New(),
		locks:   vlock.NewTable(opts.LockTableSize),
		heap:    heap.New(opts.HeapWords),
		sampler: newSampler(opts.AbortLogRate),
	}
	e.guard = guard.New(e.logger)
	e.registry = goroutine.NewRegistry(e.newTx)
	e.registry.SetCleanupInterval(opts.CleanupInterval)

	e.logger.Debug("engine created",
		zap.Int("lock-table-size", e.locks.Len()),
		zap.Int("heap-words", e.heap.Cap()),
		zap.Int("lock-attempts", opts.LockAttempts),
		zap.Duration("backoff-base", opts.BackoffBase),
		zap.Duration("backoff-max", opts.BackoffMax))
	return e
}

// Options returns the effective options, defaults applied.
func (e *Engine) Options() Options {
	return e.opts
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *zap.Logger {
	return e.logger
}

// Atomically runs fn as a read-write transaction, retrying it until it
// commits.
//
// If fn returns an error the attempt is rolled back (allocations released,
// stores discarded) and the error is returned without retrying. If fn
// panics the attempt is rolled back and the panic continues. Beginning a
// transaction on a goroutine that is already inside one on this engine
// panics with *ProtocolError.
func (e *Engine) Atomically(fn func(tx *Tx) error) error {
	return e.run(fn, false)
}

// AtomicallyReadOnly runs fn as a read-only transaction.
//
// Loads are validated but not recorded, and commit touches neither the clock
// nor any lock. If fn stores, allocates or frees, the attempt aborts and fn
// is re-run in read-write mode.
func (e *Engine) AtomicallyReadOnly(fn func(tx *Tx) error) error {
	return e.run(fn, true)
}

func (e *Engine) run(fn func(tx *Tx) error, readOnly bool) error {
	slot := e.registry.Current()
	if !slot.Enter() {
		e.misuse("begin", "goroutine %d is already inside a transaction", slot.GID)
	}
	defer slot.Leave()

	tx := slot.Value
	tx.gid = slot.GID
	tx.attempt = 0
	tx.count++
	e.counters.starts.Inc()
	defer tx.reset()

	for {
		retry, err := tx.runAttempt(fn, readOnly)
		if !retry {
			return err
		}
		if tx.reason == ReasonUpgrade {
			readOnly = false
		}
		tx.attempt++
		e.counters.retries.Inc()
		if d := backoffDelay(e.opts.BackoffBase, e.opts.BackoffMax, tx.attempt); d > 0 {
			time.Sleep(d)
		} else {
			runtime.Gosched()
		}
	}
}

// misuse logs and raises a protocol violation.
func (e *Engine) misuse(op, format string, args ...interface{}) {
	err := misuse.New(op, format, args...)
	e.logger.Error("protocol misuse", zap.String("op", op), zap.Error(err))
	panic(err)
}

// Load reads addr outside any transaction. A fault panics with *FaultError.
func (e *Engine) Load(addr Addr) Word {
	w, err := e.heap.Load(addr)
	if err != nil {
		e.plainFault(err)
	}
	return w
}

// Store writes addr outside any transaction. A fault panics with *FaultError.
func (e *Engine) Store(addr Addr, w Word) {
	if err := e.heap.Store(addr, w); err != nil {
		e.plainFault(err)
	}
}

// Alloc allocates words zeroed words outside any transaction.
// It panics if the heap is exhausted; see TryAlloc.
func (e *Engine) Alloc(words int) Addr {
	a, err := e.TryAlloc(words)
	if err != nil {
		panic(err)
	}
	return a
}

// TryAlloc allocates words zeroed words outside any transaction.
func (e *Engine) TryAlloc(words int) (Addr, error) {
	return e.heap.Alloc(words)
}

// Free releases the object at addr outside any transaction. A fault panics
// with *FaultError.
func (e *Engine) Free(addr Addr) {
	if err := e.heap.Free(addr); err != nil {
		e.plainFault(err)
	}
}

// SizeOf returns the payload size of the object at addr.
func (e *Engine) SizeOf(addr Addr) int {
	n, err := e.heap.SizeOf(addr)
	if err != nil {
		e.plainFault(err)
	}
	return n
}

func (e *Engine) plainFault(err error) {
	f, ok := heap.AsFault(err)
	if !ok {
		panic(err)
	}
	// Skip plainFault and the exported accessor.
	panic(e.guard.Report(f, nil, goroutine.CurrentID(), 2))
}

// Cleanup reclaims transaction contexts of goroutines that have exited and
// returns how many were released.
func (e *Engine) Cleanup() int {
	n := e.registry.Cleanup()
	if n > 0 {
		e.logger.Debug("reclaimed transaction contexts",
			zap.Int("count", n),
			zap.Int("owners-in-use", e.registry.Owners()))
	}
	return n
}
