// Package stm provides the public API of the TL2 software transactional
// memory engine.
//
// See doc.go for detailed documentation and examples.
package stm

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kolkov/gostm/internal/stm/engine"
)

// Engine is a transactional memory instance. See New.
type Engine = engine.Engine

// Tx is a goroutine's transaction context, passed to the function run by
// Atomically.
type Tx = engine.Tx

// Options configures an Engine. The zero value selects every default.
type Options = engine.Options

// Stats is a snapshot of engine activity.
type Stats = engine.Stats

// Memory is implemented by *Tx (tracked accesses) and *Engine (plain
// accesses). Data structures written against Memory run either way.
type Memory = engine.Memory

// Addr is a heap address; Word is one heap cell.
type (
	Addr = engine.Addr
	Word = engine.Word
)

// Reason says why a transaction attempt was aborted.
type Reason = engine.Reason

// ProtocolError is the panic value for misuse of the transaction protocol.
type ProtocolError = engine.ProtocolError

// FaultError is the panic value for a genuine use-after-free or wild access.
type FaultError = engine.FaultError

// Nil is the null address.
const Nil = engine.Nil

// ErrOutOfMemory is returned by Atomically when an allocation cannot be
// satisfied.
var ErrOutOfMemory = engine.ErrOutOfMemory

// New returns an engine configured by opts.
func New(opts Options) *Engine {
	return engine.New(opts)
}

var (
	defaultMu     sync.Mutex
	defaultEngine *Engine
)

// Init replaces the default engine with a fresh one configured by opts.
//
// Objects allocated in the previous default engine are not carried over.
// Init must not race with transactions running on the default engine.
//
//	func main() {
//		stm.Init(stm.Options{HeapWords: 1 << 20})
//		defer stm.Fini()
//		// ... rest of program
//	}
func Init(opts Options) {
	defaultMu.Lock()
	defaultEngine = engine.New(opts)
	defaultMu.Unlock()
}

// Default returns the default engine, creating it with zero Options on first
// use.
func Default() *Engine {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultEngine == nil {
		defaultEngine = engine.New(Options{})
	}
	return defaultEngine
}

// Fini logs a summary of the default engine, drops it and returns its final
// statistics. A later call to Default or Init starts a new engine.
//
// The summary includes:
//   - Commits, aborts and retries
//   - Aborts by reason
//   - Heap occupancy
func Fini() Stats {
	defaultMu.Lock()
	e := defaultEngine
	defaultEngine = nil
	defaultMu.Unlock()
	if e == nil {
		return Stats{}
	}

	s := e.Stats()
	fields := []zap.Field{
		zap.Uint64("started", s.Starts),
		zap.Uint64("commits", s.Commits),
		zap.Uint64("read-only-commits", s.ReadOnlyCommits),
		zap.Uint64("retries", s.Retries),
		zap.Uint64("aborts", s.TotalAborts()),
	}
	for _, r := range engine.Reasons() {
		if n := s.Aborts[r]; n != 0 {
			fields = append(fields, zap.Uint64("aborts-"+r.String(), n))
		}
	}
	fields = append(fields,
		zap.Int64("live-objects", s.Heap.LiveObjects),
		zap.Int64("live-words", s.Heap.LiveWords),
		zap.Uint64("genuine-faults", s.GenuineFaults))
	e.Logger().Info("engine summary", fields...)
	return s
}

// Atomically runs fn as a transaction on the default engine. See
// (*Engine).Atomically.
func Atomically(fn func(tx *Tx) error) error {
	return Default().Atomically(fn)
}

// AtomicallyReadOnly runs fn as a read-only transaction on the default
// engine. See (*Engine).AtomicallyReadOnly.
func AtomicallyReadOnly(fn func(tx *Tx) error) error {
	return Default().AtomicallyReadOnly(fn)
}

// Alloc allocates words zeroed words on the default engine outside any
// transaction.
func Alloc(words int) Addr {
	return Default().Alloc(words)
}

// Free releases the object at addr on the default engine outside any
// transaction.
func Free(addr Addr) {
	Default().Free(addr)
}

// Load reads addr on the default engine outside any transaction.
func Load(addr Addr) Word {
	return Default().Load(addr)
}

// Store writes w to addr on the default engine outside any transaction.
func Store(addr Addr, w Word) {
	Default().Store(addr, w)
}
