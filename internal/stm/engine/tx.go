package engine

import (
	"go.uber.org/zap"

	"github.com/kolkov/gostm/internal/stm/guard"
	"github.com/kolkov/gostm/internal/stm/heap"
	"github.com/kolkov/gostm/internal/stm/misuse"
	"github.com/kolkov/gostm/internal/stm/vlock"
)

// txState is the lifecycle state of a transaction context.
//
//	Idle -> Active -> Committing -> Idle
//	Active | Committing -> Aborted -> Active (retry) | Idle
type txState uint8

const (
	txIdle txState = iota
	txActive
	txCommitting
	txAborted
)

func (s txState) String() string {
	switch s {
	case txIdle:
		return "idle"
	case txActive:
		return "active"
	case txCommitting:
		return "committing"
	case txAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Tx is a goroutine's transaction context on one engine.
//
// A Tx is handed to the function passed to Atomically and must only be used
// from that goroutine, inside that function. Outside a transaction its
// operations fall through to plain heap accesses.
type Tx struct {
	e     *Engine
	owner uint64
	gid   int64

	state    txState
	readOnly bool
	rv       uint64
	wv       uint64

	readSet  []Addr
	writes   map[Addr]Word
	required []*vlock.VersionedLock
	held     []*vlock.VersionedLock
	heldSet  map[*vlock.VersionedLock]struct{}
	allocs   []Addr
	frees    []Addr
	freeSet  map[Addr]struct{}

	// loading is the address between pre- and post-validation, and
	// loadingLock the lock it was validated against.
	loading     Addr
	loadingLock *vlock.VersionedLock

	count   uint64 // transactions started by this goroutine
	attempt int    // retries of the current transaction
	reason  Reason // reason of the last abort
}

func (e *Engine) newTx(owner uint64) *Tx {
	return &Tx{
		e:       e,
		owner:   owner,
		writes:  make(map[Addr]Word),
		heldSet: make(map[*vlock.VersionedLock]struct{}),
		freeSet: make(map[Addr]struct{}),
	}
}

// Owner returns the lock owner id of the transaction's goroutine.
func (tx *Tx) Owner() uint64 {
	return tx.owner
}

// Attempt returns the zero-based attempt number of the current transaction.
func (tx *Tx) Attempt() int {
	return tx.attempt
}

// ReadOnly reports whether the current attempt runs in read-only mode.
func (tx *Tx) ReadOnly() bool {
	return tx.readOnly
}

// ReadVersion returns rv, the clock value sampled at begin.
func (tx *Tx) ReadVersion() uint64 {
	return tx.rv
}

// Count returns the number of transactions this goroutine has started on the
// engine.
func (tx *Tx) Count() uint64 {
	return tx.count
}

// begin starts an attempt.
func (tx *Tx) begin(readOnly bool) {
	if tx.state == txActive || tx.state == txCommitting {
		tx.e.misuse("begin", "transaction of owner %d is already %s", tx.owner, tx.state)
	}
	tx.clear()
	tx.readOnly = readOnly
	tx.rv = tx.e.clock.Load()
	tx.state = txActive
}

// runAttempt runs fn once. It reports whether the transaction must be retried
// and, when it must not, the error to return from Atomically.
func (tx *Tx) runAttempt(fn func(tx *Tx) error, readOnly bool) (retry bool, err error) {
	tx.begin(readOnly)

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch sig := r.(type) {
		case *abortSignal:
			retry, err = true, nil
		case *userAbort:
			retry, err = false, sig.err
		default:
			if tx.state == txActive || tx.state == txCommitting {
				tx.rollback(ReasonUser)
			}
			if !misuse.Is(r) {
				tx.e.logger.Debug("transaction panicked",
					zap.Uint64("owner", tx.owner),
					zap.Any("panic", r))
			}
			panic(r)
		}
	}()

	userErr := fn(tx)
	if tx.state == txAborted {
		// fn recovered an abort itself; the attempt is void.
		return true, nil
	}
	if userErr != nil {
		tx.rollback(ReasonUser)
		return false, userErr
	}
	tx.commit()
	return false, nil
}

// reset returns the context to Idle once Atomically is done with it.
func (tx *Tx) reset() {
	tx.clear()
	tx.state = txIdle
	tx.readOnly = false
}

func (tx *Tx) clear() {
	tx.readSet = tx.readSet[:0]
	clear(tx.writes)
	tx.required = tx.required[:0]
	tx.held = tx.held[:0]
	clear(tx.heldSet)
	tx.allocs = tx.allocs[:0]
	tx.frees = tx.frees[:0]
	clear(tx.freeSet)
	tx.loading = Nil
	tx.loadingLock = nil
	tx.wv = 0
}

// inside reports whether a tracked operation must be tracked. Outside a
// transaction it returns false; in an aborted attempt it re-raises the abort.
func (tx *Tx) inside() bool {
	switch tx.state {
	case txIdle:
		return false
	case txAborted:
		panic(abortSignals[tx.reason])
	}
	return true
}

// preValidate samples l before a raw read and aborts if the word may have
// been written after rv.
func (tx *Tx) preValidate(l *vlock.VersionedLock) uint64 {
	v, locked := l.Sample()
	if locked {
		tx.abort(ReasonLocked)
	}
	if v > tx.rv {
		tx.abort(ReasonVersion)
	}
	return v
}

// postValidate aborts if l changed while the word was read.
func (tx *Tx) postValidate(l *vlock.VersionedLock, before uint64) {
	v, locked := l.Sample()
	if locked {
		tx.abort(ReasonLocked)
	}
	if v != before {
		tx.abort(ReasonVersion)
	}
	tx.loading = Nil
	tx.loadingLock = nil
}

// Load returns the word at addr as of the transaction's snapshot.
//
// A pending store to addr in this transaction is returned as is.
func (tx *Tx) Load(addr Addr) Word {
	if !tx.inside() {
		return tx.e.Load(addr)
	}
	if w, ok := tx.writes[addr]; ok {
		return w
	}

	l := tx.e.locks.For(uint64(addr))
	v := tx.preValidate(l)
	if !tx.readOnly {
		tx.readSet = append(tx.readSet, addr)
	}
	tx.loading, tx.loadingLock = addr, l
	if h := tx.e.hooks.beforeRawLoad; h != nil {
		h(tx, addr)
	}
	w, err := tx.e.heap.Load(addr)
	if err != nil {
		tx.fault(err)
	}
	tx.postValidate(l, v)
	return w
}

// Store buffers a write of w to addr. Nothing is published until commit.
func (tx *Tx) Store(addr Addr, w Word) {
	if !tx.inside() {
		tx.e.Store(addr, w)
		return
	}
	if tx.readOnly {
		tx.abort(ReasonUpgrade)
	}
	if _, ok := tx.writes[addr]; !ok {
		tx.required = append(tx.required, tx.e.locks.For(uint64(addr)))
	}
	tx.writes[addr] = w
}

// Alloc allocates words zeroed words. The allocation is released if the
// transaction aborts. Heap exhaustion rolls the transaction back and makes
// Atomically return ErrOutOfMemory.
func (tx *Tx) Alloc(words int) Addr {
	if !tx.inside() {
		return tx.e.Alloc(words)
	}
	if tx.readOnly {
		tx.abort(ReasonUpgrade)
	}
	a, err := tx.e.heap.Alloc(words)
	if err != nil {
		tx.rollback(ReasonUser)
		panic(&userAbort{err: err})
	}
	tx.allocs = append(tx.allocs, a)
	tx.e.counters.allocs.Inc()
	return a
}

// Free schedules the object at addr for release. The object stays readable
// by other transactions until this one commits.
func (tx *Tx) Free(addr Addr) {
	if !tx.inside() {
		tx.e.Free(addr)
		return
	}
	if tx.readOnly {
		tx.abort(ReasonUpgrade)
	}
	if _, dup := tx.freeSet[addr]; dup {
		tx.rollback(ReasonUser)
		tx.e.misuse("free", "object %s freed twice in one transaction", addr)
	}

	hdr := heap.Header(addr)
	l := tx.e.locks.For(uint64(hdr))
	v := tx.preValidate(l)
	tx.readSet = append(tx.readSet, hdr)
	tx.loading, tx.loadingLock = addr, l
	n, err := tx.e.heap.SizeOf(addr)
	if err != nil {
		tx.fault(err)
	}
	tx.postValidate(l, v)

	for i := 0; i <= n; i++ {
		tx.required = append(tx.required, tx.e.locks.For(uint64(hdr.Offset(i))))
	}
	tx.frees = append(tx.frees, addr)
	tx.freeSet[addr] = struct{}{}
}

// fault handles a heap fault raised inside the transaction: a conflict
// aborts the attempt, a genuine fault panics with *FaultError.
func (tx *Tx) fault(err error) {
	f, ok := heap.AsFault(err)
	if !ok {
		panic(err)
	}
	snap := snapshot{tx}
	if tx.e.guard.Judge(f, snap) == guard.Conflict {
		tx.abort(ReasonFault)
	}
	// Skip fault and the Tx operation.
	panic(tx.e.guard.Report(f, snap, tx.gid, 2))
}
