package engine

import (
	"go.uber.org/zap"

	"github.com/kolkov/gostm/internal/stm/vlock"
)

// commit publishes the attempt. It either returns with the transaction
// committed or unwinds with an abort.
func (tx *Tx) commit() {
	e := tx.e
	if tx.readOnly || (len(tx.writes) == 0 && len(tx.frees) == 0) {
		if tx.readOnly {
			e.counters.readOnlyCommits.Inc()
		}
		e.counters.commits.Inc()
		tx.clear()
		tx.state = txIdle
		return
	}

	tx.state = txCommitting

	// 1. Write locks. Aliased stripes appear more than once in required.
	for _, l := range tx.required {
		if _, ok := tx.heldSet[l]; ok {
			continue
		}
		if !tx.acquire(l) {
			tx.abort(ReasonLockBusy)
		}
		tx.held = append(tx.held, l)
		tx.heldSet[l] = struct{}{}
	}

	// 2. Write version.
	wv := e.clock.Advance()
	if wv <= tx.rv {
		tx.rollback(ReasonUser)
		e.misuse("commit", "write version %d does not exceed read version %d", wv, tx.rv)
	}
	tx.wv = wv

	// 3. Nobody committed since begin when wv == rv+1, so the read-set is
	// still exactly what was read.
	if wv != tx.rv+1 && !tx.validateReadSet() {
		tx.abort(ReasonValidation)
	}

	// 4. Write targets must still be live. All their locks are held, so
	// nobody can free them from here on.
	for addr := range tx.writes {
		if e.heap.Live(addr) {
			continue
		}
		tx.loading, tx.loadingLock = addr, e.locks.For(uint64(addr))
		if _, err := e.heap.Load(addr); err != nil {
			tx.fault(err)
		}
	}
	tx.loading, tx.loadingLock = Nil, nil

	// 5. Write back, then release what this transaction freed.
	for addr, w := range tx.writes {
		if err := e.heap.Store(addr, w); err != nil {
			tx.fault(err)
		}
	}
	for _, a := range tx.frees {
		if err := e.heap.Free(a); err != nil {
			tx.fault(err)
		}
	}
	e.counters.frees.Add(uint64(len(tx.frees)))

	// 6. Publish.
	for _, l := range tx.held {
		l.Unlock(tx.owner, wv)
	}
	e.counters.commits.Inc()
	tx.clear()
	tx.state = txIdle
}

// acquire tries l up to LockAttempts times without blocking.
func (tx *Tx) acquire(l *vlock.VersionedLock) bool {
	for i := 0; i < tx.e.opts.LockAttempts; i++ {
		if l.TryLock(tx.owner) {
			return true
		}
	}
	return false
}

// validateReadSet reports whether every address read is still at a version
// no newer than rv and not locked by another transaction.
func (tx *Tx) validateReadSet() bool {
	for _, a := range tx.readSet {
		if !tx.fresh(tx.e.locks.For(uint64(a))) {
			return false
		}
	}
	return true
}

// fresh reports whether l is consistent with the snapshot at rv. A locked
// stripe is only consistent if this transaction holds it.
func (tx *Tx) fresh(l *vlock.VersionedLock) bool {
	v, locked := l.Sample()
	if v > tx.rv {
		return false
	}
	if !locked {
		return true
	}
	_, held := tx.heldSet[l]
	return held
}

// abort rolls the attempt back and unwinds to the retry loop.
func (tx *Tx) abort(reason Reason) {
	tx.rollback(reason)
	panic(abortSignals[reason])
}

// rollback undoes the attempt: speculative allocations are released, held
// locks are released without a version change and every set is discarded.
// The context is left Aborted.
func (tx *Tx) rollback(reason Reason) {
	e := tx.e
	for _, a := range tx.allocs {
		if err := e.heap.Free(a); err != nil {
			e.logger.Error("releasing speculative allocation", zap.Stringer("addr", a), zap.Error(err))
		}
	}
	e.counters.rolledBack.Add(uint64(len(tx.allocs)))
	for _, l := range tx.held {
		l.AbortUnlock(tx.owner)
	}
	e.counters.aborts[reason].Inc()

	if e.sampler.sample() {
		e.logger.Debug("transaction aborted",
			zap.Stringer("reason", reason),
			zap.Uint64("owner", tx.owner),
			zap.Int64("goroutine", tx.gid),
			zap.Int("attempt", tx.attempt),
			zap.Uint64("rv", tx.rv),
			zap.Stringer("clock", e.clock),
			zap.Int("read-set", len(tx.readSet)),
			zap.Int("writes", len(tx.writes)))
	}

	tx.clear()
	tx.state = txAborted
	tx.reason = reason
}

// snapshot exposes the transaction to the UAF guard.
type snapshot struct {
	tx *Tx
}

func (s snapshot) Active() bool {
	return s.tx.state == txActive || s.tx.state == txCommitting
}

func (s snapshot) Owner() uint64 {
	return s.tx.owner
}

func (s snapshot) InFlight(addr Addr) bool {
	return s.tx.loadingLock != nil && s.tx.loading == addr
}

func (s snapshot) ReadSetContains(addr Addr) bool {
	for _, a := range s.tx.readSet {
		if a == addr {
			return true
		}
	}
	return false
}

func (s snapshot) Stale(addr Addr) bool {
	l := s.tx.e.locks.For(uint64(addr))
	if s.InFlight(addr) {
		l = s.tx.loadingLock
	}
	return !s.tx.fresh(l) || !s.tx.validateReadSet()
}
