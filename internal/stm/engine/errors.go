package engine

import (
	"github.com/kolkov/gostm/internal/stm/guard"
	"github.com/kolkov/gostm/internal/stm/heap"
	"github.com/kolkov/gostm/internal/stm/misuse"
)

// ProtocolError is the panic value for misuse of the transaction protocol:
// nested transactions, freeing an object twice in one transaction, lock
// release by a non-holder. It is never retried.
type ProtocolError = misuse.Error

// FaultError is the panic value for a genuine use-after-free or wild access.
type FaultError = guard.FaultError

// ErrOutOfMemory is returned by Atomically when an allocation inside the
// transaction cannot be satisfied. The transaction is rolled back.
var ErrOutOfMemory = heap.ErrOutOfMemory

// Reason says why a transaction attempt was aborted.
type Reason uint8

const (
	// ReasonLocked: a load found its covering lock held by a committing writer.
	ReasonLocked Reason = iota
	// ReasonVersion: a load found a version newer than rv, or the version
	// moved while the word was read.
	ReasonVersion
	// ReasonLockBusy: commit could not acquire a write lock in LockAttempts tries.
	ReasonLockBusy
	// ReasonValidation: commit-time read-set validation failed.
	ReasonValidation
	// ReasonUpgrade: a read-only transaction tried to write, allocate or free.
	ReasonUpgrade
	// ReasonFault: a heap fault was attributed to a concurrent commit.
	ReasonFault
	// ReasonUser: the transaction function returned an error or panicked, or
	// an allocation failed.
	ReasonUser

	// NumReasons is the number of abort reasons.
	NumReasons
)

var reasonNames = [NumReasons]string{
	ReasonLocked:     "locked",
	ReasonVersion:    "version",
	ReasonLockBusy:   "lock-busy",
	ReasonValidation: "validation",
	ReasonUpgrade:    "upgrade",
	ReasonFault:      "fault",
	ReasonUser:       "user",
}

// String returns the reason name used in logs and metric labels.
func (r Reason) String() string {
	if r < NumReasons {
		return reasonNames[r]
	}
	return "unknown"
}

// Reasons returns every abort reason in order.
func Reasons() []Reason {
	rs := make([]Reason, NumReasons)
	for i := range rs {
		rs[i] = Reason(i)
	}
	return rs
}

// abortSignal unwinds a conflicting attempt back to the retry loop. Only the
// loop recovers it; it never escapes Atomically.
type abortSignal struct {
	reason Reason
}

var abortSignals = func() [NumReasons]*abortSignal {
	var s [NumReasons]*abortSignal
	for i := range s {
		s[i] = &abortSignal{reason: Reason(i)}
	}
	return s
}()

// userAbort unwinds an attempt that must not be retried and makes Atomically
// return err.
type userAbort struct {
	err error
}
