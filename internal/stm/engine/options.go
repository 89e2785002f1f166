package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/kolkov/gostm/internal/stm/goroutine"
	"github.com/kolkov/gostm/internal/stm/heap"
	"github.com/kolkov/gostm/internal/stm/vlock"
)

// DefaultLockAttempts is the number of TryLock attempts per lock at commit.
const DefaultLockAttempts = 5

// Options configures an Engine. The zero value selects every default.
type Options struct {
	// LockTableSize is the number of versioned-lock stripes, rounded up to a
	// power of two. Default vlock.DefaultTableSize.
	LockTableSize int

	// HeapWords is the heap capacity in words. Default heap.DefaultWords.
	HeapWords int

	// LockAttempts is the number of non-blocking acquisition attempts per
	// lock during commit before the attempt aborts. Default 5.
	LockAttempts int

	// BackoffBase enables randomized exponential backoff between retries.
	// Zero disables backoff.
	BackoffBase time.Duration

	// BackoffMax caps the backoff delay. Default 1ms when backoff is enabled.
	BackoffMax time.Duration

	// AbortLogRate logs one in AbortLogRate aborts at debug level.
	// Zero disables abort logging.
	AbortLogRate uint64

	// CleanupInterval is the number of goroutine registrations between sweeps
	// of contexts left by exited goroutines. Default 1000; negative disables.
	CleanupInterval int

	// Logger receives engine logs. Default zap.NewNop().
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.LockTableSize < 1 {
		o.LockTableSize = vlock.DefaultTableSize
	}
	if o.HeapWords < 2 {
		o.HeapWords = heap.DefaultWords
	}
	if o.LockAttempts < 1 {
		o.LockAttempts = DefaultLockAttempts
	}
	if o.BackoffBase > 0 && o.BackoffMax < o.BackoffBase {
		o.BackoffMax = max(time.Millisecond, o.BackoffBase)
	}
	if o.CleanupInterval == 0 {
		o.CleanupInterval = goroutine.DefaultCleanupInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
