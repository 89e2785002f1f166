// Package vlock implements versioned write-locks and the striped lock table.
//
// A VersionedLock pairs a mutex with a version stamp and an owner marker. It is
// the unit of conflict detection in TL2: readers sample the version (and the
// locked bit) before and after a raw read, and committing writers hold the lock
// while they write back and then publish a new version on release.
//
// The version and the locked bit live in a single atomic word so a reader
// always observes a consistent (version, locked) pair:
//
//	bit 0      locked
//	bits 1..63 version
//
// The mutex provides the non-blocking TryLock; the atomic word is what
// optimistic readers look at.
package vlock

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/kolkov/gostm/internal/stm/misuse"
)

const lockedBit = 1

// VersionedLock is a mutex + version stamp + owner.
//
// Invariants:
//   - locked implies Owner() identifies the holder.
//   - The version is only written by the holder, and only grows on Unlock.
//     AbortUnlock leaves it unchanged.
//
// The zero value is an unlocked lock at version 0.
type VersionedLock struct {
	mu    sync.Mutex
	state atomic.Uint64 // version<<1 | locked
	owner atomic.Uint64 // 0 when free
}

// Sample returns the version and locked bit as one consistent snapshot.
//
// This is the hot path for transactional loads: it is called twice per
// tracked read (pre- and post-validation).
//
//go:nosplit
func (l *VersionedLock) Sample() (version uint64, locked bool) {
	s := l.state.Load()
	return s >> 1, s&lockedBit != 0
}

// Version returns the current version stamp.
func (l *VersionedLock) Version() uint64 {
	return l.state.Load() >> 1
}

// IsLocked reports whether the lock is currently held.
func (l *VersionedLock) IsLocked() bool {
	return l.state.Load()&lockedBit != 0
}

// Owner returns the owner id of the holder, or 0 when free.
func (l *VersionedLock) Owner() uint64 {
	return l.owner.Load()
}

// TryLock attempts to acquire the lock for owner without blocking.
//
// Returns false immediately if another owner holds it. Calling TryLock while
// owner already holds the lock is a protocol violation and panics.
func (l *VersionedLock) TryLock(owner uint64) bool {
	if owner == 0 {
		misuse.Panic("trylock", "owner id 0 is reserved")
	}
	if l.owner.Load() == owner {
		misuse.Panic("trylock", "owner %d re-acquired a lock it already holds", owner)
	}
	if !l.mu.TryLock() {
		return false
	}
	l.owner.Store(owner)
	// Only the holder writes state, so a plain read-modify-write is safe.
	l.state.Store(l.state.Load() | lockedBit)
	return true
}

// Unlock publishes newVersion and releases the lock.
//
// The caller must hold the lock and newVersion must be strictly greater than
// the current version. Used only on successful commit.
func (l *VersionedLock) Unlock(owner, newVersion uint64) {
	s := l.checkHeld("unlock", owner)
	if newVersion <= s>>1 {
		misuse.Panic("unlock", "new version %d does not advance version %d", newVersion, s>>1)
	}
	l.owner.Store(0)
	// One store clears the locked bit and publishes the version together.
	l.state.Store(newVersion << 1)
	l.mu.Unlock()
}

// AbortUnlock releases the lock without advancing its version.
//
// Used when rolling back a commit that had already acquired the lock.
func (l *VersionedLock) AbortUnlock(owner uint64) {
	s := l.checkHeld("abort-unlock", owner)
	l.owner.Store(0)
	l.state.Store(s &^ lockedBit)
	l.mu.Unlock()
}

func (l *VersionedLock) checkHeld(op string, owner uint64) uint64 {
	s := l.state.Load()
	if s&lockedBit == 0 {
		misuse.Panic(op, "lock is not held (double release?)")
	}
	if holder := l.owner.Load(); holder != owner {
		misuse.Panic(op, "lock held by owner %d, released by %d", holder, owner)
	}
	return s
}
