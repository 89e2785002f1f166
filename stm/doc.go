// Package stm provides a TL2 software transactional memory engine for Go.
//
// Shared data lives in a transactional heap owned by an Engine. Goroutines
// read and write it inside transactions; a transaction either commits all of
// its writes atomically or is rolled back and run again. Conflicts are
// detected optimistically with a global version clock and a striped table of
// versioned locks, as described by Dice, Shalev and Shavit (TL2, DISC 2006).
//
// # Quick Start
//
//	package main
//
//	import "github.com/kolkov/gostm/stm"
//
//	func main() {
//		stm.Init(stm.Options{})
//		defer stm.Fini()
//
//		counter := stm.Alloc(1)
//		_ = stm.Atomically(func(tx *stm.Tx) error {
//			tx.Store(counter, tx.Load(counter)+1)
//			return nil
//		})
//	}
//
// # API Overview
//
// The package provides functions for:
//   - Engine lifecycle: [New], [Init], [Default], [Fini]
//   - Transactions: [Atomically], [AtomicallyReadOnly]
//   - Plain accesses outside transactions: [Alloc], [Free], [Load], [Store]
//   - Version information: [GetInfo], [Version], [CheckVersion]
//
// # How It Works
//
// Every Load inside a transaction is validated against the clock value
// sampled at begin. Stores go to a private write-map. At commit the writer
// locks the stripes covering its writes, advances the clock, revalidates
// what it read and publishes. An attempt that observes a newer version or a
// held lock aborts and is retried transparently; the function passed to
// Atomically must therefore be safe to run more than once.
//
// Memory freed inside a transaction is released only after the transaction
// commits. A concurrent reader that still reaches the freed object through a
// stale pointer faults; the engine's guard turns such faults into ordinary
// conflicts when the reader's snapshot is stale and reports them as
// [FaultError] panics otherwise.
//
// # Errors
//
// A non-nil error returned by the transaction function rolls the attempt
// back and is returned by Atomically without a retry. Misuse such as nested
// transactions or freeing an object twice panics with [ProtocolError].
//
// # Examples
//
// See package-level examples in the documentation:
//   - [Example] - A transactional counter
//   - [Example_readOnly] - Read-only snapshot of two cells
//   - [Example_rollback] - A failing transaction leaves memory untouched
package stm
