// Package goroutine resolves per-goroutine state for the STM engine.
//
// Each goroutine running transactions on an engine owns one transaction
// context. The Registry keys those contexts by goroutine id, hands each one a
// small owner id from a reuse pool (owner ids mark lock holders in the lock
// table), and periodically reclaims the contexts of goroutines that have
// exited.
//
// Goroutine ids are parsed from the runtime.Stack header. That costs about a
// microsecond per lookup, paid once per transaction rather than once per
// memory access.
package goroutine
