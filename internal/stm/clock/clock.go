// Package clock implements the global version clock used by TL2 transactions.
//
// The clock is a single 64-bit counter shared by every goroutine of an engine.
// Transactions sample it at begin (the read version, rv) and advance it exactly
// once when a writing transaction commits (the write version, wv). Because the
// counter only ever moves forward, wv values form the total commit order of
// all writers.
//
// Key operations:
//   - Load: snapshot the current version (rv)
//   - Advance: atomic fetch-and-increment returning the new version (wv)
package clock

import "go.uber.org/atomic"

// Clock is the global version clock.
//
// The zero value is ready to use and starts at version 0. A Clock must not be
// copied after first use.
type Clock struct {
	v atomic.Uint64
}

// New returns a clock starting at version 0.
func New() *Clock {
	return &Clock{}
}

// Load returns the current version.
//
// Transactions call Load at begin to fix their read snapshot.
//
//go:nosplit
func (c *Clock) Load() uint64 {
	return c.v.Load()
}

// Advance increments the clock and returns the new version.
//
// Every caller receives a distinct value strictly greater than any version
// previously returned by Load or Advance.
//
// Example:
//
//	c := New()
//	rv := c.Load()    // 0
//	wv := c.Advance() // 1, wv == rv+1 means no other writer committed
func (c *Clock) Advance() uint64 {
	return c.v.Inc()
}

// String returns the current version in decimal.
//
// Only used in log fields and debugging output.
func (c *Clock) String() string {
	return itoa(c.Load())
}

// itoa converts an integer to string without fmt import.
func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
