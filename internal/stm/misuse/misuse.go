// Package misuse defines the fatal error raised when the transaction protocol
// is violated by its caller.
//
// Misuse is a programming error, not a conflict: beginning a transaction while
// one is already active, releasing a lock that is not held, re-acquiring a lock
// the caller already owns, or freeing one object twice in a transaction.
// These are never retried. The engine panics with an *Error so the failure is
// loud and carries the stack of the offending call.
package misuse

import (
	"fmt"

	"github.com/pingcap/errors"
)

// Error describes a protocol violation.
type Error struct {
	// Op is the operation that detected the violation (e.g. "begin", "unlock").
	Op string

	// Err carries the detail message and the stack captured at the violation.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return "stm: protocol misuse in " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying detail error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Format prints the captured stack with %+v.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "stm: protocol misuse in %s: %+v", e.Op, e.Err)
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// New builds a misuse error for op.
func New(op, format string, args ...interface{}) *Error {
	return &Error{Op: op, Err: errors.Errorf(format, args...)}
}

// Panic raises a misuse error for op.
func Panic(op, format string, args ...interface{}) {
	panic(New(op, format, args...))
}

// Is reports whether v (typically a recovered panic value) is a misuse error.
func Is(v interface{}) bool {
	err, ok := v.(error)
	if !ok {
		return false
	}
	_, ok = errors.Cause(err).(*Error)
	return ok
}
