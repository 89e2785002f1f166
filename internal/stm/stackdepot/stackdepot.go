// Package stackdepot stores and deduplicates stack traces for fault reports.
//
// A Depot keeps each unique stack once, referenced by a 64-bit hash. The UAF
// guard captures the stack of every genuine fault; repeated faults from the
// same call site share one entry and the report logs only the hash after the
// first occurrence.
//
// Usage:
//
//	d := stackdepot.New()
//	id := d.Capture(0)
//	fmt.Print(d.Get(id).Format())
package stackdepot

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/dgryski/go-farm"
)

// MaxFrames is the maximum number of frames kept per stack.
const MaxFrames = 16

// StackTrace is a captured stack of fixed capacity.
type StackTrace struct {
	PC [MaxFrames]uintptr
	n  int
}

// Depot is a deduplicating store of stack traces.
//
// Thread Safety: Safe for concurrent use.
type Depot struct {
	stacks sync.Map // uint64 -> *StackTrace
}

// New returns an empty depot.
func New() *Depot {
	return &Depot{}
}

// Capture records the caller's stack and returns its id.
//
// skip is the number of additional frames to drop above the caller of
// Capture. Returns 0 if no stack is available.
func (d *Depot) Capture(skip int) uint64 {
	var pcs [MaxFrames]uintptr
	// Skip runtime.Callers and Capture itself.
	n := runtime.Callers(2+skip, pcs[:])
	if n == 0 {
		return 0
	}

	id := hashStack(pcs[:n])
	if _, ok := d.stacks.Load(id); ok {
		return id
	}
	d.stacks.LoadOrStore(id, &StackTrace{PC: pcs, n: n})
	return id
}

// Seen reports whether id is already stored.
func (d *Depot) Seen(id uint64) bool {
	_, ok := d.stacks.Load(id)
	return ok
}

// Get returns the stack stored under id, or nil.
func (d *Depot) Get(id uint64) *StackTrace {
	if id == 0 {
		return nil
	}
	v, ok := d.stacks.Load(id)
	if !ok {
		return nil
	}
	return v.(*StackTrace)
}

// Len returns the number of unique stacks stored.
func (d *Depot) Len() int {
	n := 0
	d.stacks.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Reset drops every stored stack.
func (d *Depot) Reset() {
	d.stacks.Range(func(k, _ interface{}) bool {
		d.stacks.Delete(k)
		return true
	})
}

// hashStack hashes the program counters with farmhash.
func hashStack(pcs []uintptr) uint64 {
	buf := make([]byte, 8*len(pcs))
	for i, pc := range pcs {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(pc))
	}
	h := farm.Hash64(buf)
	if h == 0 {
		// 0 means "no stack".
		h = 1
	}
	return h
}

// Frames returns the resolved frames, runtime internals removed.
func (st *StackTrace) Frames() []runtime.Frame {
	if st == nil || st.n == 0 {
		return nil
	}
	var out []runtime.Frame
	frames := runtime.CallersFrames(st.PC[:st.n])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") && frame.Function != "" {
			out = append(out, frame)
		}
		if !more {
			break
		}
	}
	return out
}

// Format renders the stack in the layout of a Go traceback:
//
//	main.worker()
//	    /path/to/file.go:45
func (st *StackTrace) Format() string {
	frames := st.Frames()
	if len(frames) == 0 {
		return "  <unknown>\n"
	}
	var buf strings.Builder
	for _, f := range frames {
		fmt.Fprintf(&buf, "  %s()\n      %s:%d\n", f.Function, f.File, f.Line)
	}
	return buf.String()
}

// Top returns "function file:line" of the innermost non-runtime frame.
func (st *StackTrace) Top() string {
	frames := st.Frames()
	if len(frames) == 0 {
		return "<unknown>"
	}
	f := frames[0]
	return fmt.Sprintf("%s %s:%d", f.Function, f.File, f.Line)
}
