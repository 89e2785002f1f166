package heap

import "fmt"

// FaultKind classifies a guarded access that hit a non-live cell.
type FaultKind uint8

const (
	// FaultNil is an access through the Nil address.
	FaultNil FaultKind = iota + 1
	// FaultOutOfRange is an address beyond the heap capacity.
	FaultOutOfRange
	// FaultUnallocated is a cell that has never been handed out.
	FaultUnallocated
	// FaultFreed is a cell whose object has been released.
	FaultFreed
	// FaultNotObject is a Free or SizeOf on an address that is not the start
	// of a live object.
	FaultNotObject
)

// String returns the fault kind name.
func (k FaultKind) String() string {
	switch k {
	case FaultNil:
		return "nil"
	case FaultOutOfRange:
		return "out-of-range"
	case FaultUnallocated:
		return "unallocated"
	case FaultFreed:
		return "freed"
	case FaultNotObject:
		return "not-object"
	default:
		return "unknown"
	}
}

// Fault is returned by guarded heap accesses that hit a non-live cell.
type Fault struct {
	Addr Addr
	Kind FaultKind
	Op   string
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("heap: %s fault on %s at %s", f.Kind, f.Op, f.Addr)
}

// AsFault returns err as a *Fault if it is one.
func AsFault(err error) (*Fault, bool) {
	f, ok := err.(*Fault)
	return f, ok
}
