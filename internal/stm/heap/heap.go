package heap

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pingcap/errors"
)

// Addr is a word index into the heap. It is a stable handle, never a pointer.
type Addr uint64

// Nil is the null address. It is never allocated.
const Nil Addr = 0

// Word is one heap cell.
type Word = uint64

// String renders the address in hex, e.g. "0x2a".
func (a Addr) String() string {
	return "0x" + strconv.FormatUint(uint64(a), 16)
}

// Offset returns the address i words past a.
func (a Addr) Offset(i int) Addr {
	return a + Addr(i)
}

// DefaultWords is the heap capacity used when none is configured (8M words,
// 64 MiB of payload).
const DefaultWords = 1 << 23

// ErrOutOfMemory is returned when an allocation cannot be satisfied.
var ErrOutOfMemory = errors.New("heap: out of memory")

// ErrInvalidSize is returned for allocations of zero words.
var ErrInvalidSize = errors.New("heap: allocation size must be at least one word")

// Cell states.
const (
	cellUnused uint32 = iota
	cellHeader
	cellData
	cellFreed
)

// Heap is a fixed-capacity array of atomic words with per-cell liveness.
//
// Thread Safety: Load, Store, SizeOf and Live are lock-free and safe for
// concurrent use. Alloc and Free serialize on an internal mutex.
type Heap struct {
	words []atomic.Uint64
	state []atomic.Uint32

	mu   sync.Mutex
	next Addr            // bump pointer, first never-used cell
	free map[uint64][]Addr // payload size -> header addresses of released blocks

	liveObjects atomic.Int64
	liveWords   atomic.Int64
	allocs      atomic.Uint64
	frees       atomic.Uint64
}

// New creates a heap with capacity for words cells (headers included).
// words < 2 uses DefaultWords.
func New(words int) *Heap {
	if words < 2 {
		words = DefaultWords
	}
	return &Heap{
		words: make([]atomic.Uint64, words),
		state: make([]atomic.Uint32, words),
		next:  1, // cell 0 backs Nil and is never handed out
		free:  make(map[uint64][]Addr),
	}
}

// Cap returns the total number of cells.
func (h *Heap) Cap() int {
	return len(h.words)
}

// Alloc reserves n zeroed payload words and returns the address of the first.
//
// Blocks released by Free are reused when a block of exactly the same size is
// available; otherwise the bump pointer advances. Returns ErrOutOfMemory when
// the heap is exhausted.
func (h *Heap) Alloc(n int) (Addr, error) {
	if n < 1 {
		return Nil, ErrInvalidSize
	}
	size := uint64(n)

	h.mu.Lock()
	var hdr Addr
	if list := h.free[size]; len(list) > 0 {
		hdr = list[len(list)-1]
		h.free[size] = list[:len(list)-1]
	} else {
		if uint64(h.next)+size+1 > uint64(len(h.words)) {
			h.mu.Unlock()
			return Nil, errors.Annotatef(ErrOutOfMemory, "alloc %d words, %d of %d cells used", n, h.next, len(h.words))
		}
		hdr = h.next
		h.next += Addr(size + 1)
	}

	h.words[hdr].Store(size)
	for i := uint64(1); i <= size; i++ {
		h.words[uint64(hdr)+i].Store(0)
	}
	// Payload states are published before the header so a concurrent SizeOf
	// never sees a header whose payload is still marked freed.
	for i := uint64(1); i <= size; i++ {
		h.state[uint64(hdr)+i].Store(cellData)
	}
	h.state[hdr].Store(cellHeader)
	h.mu.Unlock()

	h.liveObjects.Add(1)
	h.liveWords.Add(int64(size))
	h.allocs.Add(1)
	return hdr + 1, nil
}

// Free releases the object starting at addr.
//
// addr must be an address previously returned by Alloc and not yet freed;
// anything else yields a *Fault and leaves the heap unchanged.
func (h *Heap) Free(addr Addr) error {
	h.mu.Lock()
	size, err := h.sizeOf("free", addr)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	hdr := uint64(addr) - 1
	for i := uint64(0); i <= size; i++ {
		h.state[hdr+i].Store(cellFreed)
	}
	h.free[size] = append(h.free[size], Addr(hdr))
	h.mu.Unlock()

	h.liveObjects.Add(-1)
	h.liveWords.Add(-int64(size))
	h.frees.Add(1)
	return nil
}

// Load reads the word at addr. Returns a *Fault if addr is not live data.
//
//go:nosplit
func (h *Heap) Load(addr Addr) (Word, error) {
	if err := h.check("load", addr); err != nil {
		return 0, err
	}
	return h.words[addr].Load(), nil
}

// Store writes the word at addr. Returns a *Fault if addr is not live data.
func (h *Heap) Store(addr Addr, w Word) error {
	if err := h.check("store", addr); err != nil {
		return err
	}
	h.words[addr].Store(w)
	return nil
}

// SizeOf returns the payload size of the object starting at addr.
func (h *Heap) SizeOf(addr Addr) (int, error) {
	n, err := h.sizeOf("sizeof", addr)
	return int(n), err
}

// Header returns the address of the header cell of the object at addr.
// It does not check liveness.
func Header(addr Addr) Addr {
	if addr == Nil {
		return Nil
	}
	return addr - 1
}

// Live reports whether addr is a live data cell.
func (h *Heap) Live(addr Addr) bool {
	return addr != Nil && uint64(addr) < uint64(len(h.state)) && h.state[addr].Load() == cellData
}

func (h *Heap) sizeOf(op string, addr Addr) (uint64, error) {
	if addr == Nil {
		return 0, &Fault{Addr: addr, Kind: FaultNil, Op: op}
	}
	if uint64(addr) >= uint64(len(h.words)) {
		return 0, &Fault{Addr: addr, Kind: FaultOutOfRange, Op: op}
	}
	hdr := addr - 1
	switch h.state[hdr].Load() {
	case cellHeader:
		return h.words[hdr].Load(), nil
	case cellFreed:
		if h.state[addr].Load() == cellFreed {
			return 0, &Fault{Addr: addr, Kind: FaultFreed, Op: op}
		}
	case cellUnused:
		if h.state[addr].Load() == cellUnused {
			return 0, &Fault{Addr: addr, Kind: FaultUnallocated, Op: op}
		}
	}
	return 0, &Fault{Addr: addr, Kind: FaultNotObject, Op: op}
}

func (h *Heap) check(op string, addr Addr) error {
	if addr == Nil {
		return &Fault{Addr: addr, Kind: FaultNil, Op: op}
	}
	if uint64(addr) >= uint64(len(h.state)) {
		return &Fault{Addr: addr, Kind: FaultOutOfRange, Op: op}
	}
	switch h.state[addr].Load() {
	case cellData:
		return nil
	case cellFreed:
		return &Fault{Addr: addr, Kind: FaultFreed, Op: op}
	case cellHeader:
		return &Fault{Addr: addr, Kind: FaultNotObject, Op: op}
	default:
		return &Fault{Addr: addr, Kind: FaultUnallocated, Op: op}
	}
}

// Stats is a snapshot of heap occupancy.
type Stats struct {
	Capacity    int    // total cells
	HighWater   int    // cells ever handed out by the bump pointer
	LiveObjects int64  // objects currently allocated
	LiveWords   int64  // payload words currently allocated
	FreeBlocks  int    // released blocks waiting for reuse
	Allocs      uint64 // successful Alloc calls
	Frees       uint64 // successful Free calls
}

// Stats returns a snapshot of heap occupancy.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	hw := int(h.next)
	blocks := 0
	for _, l := range h.free {
		blocks += len(l)
	}
	h.mu.Unlock()

	return Stats{
		Capacity:    len(h.words),
		HighWater:   hw,
		LiveObjects: h.liveObjects.Load(),
		LiveWords:   h.liveWords.Load(),
		FreeBlocks:  blocks,
		Allocs:      h.allocs.Load(),
		Frees:       h.frees.Load(),
	}
}
