// Package workload generates and runs the key-value benchmark workloads of
// stmbench against the transactional data structures.
//
// A workload is a fixed, shuffled list of operations on keys drawn uniformly
// from [KeyMin, KeyMax). The list is dealt round-robin to the worker
// goroutines, and every operation runs as its own transaction: gets
// read-only, puts and deletes read-write.
package workload

import (
	"math/rand/v2"

	"github.com/pingcap/errors"
)

// Op is a benchmark operation kind.
type Op uint8

const (
	OpGet Op = iota
	OpPut
	OpDelete

	numOps
)

var opNames = [numOps]string{
	OpGet:    "get",
	OpPut:    "put",
	OpDelete: "delete",
}

func (o Op) String() string {
	if o < numOps {
		return opNames[o]
	}
	return "unknown"
}

// Operation is one benchmark step.
type Operation struct {
	Op  Op
	Key int64
}

// Mix describes the operations of a workload.
type Mix struct {
	Ops         int
	KeyMin      int64
	KeyMax      int64 // exclusive
	PutRatio    float64
	DeleteRatio float64 // the rest are gets
	Seed        uint64
}

// Named mixes.
var (
	ReadHeavy  = Mix{PutRatio: 0.05, DeleteRatio: 0.05}
	WriteHeavy = Mix{PutRatio: 0.3, DeleteRatio: 0.3}
)

// KeyRange returns small (100 keys) or large (10000 keys) ranges.
func KeyRange(small bool) (lo, hi int64) {
	if small {
		return 100, 200
	}
	return 10000, 20000
}

// Validate checks the mix.
func (m Mix) Validate() error {
	if m.Ops < 0 {
		return errors.Errorf("negative op count %d", m.Ops)
	}
	if m.KeyMax <= m.KeyMin {
		return errors.Errorf("empty key range [%d, %d)", m.KeyMin, m.KeyMax)
	}
	if m.PutRatio < 0 || m.DeleteRatio < 0 || m.PutRatio+m.DeleteRatio > 1 {
		return errors.Errorf("invalid ratios put=%v delete=%v", m.PutRatio, m.DeleteRatio)
	}
	return nil
}

// Generate returns m.Ops operations. Each kind is drawn with the mix's
// probabilities, then the list is shuffled. The same seed always yields the
// same list.
func Generate(m Mix) ([]Operation, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	r := rand.New(rand.NewPCG(m.Seed, m.Seed^0x9e3779b97f4a7c15))
	span := uint64(m.KeyMax - m.KeyMin)

	ops := make([]Operation, m.Ops)
	for i := range ops {
		key := m.KeyMin + int64(r.Uint64N(span))
		switch p := r.Float64(); {
		case p < m.PutRatio:
			ops[i] = Operation{Op: OpPut, Key: key}
		case p < m.PutRatio+m.DeleteRatio:
			ops[i] = Operation{Op: OpDelete, Key: key}
		default:
			ops[i] = Operation{Op: OpGet, Key: key}
		}
	}
	r.Shuffle(len(ops), func(i, j int) { ops[i], ops[j] = ops[j], ops[i] })
	return ops, nil
}

// Partition deals ops round-robin into n lists: list t gets ops t, t+n,
// t+2n and so on.
func Partition(ops []Operation, n int) [][]Operation {
	if n < 1 {
		n = 1
	}
	parts := make([][]Operation, n)
	for t := range parts {
		parts[t] = make([]Operation, 0, (len(ops)+n-1)/n)
	}
	for i, op := range ops {
		parts[i%n] = append(parts[i%n], op)
	}
	return parts
}
