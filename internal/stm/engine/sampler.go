package engine

import "go.uber.org/atomic"

// sampler selects one in rate events for logging.
//
// A shared counter is incremented on every event and every rate-th value is
// selected.
type sampler struct {
	rate uint64
	pos  atomic.Uint64
}

func newSampler(rate uint64) *sampler {
	return &sampler{rate: rate}
}

// enabled reports whether any event can be selected.
func (s *sampler) enabled() bool {
	return s.rate > 0
}

// sample reports whether the current event is selected.
//
//go:nosplit
func (s *sampler) sample() bool {
	switch s.rate {
	case 0:
		return false
	case 1:
		return true
	}
	return s.pos.Inc()%s.rate == 0
}
