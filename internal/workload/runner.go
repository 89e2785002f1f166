package workload

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/montanaflynn/stats"
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kolkov/gostm/internal/metrics"
	"github.com/kolkov/gostm/internal/stm/engine"
)

// Config controls a benchmark run.
type Config struct {
	Threads      int     // worker goroutines; zero uses every logical CPU
	OpsPerSecond float64 // zero means unthrottled
	Logger       *zap.Logger
}

// Result summarises a run.
type Result struct {
	Structure string
	Threads   int
	Ops       int
	Counts    [numOps]int
	Elapsed   time.Duration

	// Latency of every completed operation, retries included.
	Mean, P50, P90, P99 time.Duration

	// Engine activity during the run.
	Commits, Retries, Aborts uint64
	AbortsByReason           [engine.NumReasons]uint64

	FinalSize     int
	HeapLiveWords int64
}

// Throughput returns operations per second.
func (r *Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}

// AbortRate returns aborted attempts per operation.
func (r *Result) AbortRate() float64 {
	if r.Ops == 0 {
		return 0
	}
	return float64(r.Aborts) / float64(r.Ops)
}

// String renders the result for terminal output.
func (r *Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d ops on %d threads in %s\n", r.Structure, r.Ops, r.Threads, units.HumanDuration(r.Elapsed))
	fmt.Fprintf(&b, "\t%.1f 1000x ops per second\n", r.Throughput()/1000)
	fmt.Fprintf(&b, "\tlatency mean %s p50 %s p90 %s p99 %s\n", r.Mean, r.P50, r.P90, r.P99)
	fmt.Fprintf(&b, "\tget %d put %d delete %d\n", r.Counts[OpGet], r.Counts[OpPut], r.Counts[OpDelete])
	fmt.Fprintf(&b, "\tcommits %d retries %d aborts %d (%.3f per op)\n", r.Commits, r.Retries, r.Aborts, r.AbortRate())
	var reasons []string
	for _, reason := range engine.Reasons() {
		if n := r.AbortsByReason[reason]; n != 0 {
			reasons = append(reasons, fmt.Sprintf("%s=%d", reason, n))
		}
	}
	if len(reasons) != 0 {
		fmt.Fprintf(&b, "\taborts by reason: %s\n", strings.Join(reasons, " "))
	}
	fmt.Fprintf(&b, "\tfinal size %d, heap in use %s\n", r.FinalSize, units.BytesSize(float64(r.HeapLiveWords*8)))
	return b.String()
}

// Fields returns the result as structured log fields.
func (r *Result) Fields() []zap.Field {
	return []zap.Field{
		zap.String("structure", r.Structure),
		zap.Int("threads", r.Threads),
		zap.Int("ops", r.Ops),
		zap.Duration("elapsed", r.Elapsed),
		zap.Float64("ops-per-second", r.Throughput()),
		zap.Duration("p50", r.P50),
		zap.Duration("p99", r.P99),
		zap.Uint64("aborts", r.Aborts),
		zap.Uint64("retries", r.Retries),
		zap.Int("final-size", r.FinalSize),
	}
}

func (c Config) threads() int {
	if c.Threads > 0 {
		return c.Threads
	}
	return DetectHost().DefaultThreads()
}

func (c Config) limiter() *rate.Limiter {
	if c.OpsPerSecond <= 0 {
		return nil
	}
	burst := int(c.OpsPerSecond / 100)
	return rate.NewLimiter(rate.Limit(c.OpsPerSecond), max(burst, 1))
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// Prefill inserts every other key of [lo, hi) into set outside any
// transaction and returns how many were inserted.
func Prefill(e *engine.Engine, set Set, lo, hi int64) int {
	n := 0
	for k := lo; k < hi; k += 2 {
		if set.Put(e, k) {
			n++
		}
	}
	return n
}

// Run executes ops against set with cfg.Threads workers and verifies the
// structure afterwards. A cancelled ctx stops the workers early and is
// reported as an error along with the partial result.
func Run(ctx context.Context, e *engine.Engine, set Set, ops []Operation, cfg Config) (*Result, error) {
	lg := cfg.logger().With(zap.String("structure", set.Name()))
	threads := cfg.threads()
	parts := Partition(ops, threads)
	limiter := cfg.limiter()

	before := e.Stats()
	lg.Info("starting benchmark", zap.Int("ops", len(ops)), zap.Int("threads", threads),
		zap.Float64("ops-per-second-limit", cfg.OpsPerSecond))

	latencies := make([][]float64, threads)
	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, threads)
	for t := 0; t < threads; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			latencies[t], errs[t] = runWorker(ctx, e, set, parts[t], limiter)
		}(t)
	}
	wg.Wait()
	elapsed := time.Since(start)
	after := e.Stats()

	res := &Result{
		Structure:     set.Name(),
		Threads:       threads,
		Elapsed:       elapsed,
		Commits:       after.Commits - before.Commits,
		Retries:       after.Retries - before.Retries,
		Aborts:        after.TotalAborts() - before.TotalAborts(),
		FinalSize:     set.Len(e),
		HeapLiveWords: after.Heap.LiveWords,
	}
	for i := range res.AbortsByReason {
		res.AbortsByReason[i] = after.Aborts[i] - before.Aborts[i]
	}
	var all stats.Float64Data
	for t, part := range parts {
		done := len(latencies[t])
		res.Ops += done
		for _, op := range part[:done] {
			res.Counts[op.Op]++
		}
		all = append(all, latencies[t]...)
	}
	if err := res.summarize(all); err != nil {
		return res, err
	}

	for _, err := range errs {
		if err != nil {
			return res, err
		}
	}
	if err := set.Verify(e); err != nil {
		lg.Error("structure invariants broken after benchmark", zap.Error(err))
		return res, errors.Annotatef(err, "verify %s", set.Name())
	}
	lg.Info("benchmark finished", res.Fields()...)
	return res, nil
}

func runWorker(ctx context.Context, e *engine.Engine, set Set, ops []Operation, limiter *rate.Limiter) ([]float64, error) {
	lat := make([]float64, 0, len(ops))
	var observers [numOps]prometheus.Observer
	for op := Op(0); op < numOps; op++ {
		observers[op] = metrics.OpDuration.WithLabelValues(op.String())
	}
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return lat, errors.Trace(err)
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return lat, errors.Trace(err)
			}
		}

		key := op.Key
		start := time.Now()
		var err error
		switch op.Op {
		case OpGet:
			err = e.AtomicallyReadOnly(func(tx *engine.Tx) error {
				set.Get(tx, key)
				return nil
			})
		case OpPut:
			err = e.Atomically(func(tx *engine.Tx) error {
				set.Put(tx, key)
				return nil
			})
		case OpDelete:
			err = e.Atomically(func(tx *engine.Tx) error {
				set.Delete(tx, key)
				return nil
			})
		}
		d := time.Since(start).Seconds()
		if err != nil {
			return lat, errors.Annotatef(err, "%s %d", op.Op, key)
		}
		lat = append(lat, d)
		observers[op.Op].Observe(d)
	}
	return lat, nil
}

func (r *Result) summarize(lat stats.Float64Data) error {
	if len(lat) == 0 {
		return nil
	}
	mean, err := stats.Mean(lat)
	if err != nil {
		return errors.Trace(err)
	}
	r.Mean = seconds(mean)
	for _, p := range []struct {
		pct float64
		dst *time.Duration
	}{{50, &r.P50}, {90, &r.P90}, {99, &r.P99}} {
		v, err := stats.Percentile(lat, p.pct)
		if err != nil {
			return errors.Trace(err)
		}
		*p.dst = seconds(v)
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// RunCounter has threads goroutines increment one shared counter perThread
// times each, one transaction per increment, and checks the final value.
func RunCounter(ctx context.Context, e *engine.Engine, threads, perThread int, lg *zap.Logger) (*Result, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	if threads < 1 {
		threads = DetectHost().DefaultThreads()
	}
	counter := e.Alloc(1)
	defer e.Free(counter)

	ops := make([]Operation, threads*perThread)
	for i := range ops {
		ops[i] = Operation{Op: OpPut, Key: int64(counter)}
	}
	res, err := Run(ctx, e, counterSet{addr: counter}, ops, Config{Threads: threads, Logger: lg})
	if err != nil {
		return res, err
	}
	if got, want := int(e.Load(counter)), res.Ops; got != want {
		return res, errors.Errorf("counter = %d after %d increments", got, want)
	}
	res.FinalSize = int(e.Load(counter))
	return res, nil
}

// counterSet treats every Put as an increment of the word at addr.
type counterSet struct {
	addr engine.Addr
}

func (c counterSet) Name() string { return "counter" }

func (c counterSet) Get(m engine.Memory, _ int64) bool { return m.Load(c.addr) != 0 }

func (c counterSet) Put(m engine.Memory, _ int64) bool {
	m.Store(c.addr, m.Load(c.addr)+1)
	return true
}

func (c counterSet) Delete(m engine.Memory, _ int64) bool { return false }

func (c counterSet) Len(m engine.Memory) int { return int(m.Load(c.addr)) }

func (c counterSet) Verify(engine.Memory) error { return nil }
