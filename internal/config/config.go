// Package config holds the TOML configuration of the stmbench tool and the
// engine options derived from it.
package config

import (
	"math/bits"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"

	"github.com/kolkov/gostm/internal/logutil"
	"github.com/kolkov/gostm/internal/stm/engine"
	"github.com/kolkov/gostm/internal/stm/heap"
	"github.com/kolkov/gostm/internal/stm/vlock"
	"github.com/kolkov/gostm/stm"
)

type Config struct {
	LogLevel         string `toml:"log-level"`
	LogFile          string `toml:"log-file"`           // Empty logs to stderr.
	MinEngineVersion string `toml:"min-engine-version"` // Refuse to run on an older engine.
	Engine           Engine `toml:"engine"`
	Bench            Bench  `toml:"bench"`
}

type Engine struct {
	LockTableSize int      `toml:"lock-table-size"` // Must be a power of two.
	HeapWords     int      `toml:"heap-words"`
	LockAttempts  int      `toml:"lock-attempts"` // TryLock attempts per lock at commit.
	BackoffBase   Duration `toml:"backoff-base"`  // Zero disables backoff.
	BackoffMax    Duration `toml:"backoff-max"`
	AbortLogRate  uint64   `toml:"abort-log-rate"` // Log one in this many aborts. Zero disables.
}

type Bench struct {
	Threads      int     `toml:"threads"` // Zero uses every logical CPU.
	Ops          int     `toml:"ops"`
	KeyMin       int64   `toml:"key-min"`
	KeyMax       int64   `toml:"key-max"`
	PutRatio     float64 `toml:"put-ratio"`
	DeleteRatio  float64 `toml:"delete-ratio"`
	Buckets      int     `toml:"buckets"`        // Hash map buckets.
	OpsPerSecond float64 `toml:"ops-per-second"` // Zero means unthrottled.
	Seed         uint64  `toml:"seed"`           // Zero picks a random seed.
	Prefill      bool    `toml:"prefill"`        // Insert half the key range before the run.
}

var DefaultConf = Config{
	LogLevel: "info",
	Engine: Engine{
		LockTableSize: vlock.DefaultTableSize,
		HeapWords:     heap.DefaultWords,
		LockAttempts:  engine.DefaultLockAttempts,
		AbortLogRate:  0,
	},
	Bench: Bench{
		Threads:     0,
		Ops:         1_000_000,
		KeyMin:      0,
		KeyMax:      1 << 16,
		PutRatio:    0.2,
		DeleteRatio: 0.2,
		Buckets:     1 << 14,
		Prefill:     true,
	},
}

// Duration is a time.Duration written as a string such as "50us" in TOML.
type Duration struct {
	time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.Annotatef(err, "parse duration %q", text)
}

// Load reads the TOML file at path over a copy of DefaultConf and validates
// the result. Keys the file sets but Config does not know are an error.
func Load(path string) (*Config, error) {
	c := DefaultConf
	meta, err := toml.DecodeFile(path, &c)
	if err != nil {
		return nil, errors.Annotatef(err, "load config %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) != 0 {
		return nil, errors.Errorf("config %s contains undefined item: %s", path, undecoded[0])
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Annotatef(err, "config %s", path)
	}
	return &c, nil
}

// Validate checks the configuration against the engine it will run on.
func (c *Config) Validate() error {
	if n := c.Engine.LockTableSize; n < 1 || bits.OnesCount(uint(n)) != 1 {
		return errors.Errorf("lock-table-size %d is not a power of two", n)
	}
	if c.Engine.HeapWords < 2 {
		return errors.Errorf("heap-words %d is too small", c.Engine.HeapWords)
	}
	if c.Engine.LockAttempts < 1 {
		return errors.Errorf("lock-attempts must be at least 1, got %d", c.Engine.LockAttempts)
	}
	if c.Engine.BackoffBase.Duration < 0 || c.Engine.BackoffMax.Duration < 0 {
		return errors.New("backoff durations must not be negative")
	}

	b := c.Bench
	for name, r := range map[string]float64{"put-ratio": b.PutRatio, "delete-ratio": b.DeleteRatio} {
		if r < 0 || r > 1 {
			return errors.Errorf("%s %v is outside [0, 1]", name, r)
		}
	}
	if b.PutRatio+b.DeleteRatio > 1 {
		return errors.Errorf("put-ratio + delete-ratio = %v exceeds 1", b.PutRatio+b.DeleteRatio)
	}
	if b.KeyMax <= b.KeyMin {
		return errors.Errorf("key-max %d must exceed key-min %d", b.KeyMax, b.KeyMin)
	}
	if b.Threads < 0 || b.Ops < 0 || b.Buckets < 0 || b.OpsPerSecond < 0 {
		return errors.New("bench threads, ops, buckets and ops-per-second must not be negative")
	}

	if c.MinEngineVersion != "" {
		if err := stm.CheckVersion(c.MinEngineVersion); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Options converts the engine section to engine options.
func (c *Config) Options() engine.Options {
	return engine.Options{
		LockTableSize: c.Engine.LockTableSize,
		HeapWords:     c.Engine.HeapWords,
		LockAttempts:  c.Engine.LockAttempts,
		BackoffBase:   c.Engine.BackoffBase.Duration,
		BackoffMax:    c.Engine.BackoffMax.Duration,
		AbortLogRate:  c.Engine.AbortLogRate,
	}
}

// LogConfig returns the logger settings.
func (c *Config) LogConfig() *logutil.Config {
	return &logutil.Config{
		Level: c.LogLevel,
		File:  logutil.FileLogConfig{Filename: c.LogFile},
	}
}
