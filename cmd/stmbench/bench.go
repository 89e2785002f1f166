// bench.go implements the 'stmbench hashmap' and 'stmbench rbtree' commands.
package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kolkov/gostm/internal/config"
	"github.com/kolkov/gostm/internal/workload"
)

// newBenchCommand returns the benchmark command for structure, which is
// "hashmap" or "rbtree".
//
// Flags left unset keep the value from --config, or the default.
//
// Example:
//
//	stmbench rbtree --threads 8 --mix read-heavy --small
//	stmbench hashmap --config bench.toml --ops 500000
func newBenchCommand(opts *globalOptions, structure, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   structure,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if err := applyBenchFlags(cmd.Flags(), &cfg.Bench); err != nil {
				return err
			}
			return runBench(cmd, opts, cfg, structure)
		},
	}
	addBenchFlags(cmd.Flags())
	return cmd
}

func addBenchFlags(fs *pflag.FlagSet) {
	def := config.DefaultConf.Bench
	fs.IntP("threads", "t", def.Threads, "worker goroutines (0 = every logical CPU)")
	fs.IntP("ops", "n", def.Ops, "total operations")
	fs.Int64("key-min", def.KeyMin, "smallest key")
	fs.Int64("key-max", def.KeyMax, "key range upper bound (exclusive)")
	fs.Float64("put-ratio", def.PutRatio, "fraction of puts")
	fs.Float64("delete-ratio", def.DeleteRatio, "fraction of deletes; the rest are gets")
	fs.String("mix", "", "preset ratios: read-heavy or write-heavy")
	fs.Bool("small", false, "use the small key range [100, 200) instead of [10000, 20000)")
	fs.Int("buckets", def.Buckets, "hash map buckets")
	fs.Float64("ops-per-second", def.OpsPerSecond, "throttle to this rate (0 = unthrottled)")
	fs.Uint64("seed", def.Seed, "workload seed (0 = random)")
	fs.Bool("prefill", def.Prefill, "insert every other key before the run")
}

// applyBenchFlags copies every flag the user set onto b. Presets are applied
// first so explicit ratios and bounds override them.
func applyBenchFlags(fs *pflag.FlagSet, b *config.Bench) error {
	if fs.Changed("mix") {
		name, _ := fs.GetString("mix")
		var mix workload.Mix
		switch name {
		case "read-heavy":
			mix = workload.ReadHeavy
		case "write-heavy":
			mix = workload.WriteHeavy
		default:
			return errors.Errorf("unknown mix %q, want read-heavy or write-heavy", name)
		}
		b.PutRatio, b.DeleteRatio = mix.PutRatio, mix.DeleteRatio
	}
	if fs.Changed("small") {
		small, _ := fs.GetBool("small")
		b.KeyMin, b.KeyMax = workload.KeyRange(small)
	}

	// Getter errors only occur for a flag of another type.
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "threads":
			b.Threads, _ = fs.GetInt(f.Name)
		case "ops":
			b.Ops, _ = fs.GetInt(f.Name)
		case "key-min":
			b.KeyMin, _ = fs.GetInt64(f.Name)
		case "key-max":
			b.KeyMax, _ = fs.GetInt64(f.Name)
		case "put-ratio":
			b.PutRatio, _ = fs.GetFloat64(f.Name)
		case "delete-ratio":
			b.DeleteRatio, _ = fs.GetFloat64(f.Name)
		case "buckets":
			b.Buckets, _ = fs.GetInt(f.Name)
		case "ops-per-second":
			b.OpsPerSecond, _ = fs.GetFloat64(f.Name)
		case "seed":
			b.Seed, _ = fs.GetUint64(f.Name)
		case "prefill":
			b.Prefill, _ = fs.GetBool(f.Name)
		}
	})
	return nil
}

func runBench(cmd *cobra.Command, opts *globalOptions, cfg *config.Config, structure string) error {
	ev, err := opts.setup(cfg)
	if err != nil {
		return err
	}
	defer ev.close()

	b := cfg.Bench
	var set workload.Set
	switch structure {
	case "hashmap":
		set = workload.NewHashMap(ev.engine, b.Buckets)
	case "rbtree":
		set = workload.NewTree(ev.engine)
	default:
		return errors.Errorf("unknown structure %q", structure)
	}
	if b.Prefill {
		n := workload.Prefill(ev.engine, set, b.KeyMin, b.KeyMax)
		ev.logger.Info("prefilled", zap.String("structure", structure), zap.Int("keys", n))
	}

	seed := b.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	ops, err := workload.Generate(workload.Mix{
		Ops:         b.Ops,
		KeyMin:      b.KeyMin,
		KeyMax:      b.KeyMax,
		PutRatio:    b.PutRatio,
		DeleteRatio: b.DeleteRatio,
		Seed:        seed,
	})
	if err != nil {
		return err
	}

	res, err := workload.Run(cmd.Context(), ev.engine, set, ops, workload.Config{
		Threads:      b.Threads,
		OpsPerSecond: b.OpsPerSecond,
		Logger:       ev.logger,
	})
	if res != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "seed %d\n%s", seed, res)
	}
	return err
}
