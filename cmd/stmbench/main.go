// Package main implements the stmbench CLI tool.
//
// stmbench drives the transactional data structures of gostm with
// randomized key-value workloads and reports throughput, latency
// percentiles and abort statistics. It works by:
//
//  1. Loading the TOML configuration (--config) and applying flag overrides
//  2. Creating an engine and the structure under test
//  3. Generating a shuffled operation mix and dealing it to worker goroutines
//  4. Running every operation as its own transaction
//  5. Verifying the structure's invariants afterwards
//
// Usage:
//
//	stmbench hashmap --threads 8 --mix write-heavy   # Hash map benchmark
//	stmbench rbtree --small --ops 100000             # Red-black tree benchmark
//	stmbench counter --threads 2                     # Shared counter
//	stmbench version                                 # Version information
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-sc
		fmt.Fprintf(os.Stderr, "\nGot signal [%v] to exit.\n", sig)
		cancel()
		<-sc
		fmt.Fprintf(os.Stderr, "\nGot signal [%v] again to exit.\n", sig)
		os.Exit(1)
	}()

	err := newRootCommand().ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:          "stmbench",
		Short:        "Benchmarks for the gostm TL2 transactional memory engine",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "TOML configuration file")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&opts.logFile, "log-file", "", "log to this file instead of stderr")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	root.AddCommand(
		newBenchCommand(opts, "hashmap", "Benchmark the transactional hash map"),
		newBenchCommand(opts, "rbtree", "Benchmark the transactional red-black tree"),
		newCounterCommand(opts),
		newVersionCommand(),
	)
	return root
}
