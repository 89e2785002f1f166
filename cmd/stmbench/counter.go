// counter.go implements the 'stmbench counter' command.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kolkov/gostm/internal/workload"
)

// newCounterCommand returns the shared-counter benchmark: every goroutine
// increments one heap word in its own transactions, and the final value must
// equal the number of increments.
//
// Example:
//
//	stmbench counter --threads 2 --per-thread 1000000
func newCounterCommand(opts *globalOptions) *cobra.Command {
	var threads, perThread int
	cmd := &cobra.Command{
		Use:   "counter",
		Short: "Increment one shared counter from many goroutines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			ev, err := opts.setup(cfg)
			if err != nil {
				return err
			}
			defer ev.close()

			res, err := workload.RunCounter(cmd.Context(), ev.engine, threads, perThread, ev.logger)
			if res != nil {
				fmt.Fprint(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&threads, "threads", "t", 2, "goroutines (0 = every logical CPU)")
	cmd.Flags().IntVar(&perThread, "per-thread", 100000, "increments per goroutine")
	return cmd
}
