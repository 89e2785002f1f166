// version.go implements the 'stmbench version' command.
package main

import (
	"fmt"
	"runtime"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/kolkov/gostm/internal/workload"
	"github.com/kolkov/gostm/stm"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and host information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := stm.GetInfo()
			host := workload.DetectHost()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "stmbench version %s\n", info.Version)
			fmt.Fprintf(out, "algorithm:       %s\n", info.Algorithm)
			fmt.Fprintf(out, "lock table:      %d stripes\n", info.LockTableSize)
			fmt.Fprintf(out, "heap:            %s\n", units.BytesSize(float64(info.HeapWords*8)))
			fmt.Fprintf(out, "go:              %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "cpus:            %d logical, %d physical, GOMAXPROCS %d\n",
				host.LogicalCPUs, host.PhysicalCPUs, host.GOMAXPROCS)
			if host.MemoryTotal > 0 {
				fmt.Fprintf(out, "memory:          %s\n", units.BytesSize(float64(host.MemoryTotal)))
			}
		},
	}
}
