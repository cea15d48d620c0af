package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fdbmem/fdbmem/kv/bench"
)

var benchOptions = bench.DefaultOptions()

func newBenchCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "bench",
		Short: "Run a counter workload and print latency percentiles",
		Run:   runBenchCommandFunc,
	}
	m.Flags().StringVarP(&benchOptions.Workload, "workload", "w", benchOptions.Workload, "Workload, atomic or rmw")
	m.Flags().IntVarP(&benchOptions.Workers, "workers", "t", benchOptions.Workers, "Concurrent clients")
	m.Flags().IntVarP(&benchOptions.Operations, "operations", "n", benchOptions.Operations, "Transactions to commit")
	m.Flags().IntVarP(&benchOptions.Counters, "counters", "k", benchOptions.Counters, "Distinct counter keys")
	m.Flags().Float64Var(&benchOptions.Rate, "rate", benchOptions.Rate, "Transactions per second, 0 for unlimited")
	return m
}

func runBenchCommandFunc(cmd *cobra.Command, args []string) {
	d := openDB()
	result, err := bench.Run(globalContext, d, benchOptions)
	if err != nil {
		fatalf("bench: %v", err)
	}
	result.Render(os.Stdout)
}
