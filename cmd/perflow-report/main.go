// Command perflow-report builds a CallTree from one or more per-rank
// artifact pairs and prints hotspot or balance reports (spec §6's CLI
// surface).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stealthrocket/perflow"
)

var (
	samplePaths []string
	mapPaths    []string
	rankIDs     []int64
	contextAware bool
	topN        int
)

func main() {
	root := &cobra.Command{
		Use:   "perflow-report",
		Short: "Report hotspots and workload balance from perflow artifacts",
	}
	root.PersistentFlags().StringSliceVar(&samplePaths, "sample", nil, "sample-table artifact path (repeatable)")
	root.PersistentFlags().StringSliceVar(&mapPaths, "libmap", nil, "memory-map artifact path, aligned with --sample (repeatable)")
	root.PersistentFlags().Int64SliceVar(&rankIDs, "rank", nil, "rank id, aligned with --sample (repeatable)")
	root.PersistentFlags().BoolVar(&contextAware, "context-aware", false, "use context-aware tree building instead of context-free")

	hotspots := &cobra.Command{
		Use:   "hotspots",
		Short: "Print the top self-time and total-time hotspots",
		RunE:  runHotspots,
	}
	hotspots.Flags().IntVar(&topN, "n", 10, "number of hotspots to print")

	balance := &cobra.Command{
		Use:   "balance",
		Short: "Print per-process workload balance",
		RunE:  runBalance,
	}

	report := &cobra.Command{
		Use:   "report",
		Short: "Print both hotspots and balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runHotspots(cmd, args); err != nil {
				return err
			}
			return runBalance(cmd, args)
		},
	}
	report.Flags().IntVar(&topN, "n", 10, "number of hotspots to print")

	root.AddCommand(hotspots, balance, report)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildTree() (*perflow.CallTree, error) {
	if len(samplePaths) == 0 {
		return nil, fmt.Errorf("at least one --sample is required")
	}
	mode := perflow.ContextFree
	if contextAware {
		mode = perflow.ContextAware
	}
	builder := perflow.NewTreeBuilder(mode, perflow.Both)

	var pairs []perflow.ArtifactPair
	for i, sample := range samplePaths {
		var mapPath string
		if i < len(mapPaths) {
			mapPath = mapPaths[i]
		}
		var rank int64 = int64(i)
		if i < len(rankIDs) {
			rank = rankIDs[i]
		}
		pairs = append(pairs, perflow.ArtifactPair{SamplePath: sample, MapPath: mapPath, RankID: rank})
	}
	return builder.Build(pairs)
}

func runHotspots(cmd *cobra.Command, args []string) error {
	tree, err := buildTree()
	if err != nil {
		return err
	}

	analyzer := perflow.NewHotspotAnalyzer()

	fmt.Printf("Top %d self-time hotspots:\n", topN)
	for _, h := range analyzer.FindSelfHotspots(tree, topN) {
		fmt.Printf("  %-40s self=%-10d (%.2f%%) total=%d\n", h.SourceLocation, h.SelfCount, h.SelfPercentage, h.TotalCount)
	}

	fmt.Printf("\nTop %d total-time hotspots:\n", topN)
	for _, h := range analyzer.FindTotalHotspots(tree, topN) {
		fmt.Printf("  %-40s total=%-10d self=%d\n", h.SourceLocation, h.TotalCount, h.SelfCount)
	}
	return nil
}

func runBalance(cmd *cobra.Command, args []string) error {
	tree, err := buildTree()
	if err != nil {
		return err
	}

	result := perflow.NewBalanceAnalyzer().Analyze(tree)
	fmt.Printf("\nWorkload balance:\n")
	fmt.Printf("  mean=%.2f stddev=%.2f min=%d max=%d imbalance=%.3f\n",
		result.Mean, result.StdDev, result.Min, result.Max, result.ImbalanceFactor)
	fmt.Printf("  most loaded: rank %d, least loaded: rank %d\n", result.MostLoadedProcess, result.LeastLoadedProcess)
	for rank, count := range result.PerProcess {
		fmt.Printf("  rank %d: %d samples\n", rank, count)
	}
	return nil
}
