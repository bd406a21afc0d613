// Command perflow-dump inspects raw perflow artifacts without building a
// tree, useful for debugging a single rank's capture (spec §6's CLI
// surface).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stealthrocket/perflow"
)

func main() {
	root := &cobra.Command{
		Use:   "perflow-dump",
		Short: "Dump the contents of a perflow artifact",
	}

	dumpSamples := &cobra.Command{
		Use:   "dump-samples [path]",
		Short: "Print every entry of a sample-table artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := perflow.ReadSampleTable(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("timestamp=%d max_stack_depth=%d entries=%d\n", table.Timestamp, table.MaxStackDepth, len(table.Entries))
			for _, e := range table.Entries {
				fmt.Printf("count=%d depth=%d frames=", e.Count, e.Stack.Depth())
				for i, f := range e.Stack.Frames() {
					if i > 0 {
						fmt.Print(",")
					}
					fmt.Printf("%#x", f)
				}
				fmt.Println()
			}
			return nil
		},
	}

	dumpLibmap := &cobra.Command{
		Use:   "dump-libmap [path]",
		Short: "Print every region of a memory-map artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, pid, err := perflow.ReadMemoryMap(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("process_id=%d regions=%d\n", pid, len(m.Regions()))
			for _, r := range m.Regions() {
				fmt.Printf("%#x-%#x %s\n", r.Base, r.End, r.Name)
			}
			return nil
		},
	}

	root.AddCommand(dumpSamples, dumpLibmap)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
