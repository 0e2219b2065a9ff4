package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sbl8/wearsense/dataset"
)

// preprocessCmd loads and preprocesses the data without training
var preprocessCmd = &cobra.Command{
	Use:   "preprocess",
	Short: "Load the data and print a dataset summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		split, err := dataset.Prepare(cfg.PrepareOptions(logger))
		if err != nil {
			return err
		}
		printSplit(cmd.OutOrStdout(), split)
		return nil
	},
}

func printSplit(out io.Writer, split *dataset.Split) {
	rep := split.Report
	fmt.Fprintf(out, "Rows: %d  Patients: %d  Max sequence length: %d\n", rep.RemainingRows, rep.RemainingPatients, split.MaxLen)
	fmt.Fprintf(out, "Dropped: %d without key, %d without target\n", rep.DroppedNoKey, rep.DroppedNoTarget)
	fmt.Fprintf(out, "Filled: %d forward, %d with column mean\n\n", rep.ForwardFilled, rep.MeanFilled)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SPLIT\tPATIENTS\tSAMPLES\tMEAN LEN\tTARGET\tPOSITIVE")
	for _, part := range []struct {
		name string
		ds   *dataset.Dataset
	}{{"train", split.Train}, {"test", split.Test}} {
		s := dataset.Summarize(part.ds)
		targets := make([]string, 0, len(s.PositiveRate))
		for t := range s.PositiveRate {
			targets = append(targets, t)
		}
		sort.Strings(targets)
		for i, t := range targets {
			if i == 0 {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%s\t%.3f\n", part.name, s.Patients, s.Samples, s.MeanLength, t, s.PositiveRate[t])
			} else {
				fmt.Fprintf(tw, "\t\t\t\t%s\t%.3f\n", t, s.PositiveRate[t])
			}
		}
	}
	tw.Flush()
}
