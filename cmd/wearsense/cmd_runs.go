package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sbl8/wearsense/store"
	"github.com/sbl8/wearsense/train"
)

var runsLimit int

// runsCmd lists recorded training runs
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded training runs",
	Long: `List recorded training runs, newest first.

Subcommands:
  show   - Show epochs, metrics and importances of one run`,
	RunE: runRunsList,
}

// runsShowCmd shows one run in detail
var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum runs to list (0 for all)")
	runsCmd.AddCommand(runsShowCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tCHECKPOINT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Status, r.Checkpoint)
	}
	return tw.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	run, err := st.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	epochs, err := st.Epochs(ctx, run.ID)
	if err != nil {
		return err
	}
	evals, err := st.Evaluations(ctx, run.ID)
	if err != nil {
		return err
	}
	imps, err := st.Importances(ctx, run.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (%s)\nCreated: %s\n", run.ID, run.Status, run.CreatedAt.Local().Format(time.DateTime))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(out, "Finished: %s\n", run.FinishedAt.Local().Format(time.DateTime))
	}
	if run.Checkpoint != "" {
		fmt.Fprintf(out, "Checkpoint: %s\n", run.Checkpoint)
	}
	printEpochs(out, epochs)

	if len(evals) > 0 {
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SPLIT\tTARGET\tLOSS\tACCURACY\tF1\tAUC")
		for _, e := range evals {
			fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.3f\t%.3f\t%s\n", e.Split, e.Target, e.Loss, e.Accuracy, e.F1, formatAUC(e.AUC))
		}
		tw.Flush()
	}
	if len(imps) > 0 {
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tFEATURE\tIMPORTANCE\tSTD\tAUC DROP")
		for i, r := range imps {
			fmt.Fprintf(tw, "%d\t%s\t%.4f\t%.4f\t%s\n", i+1, r.Feature, r.Importance, r.Std, formatAUC(r.AUCDrop))
		}
		tw.Flush()
	}
	return nil
}

func printEpochs(out io.Writer, epochs []train.EpochResult) {
	if len(epochs) == 0 {
		return
	}
	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EPOCH\tTRAIN LOSS\tVAL LOSS\tDURATION")
	for _, e := range epochs {
		fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%s\n", e.Epoch, e.TrainLoss, e.ValLoss, e.Duration.Round(time.Millisecond))
	}
	tw.Flush()
}
