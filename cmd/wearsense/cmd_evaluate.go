package main

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sbl8/wearsense/dataset"
	"github.com/sbl8/wearsense/model"
	"github.com/sbl8/wearsense/store"
	"github.com/sbl8/wearsense/train"
)

var (
	checkpointPath string
	recordResults  bool
)

// evaluateCmd scores a checkpoint on the held-out patients
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a checkpoint on the test split",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, meta, split, err := loadForAnalysis()
		if err != nil {
			return err
		}
		ev, err := train.Evaluate(m, dataset.NewLoader(split.Test, cfg.Training.BatchSize, false, 0))
		if err != nil {
			return err
		}
		printEvaluation(cmd.OutOrStdout(), ev)

		if recordResults && meta.RunID != "" {
			st, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.RecordEvaluation(cmd.Context(), meta.RunID, "evaluate", ev)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{evaluateCmd, importanceCmd} {
		c.Flags().StringVar(&checkpointPath, "checkpoint", "", "Checkpoint path (default: training.checkpoint)")
		c.Flags().BoolVar(&recordResults, "record", true, "Record results under the checkpoint's run")
	}
}

// loadForAnalysis loads the checkpoint and rebuilds the data split with the
// sequence length and standardizer the model was trained with.
func loadForAnalysis() (*model.CNNGRU, model.Metadata, *dataset.Split, error) {
	path := checkpointPath
	if path == "" {
		path = cfg.Training.Checkpoint
	}
	m, meta, err := model.LoadCheckpoint(path)
	if err != nil {
		return nil, model.Metadata{}, nil, err
	}

	opts := cfg.PrepareOptions(logger)
	opts.SeqCols = meta.Features
	opts.TargetCols = meta.Targets
	opts.Thresholds = meta.Thresholds
	opts.MaxLen = meta.MaxLen
	opts.Standardizer = meta.Standardizer
	split, err := dataset.Prepare(opts)
	if err != nil {
		return nil, model.Metadata{}, nil, err
	}
	return m, meta, split, nil
}

func printEvaluation(out io.Writer, ev train.Evaluation) {
	fmt.Fprintf(out, "Loss: %.4f\n", ev.Loss)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tACCURACY\tPRECISION\tRECALL\tF1\tAUC\tPOSITIVES\tSUPPORT")
	for _, m := range append(append([]train.TargetMetrics(nil), ev.Targets...), ev.Macro) {
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%.3f\t%s\t%d\t%d\n",
			m.Target, m.Accuracy, m.Precision, m.Recall, m.F1, formatAUC(m.AUC), m.Positives, m.Support)
	}
	tw.Flush()
}

func formatAUC(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", v)
}
