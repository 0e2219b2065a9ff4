package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sbl8/wearsense/importance"
	"github.com/sbl8/wearsense/runtime"
	"github.com/sbl8/wearsense/store"
)

var importanceOutput string

// importanceCmd computes permutation feature importance on the test split
var importanceCmd = &cobra.Command{
	Use:   "importance",
	Short: "Compute permutation feature importance and write a CSV report",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, meta, split, err := loadForAnalysis()
		if err != nil {
			return err
		}
		engine, err := runtime.NewEngine(m, cfg.EngineOptions(logger))
		if err != nil {
			return err
		}
		rep, err := importance.Permutation(cmd.Context(), engine, split.Test, cfg.ImportanceOptions(logger))
		if err != nil {
			return err
		}
		stats := engine.Stats()
		logger.Info("importance complete",
			zap.Int64("batches", stats.TotalExecutions),
			zap.Duration("avg_batch_latency", stats.AverageLatency),
			zap.Int("arena_high_water", stats.ArenaHighWater))

		out := importanceOutput
		if out == "" {
			out = cfg.Importance.Output
		}
		if err := writeImportanceFile(out, rep); err != nil {
			return err
		}
		printImportance(cmd.OutOrStdout(), rep)
		fmt.Fprintf(cmd.OutOrStdout(), "\nReport written to %s\n", out)

		if recordResults && meta.RunID != "" {
			st, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.RecordImportance(cmd.Context(), meta.RunID, rep)
		}
		return nil
	},
}

func init() {
	importanceCmd.Flags().StringVarP(&importanceOutput, "output", "o", "", "CSV report path (default: importance.output)")
}

func writeImportanceFile(path string, rep *importance.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := writeImportanceCSV(f, rep); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeImportanceCSV writes one row per feature in rank order.
func writeImportanceCSV(w io.Writer, rep *importance.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"rank", "feature", "members", "importance_mean", "importance_std", "auc_drop_mean", "auc_drop_std"}); err != nil {
		return err
	}
	for i, r := range rep.Results {
		err := cw.Write([]string{
			strconv.Itoa(i + 1),
			r.Feature,
			strings.Join(r.Features, ";"),
			formatFloat(r.Importance),
			formatFloat(r.Std),
			formatFloat(r.AUCDrop),
			formatFloat(r.AUCDropStd),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func printImportance(out io.Writer, rep *importance.Report) {
	fmt.Fprintf(out, "Baseline loss: %.4f  macro AUC: %s  repeats: %d\n", rep.BaselineLoss, formatAUC(rep.BaselineAUC), rep.Repeats)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tFEATURE\tIMPORTANCE\tSTD\tAUC DROP")
	for i, r := range rep.Results {
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%.4f\t%s\n", i+1, r.Feature, r.Importance, r.Std, formatAUC(r.AUCDrop))
	}
	tw.Flush()
}
