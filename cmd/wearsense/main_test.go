package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/wearsense/importance"
)

// writeFixture creates a small multi-patient export and a config pointing at it.
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	var b strings.Builder
	b.WriteString("key_id,week,steps,hr,mood\n")
	for p := 0; p < 8; p++ {
		for w := 3; w < 5; w++ {
			for r := 0; r < 3; r++ {
				mood := (p + w) % 2
				fmt.Fprintf(&b, "p%d,%d,%d,%d,%d\n", p, w, 1000*(p+r), 60+p+r, mood*2)
			}
		}
	}
	data := filepath.Join(dir, "export.csv")
	require.NoError(t, os.WriteFile(data, []byte(b.String()), 0644))

	cfg := fmt.Sprintf(`
data:
  paths: [%q]
  seq_cols: [steps, hr]
  target_cols: [mood]
model:
  cnn_out_channels: 4
  cnn_kernel_size: 2
  gru_hidden_dim: 3
training:
  epochs: 2
  batch_size: 4
  checkpoint: %q
importance:
  repeats: 2
  output: %q
runtime:
  workers: 2
store:
  path: %q
logging:
  level: error
`, data, filepath.Join(dir, "model.ckpt"), filepath.Join(dir, "reports", "importance.csv"), filepath.Join(dir, "runs.db"))
	path := filepath.Join(dir, "wearsense.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func TestPipelineCommands(t *testing.T) {
	cfgFile := writeFixture(t)

	out := execute(t, "--config", cfgFile, "preprocess")
	assert.Contains(t, out, "Patients: 8")
	assert.Contains(t, out, "Max sequence length: 3")

	out = execute(t, "--config", cfgFile, "train")
	assert.Contains(t, out, "macro")
	assert.Contains(t, out, "saved to")

	out = execute(t, "--config", cfgFile, "evaluate")
	assert.Contains(t, out, "Loss:")

	out = execute(t, "--config", cfgFile, "importance")
	assert.Contains(t, out, "Report written to")

	report, err := os.Open(cfg.Importance.Output)
	require.NoError(t, err)
	defer report.Close()
	rows, err := csv.NewReader(report).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "feature", rows[0][1])

	out = execute(t, "--config", cfgFile, "runs")
	assert.Contains(t, out, "completed")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	runID := strings.Fields(lines[1])[0]
	out = execute(t, "--config", cfgFile, "runs", "show", runID)
	assert.Contains(t, out, "EPOCH")
	assert.Contains(t, out, "evaluate")
	assert.Contains(t, out, "AUC DROP")
}

func TestBenchCommand(t *testing.T) {
	cfgFile := writeFixture(t)
	out := execute(t, "--config", cfgFile, "bench", "--test", "all", "--size", "64", "--iter", "10")
	assert.Contains(t, out, "Matrix Multiply 16x16")
	assert.Contains(t, out, "sigmoid")
	assert.Contains(t, out, "samples/s")
}

func TestWriteImportanceCSV(t *testing.T) {
	var buf bytes.Buffer
	rep := &importance.Report{Results: []importance.Result{
		{Feature: "activity", Features: []string{"steps", "hr"}, Importance: 0.25, Std: 0.5, AUCDrop: 0.125},
	}}
	require.NoError(t, writeImportanceCSV(&buf, rep))
	assert.Equal(t,
		"rank,feature,members,importance_mean,importance_std,auc_drop_mean,auc_drop_std\n"+
			"1,activity,steps;hr,0.25,0.5,0.125,0\n",
		buf.String())
}
