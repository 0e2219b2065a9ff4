package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/wearsense/importance"
	"github.com/sbl8/wearsense/train"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	s := openTemp(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, `{"epochs":3}`)
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.Equal(t, StatusRunning, run.Status)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.True(t, run.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, got.FinishedAt.IsZero())
	assert.Equal(t, `{"epochs":3}`, got.Config)

	require.NoError(t, s.FinishRun(ctx, run.ID, StatusCompleted, "model.ckpt"))
	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "model.ckpt", got.Checkpoint)
	assert.False(t, got.FinishedAt.IsZero())

	assert.ErrorIs(t, s.FinishRun(ctx, "nope", StatusFailed, ""), ErrRunNotFound)
	_, err = s.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestFailRunAfterCancel(t *testing.T) {
	t.Parallel()
	s := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())

	run, err := s.CreateRun(ctx, `{}`)
	require.NoError(t, err)
	cancel()

	assert.Error(t, s.FinishRun(ctx, run.ID, StatusFailed, ""))
	require.NoError(t, s.FailRun(ctx, run.ID))

	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.False(t, got.FinishedAt.IsZero())
	assert.ErrorIs(t, s.FailRun(ctx, "nope"), ErrRunNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	t.Parallel()
	s := openTemp(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := s.CreateRun(ctx, "{}")
		require.NoError(t, err)
		ids = append(ids, run.ID)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[0], runs[2].ID)

	runs, err = s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestEpochs(t *testing.T) {
	t.Parallel()
	s := openTemp(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, "{}")
	require.NoError(t, err)

	require.NoError(t, s.RecordEpoch(ctx, run.ID, train.EpochResult{Epoch: 2, TrainLoss: 0.5, ValLoss: 0.6, Duration: 1500 * time.Millisecond}))
	require.NoError(t, s.RecordEpoch(ctx, run.ID, train.EpochResult{Epoch: 1, TrainLoss: 0.7, ValLoss: math.NaN()}))

	epochs, err := s.Epochs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, epochs, 2)
	assert.Equal(t, 1, epochs[0].Epoch)
	assert.True(t, math.IsNaN(epochs[0].ValLoss))
	assert.Equal(t, 0.5, epochs[1].TrainLoss)
	assert.Equal(t, 0.6, epochs[1].ValLoss)
	assert.Equal(t, 1500*time.Millisecond, epochs[1].Duration)

	err = s.RecordEpoch(ctx, "unknown-run", train.EpochResult{Epoch: 1})
	assert.Error(t, err, "foreign key enforced")
}

func TestEvaluations(t *testing.T) {
	t.Parallel()
	s := openTemp(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, "{}")
	require.NoError(t, err)

	ev := train.Evaluation{
		Loss: 0.4,
		Targets: []train.TargetMetrics{
			{Target: "mood", Accuracy: 0.8, Precision: 0.7, Recall: 0.6, F1: 0.65, AUC: 0.9, Positives: 3, Support: 10},
			{Target: "sleep", Accuracy: 1, AUC: math.NaN(), Support: 10},
		},
		Macro: train.TargetMetrics{Target: "macro", Accuracy: 0.9, AUC: 0.9, Positives: 3, Support: 20},
	}
	require.NoError(t, s.RecordEvaluation(ctx, run.ID, "test", ev))

	rows, err := s.Evaluations(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	byTarget := map[string]Evaluation{}
	for _, r := range rows {
		assert.Equal(t, "test", r.Split)
		assert.Equal(t, 0.4, r.Loss)
		byTarget[r.Target] = r
	}
	assert.Equal(t, 0.65, byTarget["mood"].F1)
	assert.Equal(t, 3, byTarget["mood"].Positives)
	assert.True(t, math.IsNaN(byTarget["sleep"].AUC))
	assert.Equal(t, 20, byTarget["macro"].Support)
}

func TestImportances(t *testing.T) {
	t.Parallel()
	s := openTemp(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, "{}")
	require.NoError(t, err)

	rep := &importance.Report{Results: []importance.Result{
		{Feature: "steps", Features: []string{"steps"}, Importance: 0.3, Std: 0.01, AUCDrop: 0.1},
		{Feature: "sensors", Features: []string{"hr", "hrv"}, Importance: 0.1, AUCDrop: math.NaN()},
	}}
	require.NoError(t, s.RecordImportance(ctx, run.ID, rep))
	// recording again replaces the previous set
	require.NoError(t, s.RecordImportance(ctx, run.ID, rep))

	got, err := s.Importances(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "steps", got[0].Feature)
	assert.Equal(t, 0.3, got[0].Importance)
	assert.Equal(t, []string{"hr", "hrv"}, got[1].Features)
	assert.True(t, math.IsNaN(got[1].AUCDrop))
}

func TestOpenInMemory(t *testing.T) {
	t.Parallel()
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	_, err = s.CreateRun(context.Background(), "{}")
	require.NoError(t, err)
	runs, err := s.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, ":memory:", s.Path())
}
