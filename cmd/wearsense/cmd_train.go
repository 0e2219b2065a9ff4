package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sbl8/wearsense/dataset"
	"github.com/sbl8/wearsense/model"
	"github.com/sbl8/wearsense/store"
	"github.com/sbl8/wearsense/train"
)

// trainCmd trains a model and records the run
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a CNN-GRU model and write a checkpoint",
	RunE:  runTrain,
}

func runTrain(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	if err := cfg.Validate(); err != nil {
		return err
	}

	split, err := dataset.Prepare(cfg.PrepareOptions(logger))
	if err != nil {
		return err
	}
	m, err := model.New(cfg.Model.Build(split.Train.NumFeatures(), split.Train.NumTargets()), cfg.Data.Seed)
	if err != nil {
		return err
	}
	logger.Info("model initialized", zap.Int("params", m.NumParams()), zap.Any("config", m.Config()))

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	run, err := st.CreateRun(ctx, string(raw))
	if err != nil {
		return err
	}
	log := logger.With(zap.String("run_id", run.ID))
	defer func() {
		if err != nil {
			if ferr := st.FailRun(ctx, run.ID); ferr != nil {
				log.Warn("failed to mark run as failed", zap.Error(ferr))
			}
		}
	}()

	opts := cfg.TrainOptions(log)
	opts.OnEpoch = func(r train.EpochResult) error {
		return st.RecordEpoch(ctx, run.ID, r)
	}
	trainer, err := train.NewTrainer(m, opts)
	if err != nil {
		return err
	}
	trainLoader := dataset.NewLoader(split.Train, cfg.Training.BatchSize, true, cfg.Data.Seed)
	valLoader := dataset.NewLoader(split.Test, cfg.Training.BatchSize, false, 0)
	if _, err := trainer.Fit(ctx, trainLoader, valLoader); err != nil {
		return err
	}

	ev, err := train.Evaluate(m, valLoader)
	if err != nil {
		return err
	}
	if err := st.RecordEvaluation(ctx, run.ID, "test", ev); err != nil {
		return err
	}
	printEvaluation(cmd.OutOrStdout(), ev)

	meta := model.Metadata{
		RunID:        run.ID,
		CreatedAt:    time.Now().UTC(),
		Features:     split.Train.Features,
		Targets:      split.Train.Targets,
		Thresholds:   cfg.Data.Thresholds,
		MaxLen:       split.MaxLen,
		Standardizer: split.Standardizer,
	}
	if err := model.SaveCheckpoint(cfg.Training.Checkpoint, m, meta); err != nil {
		return err
	}
	if err := st.FinishRun(ctx, run.ID, store.StatusCompleted, cfg.Training.Checkpoint); err != nil {
		return err
	}
	log.Info("training complete", zap.String("checkpoint", cfg.Training.Checkpoint))
	fmt.Fprintf(cmd.OutOrStdout(), "\nRun %s saved to %s\n", run.ID, cfg.Training.Checkpoint)
	return nil
}
