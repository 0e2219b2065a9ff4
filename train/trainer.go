package train

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sbl8/wearsense/dataset"
	"github.com/sbl8/wearsense/model"
	"github.com/sbl8/wearsense/runtime"
)

// Options configures a Trainer.
type Options struct {
	Epochs int
	AdamW  AdamWConfig
	Seed   uint64 // dropout mask seed
	Logger *zap.Logger

	// OnEpoch is called after every epoch. Returning an error stops training.
	OnEpoch func(EpochResult) error
}

// DefaultOptions returns 50 epochs with the default AdamW settings.
func DefaultOptions() Options {
	return Options{Epochs: 50, AdamW: DefaultAdamW(), Seed: 42}
}

// EpochResult summarizes one epoch.
type EpochResult struct {
	Epoch     int // 1-based
	TrainLoss float64
	ValLoss   float64
	Duration  time.Duration
}

// Trainer fits a model in place.
type Trainer struct {
	model *model.CNNGRU
	opt   *AdamW
	opts  Options
	log   *zap.Logger
	arena *runtime.Arena
}

// NewTrainer creates a trainer for m.
func NewTrainer(m *model.CNNGRU, opts Options) (*Trainer, error) {
	if m == nil {
		return nil, errors.New("model cannot be nil")
	}
	if opts.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", opts.Epochs)
	}
	if opts.AdamW.LR <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", opts.AdamW.LR)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	m.SeedDropout(opts.Seed)
	return &Trainer{
		model: m,
		opt:   NewAdamW(m.Params(), opts.AdamW),
		opts:  opts,
		log:   opts.Logger,
		arena: runtime.NewArena(0),
	}, nil
}

// Fit trains for the configured number of epochs and returns per-epoch losses.
// val may be nil to skip validation. Cancellation is checked between batches.
func (t *Trainer) Fit(ctx context.Context, trainLoader, val *dataset.Loader) ([]EpochResult, error) {
	if trainLoader.Len() == 0 {
		return nil, fmt.Errorf("training set: %w", dataset.ErrEmpty)
	}
	results := make([]EpochResult, 0, t.opts.Epochs)
	for epoch := 1; epoch <= t.opts.Epochs; epoch++ {
		start := time.Now()
		trainLoss, err := t.trainEpoch(ctx, trainLoader)
		if err != nil {
			return results, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		t.log.Info(fmt.Sprintf("Epoch [%d/%d], Train Loss: %.4f", epoch, t.opts.Epochs, trainLoss))

		res := EpochResult{Epoch: epoch, TrainLoss: trainLoss}
		if val != nil && val.Len() > 0 {
			ev, err := Evaluate(t.model, val)
			if err != nil {
				return results, fmt.Errorf("epoch %d validation: %w", epoch, err)
			}
			res.ValLoss = ev.Loss
			t.log.Info(fmt.Sprintf("Epoch [%d/%d], Val Loss: %.4f", epoch, t.opts.Epochs, ev.Loss))
		}
		res.Duration = time.Since(start)
		results = append(results, res)

		if t.opts.OnEpoch != nil {
			if err := t.opts.OnEpoch(res); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

func (t *Trainer) trainEpoch(ctx context.Context, l *dataset.Loader) (float64, error) {
	var total float64
	batches := l.Epoch()
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		loss, err := t.step(b)
		if err != nil {
			return 0, err
		}
		total += loss
	}
	return total / float64(len(batches)), nil
}

// step runs forward, backward and one optimizer update on a batch.
func (t *Trainer) step(b dataset.Batch) (float64, error) {
	defer t.arena.Reset()
	t.model.ZeroGrad()
	cache, err := t.model.Forward(b.Inputs, b.Size, b.SeqLen, model.Train, t.arena)
	if err != nil {
		return 0, err
	}
	loss, err := BCELoss(cache.Probs, b.Targets)
	if err != nil {
		return 0, err
	}
	grad := t.arena.Alloc(len(cache.Probs))
	if err := BCEGrad(cache.Probs, b.Targets, grad); err != nil {
		return 0, err
	}
	if err := t.model.Backward(cache, grad); err != nil {
		return 0, err
	}
	t.opt.Step()
	t.log.Debug("batch", zap.Int("size", b.Size), zap.Float64("loss", loss))
	return loss, nil
}

// Evaluate scores m on every batch of l in evaluation mode. Loss is the mean
// of per-batch losses; the classification metrics are computed over all samples.
func Evaluate(m *model.CNNGRU, l *dataset.Loader) (Evaluation, error) {
	ds := l.Dataset()
	if ds.Len() == 0 {
		return Evaluation{}, fmt.Errorf("evaluation set: %w", dataset.ErrEmpty)
	}
	var (
		probs, targets []float64
		lossSum        float64
	)
	arena := runtime.NewArena(0)
	batches := l.Epoch()
	for _, b := range batches {
		p, err := m.Predict(b.Inputs, b.Size, b.SeqLen, arena)
		if err != nil {
			return Evaluation{}, err
		}
		loss, err := BCELoss(p, b.Targets)
		if err != nil {
			return Evaluation{}, err
		}
		lossSum += loss
		probs = append(probs, p...)
		targets = append(targets, b.Targets...)
		arena.Reset()
	}
	ev, err := Score(probs, targets, ds.Targets)
	if err != nil {
		return Evaluation{}, err
	}
	ev.Loss = lossSum / float64(len(batches))
	return ev, nil
}
