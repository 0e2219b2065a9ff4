// Package runtime implements parallel batched inference for trained models.
//
// The Engine splits a dataset into batches and fans them out to a fixed pool
// of workers. Each worker borrows a scratch Arena for the duration of a
// batch, so forward-pass activations reuse the same memory across batches.
// The arena pool also bounds concurrency: however many Predict calls run at
// once, at most Workers forward passes execute simultaneously.
//
// Execution model:
//  1. Split the dataset into fixed-size batches
//  2. Workers acquire an arena, run an evaluation forward pass, release it
//  3. Probabilities are written back in dataset order
//  4. Latency and arena statistics are accumulated when enabled
package runtime

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sbl8/wearsense/dataset"
	"github.com/sbl8/wearsense/model"
)

// EngineOptions configures engine behavior
type EngineOptions struct {
	Workers     int
	BatchSize   int
	ArenaSize   int // initial arena size in float64 values; 0 sizes from the first batch
	EnableStats bool
	Logger      *zap.Logger
}

// ExecutionStats tracks runtime performance metrics
type ExecutionStats struct {
	TotalExecutions int64 // batches
	TotalSamples    int64
	AverageLatency  time.Duration
	ArenaHighWater  int
	ArenaOverflows  int64
}

// DefaultEngineOptions provides sensible runtime defaults
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Workers:     goruntime.NumCPU(),
		BatchSize:   64,
		EnableStats: true,
	}
}

// Engine runs a read-only model over datasets with a worker pool.
type Engine struct {
	model  *model.CNNGRU
	opts   EngineOptions
	arenas chan *Arena
	log    *zap.Logger

	mu    sync.RWMutex
	stats ExecutionStats
}

// NewEngine creates a runtime engine. The model must not be trained while
// the engine is in use.
func NewEngine(m *model.CNNGRU, opts *EngineOptions) (*Engine, error) {
	if m == nil {
		return nil, errors.New("model cannot be nil")
	}
	o := DefaultEngineOptions()
	if opts != nil {
		o = *opts
		if o.Workers <= 0 {
			o.Workers = DefaultEngineOptions().Workers
		}
		if o.BatchSize <= 0 {
			o.BatchSize = DefaultEngineOptions().BatchSize
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	e := &Engine{
		model:  m,
		opts:   o,
		arenas: make(chan *Arena, o.Workers),
		log:    o.Logger,
	}
	for i := 0; i < o.Workers; i++ {
		e.arenas <- NewArena(o.ArenaSize)
	}
	return e, nil
}

// Model returns the engine's model.
func (e *Engine) Model() *model.CNNGRU { return e.model }

// Workers returns the size of the worker pool.
func (e *Engine) Workers() int { return e.opts.Workers }

// Predict returns [ds.Len(), OutputDim] probabilities in dataset order.
func (e *Engine) Predict(ctx context.Context, ds *dataset.Dataset) ([]float64, error) {
	if ds.NumFeatures() != e.model.Config().InputDim {
		return nil, fmt.Errorf("dataset has %d features, model expects %d", ds.NumFeatures(), e.model.Config().InputDim)
	}
	out := make([]float64, ds.Len()*e.model.Config().OutputDim)
	if ds.Len() == 0 {
		return out, nil
	}

	jobs := make(chan []int)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for start := 0; start < ds.Len(); start += e.opts.BatchSize {
			end := min(start+e.opts.BatchSize, ds.Len())
			idx := make([]int, end-start)
			for i := range idx {
				idx[i] = start + i
			}
			select {
			case jobs <- idx:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	workers := min(e.opts.Workers, (ds.Len()+e.opts.BatchSize-1)/e.opts.BatchSize)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for idx := range jobs {
				if err := e.runBatch(ctx, ds, idx, out); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// runBatch executes one batch on a borrowed arena.
func (e *Engine) runBatch(ctx context.Context, ds *dataset.Dataset, idx []int, out []float64) error {
	var arena *Arena
	select {
	case arena = <-e.arenas:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() {
		arena.Reset()
		e.arenas <- arena
	}()

	start := time.Now()
	b := dataset.MakeBatch(ds, idx)
	probs, err := e.model.Predict(b.Inputs, b.Size, b.SeqLen, arena)
	if err != nil {
		return fmt.Errorf("batch at sample %d: %w", idx[0], err)
	}
	o := e.model.Config().OutputDim
	copy(out[idx[0]*o:(idx[0]+b.Size)*o], probs)

	if e.opts.EnableStats {
		e.updateExecutionStats(start, b.Size, arena)
	}
	return nil
}

func (e *Engine) updateExecutionStats(start time.Time, samples int, arena *Arena) {
	duration := time.Since(start)
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.stats.TotalExecutions
	e.stats.AverageLatency = time.Duration((int64(e.stats.AverageLatency)*n + int64(duration)) / (n + 1))
	e.stats.TotalExecutions++
	e.stats.TotalSamples += int64(samples)
	e.stats.ArenaHighWater = max(e.stats.ArenaHighWater, arena.HighWater())
	e.stats.ArenaOverflows += arena.Overflows()
	arena.overflows = 0
}

// Stats returns current execution statistics
func (e *Engine) Stats() ExecutionStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// ResetStats clears the accumulated statistics.
func (e *Engine) ResetStats() {
	e.mu.Lock()
	e.stats = ExecutionStats{}
	e.mu.Unlock()
}
