// Package importance measures how much each input feature contributes to a
// trained model by shuffling it across samples and re-scoring.
package importance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/sbl8/wearsense/dataset"
	"github.com/sbl8/wearsense/runtime"
	"github.com/sbl8/wearsense/train"
)

// Group permutes several features together, e.g. all channels of one sensor.
type Group struct {
	Name     string   `yaml:"name" toml:"name"`
	Features []string `yaml:"features" toml:"features"`
}

// Config controls a permutation run.
type Config struct {
	Repeats int
	Seed    uint64
	Workers int // features evaluated concurrently
	// Groups, when set, replace the per-feature units.
	Groups []Group
	Logger *zap.Logger
}

// DefaultConfig returns 5 repeats, seed 42 and 2 concurrent features.
func DefaultConfig() Config {
	return Config{Repeats: 5, Seed: 42, Workers: 2}
}

// Result is the importance of one feature or group.
type Result struct {
	Feature    string
	Features   []string
	Importance float64 // mean permuted loss − baseline loss
	Std        float64
	AUCDrop    float64 // mean baseline macro AUC − permuted macro AUC
	AUCDropStd float64
}

// Report holds the baseline scores and the ranked results.
type Report struct {
	BaselineLoss float64
	BaselineAUC  float64
	Repeats      int
	Results      []Result
}

type unit struct {
	name    string
	columns []int
}

// Permutation computes permutation importance of ds's features under the
// engine's model. Results are sorted by importance, highest first, and do not
// depend on cfg.Workers.
func Permutation(ctx context.Context, engine *runtime.Engine, ds *dataset.Dataset, cfg Config) (*Report, error) {
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if ds.Len() < 2 {
		return nil, fmt.Errorf("permutation needs at least 2 samples, got %d", ds.Len())
	}
	if cfg.Repeats <= 0 {
		cfg.Repeats = DefaultConfig().Repeats
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	units, err := buildUnits(ds.Features, cfg.Groups)
	if err != nil {
		return nil, err
	}

	baseLoss, baseAUC, err := score(ctx, engine, ds)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	log.Info("baseline score", zap.Float64("loss", baseLoss), zap.Float64("macro_auc", baseAUC))

	results := make([]Result, len(units))
	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for ui, u := range units {
		g.Go(func() error {
			losses := make([]float64, cfg.Repeats)
			drops := make([]float64, cfg.Repeats)
			for r := 0; r < cfg.Repeats; r++ {
				permuted := ds.Clone()
				Shuffle(permuted, u.columns, rand.New(rand.NewPCG(cfg.Seed, uint64(ui)<<32|uint64(r))))
				loss, auc, err := score(gctx, engine, permuted)
				if err != nil {
					return fmt.Errorf("feature %s repeat %d: %w", u.name, r, err)
				}
				losses[r] = loss - baseLoss
				drops[r] = baseAUC - auc
			}
			res := Result{Feature: u.name, Features: featureNames(ds.Features, u.columns)}
			res.Importance, res.Std = meanStd(losses)
			res.AUCDrop, res.AUCDropStd = meanStd(drops)
			results[ui] = res

			mu.Lock()
			done++
			log.Debug("feature scored",
				zap.String("feature", u.name),
				zap.Float64("importance", res.Importance),
				zap.Int("done", done),
				zap.Int("total", len(units)))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Importance != results[j].Importance {
			return results[i].Importance > results[j].Importance
		}
		return results[i].Feature < results[j].Feature
	})
	return &Report{BaselineLoss: baseLoss, BaselineAUC: baseAUC, Repeats: cfg.Repeats, Results: results}, nil
}

// Shuffle permutes the given feature columns across samples in place. Each
// sample receives another sample's whole time series for those columns.
func Shuffle(ds *dataset.Dataset, columns []int, rng *rand.Rand) {
	n, nf := ds.Len(), ds.NumFeatures()
	perm := rng.Perm(n)
	src := make([][]float64, n)
	for i := range ds.Samples {
		src[i] = append([]float64(nil), ds.Samples[i].Input...)
	}
	for i := range ds.Samples {
		from := src[perm[i]]
		to := ds.Samples[i].Input
		for t := 0; t < ds.SeqLen; t++ {
			for _, c := range columns {
				to[t*nf+c] = from[t*nf+c]
			}
		}
	}
}

func score(ctx context.Context, engine *runtime.Engine, ds *dataset.Dataset) (loss, auc float64, err error) {
	probs, err := engine.Predict(ctx, ds)
	if err != nil {
		return 0, 0, err
	}
	targets := make([]float64, 0, len(probs))
	for _, s := range ds.Samples {
		targets = append(targets, s.Target...)
	}
	ev, err := train.Score(probs, targets, ds.Targets)
	if err != nil {
		return 0, 0, err
	}
	return ev.Loss, ev.Macro.AUC, nil
}

func buildUnits(features []string, groups []Group) ([]unit, error) {
	index := make(map[string]int, len(features))
	for i, f := range features {
		index[f] = i
	}
	if len(groups) == 0 {
		units := make([]unit, len(features))
		for i, f := range features {
			units[i] = unit{name: f, columns: []int{i}}
		}
		return units, nil
	}
	units := make([]unit, 0, len(groups))
	for _, g := range groups {
		if len(g.Features) == 0 {
			return nil, fmt.Errorf("group %q has no features", g.Name)
		}
		u := unit{name: g.Name}
		for _, f := range g.Features {
			c, ok := index[f]
			if !ok {
				return nil, fmt.Errorf("group %q: %w: %s", g.Name, dataset.ErrMissingColumn, f)
			}
			u.columns = append(u.columns, c)
		}
		units = append(units, u)
	}
	return units, nil
}

func featureNames(features []string, columns []int) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = features[c]
	}
	return out
}

func meanStd(x []float64) (mean, std float64) {
	if len(x) == 1 {
		return x[0], 0
	}
	mean, std = stat.MeanStdDev(x, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}
