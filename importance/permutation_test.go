package importance

import (
	"context"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sbl8/wearsense/dataset"
	"github.com/sbl8/wearsense/model"
	"github.com/sbl8/wearsense/runtime"
	"github.com/sbl8/wearsense/train"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// signDataset labels a sample by the sign of feature "signal". Feature
// "constant" is identical in every sample.
func signDataset(n int, seed uint64) *dataset.Dataset {
	rng := rand.New(rand.NewPCG(seed, 11))
	ds := &dataset.Dataset{SeqLen: 4, Features: []string{"noise", "signal", "constant"}, Targets: []string{"y"}}
	for i := 0; i < n; i++ {
		sign := float64(2*(i%2) - 1)
		in := make([]float64, 12)
		for t := 0; t < 4; t++ {
			in[t*3] = rng.NormFloat64()
			in[t*3+1] = sign + 0.2*rng.NormFloat64()
			in[t*3+2] = 0.5
		}
		ds.Samples = append(ds.Samples, dataset.Sample{Length: 4, Input: in, Target: []float64{(sign + 1) / 2}})
	}
	return ds
}

func newEngine(t *testing.T, m *model.CNNGRU) *runtime.Engine {
	t.Helper()
	e, err := runtime.NewEngine(m, &runtime.EngineOptions{Workers: 2, BatchSize: 8})
	require.NoError(t, err)
	return e
}

func untrained(t *testing.T) *model.CNNGRU {
	t.Helper()
	m, err := model.New(model.Config{InputDim: 3, CNNOutChannels: 6, CNNKernelSize: 2, GRUHiddenDim: 4, OutputDim: 1}, 9)
	require.NoError(t, err)
	return m
}

func TestShuffle(t *testing.T) {
	t.Parallel()
	ds := signDataset(10, 1)
	orig := ds.Clone()
	Shuffle(ds, []int{1}, rand.New(rand.NewPCG(1, 2)))

	var before, after []float64
	for i := range ds.Samples {
		for tt := 0; tt < ds.SeqLen; tt++ {
			assert.Equal(t, orig.Samples[i].Input[tt*3], ds.Samples[i].Input[tt*3], "other columns untouched")
			assert.Equal(t, orig.Samples[i].Input[tt*3+2], ds.Samples[i].Input[tt*3+2])
			before = append(before, orig.Samples[i].Input[tt*3+1])
			after = append(after, ds.Samples[i].Input[tt*3+1])
		}
	}
	sort.Float64s(before)
	sort.Float64s(after)
	assert.Equal(t, before, after, "values are permuted, not changed")
	assert.NotEqual(t, orig.Samples, ds.Samples)
}

func TestPermutationDeterministicAcrossWorkers(t *testing.T) {
	t.Parallel()
	m := untrained(t)
	ds := signDataset(24, 3)

	run := func(workers int) *Report {
		cfg := DefaultConfig()
		cfg.Repeats = 3
		cfg.Workers = workers
		rep, err := Permutation(context.Background(), newEngine(t, m), ds, cfg)
		require.NoError(t, err)
		return rep
	}
	a, b := run(1), run(4)
	require.Len(t, a.Results, 3)
	assert.Equal(t, a.Results, b.Results)
	assert.Equal(t, 3, a.Repeats)
}

func TestPermutationConstantFeatureHasNoImportance(t *testing.T) {
	t.Parallel()
	rep, err := Permutation(context.Background(), newEngine(t, untrained(t)), signDataset(20, 4), DefaultConfig())
	require.NoError(t, err)

	var found bool
	for _, r := range rep.Results {
		if r.Feature == "constant" {
			found = true
			assert.InDelta(t, 0, r.Importance, 1e-12)
			assert.InDelta(t, 0, r.Std, 1e-12)
			assert.InDelta(t, 0, r.AUCDrop, 1e-12)
		}
	}
	assert.True(t, found)
	for i := 1; i < len(rep.Results); i++ {
		assert.GreaterOrEqual(t, rep.Results[i-1].Importance, rep.Results[i].Importance)
	}
}

func TestPermutationRanksSignalFirst(t *testing.T) {
	t.Parallel()
	m := untrained(t)
	opts := train.DefaultOptions()
	opts.Epochs = 30
	opts.AdamW.LR = 1e-2
	tr, err := train.NewTrainer(m, opts)
	require.NoError(t, err)
	_, err = tr.Fit(context.Background(), dataset.NewLoader(signDataset(64, 5), 8, true, 1), nil)
	require.NoError(t, err)

	rep, err := Permutation(context.Background(), newEngine(t, m), signDataset(40, 6), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "signal", rep.Results[0].Feature)
	assert.Positive(t, rep.Results[0].Importance)
	assert.Positive(t, rep.Results[0].AUCDrop)
	assert.Greater(t, rep.BaselineAUC, 0.9)
}

func TestPermutationGroups(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Repeats = 2
	cfg.Groups = []Group{
		{Name: "sensors", Features: []string{"noise", "signal"}},
		{Name: "static", Features: []string{"constant"}},
	}
	rep, err := Permutation(context.Background(), newEngine(t, untrained(t)), signDataset(12, 7), cfg)
	require.NoError(t, err)
	require.Len(t, rep.Results, 2)
	names := map[string][]string{}
	for _, r := range rep.Results {
		names[r.Feature] = r.Features
	}
	assert.Equal(t, []string{"noise", "signal"}, names["sensors"])
	assert.Equal(t, []string{"constant"}, names["static"])

	cfg.Groups = []Group{{Name: "bad", Features: []string{"missing"}}}
	_, err = Permutation(context.Background(), newEngine(t, untrained(t)), signDataset(12, 7), cfg)
	assert.ErrorIs(t, err, dataset.ErrMissingColumn)

	cfg.Groups = []Group{{Name: "empty"}}
	_, err = Permutation(context.Background(), newEngine(t, untrained(t)), signDataset(12, 7), cfg)
	assert.Error(t, err)
}

func TestPermutationErrors(t *testing.T) {
	t.Parallel()
	_, err := Permutation(context.Background(), nil, signDataset(4, 1), DefaultConfig())
	assert.Error(t, err)

	_, err = Permutation(context.Background(), newEngine(t, untrained(t)), signDataset(1, 1), DefaultConfig())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Permutation(ctx, newEngine(t, untrained(t)), signDataset(10, 1), DefaultConfig())
	assert.ErrorIs(t, err, context.Canceled)
}
