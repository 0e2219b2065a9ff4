package dataset

import (
	"math/rand/v2"
)

// Batch is a contiguous block of samples ready for the model.
type Batch struct {
	Size     int
	SeqLen   int
	Features int
	Outputs  int
	Inputs   []float64 // Size×SeqLen×Features
	Targets  []float64 // Size×Outputs
	Indices  []int     // sample indices in the source dataset
}

// Loader yields batches over a dataset, optionally reshuffling every epoch.
type Loader struct {
	ds        *Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	order     []int
}

// NewLoader creates a loader. Shuffling is driven by seed so epochs are reproducible.
func NewLoader(ds *Dataset, batchSize int, shuffle bool, seed uint64) *Loader {
	if batchSize <= 0 {
		batchSize = 1
	}
	order := make([]int, ds.Len())
	for i := range order {
		order[i] = i
	}
	return &Loader{
		ds:        ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewPCG(seed, seed+1)),
		order:     order,
	}
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() *Dataset { return l.ds }

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// Epoch returns the batches for one pass, reshuffling first when enabled.
func (l *Loader) Epoch() []Batch {
	if l.shuffle {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
	batches := make([]Batch, 0, l.Len())
	for start := 0; start < len(l.order); start += l.batchSize {
		end := min(start+l.batchSize, len(l.order))
		batches = append(batches, MakeBatch(l.ds, l.order[start:end]))
	}
	return batches
}

// MakeBatch copies the selected samples into one batch.
func MakeBatch(ds *Dataset, indices []int) Batch {
	nf, no := ds.NumFeatures(), ds.NumTargets()
	step := ds.SeqLen * nf
	b := Batch{
		Size:     len(indices),
		SeqLen:   ds.SeqLen,
		Features: nf,
		Outputs:  no,
		Inputs:   make([]float64, len(indices)*step),
		Targets:  make([]float64, len(indices)*no),
		Indices:  append([]int(nil), indices...),
	}
	for i, idx := range indices {
		s := ds.Samples[idx]
		copy(b.Inputs[i*step:(i+1)*step], s.Input)
		copy(b.Targets[i*no:(i+1)*no], s.Target)
	}
	return b
}
