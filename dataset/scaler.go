package dataset

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Standardizer applies per-feature z-scoring.
type Standardizer struct {
	Features []string  `json:"features"`
	Mean     []float64 `json:"mean"`
	Std      []float64 `json:"std"`
}

// FitStandardizer computes mean and standard deviation per feature over the
// real (unpadded) rows of ds. A zero or undefined deviation becomes 1.
func FitStandardizer(ds *Dataset) *Standardizer {
	nf := ds.NumFeatures()
	s := &Standardizer{
		Features: append([]string(nil), ds.Features...),
		Mean:     make([]float64, nf),
		Std:      make([]float64, nf),
	}
	col := make([]float64, 0, ds.Len()*ds.SeqLen)
	for j := 0; j < nf; j++ {
		col = col[:0]
		for _, smp := range ds.Samples {
			for t := 0; t < smp.Length; t++ {
				col = append(col, smp.Input[t*nf+j])
			}
		}
		mean, std := 0.0, 1.0
		if len(col) > 0 {
			mean, std = stat.MeanStdDev(col, nil)
		}
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Mean[j], s.Std[j] = mean, std
	}
	return s
}

// Apply standardizes the real rows of every sample in place. Padding stays 0.
func (s *Standardizer) Apply(ds *Dataset) error {
	nf := ds.NumFeatures()
	if nf != len(s.Mean) || nf != len(s.Std) {
		return fmt.Errorf("standardizer has %d features, dataset has %d", len(s.Mean), nf)
	}
	for i := range ds.Samples {
		smp := &ds.Samples[i]
		for t := 0; t < smp.Length; t++ {
			row := smp.Input[t*nf : (t+1)*nf]
			for j := range row {
				row[j] = (row[j] - s.Mean[j]) / s.Std[j]
			}
		}
	}
	return nil
}
