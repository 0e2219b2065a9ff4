package dataset

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DefaultThreshold is the score at or above which a symptom counts as present.
const DefaultThreshold = 1.0

// PreprocessReport counts what Preprocess changed.
type PreprocessReport struct {
	DroppedNoKey      int
	DroppedNoTarget   int
	ForwardFilled     int
	MeanFilled        int
	EmptyColumns      []string
	RemainingRows     int
	RemainingPatients int
}

// Preprocess cleans a frame in row order:
// rows without a patient id or week are dropped, missing feature values are
// forward-filled within each patient, remaining gaps take the column mean
// (0 for an all-missing column), and rows with every target missing are dropped.
func Preprocess(f *Frame, seqCols, targetCols []string) (*Frame, PreprocessReport, error) {
	var rep PreprocessReport
	seqIdx, err := f.cols(seqCols)
	if err != nil {
		return nil, rep, err
	}
	targetIdx, err := f.cols(targetCols)
	if err != nil {
		return nil, rep, err
	}

	out := f.Clone()
	out = out.filter(func(i int) bool {
		if out.IDs[i] == "" || math.IsNaN(out.Week(i)) {
			rep.DroppedNoKey++
			return false
		}
		return true
	})

	last := make(map[string][]float64)
	for i, id := range out.IDs {
		prev, ok := last[id]
		if !ok {
			prev = make([]float64, len(seqIdx))
			for j := range prev {
				prev[j] = math.NaN()
			}
			last[id] = prev
		}
		row := out.Values[i]
		for j, c := range seqIdx {
			if math.IsNaN(row[c]) {
				if !math.IsNaN(prev[j]) {
					row[c] = prev[j]
					rep.ForwardFilled++
				}
			} else {
				prev[j] = row[c]
			}
		}
	}

	for j, c := range seqIdx {
		observed := make([]float64, 0, out.Len())
		for _, row := range out.Values {
			if !math.IsNaN(row[c]) {
				observed = append(observed, row[c])
			}
		}
		fill := 0.0
		if len(observed) > 0 {
			fill = stat.Mean(observed, nil)
		} else {
			rep.EmptyColumns = append(rep.EmptyColumns, seqCols[j])
		}
		for _, row := range out.Values {
			if math.IsNaN(row[c]) {
				row[c] = fill
				rep.MeanFilled++
			}
		}
	}

	out = out.filter(func(i int) bool {
		for _, c := range targetIdx {
			if !math.IsNaN(out.Values[i][c]) {
				return true
			}
		}
		rep.DroppedNoTarget++
		return false
	})

	if out.Len() == 0 {
		return nil, rep, fmt.Errorf("preprocess: %w", ErrEmpty)
	}
	rep.RemainingRows = out.Len()
	rep.RemainingPatients = len(Patients(out))
	return out, rep, nil
}

// ResetWeekNumbers renumbers weeks per patient so each patient's first
// observed week becomes week 1.
func ResetWeekNumbers(f *Frame) {
	first := make(map[string]float64)
	for i, id := range f.IDs {
		w := f.Week(i)
		if cur, ok := first[id]; !ok || w < cur {
			first[id] = w
		}
	}
	for i, id := range f.IDs {
		f.Values[i][0] = f.Week(i) - first[id] + 1
	}
}

// TransformTarget binarizes target columns in place: a score at or above its
// threshold becomes 1, anything else (including missing) becomes 0. Columns
// absent from thresholds use DefaultThreshold.
func TransformTarget(f *Frame, targetCols []string, thresholds map[string]float64) error {
	idx, err := f.cols(targetCols)
	if err != nil {
		return err
	}
	thr := make([]float64, len(idx))
	for j, name := range targetCols {
		thr[j] = DefaultThreshold
		if v, ok := thresholds[name]; ok {
			thr[j] = v
		}
	}
	for _, row := range f.Values {
		for j, c := range idx {
			if !math.IsNaN(row[c]) && row[c] >= thr[j] {
				row[c] = 1
			} else {
				row[c] = 0
			}
		}
	}
	return nil
}

// Patients returns the sorted unique patient ids.
func Patients(f *Frame) []string {
	seen := make(map[string]struct{})
	for _, id := range f.IDs {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
