package dataset

import (
	"fmt"
	"math"
	"sort"
)

// Sample is one (patient, week) sequence.
type Sample struct {
	PatientID string
	Week      int
	Length    int       // real rows before padding
	Input     []float64 // SeqLen×Features, row-major, zero post-padded
	Target    []float64 // one 0/1 label per target column
}

// Dataset is a set of samples sharing the same dimensions.
type Dataset struct {
	Samples  []Sample
	SeqLen   int
	Features []string
	Targets  []string
}

// NumFeatures returns the per-step feature count.
func (d *Dataset) NumFeatures() int { return len(d.Features) }

// NumTargets returns the number of labels per sample.
func (d *Dataset) NumTargets() int { return len(d.Targets) }

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.Samples) }

// Clone deep-copies the sample inputs so they can be modified independently.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{SeqLen: d.SeqLen, Features: d.Features, Targets: d.Targets}
	out.Samples = make([]Sample, len(d.Samples))
	for i, s := range d.Samples {
		s.Input = append([]float64(nil), s.Input...)
		out.Samples[i] = s
	}
	return out
}

type groupKey struct {
	id   string
	week int
}

// groupRows returns row indices per (patient, week) in row order, and the
// group keys sorted by patient then week.
func groupRows(f *Frame) (map[groupKey][]int, []groupKey) {
	groups := make(map[groupKey][]int)
	for i, id := range f.IDs {
		k := groupKey{id: id, week: int(math.Round(f.Week(i)))}
		groups[k] = append(groups[k], i)
	}
	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].id != keys[j].id {
			return keys[i].id < keys[j].id
		}
		return keys[i].week < keys[j].week
	})
	return groups, keys
}

// MaxSequenceLengthByWeek returns the largest number of rows any patient has
// in a single week.
func MaxSequenceLengthByWeek(f *Frame) int {
	groups, _ := groupRows(f)
	longest := 0
	for _, rows := range groups {
		longest = max(longest, len(rows))
	}
	return longest
}

// BuildSamples groups rows into one sample per (patient, week), ordered by
// patient and week. Inputs are post-padded with zeros to maxLen; longer
// groups keep their last maxLen rows. The target is taken from the last row
// of the week.
func BuildSamples(f *Frame, seqCols, targetCols []string, maxLen int) (*Dataset, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("sequence length must be positive, got %d", maxLen)
	}
	seqIdx, err := f.cols(seqCols)
	if err != nil {
		return nil, err
	}
	targetIdx, err := f.cols(targetCols)
	if err != nil {
		return nil, err
	}

	groups, keys := groupRows(f)
	nf := len(seqIdx)
	ds := &Dataset{
		SeqLen:   maxLen,
		Features: append([]string(nil), seqCols...),
		Targets:  append([]string(nil), targetCols...),
		Samples:  make([]Sample, 0, len(keys)),
	}
	for _, k := range keys {
		rows := groups[k]
		if len(rows) > maxLen {
			rows = rows[len(rows)-maxLen:]
		}
		s := Sample{
			PatientID: k.id,
			Week:      k.week,
			Length:    len(rows),
			Input:     make([]float64, maxLen*nf),
			Target:    make([]float64, len(targetIdx)),
		}
		for t, r := range rows {
			for j, c := range seqIdx {
				s.Input[t*nf+j] = f.Values[r][c]
			}
		}
		lastRow := f.Values[rows[len(rows)-1]]
		for j, c := range targetIdx {
			s.Target[j] = lastRow[c]
		}
		ds.Samples = append(ds.Samples, s)
	}
	if len(ds.Samples) == 0 {
		return nil, fmt.Errorf("build samples: %w", ErrEmpty)
	}
	return ds, nil
}
