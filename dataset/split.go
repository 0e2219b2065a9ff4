package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// ErrTooFewPatients is returned when a split cannot give both sides a patient.
var ErrTooFewPatients = errors.New("need at least two patients to split")

// SplitPatients partitions patient ids into train and test sets. The ids are
// sorted, shuffled with a generator seeded by seed, and the first
// ceil(testSize·n) go to test. Both sides always receive at least one patient.
func SplitPatients(ids []string, testSize float64, seed uint64) (train, test []string, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size %v outside (0, 1)", testSize)
	}
	if len(ids) < 2 {
		return nil, nil, ErrTooFewPatients
	}

	shuffled := append([]string(nil), ids...)
	sort.Strings(shuffled)
	rng := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	nTest := int(math.Ceil(testSize*float64(len(shuffled)) - 1e-9))
	nTest = max(1, min(nTest, len(shuffled)-1))

	test = append([]string(nil), shuffled[:nTest]...)
	train = append([]string(nil), shuffled[nTest:]...)
	sort.Strings(test)
	sort.Strings(train)
	return train, test, nil
}

// FilterPatients returns the rows belonging to the given patients.
func FilterPatients(f *Frame, ids []string) *Frame {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	return f.filter(func(i int) bool {
		_, ok := keep[f.IDs[i]]
		return ok
	})
}
