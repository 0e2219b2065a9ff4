package dataset

import (
	"fmt"

	"go.uber.org/zap"
)

// PrepareOptions configures the load → preprocess → split → sequence pipeline.
type PrepareOptions struct {
	Paths      []string
	IDColumn   string
	WeekColumn string
	SeqCols    []string
	TargetCols []string
	Thresholds map[string]float64
	TestSize   float64
	Seed       uint64

	// MaxLen and Standardizer, when set, replace the values derived from the
	// data so a saved model sees inputs shaped as in training.
	MaxLen       int
	Standardizer *Standardizer

	Logger *zap.Logger
}

// Split is the output of Prepare.
type Split struct {
	Train         *Dataset
	Test          *Dataset
	TrainPatients []string
	TestPatients  []string
	MaxLen        int
	Standardizer  *Standardizer
	Report        PreprocessReport
}

// Prepare runs the full data pipeline. The maximum sequence length is taken
// over all patients before splitting; the standardizer is fitted on the
// training patients only.
func Prepare(opts PrepareOptions) (*Split, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if len(opts.SeqCols) == 0 || len(opts.TargetCols) == 0 {
		return nil, fmt.Errorf("sequence and target columns are required")
	}

	cols := append(append([]string(nil), opts.SeqCols...), opts.TargetCols...)
	raw, err := LoadCSV(opts.Paths, LoadOptions{IDColumn: opts.IDColumn, WeekColumn: opts.WeekColumn, Columns: cols})
	if err != nil {
		return nil, err
	}
	log.Debug("loaded data", zap.Int("rows", raw.Len()), zap.Strings("paths", opts.Paths))

	frame, rep, err := Preprocess(raw, opts.SeqCols, opts.TargetCols)
	if err != nil {
		return nil, err
	}
	ResetWeekNumbers(frame)
	if err := TransformTarget(frame, opts.TargetCols, opts.Thresholds); err != nil {
		return nil, err
	}
	log.Info("preprocessed data",
		zap.Int("rows", rep.RemainingRows),
		zap.Int("patients", rep.RemainingPatients),
		zap.Int("dropped_no_key", rep.DroppedNoKey),
		zap.Int("dropped_no_target", rep.DroppedNoTarget),
		zap.Int("forward_filled", rep.ForwardFilled),
		zap.Int("mean_filled", rep.MeanFilled))
	if len(rep.EmptyColumns) > 0 {
		log.Warn("columns with no observed values", zap.Strings("columns", rep.EmptyColumns))
	}

	trainIDs, testIDs, err := SplitPatients(Patients(frame), opts.TestSize, opts.Seed)
	if err != nil {
		return nil, err
	}

	maxLen := opts.MaxLen
	if maxLen == 0 {
		maxLen = MaxSequenceLengthByWeek(frame)
	}

	train, err := BuildSamples(FilterPatients(frame, trainIDs), opts.SeqCols, opts.TargetCols, maxLen)
	if err != nil {
		return nil, fmt.Errorf("train split: %w", err)
	}
	test, err := BuildSamples(FilterPatients(frame, testIDs), opts.SeqCols, opts.TargetCols, maxLen)
	if err != nil {
		return nil, fmt.Errorf("test split: %w", err)
	}

	std := opts.Standardizer
	if std == nil {
		std = FitStandardizer(train)
	}
	if err := std.Apply(train); err != nil {
		return nil, err
	}
	if err := std.Apply(test); err != nil {
		return nil, err
	}

	log.Info("built sequences",
		zap.Int("max_len", maxLen),
		zap.Int("train_patients", len(trainIDs)),
		zap.Int("test_patients", len(testIDs)),
		zap.Int("train_samples", train.Len()),
		zap.Int("test_samples", test.Len()))

	return &Split{
		Train:         train,
		Test:          test,
		TrainPatients: trainIDs,
		TestPatients:  testIDs,
		MaxLen:        maxLen,
		Standardizer:  std,
		Report:        rep,
	}, nil
}

// Summary describes a dataset for reporting.
type Summary struct {
	Patients     int
	Samples      int
	MeanLength   float64
	PositiveRate map[string]float64
}

// Summarize computes patient count, mean real length and per-target positive rate.
func Summarize(ds *Dataset) Summary {
	s := Summary{Samples: ds.Len(), PositiveRate: make(map[string]float64, ds.NumTargets())}
	patients := make(map[string]struct{})
	pos := make([]float64, ds.NumTargets())
	total := 0
	for _, smp := range ds.Samples {
		patients[smp.PatientID] = struct{}{}
		total += smp.Length
		for j, v := range smp.Target {
			pos[j] += v
		}
	}
	s.Patients = len(patients)
	if ds.Len() > 0 {
		s.MeanLength = float64(total) / float64(ds.Len())
		for j, name := range ds.Targets {
			s.PositiveRate[name] = pos[j] / float64(ds.Len())
		}
	}
	return s
}
