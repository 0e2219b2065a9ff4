package train

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Threshold is the probability above which a prediction counts as positive.
const Threshold = 0.5

// TargetMetrics are the classification scores of one output.
type TargetMetrics struct {
	Target    string  `json:"target"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	AUC       float64 `json:"auc"` // NaN when only one class is present
	Positives int     `json:"positives"`
	Support   int     `json:"support"`
}

// Evaluation is the result of scoring a model on a dataset.
type Evaluation struct {
	Loss    float64
	Targets []TargetMetrics
	Macro   TargetMetrics
}

// Score computes per-target metrics for [n, len(names)] probabilities and
// targets, plus their macro average.
func Score(probs, targets []float64, names []string) (Evaluation, error) {
	o := len(names)
	if o == 0 || len(probs) != len(targets) || len(probs)%o != 0 {
		return Evaluation{}, fmt.Errorf("score: %d probabilities, %d targets, %d outputs", len(probs), len(targets), o)
	}
	n := len(probs) / o
	loss, err := BCELoss(probs, targets)
	if err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{Loss: loss, Targets: make([]TargetMetrics, o)}
	p := make([]float64, n)
	y := make([]float64, n)
	for j, name := range names {
		for i := 0; i < n; i++ {
			p[i] = probs[i*o+j]
			y[i] = targets[i*o+j]
		}
		ev.Targets[j] = scoreTarget(name, p, y)
	}
	ev.Macro = macro(ev.Targets)
	return ev, nil
}

func scoreTarget(name string, p, y []float64) TargetMetrics {
	var tp, fp, tn, fn int
	for i := range p {
		pred := p[i] >= Threshold
		pos := y[i] >= Threshold
		switch {
		case pred && pos:
			tp++
		case pred && !pos:
			fp++
		case !pred && pos:
			fn++
		default:
			tn++
		}
	}
	m := TargetMetrics{Target: name, Positives: tp + fn, Support: len(p)}
	if len(p) > 0 {
		m.Accuracy = float64(tp+tn) / float64(len(p))
	}
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.AUC = AUC(p, y)
	return m
}

// AUC returns the area under the ROC curve, or NaN when y holds one class only.
func AUC(p, y []float64) float64 {
	type pair struct {
		score float64
		pos   bool
	}
	pairs := make([]pair, len(p))
	var npos int
	for i := range p {
		pairs[i] = pair{p[i], y[i] >= Threshold}
		if pairs[i].pos {
			npos++
		}
	}
	if npos == 0 || npos == len(p) {
		return math.NaN()
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })
	scores := make([]float64, len(pairs))
	classes := make([]bool, len(pairs))
	for i, pr := range pairs {
		scores[i], classes[i] = pr.score, pr.pos
	}
	tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

func macro(ms []TargetMetrics) TargetMetrics {
	out := TargetMetrics{Target: "macro"}
	out.Accuracy = nanMean(ms, func(m TargetMetrics) float64 { return m.Accuracy })
	out.Precision = nanMean(ms, func(m TargetMetrics) float64 { return m.Precision })
	out.Recall = nanMean(ms, func(m TargetMetrics) float64 { return m.Recall })
	out.F1 = nanMean(ms, func(m TargetMetrics) float64 { return m.F1 })
	out.AUC = nanMean(ms, func(m TargetMetrics) float64 { return m.AUC })
	for _, m := range ms {
		out.Positives += m.Positives
		out.Support += m.Support
	}
	return out
}

func nanMean(ms []TargetMetrics, get func(TargetMetrics) float64) float64 {
	vals := make([]float64, 0, len(ms))
	for _, m := range ms {
		if v := get(m); !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return math.NaN()
	}
	return stat.Mean(vals, nil)
}
