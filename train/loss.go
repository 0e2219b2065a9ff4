// Package train fits CNN-GRU models with binary cross-entropy and AdamW and
// scores their predictions.
package train

import (
	"fmt"
	"math"
)

// logClamp is the floor applied to log terms so a saturated probability
// yields a large finite loss.
const logClamp = -100

// gradEps bounds the p(1-p) denominator of the loss gradient.
const gradEps = 1e-12

// BCELoss returns the mean binary cross-entropy of probs against 0/1 targets.
func BCELoss(probs, targets []float64) (float64, error) {
	if len(probs) != len(targets) {
		return 0, fmt.Errorf("bce: %d probabilities for %d targets", len(probs), len(targets))
	}
	if len(probs) == 0 {
		return 0, nil
	}
	var sum float64
	for i, p := range probs {
		y := targets[i]
		sum -= y*clampedLog(p) + (1-y)*clampedLog(1-p)
	}
	return sum / float64(len(probs)), nil
}

// BCEGrad writes dL/dprobs of the mean loss into grad.
func BCEGrad(probs, targets, grad []float64) error {
	if len(probs) != len(targets) || len(grad) != len(probs) {
		return fmt.Errorf("bce grad: lengths %d, %d, %d differ", len(probs), len(targets), len(grad))
	}
	n := float64(len(probs))
	for i, p := range probs {
		grad[i] = (p - targets[i]) / math.Max(p*(1-p), gradEps) / n
	}
	return nil
}

func clampedLog(x float64) float64 {
	return math.Max(math.Log(x), logClamp)
}
