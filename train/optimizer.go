package train

import (
	"math"

	"github.com/sbl8/wearsense/kernels"
	"github.com/sbl8/wearsense/model"
)

// AdamWConfig holds optimizer hyperparameters.
type AdamWConfig struct {
	LR          float64 `yaml:"lr" toml:"lr"`
	Beta1       float64 `yaml:"beta1" toml:"beta1"`
	Beta2       float64 `yaml:"beta2" toml:"beta2"`
	Eps         float64 `yaml:"eps" toml:"eps"`
	WeightDecay float64 `yaml:"weight_decay" toml:"weight_decay"`
}

// DefaultAdamW returns lr 1e-4, betas (0.9, 0.999), eps 1e-8 and weight decay 0.01.
func DefaultAdamW() AdamWConfig {
	return AdamWConfig{LR: 1e-4, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, WeightDecay: 0.01}
}

// AdamW is Adam with decoupled weight decay.
type AdamW struct {
	cfg    AdamWConfig
	params []*model.Param
	m, v   [][]float64
	step   int
}

// NewAdamW creates an optimizer over params.
func NewAdamW(params []*model.Param, cfg AdamWConfig) *AdamW {
	opt := &AdamW{cfg: cfg, params: params}
	for _, p := range params {
		opt.m = append(opt.m, make([]float64, len(p.Value.Data)))
		opt.v = append(opt.v, make([]float64, len(p.Value.Data)))
	}
	return opt
}

// Steps returns how many updates have been applied.
func (o *AdamW) Steps() int { return o.step }

// Step applies one update from the accumulated gradients.
func (o *AdamW) Step() {
	o.step++
	c := o.cfg
	bc1 := 1 - math.Pow(c.Beta1, float64(o.step))
	bc2 := 1 - math.Pow(c.Beta2, float64(o.step))
	for i, p := range o.params {
		w, g := p.Value.Data, p.Grad.Data
		m, v := o.m[i], o.v[i]
		if c.WeightDecay != 0 {
			kernels.Scale(1-c.LR*c.WeightDecay, w)
		}
		for j := range w {
			m[j] = c.Beta1*m[j] + (1-c.Beta1)*g[j]
			v[j] = c.Beta2*v[j] + (1-c.Beta2)*g[j]*g[j]
			w[j] -= c.LR * (m[j] / bc1) / (math.Sqrt(v[j]/bc2) + c.Eps)
		}
	}
}
