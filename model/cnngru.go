// Package model implements the CNN-GRU symptom classifier.
//
// The network maps a batch of weekly wearable sequences [B, T, F] to one
// probability per symptom [B, O]:
//
//	Conv1D(F→C, kernel K, valid) → ReLU → GRU(C→H) → Dropout(h_T) → Linear(H→O) → Sigmoid
//
// The GRU follows the PyTorch gate equations, with the hidden-state bias of
// the candidate gate inside the reset product:
//
//	r = σ(W_ir x + b_ir + W_hr h + b_hr)
//	z = σ(W_iz x + b_iz + W_hz h + b_hz)
//	n = tanh(W_in x + b_in + r ⊙ (W_hn h + b_hn))
//	h' = (1 − z) ⊙ n + z ⊙ h
//
// Forward returns a Cache holding the activations needed by Backward, which
// accumulates gradients into each Param by backpropagation through time.
// Evaluation-mode forward passes only read parameters and may run
// concurrently; training-mode passes draw dropout masks from the model's RNG
// and must not.
package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sbl8/wearsense/kernels"
)

var (
	// ErrShortSequence is returned when the sequence is shorter than the conv kernel.
	ErrShortSequence = errors.New("sequence shorter than kernel")
	// ErrInputShape is returned when input length disagrees with the batch dimensions.
	ErrInputShape = errors.New("input shape mismatch")
)

// Mode selects training or evaluation behaviour.
type Mode uint8

// Modes
const (
	Eval Mode = iota
	Train
)

// Config holds the network dimensions.
type Config struct {
	InputDim       int     `json:"input_dim"`
	CNNOutChannels int     `json:"cnn_out_channels"`
	CNNKernelSize  int     `json:"cnn_kernel_size"`
	GRUHiddenDim   int     `json:"gru_hidden_dim"`
	OutputDim      int     `json:"output_dim"`
	DropoutProb    float64 `json:"dropout_prob"`
}

// DefaultConfig returns the reference architecture for the given input and output sizes.
func DefaultConfig(inputDim, outputDim int) Config {
	return Config{
		InputDim:       inputDim,
		CNNOutChannels: 256,
		CNNKernelSize:  4,
		GRUHiddenDim:   64,
		OutputDim:      outputDim,
		DropoutProb:    0.5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.InputDim <= 0:
		return fmt.Errorf("input dim must be positive, got %d", c.InputDim)
	case c.CNNOutChannels <= 0:
		return fmt.Errorf("cnn out channels must be positive, got %d", c.CNNOutChannels)
	case c.CNNKernelSize <= 0:
		return fmt.Errorf("cnn kernel size must be positive, got %d", c.CNNKernelSize)
	case c.GRUHiddenDim <= 0:
		return fmt.Errorf("gru hidden dim must be positive, got %d", c.GRUHiddenDim)
	case c.OutputDim <= 0:
		return fmt.Errorf("output dim must be positive, got %d", c.OutputDim)
	case c.DropoutProb < 0 || c.DropoutProb >= 1:
		return fmt.Errorf("dropout prob %v outside [0, 1)", c.DropoutProb)
	}
	return nil
}

// CNNGRU is the symptom classifier.
type CNNGRU struct {
	cfg Config

	convW *Param // [C, K·F], window element k·F+f
	convB *Param // [C]
	gruWi *Param // [3H, C], gate order r, z, n
	gruWh *Param // [3H, H]
	gruBi *Param // [3H]
	gruBh *Param // [3H]
	fcW   *Param // [O, H]
	fcB   *Param // [O]

	params []*Param
	rng    *rand.Rand
}

// New builds a model with weights drawn from U(±1/√fan_in), seeded by seed.
func New(cfg Config, seed uint64) (*CNNGRU, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := newUninitialized(cfg, seed)

	rng := rand.New(rand.NewPCG(seed, 0x5EED))
	kf := cfg.CNNKernelSize * cfg.InputDim
	m.convW.uniform(rng, fanInBound(kf))
	m.convB.uniform(rng, fanInBound(kf))
	h := fanInBound(cfg.GRUHiddenDim)
	m.gruWi.uniform(rng, h)
	m.gruWh.uniform(rng, h)
	m.gruBi.uniform(rng, h)
	m.gruBh.uniform(rng, h)
	m.fcW.uniform(rng, h)
	m.fcB.uniform(rng, h)
	return m, nil
}

func newUninitialized(cfg Config, seed uint64) *CNNGRU {
	c, k, f := cfg.CNNOutChannels, cfg.CNNKernelSize, cfg.InputDim
	h, o := cfg.GRUHiddenDim, cfg.OutputDim
	m := &CNNGRU{
		cfg:   cfg,
		convW: newParam("conv.weight", c, k*f),
		convB: newParam("conv.bias", c),
		gruWi: newParam("gru.weight_ih", 3*h, c),
		gruWh: newParam("gru.weight_hh", 3*h, h),
		gruBi: newParam("gru.bias_ih", 3*h),
		gruBh: newParam("gru.bias_hh", 3*h),
		fcW:   newParam("fc.weight", o, h),
		fcB:   newParam("fc.bias", o),
		rng:   rand.New(rand.NewPCG(seed, 0xD40F)),
	}
	m.params = []*Param{m.convW, m.convB, m.gruWi, m.gruWh, m.gruBi, m.gruBh, m.fcW, m.fcB}
	return m
}

// Config returns the model configuration.
func (m *CNNGRU) Config() Config { return m.cfg }

// Params returns the trainable parameters in a fixed order.
func (m *CNNGRU) Params() []*Param { return m.params }

// NumParams returns the total number of trainable scalars.
func (m *CNNGRU) NumParams() int {
	n := 0
	for _, p := range m.params {
		n += p.Value.Len()
	}
	return n
}

// ZeroGrad clears every gradient.
func (m *CNNGRU) ZeroGrad() {
	for _, p := range m.params {
		p.Grad.Zero()
	}
}

// SeedDropout reseeds the dropout mask generator.
func (m *CNNGRU) SeedDropout(seed uint64) {
	m.rng = rand.New(rand.NewPCG(seed, 0xD40F))
}

// Steps returns the number of GRU steps for an input of seqLen rows.
func (m *CNNGRU) Steps(seqLen int) int {
	return seqLen - m.cfg.CNNKernelSize + 1
}

// Cache holds the activations of one forward pass.
type Cache struct {
	Batch int
	Steps int
	Probs []float64 // [B, O]

	mode   Mode
	alloc  Allocator
	cols   []float64 // [B·L, K·F]
	conv   []float64 // [B·L, C] after ReLU
	gi     []float64 // [B·L, 3H]
	hs     []float64 // [(L+1), B, H]
	r      []float64 // [L, B, H]
	z      []float64
	n      []float64
	ghn    []float64 // W_hn h + b_hn
	mask   []float64 // [B, H], nil without dropout
	hidden []float64 // [B, H] after dropout
}

// Forward runs the network on x, a [batch, seqLen, InputDim] row-major block.
// alloc may be nil to use the heap.
func (m *CNNGRU) Forward(x []float64, batch, seqLen int, mode Mode, alloc Allocator) (*Cache, error) {
	cfg := m.cfg
	f, k, c, h, o := cfg.InputDim, cfg.CNNKernelSize, cfg.CNNOutChannels, cfg.GRUHiddenDim, cfg.OutputDim
	if seqLen < k {
		return nil, fmt.Errorf("%w: length %d, kernel %d", ErrShortSequence, seqLen, k)
	}
	if batch <= 0 || len(x) != batch*seqLen*f {
		return nil, fmt.Errorf("%w: %d values for batch %d × length %d × features %d", ErrInputShape, len(x), batch, seqLen, f)
	}
	if alloc == nil {
		alloc = HeapAllocator
	}

	steps := m.Steps(seqLen)
	rows := batch * steps
	kf := k * f
	cache := &Cache{Batch: batch, Steps: steps, mode: mode, alloc: alloc}

	// im2col: each conv window is a contiguous K·F run of the input.
	cache.cols = alloc.Alloc(rows * kf)
	for b := 0; b < batch; b++ {
		base := b * seqLen * f
		for t := 0; t < steps; t++ {
			copy(cache.cols[(b*steps+t)*kf:(b*steps+t+1)*kf], x[base+t*f:base+t*f+kf])
		}
	}

	cache.conv = alloc.Alloc(rows * c)
	kernels.Gemm(false, true, rows, c, kf, 1, cache.cols, m.convW.Value.Data, 0, cache.conv)
	kernels.AddBias(cache.conv, m.convB.Value.Data)
	kernels.ReLU(cache.conv)

	h3 := 3 * h
	cache.gi = alloc.Alloc(rows * h3)
	kernels.Gemm(false, true, rows, h3, c, 1, cache.conv, m.gruWi.Value.Data, 0, cache.gi)
	kernels.AddBias(cache.gi, m.gruBi.Value.Data)

	bh := batch * h
	cache.hs = alloc.Alloc((steps + 1) * bh)
	cache.r = alloc.Alloc(steps * bh)
	cache.z = alloc.Alloc(steps * bh)
	cache.n = alloc.Alloc(steps * bh)
	cache.ghn = alloc.Alloc(steps * bh)
	gh := alloc.Alloc(batch * h3)

	for s := 0; s < steps; s++ {
		hPrev := cache.hs[s*bh : (s+1)*bh]
		hNext := cache.hs[(s+1)*bh : (s+2)*bh]
		kernels.Gemm(false, true, batch, h3, h, 1, hPrev, m.gruWh.Value.Data, 0, gh)
		kernels.AddBias(gh, m.gruBh.Value.Data)

		for b := 0; b < batch; b++ {
			giRow := cache.gi[(b*steps+s)*h3 : (b*steps+s+1)*h3]
			ghRow := gh[b*h3 : (b+1)*h3]
			for j := 0; j < h; j++ {
				idx := s*bh + b*h + j
				rv := kernels.SigmoidScalar(giRow[j] + ghRow[j])
				zv := kernels.SigmoidScalar(giRow[h+j] + ghRow[h+j])
				ghnv := ghRow[2*h+j]
				nv := math.Tanh(giRow[2*h+j] + rv*ghnv)

				cache.r[idx], cache.z[idx], cache.n[idx], cache.ghn[idx] = rv, zv, nv, ghnv
				hNext[b*h+j] = (1-zv)*nv + zv*hPrev[b*h+j]
			}
		}
	}

	cache.hidden = alloc.Alloc(bh)
	copy(cache.hidden, cache.hs[steps*bh:])
	if mode == Train && cfg.DropoutProb > 0 {
		keep := 1 - cfg.DropoutProb
		cache.mask = alloc.Alloc(bh)
		for i := range cache.mask {
			if m.rng.Float64() < keep {
				cache.mask[i] = 1 / keep
			}
		}
		kernels.MulInPlace(cache.hidden, cache.mask)
	}

	cache.Probs = alloc.Alloc(batch * o)
	kernels.Gemm(false, true, batch, o, h, 1, cache.hidden, m.fcW.Value.Data, 0, cache.Probs)
	kernels.AddBias(cache.Probs, m.fcB.Value.Data)
	kernels.Sigmoid(cache.Probs)
	return cache, nil
}

// Predict runs an evaluation-mode forward pass and returns [batch, OutputDim] probabilities.
func (m *CNNGRU) Predict(x []float64, batch, seqLen int, alloc Allocator) ([]float64, error) {
	cache, err := m.Forward(x, batch, seqLen, Eval, alloc)
	if err != nil {
		return nil, err
	}
	return cache.Probs, nil
}

// Backward accumulates parameter gradients given dL/dProbs, shaped like cache.Probs.
func (m *CNNGRU) Backward(cache *Cache, dProbs []float64) error {
	cfg := m.cfg
	f, k, c, h, o := cfg.InputDim, cfg.CNNKernelSize, cfg.CNNOutChannels, cfg.GRUHiddenDim, cfg.OutputDim
	batch, steps := cache.Batch, cache.Steps
	if len(dProbs) != batch*o {
		return fmt.Errorf("%w: %d gradients for %d outputs", ErrInputShape, len(dProbs), batch*o)
	}
	alloc := cache.alloc
	rows := batch * steps
	kf := k * f
	h3 := 3 * h
	bh := batch * h

	// sigmoid + linear head
	dLogits := alloc.Alloc(batch * o)
	copy(dLogits, dProbs)
	kernels.SigmoidGrad(cache.Probs, dLogits)
	kernels.SumRows(dLogits, m.fcB.Grad.Data)
	kernels.Gemm(true, false, o, h, batch, 1, dLogits, cache.hidden, 1, m.fcW.Grad.Data)

	dh := alloc.Alloc(bh)
	kernels.Gemm(false, false, batch, h, o, 1, dLogits, m.fcW.Value.Data, 0, dh)
	if cache.mask != nil {
		kernels.MulInPlace(dh, cache.mask)
	}

	// backpropagation through time
	dGi := alloc.Alloc(rows * h3)
	dGh := alloc.Alloc(batch * h3)
	dhPrev := alloc.Alloc(bh)
	for s := steps - 1; s >= 0; s-- {
		hPrev := cache.hs[s*bh : (s+1)*bh]
		for b := 0; b < batch; b++ {
			giRow := dGi[(b*steps+s)*h3 : (b*steps+s+1)*h3]
			ghRow := dGh[b*h3 : (b+1)*h3]
			for j := 0; j < h; j++ {
				idx := s*bh + b*h + j
				rv, zv, nv, ghnv := cache.r[idx], cache.z[idx], cache.n[idx], cache.ghn[idx]
				g := dh[b*h+j]

				dn := g * (1 - zv)
				dz := g * (hPrev[b*h+j] - nv)
				dhPrev[b*h+j] = g * zv

				dan := dn * (1 - nv*nv)
				daz := dz * zv * (1 - zv)
				dar := dan * ghnv * rv * (1 - rv)

				giRow[j], giRow[h+j], giRow[2*h+j] = dar, daz, dan
				ghRow[j], ghRow[h+j], ghRow[2*h+j] = dar, daz, dan*rv
			}
		}
		kernels.SumRows(dGh, m.gruBh.Grad.Data)
		kernels.Gemm(true, false, h3, h, batch, 1, dGh, hPrev, 1, m.gruWh.Grad.Data)
		kernels.Gemm(false, false, batch, h, h3, 1, dGh, m.gruWh.Value.Data, 1, dhPrev)
		dh, dhPrev = dhPrev, dh
	}

	kernels.SumRows(dGi, m.gruBi.Grad.Data)
	kernels.Gemm(true, false, h3, c, rows, 1, dGi, cache.conv, 1, m.gruWi.Grad.Data)

	dConv := alloc.Alloc(rows * c)
	kernels.Gemm(false, false, rows, c, h3, 1, dGi, m.gruWi.Value.Data, 0, dConv)
	kernels.ReLUGrad(cache.conv, dConv)
	kernels.SumRows(dConv, m.convB.Grad.Data)
	kernels.Gemm(true, false, c, kf, rows, 1, dConv, cache.cols, 1, m.convW.Grad.Data)
	return nil
}
