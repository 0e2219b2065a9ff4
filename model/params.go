package model

import (
	"math"
	"math/rand/v2"

	"github.com/sbl8/wearsense/core"
)

// Param is a trainable tensor with its accumulated gradient.
type Param struct {
	Name  string
	Value *core.Tensor
	Grad  *core.Tensor
}

func newParam(name string, shape ...int) *Param {
	return &Param{Name: name, Value: core.NewTensor(shape...), Grad: core.NewTensor(shape...)}
}

// uniform fills the value with U(-bound, bound).
func (p *Param) uniform(rng *rand.Rand, bound float64) {
	for i := range p.Value.Data {
		p.Value.Data[i] = (rng.Float64()*2 - 1) * bound
	}
}

// Allocator hands out zeroed float64 scratch slices for a forward pass.
type Allocator interface {
	Alloc(n int) []float64
}

type heapAllocator struct{}

func (heapAllocator) Alloc(n int) []float64 {
	return make([]float64, n)
}

// HeapAllocator allocates every buffer from the Go heap.
var HeapAllocator Allocator = heapAllocator{}

func fanInBound(fanIn int) float64 {
	if fanIn <= 0 {
		return 0
	}
	return 1 / math.Sqrt(float64(fanIn))
}
