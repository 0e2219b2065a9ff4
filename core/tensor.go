// Package core provides the numeric primitives shared by the wearsense pipeline.
//
// The central type is Tensor, a dense row-major float64 array with an explicit
// shape. Tensor storage is allocated on cache-line boundaries so the BLAS
// kernels in package kernels see aligned memory. The package also provides a
// checksummed binary format for named tensors, used by model checkpoints.
package core

import (
	"errors"
	"fmt"
	"math"
)

// ErrShapeMismatch is returned when data length and shape disagree.
var ErrShapeMismatch = errors.New("shape mismatch")

// Tensor is a dense row-major array.
type Tensor struct {
	Shape []int
	Data  []float64
}

// NumElements returns the product of the dimensions in shape.
func NumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// NewTensor allocates a zeroed tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{Shape: s, Data: AlignedFloats(NumElements(shape))}
}

// FromSlice wraps data without copying.
func FromSlice(data []float64, shape ...int) (*Tensor, error) {
	if NumElements(shape) != len(data) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(data), shape)
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{Shape: s, Data: data}, nil
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Validate checks the integrity of a Tensor
func (t *Tensor) Validate() error {
	if t == nil {
		return errors.New("tensor is nil")
	}
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("invalid dimension %d in shape %v", d, t.Shape)
		}
	}
	if NumElements(t.Shape) != len(t.Data) {
		return fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(t.Data), t.Shape)
	}
	for i, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite value at index %d", i)
		}
	}
	return nil
}

// Zero sets every element to 0.
func (t *Tensor) Zero() {
	clear(t.Data)
}

// Clone creates a deep copy of the Tensor
func (t *Tensor) Clone() *Tensor {
	c := NewTensor(t.Shape...)
	copy(c.Data, t.Data)
	return c
}
