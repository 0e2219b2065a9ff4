// Package kernels provides the numeric operations used by the CNN-GRU model.
//
// Dense linear algebra is delegated to gonum's blas64, which dispatches to
// assembly implementations where the platform provides them. Element-wise
// work goes through gonum/floats or simple loops that the compiler
// vectorizes. All kernels operate in place on caller-provided slices and do
// not allocate.
//
// Available operations:
//   - Activations: identity, ReLU, sigmoid, tanh (forward and derivative)
//   - Linear algebra: Gemm, Gemv, outer-product accumulate
//   - Vector: axpy, dot, scale, element-wise multiply, sum
//
// Activations are registered in the Catalog array and addressed by their
// Activation code so layers can be configured by value.
package kernels

import (
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
)

// Activation identifies an element-wise nonlinearity.
type Activation uint8

// Activation codes
const (
	ActIdentity Activation = iota
	ActReLU
	ActSigmoid
	ActTanh
	numActivations
)

// ActivationFn applies an activation in place.
type ActivationFn func(data []float64)

// GradFn multiplies grad in place by the activation derivative, expressed in
// terms of the activation output y.
type GradFn func(y, grad []float64)

// Kernel bundles the forward and backward halves of an activation.
type Kernel struct {
	Name     string
	Forward  ActivationFn
	Backward GradFn
}

// Catalog maps activation codes to their kernels.
var Catalog = [numActivations]Kernel{
	ActIdentity: {Name: "identity", Forward: identity, Backward: identityGrad},
	ActReLU:     {Name: "relu", Forward: ReLU, Backward: ReLUGrad},
	ActSigmoid:  {Name: "sigmoid", Forward: Sigmoid, Backward: SigmoidGrad},
	ActTanh:     {Name: "tanh", Forward: Tanh, Backward: TanhGrad},
}

// Get returns the kernel for a, or false for an unknown code.
func Get(a Activation) (Kernel, bool) {
	if a >= numActivations {
		return Kernel{}, false
	}
	return Catalog[a], true
}

// String implements fmt.Stringer.
func (a Activation) String() string {
	if k, ok := Get(a); ok {
		return k.Name
	}
	return "unknown"
}

// -------- Activations ----------

func identity([]float64) {}

func identityGrad([]float64, []float64) {}

// ReLU implements Rectified Linear Unit: max(0, x)
func ReLU(data []float64) {
	for i, x := range data {
		if x < 0 {
			data[i] = 0
		}
	}
}

// ReLUGrad zeroes gradient where the output was clamped.
func ReLUGrad(y, grad []float64) {
	mustSameLen(len(y), len(grad))
	for i := range grad {
		if y[i] <= 0 {
			grad[i] = 0
		}
	}
}

// SigmoidScalar is the numerically stable logistic function.
func SigmoidScalar(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Sigmoid implements 1 / (1 + e^(-x))
func Sigmoid(data []float64) {
	for i, x := range data {
		data[i] = SigmoidScalar(x)
	}
}

// SigmoidGrad applies dσ = y(1-y).
func SigmoidGrad(y, grad []float64) {
	mustSameLen(len(y), len(grad))
	for i := range grad {
		grad[i] *= y[i] * (1 - y[i])
	}
}

// Tanh implements hyperbolic tangent.
func Tanh(data []float64) {
	for i, x := range data {
		data[i] = math.Tanh(x)
	}
}

// TanhGrad applies dtanh = 1 - y².
func TanhGrad(y, grad []float64) {
	mustSameLen(len(y), len(grad))
	for i := range grad {
		grad[i] *= 1 - y[i]*y[i]
	}
}

// -------- Linear algebra ----------

// Gemm computes C = alpha·op(A)·op(B) + beta·C for row-major matrices.
// op(A) is m×k, op(B) is k×n and C is m×n.
func Gemm(transA, transB bool, m, n, k int, alpha float64, a, b []float64, beta float64, c []float64) {
	if m == 0 || n == 0 {
		return
	}
	ga := general(transA, m, k, a)
	gb := general(transB, k, n, b)
	gc := blas64.General{Rows: m, Cols: n, Stride: n, Data: c[:m*n]}
	blas64.Gemm(transpose(transA), transpose(transB), alpha, ga, gb, beta, gc)
}

// Gemv computes y = alpha·op(A)·x + beta·y where A is stored rows×cols.
func Gemv(trans bool, rows, cols int, alpha float64, a, x []float64, beta float64, y []float64) {
	ga := blas64.General{Rows: rows, Cols: cols, Stride: cols, Data: a[:rows*cols]}
	xl, yl := cols, rows
	if trans {
		xl, yl = rows, cols
	}
	blas64.Gemv(transpose(trans), alpha, ga,
		blas64.Vector{N: xl, Inc: 1, Data: x[:xl]},
		beta,
		blas64.Vector{N: yl, Inc: 1, Data: y[:yl]})
}

func general(trans bool, rows, cols int, data []float64) blas64.General {
	if trans {
		rows, cols = cols, rows
	}
	return blas64.General{Rows: rows, Cols: cols, Stride: cols, Data: data[:rows*cols]}
}

func transpose(t bool) blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}

// -------- Vector ops ----------

// Axpy performs y += alpha·x.
func Axpy(alpha float64, x, y []float64) {
	mustSameLen(len(x), len(y))
	floats.AddScaled(y, alpha, x)
}

// Dot returns the inner product of a and b.
func Dot(a, b []float64) float64 {
	mustSameLen(len(a), len(b))
	return floats.Dot(a, b)
}

// Scale multiplies every element by alpha.
func Scale(alpha float64, data []float64) {
	floats.Scale(alpha, data)
}

// MulInPlace performs a *= b element-wise.
func MulInPlace(a, b []float64) {
	mustSameLen(len(a), len(b))
	floats.Mul(a, b)
}

// AddBias adds bias to every row of a rows×len(bias) matrix.
func AddBias(data, bias []float64) {
	cols := len(bias)
	for off := 0; off+cols <= len(data); off += cols {
		floats.Add(data[off:off+cols], bias)
	}
}

// SumRows accumulates the column sums of a rows×len(dst) matrix into dst.
func SumRows(data, dst []float64) {
	cols := len(dst)
	for off := 0; off+cols <= len(data); off += cols {
		floats.Add(dst, data[off:off+cols])
	}
}

func mustSameLen(a, b int) {
	if a != b {
		panic("vector length mismatch")
	}
}
