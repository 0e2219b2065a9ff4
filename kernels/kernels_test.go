package kernels

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const floatTolerance = 1e-9

// Helper to generate a random float64 slice in [-1, 1)
func randomSlice(rng *rand.Rand, n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = rng.Float64()*2 - 1
	}
	return s
}

// Go reference for row-major matMul: result is M x N, a is M x K, b is K x N
func matMulGo(a []float64, m, k int, b []float64, n int) []float64 {
	result := make([]float64, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float64
			for p := 0; p < k; p++ {
				sum += a[i*k+p] * b[p*n+j]
			}
			result[i*n+j] = sum
		}
	}
	return result
}

func transposeGo(a []float64, rows, cols int) []float64 {
	t := make([]float64, len(a))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			t[j*rows+i] = a[i*cols+j]
		}
	}
	return t
}

func TestGemmMatchesReference(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))
	shapes := []struct{ m, k, n int }{{1, 1, 1}, {2, 3, 4}, {7, 5, 3}, {16, 16, 16}}

	for _, s := range shapes {
		a := randomSlice(rng, s.m*s.k)
		b := randomSlice(rng, s.k*s.n)
		want := matMulGo(a, s.m, s.k, b, s.n)

		got := make([]float64, s.m*s.n)
		Gemm(false, false, s.m, s.n, s.k, 1, a, b, 0, got)
		assert.InDeltaSlice(t, want, got, floatTolerance, "NN %v", s)

		got = make([]float64, s.m*s.n)
		Gemm(true, false, s.m, s.n, s.k, 1, transposeGo(a, s.m, s.k), b, 0, got)
		assert.InDeltaSlice(t, want, got, floatTolerance, "TN %v", s)

		got = make([]float64, s.m*s.n)
		Gemm(false, true, s.m, s.n, s.k, 1, a, transposeGo(b, s.k, s.n), 0, got)
		assert.InDeltaSlice(t, want, got, floatTolerance, "NT %v", s)
	}
}

func TestGemmAccumulates(t *testing.T) {
	t.Parallel()
	a := []float64{1, 2}
	b := []float64{3, 4}
	c := []float64{10}
	Gemm(false, false, 1, 1, 2, 2, a, b, 1, c)
	assert.InDelta(t, 10+2*(3+8), c[0], floatTolerance)
}

func TestGemv(t *testing.T) {
	t.Parallel()
	a := []float64{1, 2, 3, 4, 5, 6} // 2x3
	x := []float64{1, 1, 1}
	y := []float64{1, 1}
	Gemv(false, 2, 3, 1, a, x, 2, y)
	assert.Equal(t, []float64{8, 17}, y)

	xt := []float64{1, 2}
	yt := make([]float64, 3)
	Gemv(true, 2, 3, 1, a, xt, 0, yt)
	assert.Equal(t, []float64{9, 12, 15}, yt)
}

func TestActivations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		act  Activation
		in   []float64
		want []float64
	}{
		{ActIdentity, []float64{-1, 0, 2}, []float64{-1, 0, 2}},
		{ActReLU, []float64{-1, 0, 2}, []float64{0, 0, 2}},
		{ActSigmoid, []float64{0, 1000, -1000}, []float64{0.5, 1, 0}},
		{ActTanh, []float64{0, 1}, []float64{0, math.Tanh(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.act.String(), func(t *testing.T) {
			k, ok := Get(tt.act)
			require.True(t, ok)
			data := append([]float64(nil), tt.in...)
			k.Forward(data)
			assert.InDeltaSlice(t, tt.want, data, floatTolerance)
			for _, v := range data {
				assert.False(t, math.IsNaN(v))
			}
		})
	}

	_, ok := Get(Activation(200))
	assert.False(t, ok)
	assert.Equal(t, "unknown", Activation(200).String())
}

func TestActivationGradientsMatchFiniteDifference(t *testing.T) {
	t.Parallel()
	const h = 1e-6
	xs := []float64{-2, -0.3, 0.4, 1.7}
	for _, act := range []Activation{ActSigmoid, ActTanh, ActReLU, ActIdentity} {
		k := Catalog[act]
		for _, x := range xs {
			y := []float64{x}
			k.Forward(y)
			grad := []float64{1}
			k.Backward(y, grad)

			plus, minus := []float64{x + h}, []float64{x - h}
			k.Forward(plus)
			k.Forward(minus)
			numeric := (plus[0] - minus[0]) / (2 * h)
			assert.InDelta(t, numeric, grad[0], 1e-6, "%s at %v", act, x)
		}
	}
}

func TestVectorOps(t *testing.T) {
	t.Parallel()
	y := []float64{1, 2, 3}
	Axpy(2, []float64{1, 1, 1}, y)
	assert.Equal(t, []float64{3, 4, 5}, y)

	assert.Equal(t, 26.0, Dot(y, []float64{1, 2, 3}))

	Scale(0.5, y)
	assert.Equal(t, []float64{1.5, 2, 2.5}, y)

	MulInPlace(y, []float64{2, 2, 2})
	assert.Equal(t, []float64{3, 4, 5}, y)

	m := []float64{1, 2, 3, 4}
	AddBias(m, []float64{10, 20})
	assert.Equal(t, []float64{11, 22, 13, 24}, m)

	dst := make([]float64, 2)
	SumRows(m, dst)
	assert.Equal(t, []float64{24, 46}, dst)

	assert.Panics(t, func() { Dot([]float64{1}, []float64{1, 2}) })
}
