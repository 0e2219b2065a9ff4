package kernels

import (
	"math/rand/v2"
	"testing"
)

func generateRandom(size int) []float64 {
	rng := rand.New(rand.NewPCG(7, 7))
	data := make([]float64, size)
	for i := range data {
		data[i] = rng.Float64()*200 - 100
	}
	return data
}

func BenchmarkGemm_64(b *testing.B) {
	const n = 64
	x := generateRandom(n * n)
	y := generateRandom(n * n)
	c := make([]float64, n*n)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Gemm(false, false, n, n, n, 1, x, y, 0, c)
	}
}

func BenchmarkGemm_Pure_64(b *testing.B) {
	const n = 64
	x := generateRandom(n * n)
	y := generateRandom(n * n)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = matMulGo(x, n, n, y, n)
	}
}

func BenchmarkGemv_256(b *testing.B) {
	const n = 256
	a := generateRandom(n * n)
	x := generateRandom(n)
	y := make([]float64, n)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Gemv(false, n, n, 1, a, x, 0, y)
	}
}

func BenchmarkSigmoid_16K(b *testing.B) {
	data := generateRandom(16384)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Sigmoid(data)
	}
}

func BenchmarkAxpy_16K(b *testing.B) {
	x := generateRandom(16384)
	y := generateRandom(16384)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Axpy(0.5, x, y)
	}
}
