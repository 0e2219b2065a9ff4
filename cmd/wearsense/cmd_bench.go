package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	goruntime "runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/sbl8/wearsense/dataset"
	"github.com/sbl8/wearsense/kernels"
	"github.com/sbl8/wearsense/model"
	"github.com/sbl8/wearsense/runtime"
)

var (
	benchTest string
	benchSize int
	benchIter int
)

// benchCmd runs kernel and inference micro-benchmarks
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run kernel and inference micro-benchmarks",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "wearsense performance analysis\n")
		fmt.Fprintf(out, "==============================\n")
		fmt.Fprintf(out, "Go Version: %s\n", goruntime.Version())
		fmt.Fprintf(out, "OS/Arch: %s/%s\n", goruntime.GOOS, goruntime.GOARCH)
		fmt.Fprintf(out, "CPUs: %d\n", goruntime.NumCPU())
		fmt.Fprintf(out, "Test Size: %d elements\n", benchSize)
		fmt.Fprintf(out, "Iterations: %d\n\n", benchIter)

		switch benchTest {
		case "all":
			benchVector(out)
			benchMatrix(out)
			benchActivation(out)
			return benchModel(cmd, out)
		case "vector":
			benchVector(out)
		case "matrix":
			benchMatrix(out)
		case "activation":
			benchActivation(out)
		case "model":
			return benchModel(cmd, out)
		default:
			return fmt.Errorf("unknown test type: %s", benchTest)
		}
		return nil
	},
}

func init() {
	benchCmd.Flags().StringVar(&benchTest, "test", "all", "Test type: all, vector, matrix, activation, model")
	benchCmd.Flags().IntVar(&benchSize, "size", 1024, "Test data size")
	benchCmd.Flags().IntVar(&benchIter, "iter", 1000, "Number of iterations")
}

func opsPerSecond(n int, d time.Duration) float64 {
	return float64(n) * float64(benchIter) / d.Seconds() / 1e6
}

func benchVector(out io.Writer) {
	fmt.Fprintf(out, "Vector Operations Performance\n")
	fmt.Fprintf(out, "----------------------------\n")
	a := randomFloats(benchSize)
	b := randomFloats(benchSize)

	start := time.Now()
	for i := 0; i < benchIter; i++ {
		kernels.Axpy(1e-9, a, b)
	}
	axpy := time.Since(start)

	start = time.Now()
	var sink float64
	for i := 0; i < benchIter; i++ {
		sink += kernels.Dot(a, b)
	}
	dot := time.Since(start)
	_ = sink

	start = time.Now()
	for i := 0; i < benchIter; i++ {
		kernels.MulInPlace(b, a)
	}
	mul := time.Since(start)

	fmt.Fprintf(out, "Axpy:                        %v (%.2f Mops/s)\n", axpy, opsPerSecond(benchSize, axpy))
	fmt.Fprintf(out, "Dot Product:                 %v (%.2f Mops/s)\n", dot, opsPerSecond(benchSize, dot))
	fmt.Fprintf(out, "Multiply (in-place):         %v (%.2f Mops/s)\n\n", mul, opsPerSecond(benchSize, mul))
}

func benchMatrix(out io.Writer) {
	fmt.Fprintf(out, "Matrix Operations Performance\n")
	fmt.Fprintf(out, "----------------------------\n")
	sizes := []int{32, 64, 128}
	if benchSize < 128 {
		sizes = []int{16, 32, 64}
	}
	iters := max(benchIter/10, 1)
	for _, n := range sizes {
		a := randomFloats(n * n)
		b := randomFloats(n * n)
		c := make([]float64, n*n)
		start := time.Now()
		for i := 0; i < iters; i++ {
			kernels.Gemm(false, false, n, n, n, 1, a, b, 0, c)
		}
		d := time.Since(start)
		gflops := float64(2*n*n*n) * float64(iters) / d.Seconds() / 1e9
		fmt.Fprintf(out, "Matrix Multiply %dx%d:       %v (%.2f GFLOPS)\n", n, n, d, gflops)

		x := randomFloats(n)
		y := make([]float64, n)
		start = time.Now()
		for i := 0; i < benchIter; i++ {
			kernels.Gemv(false, n, n, 1, a, x, 0, y)
		}
		d = time.Since(start)
		gflops = float64(2*n*n) * float64(benchIter) / d.Seconds() / 1e9
		fmt.Fprintf(out, "Matrix-Vector %dx%d:         %v (%.2f GFLOPS)\n", n, n, d, gflops)
	}
	fmt.Fprintln(out)
}

func benchActivation(out io.Writer) {
	fmt.Fprintf(out, "Activation Functions Performance\n")
	fmt.Fprintf(out, "-------------------------------\n")
	data := randomFloats(benchSize)
	work := make([]float64, len(data))
	for _, k := range kernels.Catalog {
		start := time.Now()
		for i := 0; i < benchIter; i++ {
			copy(work, data)
			k.Forward(work)
		}
		d := time.Since(start)
		fmt.Fprintf(out, "%-15s:             %v (%.2f Mops/s)\n", k.Name, d, opsPerSecond(benchSize, d))
	}
	fmt.Fprintln(out)
}

// benchModel measures engine throughput on random sequences shaped by the
// configured model and data columns.
func benchModel(cmd *cobra.Command, out io.Writer) error {
	fmt.Fprintf(out, "Inference Engine Performance\n")
	fmt.Fprintf(out, "----------------------------\n")
	features := max(len(cfg.Data.SeqCols), 8)
	targets := max(len(cfg.Data.TargetCols), 1)
	m, err := model.New(cfg.Model.Build(features, targets), cfg.Data.Seed)
	if err != nil {
		return err
	}

	seqLen := cfg.Model.CNNKernelSize + 12
	rng := rand.New(rand.NewPCG(cfg.Data.Seed, 1))
	ds := &dataset.Dataset{SeqLen: seqLen, Features: make([]string, features), Targets: make([]string, targets)}
	for i := 0; i < max(benchSize/4, 16); i++ {
		in := make([]float64, seqLen*features)
		for j := range in {
			in[j] = rng.NormFloat64()
		}
		ds.Samples = append(ds.Samples, dataset.Sample{Length: seqLen, Input: in, Target: make([]float64, targets)})
	}

	engine, err := runtime.NewEngine(m, cfg.EngineOptions(logger))
	if err != nil {
		return err
	}
	iters := max(benchIter/100, 1)
	start := time.Now()
	for i := 0; i < iters; i++ {
		if _, err := engine.Predict(cmd.Context(), ds); err != nil {
			return err
		}
	}
	d := time.Since(start)
	stats := engine.Stats()
	fmt.Fprintf(out, "Model: %d params, %d workers, %d samples × %d steps\n", m.NumParams(), engine.Workers(), ds.Len(), seqLen)
	fmt.Fprintf(out, "Predict:                     %v (%.0f samples/s)\n", d, float64(ds.Len()*iters)/d.Seconds())
	fmt.Fprintf(out, "Batch latency (avg):         %v\n", stats.AverageLatency)
	fmt.Fprintf(out, "Arena high water:            %d values, %d heap spills\n\n", stats.ArenaHighWater, stats.ArenaOverflows)
	return nil
}

func randomFloats(n int) []float64 {
	data := make([]float64, n)
	for i := range data {
		data[i] = rand.Float64()*200 - 100
	}
	return data
}
