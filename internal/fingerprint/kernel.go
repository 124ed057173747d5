package fingerprint

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
)

// DefaultMatrixSize is the side length of the luminance matrix fed to the kernel.
const DefaultMatrixSize = 8

// hashBlock is the side of the low-frequency block used for the hash bits.
const hashBlock = 8

// Matrix is a square matrix of float64 values indexed as m[x][y].
type Matrix [][]float64

// NewMatrix allocates an n×n zero matrix.
func NewMatrix(n int) Matrix {
	m := make(Matrix, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return m
}

// Strategy selects how the kernel schedules coefficient computation.
type Strategy int

const (
	// Sequential computes every coefficient on the calling goroutine.
	Sequential Strategy = iota
	// Parallel spreads coefficient rows over a fixed set of goroutines.
	Parallel
)

func (s Strategy) String() string {
	switch s {
	case Sequential:
		return "sequential"
	case Parallel:
		return "parallel"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy converts a config value into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "sequential", "cpu":
		return Sequential, nil
	case "parallel":
		return Parallel, nil
	default:
		return Sequential, fmt.Errorf("unknown kernel strategy %q", s)
	}
}

// Kernel computes the DCT-II of an N×N matrix and derives a 64-bit perceptual
// hash from its low-frequency coefficients. A Kernel is immutable after
// construction and safe for concurrent use.
type Kernel struct {
	n        int
	block    int
	cos      [][]float64 // cos[u][x] = cos((2x+1)uπ / 2N)
	scale    []float64   // C(k)
	strategy Strategy
	workers  int
}

// KernelOption configures a Kernel.
type KernelOption func(*Kernel)

// WithStrategy selects the execution strategy.
func WithStrategy(s Strategy) KernelOption {
	return func(k *Kernel) {
		k.strategy = s
	}
}

// WithWorkers bounds the goroutines used by the Parallel strategy.
func WithWorkers(n int) KernelOption {
	return func(k *Kernel) {
		if n > 0 {
			k.workers = n
		}
	}
}

// NewKernel creates a kernel for n×n matrices. It panics if n < 2.
func NewKernel(n int, opts ...KernelOption) *Kernel {
	if n < 2 {
		panic(fmt.Sprintf("fingerprint: kernel size must be at least 2, got %d", n))
	}

	k := &Kernel{
		n:        n,
		block:    min(hashBlock, n),
		strategy: Sequential,
		workers:  runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(k)
	}

	// Precompute cosine values once; they are read-only afterwards.
	k.cos = make([][]float64, n)
	for u := range n {
		k.cos[u] = make([]float64, n)
		for x := range n {
			k.cos[u][x] = math.Cos(float64(2*x+1) * float64(u) * math.Pi / float64(2*n))
		}
	}

	k.scale = make([]float64, n)
	for i := range n {
		k.scale[i] = 1
	}
	k.scale[0] = 1 / math.Sqrt2

	return k
}

// Size returns N.
func (k *Kernel) Size() int {
	return k.n
}

// Strategy returns the configured execution strategy.
func (k *Kernel) Strategy() Strategy {
	return k.strategy
}

// Transform returns the full N×N DCT-II coefficient matrix of m.
func (k *Kernel) Transform(m Matrix) Matrix {
	k.mustFit(m)
	out := NewMatrix(k.n)
	k.fill(m, out, k.n)
	return out
}

// Hash returns the perceptual hash of m.
//
// The top-left K×K coefficients (K = min(8, N)) excluding DC are compared with
// their median in row-major order; bit i is set at position 63-i when the
// coefficient is greater than the median.
func (k *Kernel) Hash(m Matrix) uint64 {
	k.mustFit(m)

	low := NewMatrix(k.block)
	k.fill(m, low, k.block)

	values := make([]float64, 0, k.block*k.block-1)
	for u := range k.block {
		for v := range k.block {
			if u == 0 && v == 0 {
				continue
			}
			values = append(values, low[u][v])
		}
	}

	median := computeMedian(values)

	var hash uint64
	for i, c := range values {
		if c > median {
			hash |= 1 << (63 - i)
		}
	}
	return hash
}

// fill writes the first size×size coefficients of m's transform into out.
func (k *Kernel) fill(m, out Matrix, size int) {
	if k.strategy != Parallel || k.workers < 2 || size < 2 {
		for u := range size {
			k.row(m, out[u], u, size)
		}
		return
	}

	rows := make(chan int)
	var wg sync.WaitGroup
	for range min(k.workers, size) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range rows {
				k.row(m, out[u], u, size)
			}
		}()
	}
	for u := range size {
		rows <- u
	}
	close(rows)
	wg.Wait()
}

// row computes coefficients (u, 0..size-1). Both strategies go through here,
// so the summation order of every coefficient is identical.
func (k *Kernel) row(m Matrix, dst []float64, u, size int) {
	for v := range size {
		var sum float64
		for x := range k.n {
			cu := k.cos[u][x]
			for y := range k.n {
				sum += m[x][y] * cu * k.cos[v][y]
			}
		}
		dst[v] = k.scale[u] * k.scale[v] / 4 * sum
	}
}

func (k *Kernel) mustFit(m Matrix) {
	if len(m) != k.n {
		panic(fmt.Sprintf("fingerprint: matrix has %d rows, kernel expects %d", len(m), k.n))
	}
	for i, r := range m {
		if len(r) != k.n {
			panic(fmt.Sprintf("fingerprint: matrix row %d has %d columns, kernel expects %d", i, len(r), k.n))
		}
	}
}

// computeMedian returns the median value from a slice.
func computeMedian(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
