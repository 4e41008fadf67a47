package analysis

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// KMeansOptions configures KMeans.
type KMeansOptions struct {
	K       int
	Seed    uint64
	MaxIter int
	// Tol is relative to the mean per-feature variance.
	Tol float64
}

func (o KMeansOptions) withDefaults() KMeansOptions {
	if o.MaxIter <= 0 {
		o.MaxIter = 300
	}
	if o.Tol <= 0 {
		o.Tol = 1e-4
	}
	return o
}

// KMeans clusters the rows of x with k-means++ seeding and Lloyd
// iterations. The same Seed always yields the same partition.
func KMeans(x *mat.Dense, opts KMeansOptions) (*Partition, error) {
	opts = opts.withDefaults()
	if err := validateK(x, opts.K); err != nil {
		return nil, err
	}
	n, d := x.Dims()
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))

	centers := seedPlusPlus(x, opts.K, rng)
	labels := make([]int, n)
	tol := opts.Tol * meanVariance(x)

	next := mat.NewDense(opts.K, d, nil)
	counts := make([]int, opts.K)
	iter := 0
	for iter < opts.MaxIter {
		iter++
		assignNearest(x, centers, labels)

		next.Zero()
		for k := range counts {
			counts[k] = 0
		}
		for i := 0; i < n; i++ {
			floats.Add(next.RawRowView(labels[i]), x.RawRowView(i))
			counts[labels[i]]++
		}
		for k := 0; k < opts.K; k++ {
			if counts[k] == 0 {
				relocateEmpty(x, centers, labels, counts, next, k)
				continue
			}
			floats.Scale(1/float64(counts[k]), next.RawRowView(k))
		}

		var shift float64
		for k := 0; k < opts.K; k++ {
			shift += sqEuclidean(centers.RawRowView(k), next.RawRowView(k))
		}
		centers.Copy(next)
		if shift <= tol {
			break
		}
	}
	assignNearest(x, centers, labels)

	p := &Partition{
		Kind:       PartitionKMeans,
		K:          opts.K,
		Labels:     labels,
		Centers:    centers,
		Iterations: iter,
	}
	p.score(x, func(i, k int) float64 {
		return sqEuclidean(x.RawRowView(i), centers.RawRowView(k))
	})
	if math.IsNaN(p.Inertia) {
		return nil, fmt.Errorf("%w: k-means inertia is NaN", ErrNotConverged)
	}
	return p, nil
}

// seedPlusPlus picks k initial centers, each new one drawn with probability
// proportional to its squared distance from the nearest chosen center.
func seedPlusPlus(x *mat.Dense, k int, rng *rand.Rand) *mat.Dense {
	n, d := x.Dims()
	centers := mat.NewDense(k, d, nil)
	chosen := make([]bool, n)

	first := rng.IntN(n)
	centers.SetRow(0, x.RawRowView(first))
	chosen[first] = true

	closest := make([]float64, n)
	for i := range closest {
		closest[i] = sqEuclidean(x.RawRowView(i), centers.RawRowView(0))
	}

	for c := 1; c < k; c++ {
		total := floats.Sum(closest)
		pick := -1
		if total > 0 {
			target := rng.Float64() * total
			var acc float64
			for i, v := range closest {
				acc += v
				if acc >= target && v > 0 {
					pick = i
					break
				}
			}
		}
		if pick < 0 {
			// Every remaining row coincides with a center.
			for i := range chosen {
				if !chosen[i] {
					pick = i
					break
				}
			}
		}
		chosen[pick] = true
		centers.SetRow(c, x.RawRowView(pick))
		for i := range closest {
			closest[i] = math.Min(closest[i], sqEuclidean(x.RawRowView(i), centers.RawRowView(c)))
		}
	}
	return centers
}

func assignNearest(x, centers *mat.Dense, labels []int) {
	k, _ := centers.Dims()
	for i := range labels {
		row := x.RawRowView(i)
		best, bestD := 0, math.Inf(1)
		for c := 0; c < k; c++ {
			if dd := sqEuclidean(row, centers.RawRowView(c)); dd < bestD {
				best, bestD = c, dd
			}
		}
		labels[i] = best
	}
}

// relocateEmpty moves the center of empty cluster k onto the row farthest
// from its own center, taken from a cluster with more than one member.
func relocateEmpty(x, centers *mat.Dense, labels, counts []int, next *mat.Dense, k int) {
	far, farD := -1, -1.0
	for i, l := range labels {
		if counts[l] < 2 {
			continue
		}
		if dd := sqEuclidean(x.RawRowView(i), centers.RawRowView(l)); dd > farD {
			far, farD = i, dd
		}
	}
	if far < 0 {
		next.SetRow(k, centers.RawRowView(k))
		return
	}
	next.SetRow(k, x.RawRowView(far))
}

func meanVariance(x *mat.Dense) float64 {
	_, d := x.Dims()
	var sum float64
	for j := 0; j < d; j++ {
		sum += stat.Variance(mat.Col(nil, j, x), nil)
	}
	return sum / float64(d)
}
