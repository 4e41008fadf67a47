package analysis

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// KMedoidsOptions configures KMedoids.
type KMedoidsOptions struct {
	K       int
	Metric  Metric
	MaxIter int
}

// KMedoids clusters the rows of x around K medoids (rows of x).
//
// Initial medoids come from a greedy build pass. Each iteration assigns rows
// to their nearest medoid, then moves every medoid to the member minimizing
// the within-cluster distance sum, until the medoids stop changing. Inertia is the sum of plain distances.
func KMedoids(x *mat.Dense, opts KMedoidsOptions) (*Partition, error) {
	if opts.MaxIter <= 0 {
		opts.MaxIter = 300
	}
	metric := opts.Metric
	if metric == "" {
		metric = Euclidean
	}
	if err := validateK(x, opts.K); err != nil {
		return nil, err
	}
	n, d := x.Dims()
	dist := pairwise(x, metric)

	medoids := buildMedoids(dist, n, opts.K)
	labels := make([]int, n)

	iter := 0
	for iter < opts.MaxIter {
		iter++
		assignMedoids(dist, medoids, labels)

		changed := false
		for k, m := range medoids {
			best, bestCost := m, withinCost(dist, labels, k, m)
			for i := 0; i < n; i++ {
				if labels[i] != k || i == m {
					continue
				}
				if c := withinCost(dist, labels, k, i); c < bestCost {
					best, bestCost = i, c
				}
			}
			if best != m {
				medoids[k] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	assignMedoids(dist, medoids, labels)

	centers := mat.NewDense(opts.K, d, nil)
	for k, m := range medoids {
		centers.SetRow(k, x.RawRowView(m))
	}

	p := &Partition{
		Kind:       PartitionKMedoids,
		K:          opts.K,
		Labels:     labels,
		Centers:    centers,
		Medoids:    medoids,
		Iterations: iter,
	}
	p.score(x, func(i, k int) float64 { return dist.At(i, medoids[k]) })
	return p, nil
}

// buildMedoids picks initial medoids greedily: first the row with the
// smallest total distance, then repeatedly the row that most reduces the
// total distance of every row to its nearest medoid.
func buildMedoids(dist *mat.SymDense, n, k int) []int {
	nearest := make([]float64, n)
	for i := range nearest {
		nearest[i] = math.Inf(1)
	}
	chosen := make([]bool, n)
	medoids := make([]int, 0, k)

	first, firstSum := 0, math.Inf(1)
	for i := 0; i < n; i++ {
		var s float64
		for j := 0; j < n; j++ {
			s += dist.At(i, j)
		}
		if s < firstSum {
			first, firstSum = i, s
		}
	}
	add := func(m int) {
		chosen[m] = true
		medoids = append(medoids, m)
		for j := range nearest {
			nearest[j] = math.Min(nearest[j], dist.At(j, m))
		}
	}
	add(first)

	for len(medoids) < k {
		best, bestGain := -1, -1.0
		for c := 0; c < n; c++ {
			if chosen[c] {
				continue
			}
			var gain float64
			for j := 0; j < n; j++ {
				gain += math.Max(nearest[j]-dist.At(j, c), 0)
			}
			if gain > bestGain {
				best, bestGain = c, gain
			}
		}
		add(best)
	}
	return medoids
}

func assignMedoids(dist *mat.SymDense, medoids, labels []int) {
	for i := range labels {
		best, bestD := 0, math.Inf(1)
		for k, m := range medoids {
			if dd := dist.At(i, m); dd < bestD {
				best, bestD = k, dd
			}
		}
		labels[i] = best
	}
	// A medoid always belongs to its own cluster, even when it duplicates
	// another medoid's row.
	for k, m := range medoids {
		labels[m] = k
	}
}

func withinCost(dist *mat.SymDense, labels []int, k, candidate int) float64 {
	var s float64
	for i, l := range labels {
		if l == k {
			s += dist.At(i, candidate)
		}
	}
	return s
}
