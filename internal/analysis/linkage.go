package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Linkage names an agglomerative cluster-distance update rule.
type Linkage string

const (
	Single   Linkage = "single"
	Complete Linkage = "complete"
	Average  Linkage = "average"
	Weighted Linkage = "weighted"
	Ward     Linkage = "ward"
	Centroid Linkage = "centroid"
	Median   Linkage = "median"
)

// ParseLinkage resolves a linkage method name. The empty string is ward.
func ParseLinkage(s string) (Linkage, error) {
	switch l := Linkage(s); l {
	case "":
		return Ward, nil
	case Single, Complete, Average, Weighted, Ward, Centroid, Median:
		return l, nil
	default:
		return "", fmt.Errorf("%w: method %q", ErrUnsupportedLinkage, s)
	}
}

func (l Linkage) needsEuclidean() bool {
	return l == Ward || l == Centroid || l == Median
}

// Step is one merge of an agglomerative clustering. A and B are cluster
// labels: 0..n-1 are original rows and n+k is the cluster formed by step k.
// A < B always holds. Size is the number of rows in the merged cluster.
type Step struct {
	A        int
	B        int
	Distance float64
	Size     int
}

// Agglomerate runs agglomerative clustering over the rows of x and returns
// the n-1 merge steps in the order they were performed.
//
// Cluster distances are updated with the Lance-Williams recurrence for the
// chosen method. Ward, centroid and median require euclidean distances.
// Among equally close pairs the one found first in row order merges.
func Agglomerate(x *mat.Dense, method Linkage, metric Metric) ([]Step, error) {
	if method == "" {
		method = Ward
	}
	if metric == "" {
		metric = Euclidean
	}
	if _, err := ParseLinkage(string(method)); err != nil {
		return nil, err
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	if method.needsEuclidean() && metric != Euclidean {
		return nil, fmt.Errorf("%w: %s linkage requires euclidean distances, got %s", ErrUnsupportedLinkage, method, metric)
	}

	n, d := x.Dims()
	if n == 0 || d == 0 {
		return nil, fmt.Errorf("%w: %d rows, %d columns", ErrInsufficientData, n, d)
	}

	dist := mat.DenseCopyOf(pairwise(x, metric))
	active := make([]bool, n)
	label := make([]int, n)
	size := make([]int, n)
	for i := 0; i < n; i++ {
		active[i] = true
		label[i] = i
		size[i] = 1
	}

	steps := make([]Step, 0, n-1)
	for k := 0; k < n-1; k++ {
		bi, bj, best := -1, -1, math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if active[j] && dist.At(i, j) < best {
					bi, bj, best = i, j, dist.At(i, j)
				}
			}
		}
		if bi < 0 {
			return nil, fmt.Errorf("%w: no finite distance at step %d", ErrInsufficientData, k)
		}

		a, b := label[bi], label[bj]
		if a > b {
			a, b = b, a
		}
		steps = append(steps, Step{A: a, B: b, Distance: best, Size: size[bi] + size[bj]})

		for m := 0; m < n; m++ {
			if !active[m] || m == bi || m == bj {
				continue
			}
			v := lanceWilliams(method, dist.At(m, bi), dist.At(m, bj), best, size[bi], size[bj], size[m])
			dist.Set(m, bi, v)
			dist.Set(bi, m, v)
		}
		active[bj] = false
		size[bi] += size[bj]
		label[bi] = n + k
	}
	return steps, nil
}

// lanceWilliams returns the distance from cluster m to the union of i and j,
// given dmi, dmj, dij and the cluster sizes.
func lanceWilliams(method Linkage, dmi, dmj, dij float64, ni, nj, nm int) float64 {
	fi, fj, fm := float64(ni), float64(nj), float64(nm)
	switch method {
	case Single:
		return math.Min(dmi, dmj)
	case Complete:
		return math.Max(dmi, dmj)
	case Average:
		return (fi*dmi + fj*dmj) / (fi + fj)
	case Weighted:
		return (dmi + dmj) / 2
	case Ward:
		t := fi + fj + fm
		sq := ((fm+fi)*dmi*dmi + (fm+fj)*dmj*dmj - fm*dij*dij) / t
		return math.Sqrt(math.Max(sq, 0))
	case Centroid:
		s := fi + fj
		sq := (fi*dmi*dmi+fj*dmj*dmj)/s - fi*fj*dij*dij/(s*s)
		return math.Sqrt(math.Max(sq, 0))
	case Median:
		sq := dmi*dmi/2 + dmj*dmj/2 - dij*dij/4
		return math.Sqrt(math.Max(sq, 0))
	default:
		return math.NaN()
	}
}
