package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Metric names a pairwise distance.
type Metric string

const (
	Euclidean Metric = "euclidean"
	Cityblock Metric = "cityblock"
	Chebyshev Metric = "chebyshev"
)

// ParseMetric resolves a metric name. The empty string is euclidean.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", Euclidean:
		return Euclidean, nil
	case Cityblock, "manhattan":
		return Cityblock, nil
	case Chebyshev:
		return Chebyshev, nil
	default:
		return "", fmt.Errorf("%w: metric %q", ErrUnsupportedLinkage, s)
	}
}

// Distance returns the distance between a and b.
func (m Metric) Distance(a, b []float64) float64 {
	switch m {
	case Cityblock:
		return floats.Distance(a, b, 1)
	case Chebyshev:
		return floats.Distance(a, b, math.Inf(1))
	default:
		return floats.Distance(a, b, 2)
	}
}

// pairwise computes the full symmetric distance matrix between rows of x.
func pairwise(x *mat.Dense, metric Metric) *mat.SymDense {
	n, _ := x.Dims()
	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		ri := x.RawRowView(i)
		for j := i + 1; j < n; j++ {
			d.SetSym(i, j, metric.Distance(ri, x.RawRowView(j)))
		}
	}
	return d
}

func sqEuclidean(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}
