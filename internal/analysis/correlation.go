package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// CorrelationPearson is the type tag persisted with Pearson rows.
const CorrelationPearson = "pearson"

// Pair is the correlation of columns I and J, with I < J.
type Pair struct {
	I     int
	J     int
	Value float64
}

// Pearson returns the Pearson coefficient for every unordered column pair,
// ordered by (I, J). A pair involving a constant column is NaN.
func Pearson(x *mat.Dense) ([]Pair, error) {
	n, c := x.Dims()
	if n < 2 {
		return nil, fmt.Errorf("%w: pearson needs at least 2 rows, have %d", ErrInsufficientData, n)
	}

	cols := make([][]float64, c)
	constant := make([]bool, c)
	for j := range cols {
		cols[j] = mat.Col(nil, j, x)
		constant[j] = floats.Min(cols[j]) == floats.Max(cols[j])
	}

	pairs := make([]Pair, 0, c*(c-1)/2)
	for i := 0; i < c; i++ {
		for j := i + 1; j < c; j++ {
			v := math.NaN()
			if !constant[i] && !constant[j] {
				v = stat.Correlation(cols[i], cols[j], nil)
			}
			pairs = append(pairs, Pair{I: i, J: j, Value: v})
		}
	}
	return pairs, nil
}
