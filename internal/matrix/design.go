package matrix

import (
	"github.com/hurttlocker/mlstore/internal/store"
	"gonum.org/v1/gonum/mat"
)

// Design is a regression design split out of a Matrix: one response column
// and the remaining predictor columns, each still paired with its feature.
type Design struct {
	X          *mat.Dense
	Y          []float64
	Predictors []Column
	Target     Column
}

// SplitTarget separates the column at position target from the others.
// A negative target selects the last column. Predictors keep their original
// relative order and carry their new position in X as Index.
func (m *Matrix) SplitTarget(target int) (*Design, error) {
	rows, cols := m.Dims()
	if m.Empty() {
		return nil, store.Preconditionf("dataset %d has an empty matrix (%d×%d)", m.DatasetID, rows, cols)
	}
	if cols < 2 {
		return nil, store.Preconditionf("dataset %d needs a target and at least one predictor, has %d column(s)", m.DatasetID, cols)
	}
	if target < 0 {
		target = cols - 1
	}
	if target >= cols {
		return nil, store.Preconditionf("target column %d out of range for %d columns", target, cols)
	}

	d := &Design{
		X:          mat.NewDense(rows, cols-1, nil),
		Y:          mat.Col(nil, target, m.Dense),
		Predictors: make([]Column, 0, cols-1),
		Target:     m.Columns[target],
	}
	for j, c := range m.Columns {
		if j == target {
			continue
		}
		k := len(d.Predictors)
		for i := 0; i < rows; i++ {
			d.X.Set(i, k, m.Dense.At(i, j))
		}
		d.Predictors = append(d.Predictors, Column{FeatureID: c.FeatureID, Name: c.Name, Index: k})
	}
	return d, nil
}
