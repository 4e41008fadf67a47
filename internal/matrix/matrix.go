// Package matrix materializes a dataset's sparse (point, feature, value)
// triples into a dense gonum matrix with stable, reproducible index maps.
//
// Row and column positions are assigned by sorting store ids ascending, so
// repeated materializations of the same dataset produce identical matrices
// regardless of the order the value rows were inserted in.
//
// Missing (point, feature) pairs are left at 0.0. This is the documented
// zero-fill policy: a recorded zero and an absent row are indistinguishable
// once materialized.
package matrix

import (
	"slices"

	"gonum.org/v1/gonum/mat"
)

// Row ties a matrix row position to the point it came from.
type Row struct {
	PointID int64  `json:"point_id"`
	Name    string `json:"name"`
	Index   int    `json:"index"`
}

// Column ties a matrix column position to the feature it came from.
// Carrying the pair as one value keeps feature ids and column positions
// from drifting apart between materialization and persistence.
type Column struct {
	FeatureID int64  `json:"feature_id"`
	Name      string `json:"name"`
	Index     int    `json:"index"`
}

// IndexMap is a bijection between store ids and array positions.
type IndexMap struct {
	ids []int64
	pos map[int64]int
}

// newIndexMap sorts and deduplicates ids and assigns positions 0..n-1.
func newIndexMap(ids []int64) *IndexMap {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	slices.Sort(sorted)

	m := &IndexMap{pos: make(map[int64]int, len(sorted))}
	for _, id := range sorted {
		if _, dup := m.pos[id]; dup {
			continue
		}
		m.pos[id] = len(m.ids)
		m.ids = append(m.ids, id)
	}
	return m
}

// Len returns the number of mapped ids.
func (m *IndexMap) Len() int { return len(m.ids) }

// Position returns the array position of a store id.
func (m *IndexMap) Position(id int64) (int, bool) {
	p, ok := m.pos[id]
	return p, ok
}

// ID returns the store id at an array position.
func (m *IndexMap) ID(pos int) int64 { return m.ids[pos] }

// IDs returns a copy of the ids in position order.
func (m *IndexMap) IDs() []int64 {
	out := make([]int64, len(m.ids))
	copy(out, m.ids)
	return out
}

// Matrix is a materialized dataset.
type Matrix struct {
	DatasetID int64

	// Dense is |points| × |features|. It is nil when either dimension is
	// zero; gonum has no empty dense matrix.
	Dense *mat.Dense

	Rows    []Row
	Columns []Column

	RowIndex    *IndexMap
	ColumnIndex *IndexMap
}

// Dims returns the number of rows and columns.
func (m *Matrix) Dims() (r, c int) {
	return len(m.Rows), len(m.Columns)
}

// Empty reports whether the matrix has no rows or no columns.
func (m *Matrix) Empty() bool {
	return m.Dense == nil
}

// At returns the value at row i, column j.
func (m *Matrix) At(i, j int) float64 {
	return m.Dense.At(i, j)
}

// ColumnByFeature finds the column holding a feature id.
func (m *Matrix) ColumnByFeature(featureID int64) (Column, bool) {
	p, ok := m.ColumnIndex.Position(featureID)
	if !ok {
		return Column{}, false
	}
	return m.Columns[p], true
}

// ColumnByName finds the first column with the given feature name.
func (m *Matrix) ColumnByName(name string) (Column, bool) {
	for _, c := range m.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}
