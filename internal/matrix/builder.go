package matrix

import (
	"context"
	"fmt"

	"github.com/hurttlocker/mlstore/internal/store"
	"gonum.org/v1/gonum/mat"
)

// Source selects where row and column ids are enumerated from.
type Source int

const (
	// FromMetadata uses every Point and Feature row of the dataset, so
	// points or features without any value still get a (zero) row/column.
	FromMetadata Source = iota
	// FromValues uses only the ids present among the dataset's value rows.
	FromValues
)

func (s Source) String() string {
	switch s {
	case FromMetadata:
		return "metadata"
	case FromValues:
		return "values"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// TripleSource is the slice of the store the builder reads from.
type TripleSource interface {
	GetDataset(ctx context.Context, id int64) (*store.Dataset, error)
	ListPoints(ctx context.Context, datasetID int64) ([]*store.Point, error)
	ListFeatures(ctx context.Context, datasetID int64) ([]*store.Feature, error)
	ListValues(ctx context.Context, datasetID int64) ([]*store.Value, error)
}

// Build loads a dataset's triples from src and materializes them. An
// unknown dataset is a PreconditionViolationError, not an empty matrix.
func Build(ctx context.Context, src TripleSource, datasetID int64, source Source) (*Matrix, error) {
	if _, err := src.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}
	points, err := src.ListPoints(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("loading points for dataset %d: %w", datasetID, err)
	}
	features, err := src.ListFeatures(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("loading features for dataset %d: %w", datasetID, err)
	}
	values, err := src.ListValues(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("loading values for dataset %d: %w", datasetID, err)
	}
	return FromTriples(datasetID, points, features, values, source)
}

// FromTriples materializes already-loaded rows.
//
// Values are applied in slice order; when two values share a
// (point, feature) pair the later one wins. With FromMetadata, a value that
// references a point or feature not among the metadata rows is a
// PreconditionViolationError. With FromValues, metadata only supplies names.
//
// Zero points or zero features yield a Matrix with a nil Dense; the builder
// does not validate non-emptiness.
func FromTriples(datasetID int64, points []*store.Point, features []*store.Feature, values []*store.Value, source Source) (*Matrix, error) {
	pointNames := make(map[int64]string, len(points))
	for _, p := range points {
		pointNames[p.ID] = p.Name
	}
	featureNames := make(map[int64]string, len(features))
	for _, f := range features {
		featureNames[f.ID] = f.Name
	}

	var pointIDs, featureIDs []int64
	switch source {
	case FromMetadata:
		pointIDs = make([]int64, 0, len(points))
		for _, p := range points {
			pointIDs = append(pointIDs, p.ID)
		}
		featureIDs = make([]int64, 0, len(features))
		for _, f := range features {
			featureIDs = append(featureIDs, f.ID)
		}
	case FromValues:
		pointIDs = make([]int64, 0, len(values))
		featureIDs = make([]int64, 0, len(values))
		for _, v := range values {
			pointIDs = append(pointIDs, v.PointID)
			featureIDs = append(featureIDs, v.FeatureID)
		}
	default:
		return nil, store.Preconditionf("unknown matrix source %v", source)
	}

	rowIndex := newIndexMap(pointIDs)
	colIndex := newIndexMap(featureIDs)

	m := &Matrix{
		DatasetID:   datasetID,
		Rows:        make([]Row, rowIndex.Len()),
		Columns:     make([]Column, colIndex.Len()),
		RowIndex:    rowIndex,
		ColumnIndex: colIndex,
	}
	for i := range m.Rows {
		id := rowIndex.ID(i)
		m.Rows[i] = Row{PointID: id, Name: pointNames[id], Index: i}
	}
	for j := range m.Columns {
		id := colIndex.ID(j)
		m.Columns[j] = Column{FeatureID: id, Name: featureNames[id], Index: j}
	}

	if rowIndex.Len() == 0 || colIndex.Len() == 0 {
		return m, nil
	}

	// mat.NewDense zero-fills; cells without a value row stay 0.0.
	m.Dense = mat.NewDense(rowIndex.Len(), colIndex.Len(), nil)
	for _, v := range values {
		i, ok := rowIndex.Position(v.PointID)
		if !ok {
			return nil, store.Preconditionf("value references point %d not in dataset %d", v.PointID, datasetID)
		}
		j, ok := colIndex.Position(v.FeatureID)
		if !ok {
			return nil, store.Preconditionf("value references feature %d not in dataset %d", v.FeatureID, datasetID)
		}
		m.Dense.Set(i, j, v.Value)
	}

	return m, nil
}
