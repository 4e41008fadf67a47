package seed

import (
	"context"
	"fmt"

	"github.com/hurttlocker/mlstore/internal/store"
)

// Meta describes the dataset index row.
type Meta struct {
	Name        string
	Description string
	Creator     string
}

// Result summarizes a seeding run.
type Result struct {
	DatasetID int64 `json:"dataset_id"`
	Features  int   `json:"features"`
	Points    int   `json:"points"`
	Values    int   `json:"values"`
}

// Write stores the table as a new dataset in one transaction.
func Write(ctx context.Context, s store.Store, t *Table, meta Meta) (*Result, error) {
	for i, row := range t.Rows {
		if len(row) != len(t.Features) {
			return nil, store.Preconditionf("row %d has %d values for %d features", i, len(row), len(t.Features))
		}
	}

	res := &Result{}
	err := s.WithTx(ctx, func(w store.Writer) error {
		ds, err := w.CreateDataset(ctx, &store.Dataset{Name: meta.Name, Description: meta.Description, Creator: meta.Creator})
		if err != nil {
			return err
		}
		res.DatasetID = ds

		fids := make([]int64, len(t.Features))
		for j, name := range t.Features {
			if fids[j], err = w.AddFeature(ctx, &store.Feature{DatasetID: ds, Name: name}); err != nil {
				return fmt.Errorf("feature %q: %w", name, err)
			}
			res.Features++
		}

		for i, row := range t.Rows {
			pid, err := w.AddPoint(ctx, &store.Point{DatasetID: ds, Name: fmt.Sprintf("point_%d", i)})
			if err != nil {
				return fmt.Errorf("point %d: %w", i, err)
			}
			res.Points++
			for j, v := range row {
				if err := w.AddValue(ctx, &store.Value{DatasetID: ds, PointID: pid, FeatureID: fids[j], Value: v}); err != nil {
					return fmt.Errorf("value (%d, %s): %w", i, t.Features[j], err)
				}
				res.Values++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
