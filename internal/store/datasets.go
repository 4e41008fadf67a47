package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// rowWriter implements Writer over a *sql.DB or *sql.Tx.
type rowWriter struct {
	q queryer
	d dialect
}

// insertReturningID runs an INSERT ... RETURNING id, which both sqlite and
// postgres support; lib/pq has no LastInsertId.
func (w *rowWriter) insertReturningID(ctx context.Context, op, query string, args ...any) (int64, error) {
	var id int64
	if err := w.q.QueryRowContext(ctx, w.d.rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
		return 0, unavailable(op, err)
	}
	return id, nil
}

func (w *rowWriter) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	res, err := w.q.ExecContext(ctx, w.d.rebind(query), args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	return res, nil
}

// CreateDataset inserts a dataset index row.
func (w *rowWriter) CreateDataset(ctx context.Context, d *Dataset) (int64, error) {
	if strings.TrimSpace(d.Name) == "" {
		return 0, Preconditionf("dataset name is required")
	}
	id, err := w.insertReturningID(ctx, "inserting dataset",
		`INSERT INTO grafana_ml_model_index (name, description, creator) VALUES (?, ?, ?)`,
		d.Name, d.Description, d.Creator,
	)
	if err != nil {
		return 0, err
	}
	d.ID = id
	return id, nil
}

// AddFeature inserts a feature row and returns its store-generated id.
func (w *rowWriter) AddFeature(ctx context.Context, f *Feature) (int64, error) {
	id, err := w.insertReturningID(ctx, "inserting feature",
		`INSERT INTO grafana_ml_model_feature (dataset_id, name) VALUES (?, ?)`,
		f.DatasetID, f.Name,
	)
	if err != nil {
		return 0, err
	}
	f.ID = id
	return id, nil
}

// AddPoint inserts a point row and returns its store-generated id.
func (w *rowWriter) AddPoint(ctx context.Context, p *Point) (int64, error) {
	id, err := w.insertReturningID(ctx, "inserting point",
		`INSERT INTO grafana_ml_model_point (dataset_id, name) VALUES (?, ?)`,
		p.DatasetID, p.Name,
	)
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

// AddValue inserts one sparse triple.
func (w *rowWriter) AddValue(ctx context.Context, v *Value) error {
	_, err := w.exec(ctx, "inserting point value",
		`INSERT INTO grafana_ml_model_point_value (dataset_id, point_id, feature_id, value) VALUES (?, ?, ?, ?)`,
		v.DatasetID, v.PointID, v.FeatureID, v.Value,
	)
	return err
}

// GetDataset retrieves a dataset by id. A missing dataset is a
// PreconditionViolationError.
func (s *SQLStore) GetDataset(ctx context.Context, id int64) (*Dataset, error) {
	d := &Dataset{}
	err := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT id, name, description, creator FROM grafana_ml_model_index WHERE id = ?`), id,
	).Scan(&d.ID, &d.Name, &d.Description, &d.Creator)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Preconditionf("dataset %d not found", id)
	}
	if err != nil {
		return nil, unavailable(fmt.Sprintf("getting dataset %d", id), err)
	}
	return d, nil
}

// ListDatasets returns every dataset ordered by id.
func (s *SQLStore) ListDatasets(ctx context.Context) ([]*Dataset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, creator FROM grafana_ml_model_index ORDER BY id`)
	if err != nil {
		return nil, unavailable("listing datasets", err)
	}
	defer rows.Close()

	var out []*Dataset
	for rows.Next() {
		d := &Dataset{}
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.Creator); err != nil {
			return nil, fmt.Errorf("scanning dataset: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating datasets", err)
	}
	return out, nil
}

// ListFeatures returns the dataset's features ordered by id.
func (s *SQLStore) ListFeatures(ctx context.Context, datasetID int64) ([]*Feature, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT id, dataset_id, name FROM grafana_ml_model_feature WHERE dataset_id = ? ORDER BY id`), datasetID)
	if err != nil {
		return nil, unavailable("listing features", err)
	}
	defer rows.Close()

	var out []*Feature
	for rows.Next() {
		f := &Feature{}
		if err := rows.Scan(&f.ID, &f.DatasetID, &f.Name); err != nil {
			return nil, fmt.Errorf("scanning feature: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating features", err)
	}
	return out, nil
}

// ListPoints returns the dataset's points ordered by id.
func (s *SQLStore) ListPoints(ctx context.Context, datasetID int64) ([]*Point, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT id, dataset_id, name FROM grafana_ml_model_point WHERE dataset_id = ? ORDER BY id`), datasetID)
	if err != nil {
		return nil, unavailable("listing points", err)
	}
	defer rows.Close()

	var out []*Point
	for rows.Next() {
		p := &Point{}
		if err := rows.Scan(&p.ID, &p.DatasetID, &p.Name); err != nil {
			return nil, fmt.Errorf("scanning point: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating points", err)
	}
	return out, nil
}

// ListValues returns the dataset's triples in insertion order.
func (s *SQLStore) ListValues(ctx context.Context, datasetID int64) ([]*Value, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT dataset_id, point_id, feature_id, value
		 FROM grafana_ml_model_point_value
		 WHERE dataset_id = ?
		 ORDER BY id`), datasetID)
	if err != nil {
		return nil, unavailable("listing point values", err)
	}
	defer rows.Close()

	out := make([]*Value, 0, 256)
	for rows.Next() {
		v := &Value{}
		if err := rows.Scan(&v.DatasetID, &v.PointID, &v.FeatureID, &v.Value); err != nil {
			return nil, fmt.Errorf("scanning point value: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating point values", err)
	}
	return out, nil
}

// Stats returns row counts for every table.
func (s *SQLStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}
	counts := []struct {
		table string
		dst   *int64
	}{
		{"grafana_ml_model_index", &stats.Datasets},
		{"grafana_ml_model_feature", &stats.Features},
		{"grafana_ml_model_point", &stats.Points},
		{"grafana_ml_model_point_value", &stats.Values},
		{"grafana_ml_model_hierarchical_clustering", &stats.TreeNodes},
		{"grafana_ml_model_cluster", &stats.Clusters},
		{"grafana_ml_model_regression", &stats.RegressionResults},
		{"grafana_ml_model_correlation", &stats.Correlations},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return nil, unavailable("counting "+c.table, err)
		}
	}
	return stats, nil
}
