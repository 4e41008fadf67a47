package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
)

// InsertTreeNode inserts a hierarchical clustering node and returns its id.
func (w *rowWriter) InsertTreeNode(ctx context.Context, n *TreeNode) (int64, error) {
	id, err := w.insertReturningID(ctx, "inserting tree node",
		`INSERT INTO grafana_ml_model_hierarchical_clustering (dataset_id, parent_id, point_id, name, height)
		 VALUES (?, ?, ?, ?, ?)`,
		n.DatasetID, nullInt64(n.ParentID), nullInt64(n.PointID), n.Name, n.Height,
	)
	if err != nil {
		return 0, err
	}
	n.ID = id
	return id, nil
}

// SetTreeNodeParent back-patches the parent pointer of an existing node.
// Patching a node that does not exist is a PreconditionViolationError.
func (w *rowWriter) SetTreeNodeParent(ctx context.Context, nodeID, parentID int64) error {
	res, err := w.exec(ctx, fmt.Sprintf("setting parent of tree node %d", nodeID),
		`UPDATE grafana_ml_model_hierarchical_clustering SET parent_id = ? WHERE id = ?`,
		parentID, nodeID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Preconditionf("tree node %d does not exist", nodeID)
	}
	return nil
}

// InsertCluster inserts a partition cluster and returns its id.
func (w *rowWriter) InsertCluster(ctx context.Context, c *Cluster) (int64, error) {
	id, err := w.insertReturningID(ctx, fmt.Sprintf("inserting cluster %d", c.Number),
		`INSERT INTO grafana_ml_model_cluster (dataset_id, number, inertia, silhouette_coefficient, davies_bouldin_index)
		 VALUES (?, ?, ?, ?, ?)`,
		c.DatasetID, c.Number, nullFloat(c.Inertia), nullFloat(c.Silhouette), nullFloat(c.DaviesBouldin),
	)
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

// InsertCentroid inserts one centroid coordinate.
func (w *rowWriter) InsertCentroid(ctx context.Context, c *Centroid) error {
	_, err := w.exec(ctx, "inserting centroid",
		`INSERT INTO grafana_ml_model_centroid (dataset_id, cluster_id, feature_id, value) VALUES (?, ?, ?, ?)`,
		c.DatasetID, c.ClusterID, c.FeatureID, c.Value,
	)
	return err
}

// InsertPointCluster inserts one membership row.
func (w *rowWriter) InsertPointCluster(ctx context.Context, pc *PointCluster) error {
	var medoid sql.NullBool
	if pc.IsMedoid != nil {
		medoid = sql.NullBool{Bool: *pc.IsMedoid, Valid: true}
	}
	_, err := w.exec(ctx, fmt.Sprintf("assigning point %d to cluster %d", pc.PointID, pc.ClusterID),
		`INSERT INTO grafana_ml_model_point_cluster (dataset_id, point_id, cluster_id, is_medoid) VALUES (?, ?, ?, ?)`,
		pc.DatasetID, pc.PointID, pc.ClusterID, medoid,
	)
	return err
}

// InsertClusteringMetrics inserts the whole-partition metrics row.
func (w *rowWriter) InsertClusteringMetrics(ctx context.Context, m *ClusteringMetrics) error {
	_, err := w.exec(ctx, "inserting clustering metrics",
		`INSERT INTO grafana_ml_model_metrics_clustering (dataset_id, type, inertia, silhouette_coefficient, davies_bouldin_index)
		 VALUES (?, ?, ?, ?, ?)`,
		m.DatasetID, m.Type, nullFloat(m.Inertia), nullFloat(m.Silhouette), nullFloat(m.DaviesBouldin),
	)
	return err
}

// InsertRegressionResult inserts one coefficient row.
func (w *rowWriter) InsertRegressionResult(ctx context.Context, r *RegressionResult) error {
	_, err := w.exec(ctx, "inserting regression result",
		`INSERT INTO grafana_ml_model_regression (dataset_id, feature_id, coeff, std_err, statistic_value, p_value, type)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.DatasetID, nullInt64(r.FeatureID), nullFloat(r.Coeff), nullFloat(r.StdErr), nullFloat(r.Statistic), nullFloat(r.PValue), r.Type,
	)
	return err
}

// InsertCorrelationResult inserts one feature-pair correlation.
func (w *rowWriter) InsertCorrelationResult(ctx context.Context, c *CorrelationResult) error {
	var value sql.NullFloat64
	if c.Value != nil {
		value = sql.NullFloat64{Float64: *c.Value, Valid: true}
	}
	_, err := w.exec(ctx, "inserting correlation result",
		`INSERT INTO grafana_ml_model_correlation (dataset_id, feature_id_1, feature_id_2, value, type)
		 VALUES (?, ?, ?, ?, ?)`,
		c.DatasetID, c.FeatureID1, c.FeatureID2, value, c.Type,
	)
	return err
}

// ListTreeNodes returns the dataset's tree nodes ordered by id.
func (s *SQLStore) ListTreeNodes(ctx context.Context, datasetID int64) ([]*TreeNode, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT id, dataset_id, parent_id, point_id, name, height
		 FROM grafana_ml_model_hierarchical_clustering
		 WHERE dataset_id = ?
		 ORDER BY id`), datasetID)
	if err != nil {
		return nil, unavailable("listing tree nodes", err)
	}
	defer rows.Close()

	var out []*TreeNode
	for rows.Next() {
		n := &TreeNode{}
		var parent, point sql.NullInt64
		if err := rows.Scan(&n.ID, &n.DatasetID, &parent, &point, &n.Name, &n.Height); err != nil {
			return nil, fmt.Errorf("scanning tree node: %w", err)
		}
		n.ParentID = int64Ptr(parent)
		n.PointID = int64Ptr(point)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating tree nodes", err)
	}
	return out, nil
}

// ListClusters returns the dataset's partition clusters ordered by id.
func (s *SQLStore) ListClusters(ctx context.Context, datasetID int64) ([]*Cluster, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT id, dataset_id, number, inertia, silhouette_coefficient, davies_bouldin_index
		 FROM grafana_ml_model_cluster
		 WHERE dataset_id = ?
		 ORDER BY id`), datasetID)
	if err != nil {
		return nil, unavailable("listing clusters", err)
	}
	defer rows.Close()

	var out []*Cluster
	for rows.Next() {
		c := &Cluster{}
		var inertia, silhouette, db sql.NullFloat64
		if err := rows.Scan(&c.ID, &c.DatasetID, &c.Number, &inertia, &silhouette, &db); err != nil {
			return nil, fmt.Errorf("scanning cluster: %w", err)
		}
		c.Inertia, c.Silhouette, c.DaviesBouldin = floatOrNaN(inertia), floatOrNaN(silhouette), floatOrNaN(db)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating clusters", err)
	}
	return out, nil
}

// ListCentroids returns centroid coordinates ordered by cluster, then feature.
func (s *SQLStore) ListCentroids(ctx context.Context, datasetID int64) ([]*Centroid, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT dataset_id, cluster_id, feature_id, value
		 FROM grafana_ml_model_centroid
		 WHERE dataset_id = ?
		 ORDER BY cluster_id, feature_id`), datasetID)
	if err != nil {
		return nil, unavailable("listing centroids", err)
	}
	defer rows.Close()

	var out []*Centroid
	for rows.Next() {
		c := &Centroid{}
		if err := rows.Scan(&c.DatasetID, &c.ClusterID, &c.FeatureID, &c.Value); err != nil {
			return nil, fmt.Errorf("scanning centroid: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating centroids", err)
	}
	return out, nil
}

// ListPointClusters returns membership rows ordered by point.
func (s *SQLStore) ListPointClusters(ctx context.Context, datasetID int64) ([]*PointCluster, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT dataset_id, point_id, cluster_id, is_medoid
		 FROM grafana_ml_model_point_cluster
		 WHERE dataset_id = ?
		 ORDER BY point_id, cluster_id`), datasetID)
	if err != nil {
		return nil, unavailable("listing point clusters", err)
	}
	defer rows.Close()

	var out []*PointCluster
	for rows.Next() {
		pc := &PointCluster{}
		var medoid sql.NullBool
		if err := rows.Scan(&pc.DatasetID, &pc.PointID, &pc.ClusterID, &medoid); err != nil {
			return nil, fmt.Errorf("scanning point cluster: %w", err)
		}
		if medoid.Valid {
			b := medoid.Bool
			pc.IsMedoid = &b
		}
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating point clusters", err)
	}
	return out, nil
}

// ListClusteringMetrics returns the whole-partition metric rows in storage order.
func (s *SQLStore) ListClusteringMetrics(ctx context.Context, datasetID int64) ([]*ClusteringMetrics, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT dataset_id, type, inertia, silhouette_coefficient, davies_bouldin_index
		 FROM grafana_ml_model_metrics_clustering
		 WHERE dataset_id = ?`), datasetID)
	if err != nil {
		return nil, unavailable("listing clustering metrics", err)
	}
	defer rows.Close()

	var out []*ClusteringMetrics
	for rows.Next() {
		m := &ClusteringMetrics{}
		var inertia, silhouette, db sql.NullFloat64
		if err := rows.Scan(&m.DatasetID, &m.Type, &inertia, &silhouette, &db); err != nil {
			return nil, fmt.Errorf("scanning clustering metrics: %w", err)
		}
		m.Inertia, m.Silhouette, m.DaviesBouldin = floatOrNaN(inertia), floatOrNaN(silhouette), floatOrNaN(db)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating clustering metrics", err)
	}
	return out, nil
}

// ListRegressionResults returns coefficient rows, intercept first.
func (s *SQLStore) ListRegressionResults(ctx context.Context, datasetID int64) ([]*RegressionResult, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT dataset_id, feature_id, coeff, std_err, statistic_value, p_value, type
		 FROM grafana_ml_model_regression
		 WHERE dataset_id = ?
		 ORDER BY type, feature_id IS NOT NULL, feature_id`), datasetID)
	if err != nil {
		return nil, unavailable("listing regression results", err)
	}
	defer rows.Close()

	var out []*RegressionResult
	for rows.Next() {
		r := &RegressionResult{}
		var feature sql.NullInt64
		var coeff, stdErr, stat, pValue sql.NullFloat64
		if err := rows.Scan(&r.DatasetID, &feature, &coeff, &stdErr, &stat, &pValue, &r.Type); err != nil {
			return nil, fmt.Errorf("scanning regression result: %w", err)
		}
		r.FeatureID = int64Ptr(feature)
		r.Coeff, r.StdErr = floatOrNaN(coeff), floatOrNaN(stdErr)
		r.Statistic, r.PValue = floatOrNaN(stat), floatOrNaN(pValue)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating regression results", err)
	}
	return out, nil
}

// ListCorrelationResults returns correlation rows ordered by feature pair.
func (s *SQLStore) ListCorrelationResults(ctx context.Context, datasetID int64) ([]*CorrelationResult, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT dataset_id, feature_id_1, feature_id_2, value, type
		 FROM grafana_ml_model_correlation
		 WHERE dataset_id = ?
		 ORDER BY feature_id_1, feature_id_2`), datasetID)
	if err != nil {
		return nil, unavailable("listing correlation results", err)
	}
	defer rows.Close()

	var out []*CorrelationResult
	for rows.Next() {
		c := &CorrelationResult{}
		var value sql.NullFloat64
		if err := rows.Scan(&c.DatasetID, &c.FeatureID1, &c.FeatureID2, &value, &c.Type); err != nil {
			return nil, fmt.Errorf("scanning correlation result: %w", err)
		}
		if value.Valid {
			v := value.Float64
			c.Value = &v
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating correlation results", err)
	}
	return out, nil
}

// nullFloat stores undefined metrics (NaN) as NULL on every driver.
func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}
