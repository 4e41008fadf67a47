// Package store provides the relational storage layer for mlstore.
//
// A single database holds two generations of data:
// - The sparse triple store: datasets, features, points and point values
// - Derived artifacts written once per analysis run: hierarchical tree
//   nodes, clusters, centroids, memberships, regression and correlation rows
//
// SQLite (modernc.org/sqlite) is the default driver; PostgreSQL (lib/pq) is
// supported for deployments where the dashboard reads a shared server.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.mlstore/mlstore.db"

// Dataset is one named collection of points, features and values.
type Dataset struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Creator     string `json:"creator"`
}

// Feature is one column of a dataset.
type Feature struct {
	ID        int64  `json:"id"`
	DatasetID int64  `json:"dataset_id"`
	Name      string `json:"name"`
}

// Point is one sample (row) of a dataset.
type Point struct {
	ID        int64  `json:"id"`
	DatasetID int64  `json:"dataset_id"`
	Name      string `json:"name"`
}

// Value is a sparse (point, feature, value) triple.
type Value struct {
	DatasetID int64   `json:"dataset_id"`
	PointID   int64   `json:"point_id"`
	FeatureID int64   `json:"feature_id"`
	Value     float64 `json:"value"`
}

// TreeNode is one row of a persisted hierarchical clustering tree.
// Leaves carry a PointID and zero height; internal nodes carry no PointID.
type TreeNode struct {
	ID        int64   `json:"id"`
	DatasetID int64   `json:"dataset_id"`
	ParentID  *int64  `json:"parent_id"`
	PointID   *int64  `json:"point_id"`
	Name      string  `json:"name"`
	Height    float64 `json:"height"`
}

// IsLeaf reports whether the node represents an original point.
func (n *TreeNode) IsLeaf() bool { return n.PointID != nil }

// Cluster is one partition cluster with its per-cluster metrics.
type Cluster struct {
	ID            int64   `json:"id"`
	DatasetID     int64   `json:"dataset_id"`
	Number        int     `json:"number"`
	Inertia       float64 `json:"inertia"`
	Silhouette    float64 `json:"silhouette_coefficient"`
	DaviesBouldin float64 `json:"davies_bouldin_index"`
}

// Centroid is one coordinate of a cluster center.
type Centroid struct {
	DatasetID int64   `json:"dataset_id"`
	ClusterID int64   `json:"cluster_id"`
	FeatureID int64   `json:"feature_id"`
	Value     float64 `json:"value"`
}

// PointCluster maps a point to its cluster. IsMedoid is nil for
// algorithms that have no medoid concept.
type PointCluster struct {
	DatasetID int64 `json:"dataset_id"`
	PointID   int64 `json:"point_id"`
	ClusterID int64 `json:"cluster_id"`
	IsMedoid  *bool `json:"is_medoid,omitempty"`
}

// ClusteringMetrics holds whole-partition quality metrics for one run.
type ClusteringMetrics struct {
	DatasetID     int64   `json:"dataset_id"`
	Type          string  `json:"type"`
	Inertia       float64 `json:"inertia"`
	Silhouette    float64 `json:"silhouette_coefficient"`
	DaviesBouldin float64 `json:"davies_bouldin_index"`
}

// RegressionResult is one fitted coefficient. FeatureID is nil for the intercept.
type RegressionResult struct {
	DatasetID int64   `json:"dataset_id"`
	FeatureID *int64  `json:"feature_id"`
	Coeff     float64 `json:"coeff"`
	StdErr    float64 `json:"std_err"`
	Statistic float64 `json:"statistic_value"`
	PValue    float64 `json:"p_value"`
	Type      string  `json:"type"`
}

// CorrelationResult is one feature-pair correlation. Value is nil when the
// coefficient is undefined (a constant column).
type CorrelationResult struct {
	DatasetID  int64    `json:"dataset_id"`
	FeatureID1 int64    `json:"feature_id_1"`
	FeatureID2 int64    `json:"feature_id_2"`
	Value      *float64 `json:"value"`
	Type       string   `json:"type"`
}

// StoreStats holds row counts per table.
type StoreStats struct {
	Datasets          int64 `json:"datasets"`
	Features          int64 `json:"features"`
	Points            int64 `json:"points"`
	Values            int64 `json:"values"`
	TreeNodes         int64 `json:"tree_nodes"`
	Clusters          int64 `json:"clusters"`
	RegressionResults int64 `json:"regression_results"`
	Correlations      int64 `json:"correlations"`
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// DBPath is a file path or ":memory:" for sqlite, a connection string for postgres.
	DBPath string
}

// Writer is the write surface shared by the store and its transactions.
type Writer interface {
	// Sparse triple store
	CreateDataset(ctx context.Context, d *Dataset) (int64, error)
	AddFeature(ctx context.Context, f *Feature) (int64, error)
	AddPoint(ctx context.Context, p *Point) (int64, error)
	AddValue(ctx context.Context, v *Value) error

	// Hierarchical tree
	InsertTreeNode(ctx context.Context, n *TreeNode) (int64, error)
	SetTreeNodeParent(ctx context.Context, nodeID, parentID int64) error

	// Flat artifacts
	InsertCluster(ctx context.Context, c *Cluster) (int64, error)
	InsertCentroid(ctx context.Context, c *Centroid) error
	InsertPointCluster(ctx context.Context, pc *PointCluster) error
	InsertClusteringMetrics(ctx context.Context, m *ClusteringMetrics) error
	InsertRegressionResult(ctx context.Context, r *RegressionResult) error
	InsertCorrelationResult(ctx context.Context, c *CorrelationResult) error
}

// Reader is the read surface used by the matrix builder and dashboards.
type Reader interface {
	GetDataset(ctx context.Context, id int64) (*Dataset, error)
	ListDatasets(ctx context.Context) ([]*Dataset, error)
	ListFeatures(ctx context.Context, datasetID int64) ([]*Feature, error)
	ListPoints(ctx context.Context, datasetID int64) ([]*Point, error)
	ListValues(ctx context.Context, datasetID int64) ([]*Value, error)

	ListTreeNodes(ctx context.Context, datasetID int64) ([]*TreeNode, error)
	ListClusters(ctx context.Context, datasetID int64) ([]*Cluster, error)
	ListCentroids(ctx context.Context, datasetID int64) ([]*Centroid, error)
	ListPointClusters(ctx context.Context, datasetID int64) ([]*PointCluster, error)
	ListClusteringMetrics(ctx context.Context, datasetID int64) ([]*ClusteringMetrics, error)
	ListRegressionResults(ctx context.Context, datasetID int64) ([]*RegressionResult, error)
	ListCorrelationResults(ctx context.Context, datasetID int64) ([]*CorrelationResult, error)

	Stats(ctx context.Context) (*StoreStats, error)
}

// Store defines the core storage interface.
type Store interface {
	Reader
	Writer

	// WithTx runs fn inside one transaction. Rows written through the
	// supplied Writer become visible together when fn returns nil.
	WithTx(ctx context.Context, fn func(w Writer) error) error

	Close() error
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	rowWriter
	db     *sql.DB
	dbPath string
}

// NewStore opens the database, verifies the connection and runs migrations.
// Pass ":memory:" for in-memory sqlite databases (testing). A failed open or
// ping is reported as a StoreUnavailableError; a nil Store is never returned
// with a nil error.
func NewStore(cfg StoreConfig) (Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.DBPath == "" {
		if d.name != dialectSQLite {
			return nil, Preconditionf("postgres driver requires a connection string")
		}
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	// Create parent directory for file-backed sqlite databases
	if d.name == dialectSQLite && cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, unavailable("creating db directory", err)
		}
	}

	db, err := sql.Open(d.driver, cfg.DBPath)
	if err != nil {
		return nil, unavailable("opening database", err)
	}

	if d.name == dialectSQLite {
		// One connection keeps ":memory:" databases shared across calls and
		// matches the single-writer model.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, unavailable("pinging database", err)
	}

	for _, p := range d.pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, unavailable(fmt.Sprintf("setting pragma %q", p), err)
		}
	}

	s := &SQLStore{
		rowWriter: rowWriter{q: db, d: d},
		db:        db,
		dbPath:    cfg.DBPath,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// WithTx runs fn in a transaction and commits when it returns nil.
func (s *SQLStore) WithTx(ctx context.Context, fn func(w Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("beginning transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&rowWriter{q: tx, d: s.d}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable("committing transaction", err)
	}
	return nil
}

// GetDB exposes the underlying handle for read-only dashboard queries.
func (s *SQLStore) GetDB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
