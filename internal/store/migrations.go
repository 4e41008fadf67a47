package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS mlstore_meta (
		key   TEXT PRIMARY KEY,
		value TEXT
	)`); err != nil {
		return unavailable("creating meta table", err)
	}

	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Read-path indexes for dashboard queries and matrix materialization.
	if err := s.migrateLookupIndexes(); err != nil {
		return fmt.Errorf("migrating lookup indexes: %w", err)
	}

	return nil
}

func (s *SQLStore) runBootstrapDDL() error {
	statements := []string{
		// Sparse triple store
		`CREATE TABLE IF NOT EXISTS grafana_ml_model_index (
			id          {{serial}},
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			creator     TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS grafana_ml_model_feature (
			id         {{serial}},
			dataset_id INTEGER NOT NULL REFERENCES grafana_ml_model_index(id) ON DELETE CASCADE,
			name       TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS grafana_ml_model_point (
			id         {{serial}},
			dataset_id INTEGER NOT NULL REFERENCES grafana_ml_model_index(id) ON DELETE CASCADE,
			name       TEXT NOT NULL
		)`,

		// id orders duplicate (point, feature) rows so the last insert wins
		// deterministically during materialization.
		`CREATE TABLE IF NOT EXISTS grafana_ml_model_point_value (
			id         {{serial}},
			dataset_id INTEGER NOT NULL REFERENCES grafana_ml_model_index(id) ON DELETE CASCADE,
			point_id   INTEGER NOT NULL REFERENCES grafana_ml_model_point(id) ON DELETE CASCADE,
			feature_id INTEGER NOT NULL REFERENCES grafana_ml_model_feature(id) ON DELETE CASCADE,
			value      DOUBLE PRECISION NOT NULL
		)`,

		// Hierarchical clustering tree (self-referential)
		`CREATE TABLE IF NOT EXISTS grafana_ml_model_hierarchical_clustering (
			id         {{serial}},
			dataset_id INTEGER NOT NULL REFERENCES grafana_ml_model_index(id) ON DELETE CASCADE,
			parent_id  INTEGER REFERENCES grafana_ml_model_hierarchical_clustering(id),
			point_id   INTEGER REFERENCES grafana_ml_model_point(id),
			name       TEXT NOT NULL,
			height     DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,

		// Partition clustering
		`CREATE TABLE IF NOT EXISTS grafana_ml_model_cluster (
			id                     {{serial}},
			dataset_id             INTEGER NOT NULL REFERENCES grafana_ml_model_index(id) ON DELETE CASCADE,
			number                 INTEGER NOT NULL,
			inertia                DOUBLE PRECISION,
			silhouette_coefficient DOUBLE PRECISION,
			davies_bouldin_index   DOUBLE PRECISION
		)`,

		`CREATE TABLE IF NOT EXISTS grafana_ml_model_centroid (
			dataset_id INTEGER NOT NULL REFERENCES grafana_ml_model_index(id) ON DELETE CASCADE,
			cluster_id INTEGER NOT NULL REFERENCES grafana_ml_model_cluster(id) ON DELETE CASCADE,
			feature_id INTEGER NOT NULL REFERENCES grafana_ml_model_feature(id),
			value      DOUBLE PRECISION NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS grafana_ml_model_point_cluster (
			dataset_id INTEGER NOT NULL REFERENCES grafana_ml_model_index(id) ON DELETE CASCADE,
			point_id   INTEGER NOT NULL REFERENCES grafana_ml_model_point(id),
			cluster_id INTEGER NOT NULL REFERENCES grafana_ml_model_cluster(id) ON DELETE CASCADE,
			is_medoid  BOOLEAN
		)`,

		`CREATE TABLE IF NOT EXISTS grafana_ml_model_metrics_clustering (
			dataset_id             INTEGER NOT NULL REFERENCES grafana_ml_model_index(id) ON DELETE CASCADE,
			type                   TEXT NOT NULL,
			inertia                DOUBLE PRECISION,
			silhouette_coefficient DOUBLE PRECISION,
			davies_bouldin_index   DOUBLE PRECISION
		)`,

		// Regression and correlation
		`CREATE TABLE IF NOT EXISTS grafana_ml_model_regression (
			dataset_id      INTEGER NOT NULL REFERENCES grafana_ml_model_index(id) ON DELETE CASCADE,
			feature_id      INTEGER REFERENCES grafana_ml_model_feature(id),
			coeff           DOUBLE PRECISION,
			std_err         DOUBLE PRECISION,
			statistic_value DOUBLE PRECISION,
			p_value         DOUBLE PRECISION,
			type            TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS grafana_ml_model_correlation (
			dataset_id   INTEGER NOT NULL REFERENCES grafana_ml_model_index(id) ON DELETE CASCADE,
			feature_id_1 INTEGER NOT NULL REFERENCES grafana_ml_model_feature(id),
			feature_id_2 INTEGER NOT NULL REFERENCES grafana_ml_model_feature(id),
			value        DOUBLE PRECISION,
			type         TEXT NOT NULL
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return unavailable("beginning migration transaction", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(s.d.ddl(stmt)); err != nil {
			return fmt.Errorf("executing migration %q on %s: %w", truncate(stmt, 80), s.d, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("committing migration", err)
	}

	return nil
}

func (s *SQLStore) isMetaFlagEnabled(key string) (bool, error) {
	value, err := s.getMetaValue(key)
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

func (s *SQLStore) setMetaFlag(key string) error {
	_, err := s.db.Exec(s.d.upsertMeta(), key, "true")
	return err
}

func (s *SQLStore) getMetaValue(key string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRow(s.d.rebind("SELECT value FROM mlstore_meta WHERE key = ?"), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}

// seedMeta initializes the meta table with defaults if not already set.
func (s *SQLStore) seedMeta() error {
	defaults := []struct{ key, value string }{
		{"schema_version", "1"},
		{"driver", s.d.name},
		{"created_at", time.Now().UTC().Format(time.RFC3339)},
	}

	for _, kv := range defaults {
		existing, err := s.getMetaValue(kv.key)
		if err != nil {
			return fmt.Errorf("reading meta key %q: %w", kv.key, err)
		}
		if existing != "" {
			continue
		}
		if _, err := s.db.Exec(s.d.upsertMeta(), kv.key, kv.value); err != nil {
			return fmt.Errorf("seeding meta key %q: %w", kv.key, err)
		}
	}
	return nil
}

// migrateLookupIndexes adds the per-dataset indexes every read path filters on.
func (s *SQLStore) migrateLookupIndexes() error {
	done, err := s.isMetaFlagEnabled("lookup_indexes_v1")
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_feature_dataset ON grafana_ml_model_feature(dataset_id)`,
		`CREATE INDEX IF NOT EXISTS idx_point_dataset ON grafana_ml_model_point(dataset_id)`,
		`CREATE INDEX IF NOT EXISTS idx_point_value_dataset ON grafana_ml_model_point_value(dataset_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_point_value_cell ON grafana_ml_model_point_value(point_id, feature_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tree_dataset ON grafana_ml_model_hierarchical_clustering(dataset_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tree_parent ON grafana_ml_model_hierarchical_clustering(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cluster_dataset ON grafana_ml_model_cluster(dataset_id)`,
		`CREATE INDEX IF NOT EXISTS idx_point_cluster_cluster ON grafana_ml_model_point_cluster(cluster_id)`,
		`CREATE INDEX IF NOT EXISTS idx_regression_dataset ON grafana_ml_model_regression(dataset_id)`,
		`CREATE INDEX IF NOT EXISTS idx_correlation_dataset ON grafana_ml_model_correlation(dataset_id)`,
	}

	for _, ddl := range indexes {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("creating lookup index: %w", err)
		}
	}

	if err := s.setMetaFlag("lookup_indexes_v1"); err != nil {
		return fmt.Errorf("setting lookup_indexes_v1 flag: %w", err)
	}

	return nil
}

// truncate shortens a string for error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
