// Package pipeline runs one analysis over one dataset: load the triples,
// materialize the matrix, run the adapter, persist the artifacts.
//
// Phases are strictly sequential and there is no retry. All artifact rows of
// a run are written in one store transaction, so a failed store call or a
// malformed adapter output leaves nothing behind.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/hurttlocker/mlstore/internal/analysis"
	"github.com/hurttlocker/mlstore/internal/logging"
	"github.com/hurttlocker/mlstore/internal/matrix"
	"github.com/hurttlocker/mlstore/internal/persist"
	"github.com/hurttlocker/mlstore/internal/store"
	"github.com/hurttlocker/mlstore/internal/tree"
)

// Kind names an analysis the runner can perform.
type Kind string

const (
	Correlation  Kind = "correlation"
	Linear       Kind = "linear"
	Logistic     Kind = "logistic"
	KMeans       Kind = "kmeans"
	KMedoids     Kind = "kmedoids"
	Hierarchical Kind = "hierarchical"
)

// Kinds lists every analysis in CLI display order.
var Kinds = []Kind{Correlation, Linear, Logistic, KMeans, KMedoids, Hierarchical}

// ParseKind resolves an analysis name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", store.Preconditionf("unknown analysis %q (want one of %v)", s, Kinds)
}

// Options tunes the analyses. Zero values select the defaults.
type Options struct {
	// Clusters is k for K-Means and K-Medoids. Default 3.
	Clusters int
	// Seed drives K-Means initialization. Default 42.
	Seed uint64
	// Linkage and Metric configure hierarchical clustering.
	Linkage analysis.Linkage
	Metric  analysis.Metric
	// Target names the regression response feature; empty selects the last column.
	Target string
}

func (o Options) withDefaults() Options {
	if o.Clusters == 0 {
		o.Clusters = 3
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
	if o.Linkage == "" {
		o.Linkage = analysis.Ward
	}
	if o.Metric == "" {
		o.Metric = analysis.Euclidean
	}
	return o
}

// Report summarizes a completed run.
type Report struct {
	DatasetID int64          `json:"dataset_id"`
	Dataset   string         `json:"dataset"`
	Analysis  Kind           `json:"analysis"`
	Rows      int            `json:"rows"`
	Columns   int            `json:"columns"`
	Persisted persist.Counts `json:"persisted"`
	RootID    int64          `json:"root_id,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`
}

// Runner executes analyses against a store.
type Runner struct {
	store  store.Store
	logger *logging.Logger
	opts   Options
}

// NewRunner creates a Runner. A nil logger discards output.
func NewRunner(s store.Store, logger *logging.Logger, opts Options) *Runner {
	if logger == nil {
		logger = logging.NoopLogger()
	}
	return &Runner{store: s, logger: logger, opts: opts.withDefaults()}
}

// Run performs kind over the dataset.
func (r *Runner) Run(ctx context.Context, kind Kind, datasetID int64) (*Report, error) {
	switch kind {
	case Correlation:
		return r.Correlation(ctx, datasetID)
	case Linear:
		return r.LinearRegression(ctx, datasetID)
	case Logistic:
		return r.LogisticRegression(ctx, datasetID)
	case KMeans:
		return r.KMeans(ctx, datasetID)
	case KMedoids:
		return r.KMedoids(ctx, datasetID)
	case Hierarchical:
		return r.Hierarchical(ctx, datasetID)
	default:
		return nil, store.Preconditionf("unknown analysis %q", kind)
	}
}

// run is the shared load, build, analyze and persist sequence. analyze
// receives the materialized matrix and returns the persistence step to run
// inside the transaction.
func (r *Runner) run(ctx context.Context, kind Kind, datasetID int64,
	analyze func(m *matrix.Matrix) (func(w store.Writer) (persist.Counts, int64, error), error),
) (*Report, error) {
	start := time.Now()
	log := r.logger.WithDataset(datasetID).WithAnalysis(string(kind))

	ds, err := r.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	m, err := matrix.Build(ctx, r.store, datasetID, matrix.FromMetadata)
	if err != nil {
		return nil, err
	}
	rows, cols := m.Dims()
	if m.Empty() {
		return nil, store.Preconditionf("dataset %d (%s) materializes to an empty %dx%d matrix", datasetID, ds.Name, rows, cols)
	}
	log.Info("analysis started", "dataset", ds.Name, "rows", rows, "cols", cols)

	write, err := analyze(m)
	if err != nil {
		log.Warn("analysis rejected input", "error", err)
		return nil, store.Precondition(fmt.Sprintf("%s on dataset %d", kind, datasetID), err)
	}

	rep := &Report{DatasetID: datasetID, Dataset: ds.Name, Analysis: kind, Rows: rows, Columns: cols}
	err = r.store.WithTx(ctx, func(w store.Writer) error {
		counts, root, err := write(w)
		rep.Persisted, rep.RootID = counts, root
		return err
	})
	if err != nil {
		log.Error("persisting artifacts failed", "error", err)
		return nil, err
	}

	rep.Duration = time.Since(start)
	log.Info("analysis finished", "persisted", rep.Persisted.Total(), "duration", rep.Duration)
	return rep, nil
}

// Correlation persists the Pearson coefficient of every feature pair.
func (r *Runner) Correlation(ctx context.Context, datasetID int64) (*Report, error) {
	return r.run(ctx, Correlation, datasetID, func(m *matrix.Matrix) (func(store.Writer) (persist.Counts, int64, error), error) {
		pairs, err := analysis.Pearson(m.Dense)
		if err != nil {
			return nil, err
		}
		return func(w store.Writer) (persist.Counts, int64, error) {
			c, err := persist.Correlations(ctx, w, datasetID, m.Columns, pairs)
			return c, 0, err
		}, nil
	})
}

// LinearRegression fits OLS of the target column on the others.
func (r *Runner) LinearRegression(ctx context.Context, datasetID int64) (*Report, error) {
	return r.regression(ctx, Linear, datasetID, func(d *matrix.Design) (*analysis.Regression, error) {
		return analysis.LinearRegression(d.X, d.Y)
	})
}

// LogisticRegression fits a logit model of the target column on the others.
func (r *Runner) LogisticRegression(ctx context.Context, datasetID int64) (*Report, error) {
	return r.regression(ctx, Logistic, datasetID, func(d *matrix.Design) (*analysis.Regression, error) {
		return analysis.LogisticRegression(d.X, d.Y, analysis.LogisticOptions{})
	})
}

func (r *Runner) regression(ctx context.Context, kind Kind, datasetID int64, fit func(*matrix.Design) (*analysis.Regression, error)) (*Report, error) {
	return r.run(ctx, kind, datasetID, func(m *matrix.Matrix) (func(store.Writer) (persist.Counts, int64, error), error) {
		target := -1
		if r.opts.Target != "" {
			col, ok := m.ColumnByName(r.opts.Target)
			if !ok {
				return nil, fmt.Errorf("target feature %q not in dataset", r.opts.Target)
			}
			target = col.Index
		}
		d, err := m.SplitTarget(target)
		if err != nil {
			return nil, err
		}
		reg, err := fit(d)
		if err != nil {
			return nil, err
		}
		return func(w store.Writer) (persist.Counts, int64, error) {
			c, err := persist.Regression(ctx, w, datasetID, d, reg)
			return c, 0, err
		}, nil
	})
}

// KMeans partitions the points into Options.Clusters clusters.
func (r *Runner) KMeans(ctx context.Context, datasetID int64) (*Report, error) {
	return r.partition(ctx, KMeans, datasetID, func(m *matrix.Matrix) (*analysis.Partition, error) {
		return analysis.KMeans(m.Dense, analysis.KMeansOptions{K: r.opts.Clusters, Seed: r.opts.Seed})
	})
}

// KMedoids partitions the points around Options.Clusters medoids.
func (r *Runner) KMedoids(ctx context.Context, datasetID int64) (*Report, error) {
	return r.partition(ctx, KMedoids, datasetID, func(m *matrix.Matrix) (*analysis.Partition, error) {
		return analysis.KMedoids(m.Dense, analysis.KMedoidsOptions{K: r.opts.Clusters})
	})
}

func (r *Runner) partition(ctx context.Context, kind Kind, datasetID int64, cluster func(*matrix.Matrix) (*analysis.Partition, error)) (*Report, error) {
	return r.run(ctx, kind, datasetID, func(m *matrix.Matrix) (func(store.Writer) (persist.Counts, int64, error), error) {
		p, err := cluster(m)
		if err != nil {
			return nil, err
		}
		r.logger.WithDataset(datasetID).Debug("partition converged", "analysis", string(kind), "iterations", p.Iterations, "inertia", p.Inertia)
		return func(w store.Writer) (persist.Counts, int64, error) {
			c, err := persist.Partition(ctx, w, m, p)
			return c, 0, err
		}, nil
	})
}

// Hierarchical runs agglomerative clustering and persists the merge tree.
func (r *Runner) Hierarchical(ctx context.Context, datasetID int64) (*Report, error) {
	return r.run(ctx, Hierarchical, datasetID, func(m *matrix.Matrix) (func(store.Writer) (persist.Counts, int64, error), error) {
		steps, err := analysis.Agglomerate(m.Dense, r.opts.Linkage, r.opts.Metric)
		if err != nil {
			return nil, err
		}
		merges := make([]tree.Merge, len(steps))
		for k, st := range steps {
			merges[k] = tree.Merge{A: st.A, B: st.B, Distance: st.Distance}
		}
		pointIDs := m.RowIndex.IDs()
		return func(w store.Writer) (persist.Counts, int64, error) {
			res, err := tree.Build(ctx, w, datasetID, pointIDs, merges)
			if err != nil {
				return persist.Counts{}, 0, err
			}
			r.logger.WithDataset(datasetID).Debug("tree built", "nodes", res.Leaves+res.Internal, "root_id", res.RootID)
			return persist.Counts{TreeNodes: res.Leaves + res.Internal}, res.RootID, nil
		}, nil
	})
}
