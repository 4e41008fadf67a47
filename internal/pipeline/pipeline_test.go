package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/hurttlocker/mlstore/internal/analysis"
	"github.com/hurttlocker/mlstore/internal/logging"
	"github.com/hurttlocker/mlstore/internal/store"
	"github.com/hurttlocker/mlstore/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedTable stores rows under the given feature names and returns the dataset id.
func seedTable(t *testing.T, s store.Store, names []string, rows [][]float64) int64 {
	t.Helper()
	ctx := context.Background()
	ds, err := s.CreateDataset(ctx, &store.Dataset{Name: "fixture", Creator: "test"})
	require.NoError(t, err)
	fids := make([]int64, len(names))
	for j, name := range names {
		fids[j], err = s.AddFeature(ctx, &store.Feature{DatasetID: ds, Name: name})
		require.NoError(t, err)
	}
	for _, row := range rows {
		pid, err := s.AddPoint(ctx, &store.Point{DatasetID: ds, Name: "p"})
		require.NoError(t, err)
		for j, v := range row {
			require.NoError(t, s.AddValue(ctx, &store.Value{DatasetID: ds, PointID: pid, FeatureID: fids[j], Value: v}))
		}
	}
	return ds
}

var clustered = [][]float64{
	{0, 0}, {0, 1}, {1, 0},
	{10, 10}, {10, 11}, {11, 10},
	{20, 0}, {20, 1}, {21, 0},
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("svm")
	require.ErrorIs(t, err, store.ErrPreconditionViolation)
}

func TestRunner_Correlation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ds := seedTable(t, s, []string{"a", "b", "c"}, [][]float64{{1, 2, 3}, {2, 4, 1}, {3, 6, 2}, {4, 8, 0}})

	rep, err := NewRunner(s, nil, Options{}).Run(ctx, Correlation, ds)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Rows)
	assert.Equal(t, 3, rep.Columns)
	assert.Equal(t, 3, rep.Persisted.Correlations)

	rows, err := s.ListCorrelationResults(ctx, ds)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.NotNil(t, rows[0].Value)
	assert.InDelta(t, 1.0, *rows[0].Value, 1e-12)
}

func TestRunner_LinearRegressionWithNamedTarget(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	// y is the first column; x is noisy linear in y.
	ds := seedTable(t, s, []string{"y", "x", "z"}, [][]float64{
		{3.1, 1, 0.2}, {4.9, 2, 0.1}, {7.2, 3, 0.4}, {8.8, 4, 0.3}, {11.1, 5, 0.9}, {12.9, 6, 0.5},
	})

	rep, err := NewRunner(s, nil, Options{Target: "y"}).LinearRegression(ctx, ds)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Persisted.Coefficients)

	rows, err := s.ListRegressionResults(ctx, ds)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Nil(t, rows[0].FeatureID)
	feats, err := s.ListFeatures(ctx, ds)
	require.NoError(t, err)
	// Predictors are x and z; y never appears as a feature row.
	assert.Equal(t, feats[1].ID, *rows[1].FeatureID)
	assert.Equal(t, feats[2].ID, *rows[2].FeatureID)
	assert.InDelta(t, 2.0, rows[1].Coeff, 0.2)
}

func TestRunner_LogisticRegression(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ds := seedTable(t, s, []string{"x", "label"}, [][]float64{
		{1, 0}, {2, 0}, {3, 1}, {4, 0}, {5, 1}, {6, 0}, {7, 1}, {8, 1},
	})

	rep, err := NewRunner(s, nil, Options{}).Run(ctx, Logistic, ds)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Persisted.Coefficients)

	rows, err := s.ListRegressionResults(ctx, ds)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "logistic", rows[0].Type)
	assert.Greater(t, rows[1].Coeff, 0.0)
}

func TestRunner_KMeansAndKMedoids(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ds := seedTable(t, s, []string{"x", "y"}, clustered)
	r := NewRunner(s, nil, Options{Clusters: 3})

	rep, err := r.KMeans(ctx, ds)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Persisted.Clusters)
	assert.Equal(t, 6, rep.Persisted.Centroids)
	assert.Equal(t, 9, rep.Persisted.Memberships)
	assert.Equal(t, 1, rep.Persisted.Metrics)

	rep, err = r.KMedoids(ctx, ds)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Persisted.Clusters)
	assert.Zero(t, rep.Persisted.Centroids)

	metrics, err := s.ListClusteringMetrics(ctx, ds)
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, "KMeans", metrics[0].Type)
	assert.Equal(t, "KMedoids", metrics[1].Type)
	assert.Greater(t, metrics[0].Silhouette, 0.8)

	clusters, err := s.ListClusters(ctx, ds)
	require.NoError(t, err)
	assert.Len(t, clusters, 6)
}

func TestRunner_HierarchicalFourPoints(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ds := seedTable(t, s, []string{"x"}, [][]float64{{0}, {1}, {5}, {6}})

	rep, err := NewRunner(s, nil, Options{Linkage: analysis.Ward}).Hierarchical(ctx, ds)
	require.NoError(t, err)
	assert.Equal(t, 7, rep.Persisted.TreeNodes)

	nodes, err := s.ListTreeNodes(ctx, ds)
	require.NoError(t, err)
	require.Len(t, nodes, 7)
	vr, err := tree.Verify(nodes)
	require.NoError(t, err)
	assert.Equal(t, rep.RootID, vr.RootID)
	assert.True(t, vr.Monotonic)

	points, err := s.ListPoints(ctx, ds)
	require.NoError(t, err)
	for i, n := range nodes[:4] {
		require.NotNil(t, n.PointID)
		assert.Equal(t, points[i].ID, *n.PointID)
	}
	assert.Equal(t, "Cluster 7", nodes[6].Name)
}

func TestRunner_Preconditions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := NewRunner(s, nil, Options{})

	_, err := r.Correlation(ctx, 999)
	require.ErrorIs(t, err, store.ErrPreconditionViolation)

	empty, err := s.CreateDataset(ctx, &store.Dataset{Name: "empty"})
	require.NoError(t, err)
	_, err = r.KMeans(ctx, empty)
	require.ErrorIs(t, err, store.ErrPreconditionViolation)

	ds := seedTable(t, s, []string{"x", "y"}, [][]float64{{0, 0}, {1, 1}})
	_, err = NewRunner(s, nil, Options{Clusters: 5}).KMeans(ctx, ds)
	require.ErrorIs(t, err, store.ErrPreconditionViolation)
	require.ErrorIs(t, err, analysis.ErrInvalidK)

	_, err = NewRunner(s, nil, Options{Linkage: analysis.Ward, Metric: analysis.Cityblock}).Hierarchical(ctx, ds)
	require.ErrorIs(t, err, analysis.ErrUnsupportedLinkage)

	_, err = NewRunner(s, nil, Options{Target: "nope"}).LinearRegression(ctx, ds)
	require.ErrorIs(t, err, store.ErrPreconditionViolation)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Clusters)
	assert.Zero(t, stats.TreeNodes)
	assert.Zero(t, stats.RegressionResults)
}

// flakyStore fails the Nth membership insert inside transactions.
type flakyStore struct {
	store.Store
	failAfter int
}

type flakyWriter struct {
	store.Writer
	left *int
}

func (f flakyWriter) InsertPointCluster(ctx context.Context, pc *store.PointCluster) error {
	if *f.left == 0 {
		return &store.StoreUnavailableError{Op: "assigning point"}
	}
	*f.left--
	return f.Writer.InsertPointCluster(ctx, pc)
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(store.Writer) error) error {
	left := f.failAfter
	return f.Store.WithTx(ctx, func(w store.Writer) error {
		return fn(flakyWriter{Writer: w, left: &left})
	})
}

func TestRunner_FailedWriteLeavesNoArtifacts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ds := seedTable(t, s, []string{"x", "y"}, clustered)

	_, err := NewRunner(&flakyStore{Store: s, failAfter: 4}, nil, Options{}).KMeans(ctx, ds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable))

	clusters, err := s.ListClusters(ctx, ds)
	require.NoError(t, err)
	assert.Empty(t, clusters)
	centroids, err := s.ListCentroids(ctx, ds)
	require.NoError(t, err)
	assert.Empty(t, centroids)
}

func TestRunner_LogsStartAndFinish(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ds := seedTable(t, s, []string{"x", "y"}, clustered)

	var buf bytes.Buffer
	logger := logging.NewJSONLogger(&buf, slog.LevelInfo)
	_, err := NewRunner(s, logger, Options{}).Correlation(ctx, ds)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"analysis started"`)
	assert.Contains(t, out, `"msg":"analysis finished"`)
	assert.Contains(t, out, `"analysis":"correlation"`)
	assert.Contains(t, out, `"rows":9`)
}
