// Package persist writes analysis outputs as flat artifact rows.
//
// Every writer resolves matrix positions back to store ids through the
// typed Row and Column pairs the matrix builder produced; a position with
// no pair is a PreconditionViolationError. Callers run these inside one
// store transaction so an aborted run leaves no partial artifacts.
package persist

import (
	"context"
	"fmt"
	"math"

	"github.com/hurttlocker/mlstore/internal/analysis"
	"github.com/hurttlocker/mlstore/internal/matrix"
	"github.com/hurttlocker/mlstore/internal/store"
)

// Counts tallies the rows one run wrote.
type Counts struct {
	Correlations int `json:"correlations,omitempty"`
	Coefficients int `json:"coefficients,omitempty"`
	Clusters     int `json:"clusters,omitempty"`
	Centroids    int `json:"centroids,omitempty"`
	Memberships  int `json:"memberships,omitempty"`
	Metrics      int `json:"metrics,omitempty"`
	TreeNodes    int `json:"tree_nodes,omitempty"`
}

// Total is the number of rows written.
func (c Counts) Total() int {
	return c.Correlations + c.Coefficients + c.Clusters + c.Centroids + c.Memberships + c.Metrics + c.TreeNodes
}

func column(columns []matrix.Column, i int) (matrix.Column, error) {
	if i < 0 || i >= len(columns) {
		return matrix.Column{}, store.Preconditionf("column %d has no feature pair (%d columns)", i, len(columns))
	}
	return columns[i], nil
}

// Correlations writes one row per pair. A NaN coefficient is stored as NULL.
func Correlations(ctx context.Context, w store.Writer, datasetID int64, columns []matrix.Column, pairs []analysis.Pair) (Counts, error) {
	var c Counts
	for _, p := range pairs {
		a, err := column(columns, p.I)
		if err != nil {
			return c, err
		}
		b, err := column(columns, p.J)
		if err != nil {
			return c, err
		}
		row := &store.CorrelationResult{
			DatasetID:  datasetID,
			FeatureID1: a.FeatureID,
			FeatureID2: b.FeatureID,
			Type:       analysis.CorrelationPearson,
		}
		if v := p.Value; !math.IsNaN(v) {
			row.Value = &v
		}
		if err := w.InsertCorrelationResult(ctx, row); err != nil {
			return c, fmt.Errorf("persisting correlation %s/%s: %w", a.Name, b.Name, err)
		}
		c.Correlations++
	}
	return c, nil
}

// Regression writes the fitted coefficients: the intercept first with a
// NULL feature, then one row per predictor resolved through d.Predictors.
func Regression(ctx context.Context, w store.Writer, datasetID int64, d *matrix.Design, reg *analysis.Regression) (Counts, error) {
	var c Counts
	if len(reg.Coefficients) != len(d.Predictors)+1 {
		return c, store.Preconditionf("%d coefficients for %d predictors plus intercept", len(reg.Coefficients), len(d.Predictors))
	}
	for i, coef := range reg.Coefficients {
		row := &store.RegressionResult{
			DatasetID: datasetID,
			Coeff:     coef.Coeff,
			StdErr:    coef.StdErr,
			Statistic: coef.Statistic,
			PValue:    coef.PValue,
			Type:      reg.Kind,
		}
		switch {
		case i == 0 && coef.Predictor == analysis.Intercept:
		case i > 0 && coef.Predictor >= 0:
			col, err := column(d.Predictors, coef.Predictor)
			if err != nil {
				return c, err
			}
			fid := col.FeatureID
			row.FeatureID = &fid
		default:
			return c, store.Preconditionf("coefficient %d has predictor %d; the intercept must come first", i, coef.Predictor)
		}
		if err := w.InsertRegressionResult(ctx, row); err != nil {
			return c, fmt.Errorf("persisting coefficient %d: %w", i, err)
		}
		c.Coefficients++
	}
	return c, nil
}

// Partition writes one cluster row per non-empty cluster, K-Means centroid
// coordinates, one membership per matrix row (medoid-flagged for K-Medoids)
// and the whole-partition metrics row.
func Partition(ctx context.Context, w store.Writer, m *matrix.Matrix, p *analysis.Partition) (Counts, error) {
	var c Counts
	if len(p.Labels) != len(m.Rows) {
		return c, store.Preconditionf("%d labels for %d matrix rows", len(p.Labels), len(m.Rows))
	}
	if _, cols := p.Centers.Dims(); cols != len(m.Columns) {
		return c, store.Preconditionf("centers have %d columns, matrix has %d", cols, len(m.Columns))
	}

	clusterIDs := make(map[int]int64, len(p.Clusters))
	for _, cs := range p.Clusters {
		id, err := w.InsertCluster(ctx, &store.Cluster{
			DatasetID:     m.DatasetID,
			Number:        cs.Number,
			Inertia:       cs.Inertia,
			Silhouette:    cs.Silhouette,
			DaviesBouldin: cs.DaviesBouldin,
		})
		if err != nil {
			return c, fmt.Errorf("persisting cluster %d: %w", cs.Number, err)
		}
		clusterIDs[cs.Number] = id
		c.Clusters++

		if p.Medoids != nil {
			continue
		}
		for _, col := range m.Columns {
			if err := w.InsertCentroid(ctx, &store.Centroid{
				DatasetID: m.DatasetID,
				ClusterID: id,
				FeatureID: col.FeatureID,
				Value:     p.Centers.At(cs.Number, col.Index),
			}); err != nil {
				return c, fmt.Errorf("persisting centroid of cluster %d: %w", cs.Number, err)
			}
			c.Centroids++
		}
	}

	for _, row := range m.Rows {
		label := p.Labels[row.Index]
		cid, ok := clusterIDs[label]
		if !ok {
			return c, store.Preconditionf("row %d is labeled %d, which has no cluster row", row.Index, label)
		}
		pc := &store.PointCluster{DatasetID: m.DatasetID, PointID: row.PointID, ClusterID: cid}
		if p.Medoids != nil {
			medoid := p.IsMedoid(row.Index)
			pc.IsMedoid = &medoid
		}
		if err := w.InsertPointCluster(ctx, pc); err != nil {
			return c, fmt.Errorf("persisting membership of %s: %w", row.Name, err)
		}
		c.Memberships++
	}

	if err := w.InsertClusteringMetrics(ctx, &store.ClusteringMetrics{
		DatasetID:     m.DatasetID,
		Type:          p.Kind,
		Inertia:       p.Inertia,
		Silhouette:    p.Silhouette,
		DaviesBouldin: p.DaviesBouldin,
	}); err != nil {
		return c, fmt.Errorf("persisting clustering metrics: %w", err)
	}
	c.Metrics++
	return c, nil
}
