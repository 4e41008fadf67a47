package analysis

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// Type tags persisted with clustering metric rows.
const (
	PartitionKMeans   = "KMeans"
	PartitionKMedoids = "KMedoids"
)

// ClusterStats holds the per-cluster metrics of one non-empty cluster.
// Silhouette and DaviesBouldin are computed on the one-vs-rest labeling
// (this cluster against all other rows).
type ClusterStats struct {
	Number        int
	Size          int
	Inertia       float64
	Silhouette    float64
	DaviesBouldin float64
}

// Partition is a flat clustering of the rows of a matrix.
type Partition struct {
	Kind   string
	K      int
	Labels []int
	// Centers is K x d: means for K-Means, medoid rows for K-Medoids.
	Centers *mat.Dense
	// Medoids holds the row index of each cluster's medoid; nil for K-Means.
	Medoids []int

	Inertia       float64
	Silhouette    float64
	DaviesBouldin float64
	Iterations    int

	// Clusters lists non-empty clusters in ascending Number.
	Clusters []ClusterStats
}

// IsMedoid reports whether row is the medoid of its cluster.
func (p *Partition) IsMedoid(row int) bool {
	return slices.Contains(p.Medoids, row)
}

func validateK(x *mat.Dense, k int) error {
	n, d := x.Dims()
	if n < 2 || d == 0 {
		return fmt.Errorf("%w: %d rows, %d columns", ErrInsufficientData, n, d)
	}
	if k < 2 || k > n {
		return fmt.Errorf("%w: k=%d for %d rows", ErrInvalidK, k, n)
	}
	return nil
}

// score fills the metrics of p from its labels. cost is the inertia
// contribution of row i in cluster k.
func (p *Partition) score(x *mat.Dense, cost func(i, k int) float64) {
	n, _ := x.Dims()
	dist := pairwise(x, Euclidean)

	perCluster := make([]ClusterStats, p.K)
	for k := range perCluster {
		perCluster[k].Number = k
	}
	p.Inertia = 0
	for i := 0; i < n; i++ {
		k := p.Labels[i]
		v := cost(i, k)
		perCluster[k].Size++
		perCluster[k].Inertia += v
		p.Inertia += v
	}

	p.Silhouette = Silhouette(dist, p.Labels)
	p.DaviesBouldin = DaviesBouldin(x, p.Labels)

	p.Clusters = p.Clusters[:0]
	for _, cs := range perCluster {
		if cs.Size == 0 {
			continue
		}
		binary := OneVsRest(p.Labels, cs.Number)
		cs.Silhouette = Silhouette(dist, binary)
		cs.DaviesBouldin = DaviesBouldin(x, binary)
		p.Clusters = append(p.Clusters, cs)
	}
}
