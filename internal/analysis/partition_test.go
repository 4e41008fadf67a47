package analysis

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// blobs returns per rows around each of centers, row-major by blob.
func blobs(rng *rand.Rand, per int, spread float64, centers ...[2]float64) *mat.Dense {
	data := make([]float64, 0, per*len(centers)*2)
	for _, c := range centers {
		for i := 0; i < per; i++ {
			data = append(data, c[0]+spread*rng.NormFloat64(), c[1]+spread*rng.NormFloat64())
		}
	}
	return mat.NewDense(per*len(centers), 2, data)
}

func threeBlobs() *mat.Dense {
	return blobs(rand.New(rand.NewPCG(9, 9)), 20, 0.5, [2]float64{0, 0}, [2]float64{10, 10}, [2]float64{-10, 10})
}

// assertRecoversBlobs checks each blob of per rows maps to one distinct label.
func assertRecoversBlobs(t *testing.T, labels []int, per, k int) {
	t.Helper()
	seen := map[int]bool{}
	for b := 0; b < k; b++ {
		l := labels[b*per]
		for i := b * per; i < (b+1)*per; i++ {
			require.Equal(t, l, labels[i], "row %d", i)
		}
		require.False(t, seen[l], "label %d reused", l)
		seen[l] = true
	}
}

func TestSilhouette_HandComputed(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{0, 1, 10, 11})
	got := Silhouette(pairwise(x, Euclidean), []int{0, 0, 1, 1})
	want := (2*(9.5/10.5) + 2*(8.5/9.5)) / 4
	assert.InDelta(t, want, got, 1e-12)
}

func TestSilhouette_Undefined(t *testing.T) {
	x := mat.NewDense(3, 1, []float64{0, 1, 2})
	assert.True(t, math.IsNaN(Silhouette(pairwise(x, Euclidean), []int{4, 4, 4})))
	assert.True(t, math.IsNaN(Silhouette(pairwise(x, Euclidean), []int{0, 1, 2})))
}

func TestDaviesBouldin_HandComputed(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{0, 1, 10, 11})
	assert.InDelta(t, 0.1, DaviesBouldin(x, []int{7, 7, 3, 3}), 1e-12)
	assert.True(t, math.IsNaN(DaviesBouldin(x, []int{1, 1, 1, 1})))
}

func TestOneVsRest(t *testing.T) {
	assert.Equal(t, []int{0, 1, 0, 1}, OneVsRest([]int{2, 5, 2, 5}, 5))
}

func TestScore_OneVsRestPerCluster(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{0, 2, 10, 12})
	p := &Partition{K: 3, Labels: []int{0, 0, 1, 2}}
	p.score(x, func(int, int) float64 { return 0 })
	require.Len(t, p.Clusters, 3)

	// Cluster 0 against {10, 12}: a = 2 everywhere, b = 11, 9, 9, 11.
	assert.InDelta(t, (9.0/11+7.0/9)/2, p.Clusters[0].Silhouette, 1e-12)
	// Both sides scatter 1 around centroids 1 and 11.
	assert.InDelta(t, 0.2, p.Clusters[0].DaviesBouldin, 1e-12)
	assert.Equal(t, 1, p.Clusters[1].Size)
}

func TestKMeans_RecoversBlobs(t *testing.T) {
	x := threeBlobs()
	p, err := KMeans(x, KMeansOptions{K: 3, Seed: 42})
	require.NoError(t, err)

	assert.Equal(t, PartitionKMeans, p.Kind)
	assertRecoversBlobs(t, p.Labels, 20, 3)
	assert.Nil(t, p.Medoids)
	require.Len(t, p.Clusters, 3)

	var sum float64
	dist := pairwise(x, Euclidean)
	for i, cs := range p.Clusters {
		assert.Equal(t, i, cs.Number)
		assert.Equal(t, 20, cs.Size)
		binary := OneVsRest(p.Labels, i)
		assert.InDelta(t, Silhouette(dist, binary), cs.Silhouette, 1e-12)
		assert.InDelta(t, DaviesBouldin(x, binary), cs.DaviesBouldin, 1e-12)
		sum += cs.Inertia
	}
	assert.InDelta(t, p.Inertia, sum, 1e-9)
	assert.Greater(t, p.Silhouette, 0.8)
	assert.Less(t, p.DaviesBouldin, 0.2)

	// Centers are the member means.
	for k := 0; k < 3; k++ {
		var cx float64
		var n int
		for i, l := range p.Labels {
			if l == k {
				cx += x.At(i, 0)
				n++
			}
		}
		assert.InDelta(t, cx/float64(n), p.Centers.At(k, 0), 1e-9)
	}
}

func TestKMeans_Deterministic(t *testing.T) {
	x := blobs(rand.New(rand.NewPCG(3, 4)), 15, 2.0, [2]float64{0, 0}, [2]float64{4, 4}, [2]float64{0, 6})
	a, err := KMeans(x, KMeansOptions{K: 4, Seed: 7})
	require.NoError(t, err)
	b, err := KMeans(x, KMeansOptions{K: 4, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, a.Labels, b.Labels)
	assert.Equal(t, a.Centers.RawMatrix().Data, b.Centers.RawMatrix().Data)
	assert.Equal(t, math.Float64bits(a.Inertia), math.Float64bits(b.Inertia))
}

func TestKMeans_DuplicateRows(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{1, 1, 1, 5})
	p, err := KMeans(x, KMeansOptions{K: 3, Seed: 1})
	require.NoError(t, err)
	assert.Len(t, p.Labels, 4)
	assert.NotEqual(t, p.Labels[0], p.Labels[3])
	assert.InDelta(t, 0, p.Inertia, 1e-12)
}

func TestKMeans_InvalidK(t *testing.T) {
	x := threeBlobs()
	_, err := KMeans(x, KMeansOptions{K: 1})
	require.ErrorIs(t, err, ErrInvalidK)
	_, err = KMeans(x, KMeansOptions{K: 61})
	require.ErrorIs(t, err, ErrInvalidK)
	_, err = KMeans(mat.NewDense(1, 2, []float64{1, 2}), KMeansOptions{K: 2})
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestKMedoids_RecoversBlobs(t *testing.T) {
	x := threeBlobs()
	p, err := KMedoids(x, KMedoidsOptions{K: 3})
	require.NoError(t, err)

	assert.Equal(t, PartitionKMedoids, p.Kind)
	assertRecoversBlobs(t, p.Labels, 20, 3)
	require.Len(t, p.Medoids, 3)

	medoids := 0
	for i := range p.Labels {
		if p.IsMedoid(i) {
			medoids++
		}
	}
	assert.Equal(t, 3, medoids)

	var inertia float64
	for i, l := range p.Labels {
		m := p.Medoids[l]
		assert.Equal(t, l, p.Labels[m], "medoid %d outside its cluster", m)
		inertia += Euclidean.Distance(x.RawRowView(i), x.RawRowView(m))
	}
	assert.InDelta(t, inertia, p.Inertia, 1e-9)

	// Each medoid minimizes the distance sum within its cluster.
	for k, m := range p.Medoids {
		cost := func(c int) float64 {
			var s float64
			for i, l := range p.Labels {
				if l == k {
					s += Euclidean.Distance(x.RawRowView(i), x.RawRowView(c))
				}
			}
			return s
		}
		best := cost(m)
		for i, l := range p.Labels {
			if l == k {
				assert.GreaterOrEqual(t, cost(i)+1e-9, best)
			}
		}
	}
}

func TestKMedoids_CityblockInertia(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{0, 0, 1, 1, 10, 10, 11, 12})
	p, err := KMedoids(x, KMedoidsOptions{K: 2, Metric: Cityblock})
	require.NoError(t, err)
	assert.NotEqual(t, p.Labels[0], p.Labels[2])
	// The non-medoid rows sit 2 and 3 cityblock units from their medoids.
	assert.InDelta(t, 5.0, p.Inertia, 1e-12)
}
