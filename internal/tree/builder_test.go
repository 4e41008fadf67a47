package tree

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/hurttlocker/mlstore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memWriter records tree writes in memory.
type memWriter struct {
	nextID  int64
	nodes   map[int64]*store.TreeNode
	order   []int64
	patches int
	failAt  int // fail the Nth insert (1-based) when > 0
}

func newMemWriter() *memWriter {
	return &memWriter{nextID: 100, nodes: map[int64]*store.TreeNode{}}
}

func (m *memWriter) InsertTreeNode(_ context.Context, n *store.TreeNode) (int64, error) {
	if m.failAt > 0 && len(m.order)+1 == m.failAt {
		return 0, &store.StoreUnavailableError{Op: "inserting tree node"}
	}
	m.nextID++
	cp := *n
	cp.ID = m.nextID
	m.nodes[cp.ID] = &cp
	m.order = append(m.order, cp.ID)
	return cp.ID, nil
}

func (m *memWriter) SetTreeNodeParent(_ context.Context, nodeID, parentID int64) error {
	n, ok := m.nodes[nodeID]
	if !ok {
		return store.Preconditionf("tree node %d not found", nodeID)
	}
	p := parentID
	n.ParentID = &p
	m.patches++
	return nil
}

func (m *memWriter) list() []*store.TreeNode {
	out := make([]*store.TreeNode, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.nodes[id])
	}
	return out
}

func seq(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

func TestBuild_FourPointScenario(t *testing.T) {
	w := newMemWriter()
	merges := []Merge{{0, 1, 0.5}, {2, 3, 0.7}, {4, 5, 1.2}}

	res, err := Build(context.Background(), w, 1, seq(4), merges)
	require.NoError(t, err)

	nodes := w.list()
	require.Len(t, nodes, 7)
	assert.Equal(t, 4, res.Leaves)
	assert.Equal(t, 3, res.Internal)
	assert.Len(t, res.NodeIDs, 7)

	leaf := func(i int) *store.TreeNode { return w.nodes[res.NodeIDs[i]] }
	for i := 0; i < 4; i++ {
		require.NotNil(t, leaf(i).PointID)
		assert.Equal(t, int64(i+1), *leaf(i).PointID)
		assert.Equal(t, 0.0, leaf(i).Height)
	}
	assert.Equal(t, "Point 1", leaf(0).Name)

	c4, c5, root := w.nodes[res.NodeIDs[4]], w.nodes[res.NodeIDs[5]], w.nodes[res.NodeIDs[6]]
	assert.Equal(t, "Cluster 5", c4.Name)
	assert.Equal(t, 0.5, c4.Height)
	assert.Equal(t, 0.7, c5.Height)
	assert.Equal(t, "Cluster 7", root.Name)
	assert.Equal(t, 1.2, root.Height)
	assert.Nil(t, root.ParentID)
	assert.Equal(t, root.ID, res.RootID)

	assert.Equal(t, c4.ID, *leaf(0).ParentID)
	assert.Equal(t, c4.ID, *leaf(1).ParentID)
	assert.Equal(t, c5.ID, *leaf(2).ParentID)
	assert.Equal(t, c5.ID, *leaf(3).ParentID)
	assert.Equal(t, root.ID, *c4.ParentID)
	assert.Equal(t, root.ID, *c5.ParentID)
	assert.Equal(t, 6, w.patches)

	rep, err := Verify(nodes)
	require.NoError(t, err)
	assert.True(t, rep.Monotonic)
	assert.Equal(t, root.ID, rep.RootID)
}

func TestBuild_LeafPhasePrecedesMergePhase(t *testing.T) {
	w := newMemWriter()
	_, err := Build(context.Background(), w, 1, seq(5), []Merge{{3, 4, 0.1}, {0, 5, 0.2}, {1, 2, 0.3}, {6, 7, 0.9}})
	require.NoError(t, err)

	for i, id := range w.order {
		if i < 5 {
			assert.True(t, w.nodes[id].IsLeaf(), "insert %d should be a leaf", i)
		} else {
			assert.False(t, w.nodes[id].IsLeaf(), "insert %d should be internal", i)
		}
	}
}

func TestBuild_SinglePoint(t *testing.T) {
	w := newMemWriter()
	res, err := Build(context.Background(), w, 1, seq(1), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Leaves)
	assert.Zero(t, res.Internal)
	assert.Equal(t, res.NodeIDs[0], res.RootID)

	rep, err := Verify(w.list())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Leaves)
}

// randomEncoding joins random active labels with strictly increasing
// distances, the way a monotone linkage would.
func randomEncoding(rng *rand.Rand, n int) []Merge {
	active := make([]int, n)
	for i := range active {
		active[i] = i
	}
	merges := make([]Merge, 0, n-1)
	dist := 0.0
	for k := 0; k < n-1; k++ {
		i := rng.IntN(len(active))
		a := active[i]
		active = append(active[:i], active[i+1:]...)
		j := rng.IntN(len(active))
		b := active[j]
		active = append(active[:j], active[j+1:]...)
		if b < a {
			a, b = b, a
		}
		dist += 0.01 + rng.Float64()
		merges = append(merges, Merge{A: a, B: b, Distance: dist})
		active = append(active, n+k)
	}
	return merges
}

func TestBuild_RandomEncodingsSatisfyVerify(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1))
	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.IntN(40)
		w := newMemWriter()
		res, err := Build(context.Background(), w, 1, seq(n), randomEncoding(rng, n))
		require.NoError(t, err, "trial %d", trial)

		nodes := w.list()
		require.Len(t, nodes, 2*n-1)

		rep, err := Verify(nodes)
		require.NoError(t, err, "trial %d", trial)
		assert.Equal(t, n, rep.Leaves)
		assert.Equal(t, n-1, rep.Internal)
		assert.True(t, rep.Monotonic)
		assert.Zero(t, rep.ZeroHeight)
		assert.Equal(t, res.RootID, rep.RootID)

		for _, node := range nodes {
			if node.IsLeaf() {
				assert.Equal(t, 0.0, node.Height)
			} else {
				assert.Greater(t, node.Height, 0.0)
			}
		}
	}
}

func TestBuild_MalformedEncodings(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		merges []Merge
	}{
		{"no points", 0, nil},
		{"too few steps", 3, []Merge{{0, 1, 1}}},
		{"too many steps", 2, []Merge{{0, 1, 1}, {0, 2, 2}}},
		{"unmapped label", 3, []Merge{{0, 1, 1}, {2, 9, 2}}},
		{"forward reference", 3, []Merge{{0, 3, 1}, {1, 2, 2}}},
		{"negative label", 2, []Merge{{-1, 0, 1}}},
		{"self merge", 3, []Merge{{1, 1, 1}, {0, 2, 2}}},
		{"re-merge consumed", 3, []Merge{{0, 1, 1}, {0, 2, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(context.Background(), newMemWriter(), 1, seq(tt.n), tt.merges)
			require.Error(t, err)
			assert.True(t, errors.Is(err, store.ErrPreconditionViolation), "got %v", err)
		})
	}
}

func TestBuild_WriterFailureAborts(t *testing.T) {
	w := newMemWriter()
	w.failAt = 5 // first merge node
	_, err := Build(context.Background(), w, 1, seq(4), []Merge{{0, 1, 0.5}, {2, 3, 0.7}, {4, 5, 1.2}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable))
	assert.Len(t, w.order, 4)
	assert.Zero(t, w.patches)
}

func TestBuild_SQLiteRollsBackMalformedTree(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	require.NoError(t, err)
	defer s.Close()

	ds, err := s.CreateDataset(ctx, &store.Dataset{Name: "iris"})
	require.NoError(t, err)
	var points []int64
	for i := 0; i < 4; i++ {
		id, err := s.AddPoint(ctx, &store.Point{DatasetID: ds, Name: "p"})
		require.NoError(t, err)
		points = append(points, id)
	}

	err = s.WithTx(ctx, func(w store.Writer) error {
		_, err := Build(ctx, w, ds, points, []Merge{{0, 1, 0.5}, {2, 3, 0.7}, {4, 9, 1.2}})
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrPreconditionViolation))

	nodes, err := s.ListTreeNodes(ctx, ds)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	var res *Result
	err = s.WithTx(ctx, func(w store.Writer) error {
		var err error
		res, err = Build(ctx, w, ds, points, []Merge{{0, 1, 0.5}, {2, 3, 0.7}, {4, 5, 1.2}})
		return err
	})
	require.NoError(t, err)

	nodes, err = s.ListTreeNodes(ctx, ds)
	require.NoError(t, err)
	require.Len(t, nodes, 7)
	rep, err := Verify(nodes)
	require.NoError(t, err)
	assert.Equal(t, res.RootID, rep.RootID)
	assert.Equal(t, 1.2, rep.MaxHeight)
}
