package tree

import (
	"testing"

	"github.com/hurttlocker/mlstore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func id(v int64) *int64 { return &v }

func fourPointRows() []*store.TreeNode {
	return []*store.TreeNode{
		{ID: 1, PointID: id(11), ParentID: id(5)},
		{ID: 2, PointID: id(12), ParentID: id(5)},
		{ID: 3, PointID: id(13), ParentID: id(6)},
		{ID: 4, PointID: id(14), ParentID: id(6)},
		{ID: 5, ParentID: id(7), Height: 0.5},
		{ID: 6, ParentID: id(7), Height: 0.7},
		{ID: 7, Height: 1.2},
	}
}

func TestVerify_Valid(t *testing.T) {
	rep, err := Verify(fourPointRows())
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Leaves)
	assert.Equal(t, 3, rep.Internal)
	assert.Equal(t, int64(7), rep.RootID)
	assert.True(t, rep.Monotonic)
}

func TestVerify_ReportsInversion(t *testing.T) {
	rows := fourPointRows()
	rows[4].Height = 2.0 // child above its parent
	rep, err := Verify(rows)
	require.NoError(t, err)
	assert.False(t, rep.Monotonic)
}

func TestVerify_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]*store.TreeNode) []*store.TreeNode
	}{
		{"empty", func([]*store.TreeNode) []*store.TreeNode { return nil }},
		{"two roots", func(r []*store.TreeNode) []*store.TreeNode { r[4].ParentID = nil; return r }},
		{"missing parent", func(r []*store.TreeNode) []*store.TreeNode { r[0].ParentID = id(99); return r }},
		{"leaf as parent", func(r []*store.TreeNode) []*store.TreeNode { r[0].ParentID = id(2); return r }},
		{"leaf with height", func(r []*store.TreeNode) []*store.TreeNode { r[0].Height = 1; return r }},
		{"missing internal", func(r []*store.TreeNode) []*store.TreeNode { return r[:6] }},
		{"duplicate id", func(r []*store.TreeNode) []*store.TreeNode { r[1].ID = 1; return r }},
		{"three children", func(r []*store.TreeNode) []*store.TreeNode {
			r[2].ParentID = id(5)
			return r
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Verify(tt.mutate(fourPointRows()))
			assert.Error(t, err)
		})
	}
}
