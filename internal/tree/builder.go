// Package tree persists a hierarchical clustering merge encoding as a
// self-referential table of nodes.
//
// A merge encoding is the standard agglomerative-clustering output: an
// ordered list of (a, b, distance) steps where labels 0..n-1 are the
// original points and label n+k is the cluster formed by step k. Because a
// child row must reference a parent id that only exists once the parent row
// is inserted, the build runs in two strictly sequential phases:
//
//  1. Leaf phase: one node per point (point_id set, parent_id NULL, height 0).
//  2. Merge phase: for each step, insert the merged node with parent_id NULL,
//     then back-patch the parent_id of the two nodes it joins.
//
// The node created by the final step is the root and keeps parent_id NULL.
package tree

import (
	"context"
	"fmt"

	"github.com/hurttlocker/mlstore/internal/store"
)

// Merge is one step of a merge encoding.
type Merge struct {
	A        int     `json:"a"`
	B        int     `json:"b"`
	Distance float64 `json:"distance"`
}

// NodeWriter is the slice of the store the builder writes through.
type NodeWriter interface {
	InsertTreeNode(ctx context.Context, n *store.TreeNode) (int64, error)
	SetTreeNodeParent(ctx context.Context, nodeID, parentID int64) error
}

// Result summarizes a completed build.
type Result struct {
	RootID   int64 `json:"root_id"`
	Leaves   int   `json:"leaves"`
	Internal int   `json:"internal"`
	// NodeIDs maps every local label (0..2n-2) to its generated node id.
	NodeIDs []int64 `json:"node_ids"`
}

// localIndex maps merge-encoding labels to generated node ids for the
// duration of one build. merged marks labels already joined into a parent.
type localIndex struct {
	ids    []int64
	merged []bool
}

func newLocalIndex(n int) *localIndex {
	size := 2*n - 1
	if size < 1 {
		size = 1
	}
	return &localIndex{
		ids:    make([]int64, 0, size),
		merged: make([]bool, 0, size),
	}
}

func (li *localIndex) add(nodeID int64) int {
	li.ids = append(li.ids, nodeID)
	li.merged = append(li.merged, false)
	return len(li.ids) - 1
}

// take resolves a label for merge step k and marks it consumed. Unmapped
// labels and labels already merged are precondition violations.
func (li *localIndex) take(label, step int) (int64, error) {
	if label < 0 || label >= len(li.ids) {
		return 0, store.Preconditionf("merge step %d references label %d, only 0..%d are mapped", step, label, len(li.ids)-1)
	}
	if li.merged[label] {
		return 0, store.Preconditionf("merge step %d references label %d which was already merged", step, label)
	}
	li.merged[label] = true
	return li.ids[label], nil
}

// Build writes the tree for pointIDs (in local-label order) and merges.
//
// Merges are processed strictly in input order. The encoding must hold
// exactly len(pointIDs)-1 steps, and each step must join two distinct,
// previously formed, not yet merged labels; anything else is a
// PreconditionViolationError and the caller's transaction should be rolled
// back. Heights are taken verbatim from the merge distances; they are not
// checked for monotonicity (see Verify).
func Build(ctx context.Context, w NodeWriter, datasetID int64, pointIDs []int64, merges []Merge) (*Result, error) {
	n := len(pointIDs)
	if n == 0 {
		return nil, store.Preconditionf("dataset %d has no points to build a tree from", datasetID)
	}
	if len(merges) != n-1 {
		return nil, store.Preconditionf("merge encoding has %d steps, a tree over %d points needs %d", len(merges), n, n-1)
	}

	li := newLocalIndex(n)

	// Leaf phase
	for i, pointID := range pointIDs {
		pid := pointID
		id, err := w.InsertTreeNode(ctx, &store.TreeNode{
			DatasetID: datasetID,
			PointID:   &pid,
			Name:      fmt.Sprintf("Point %d", i+1),
			Height:    0,
		})
		if err != nil {
			return nil, fmt.Errorf("inserting leaf %d: %w", i, err)
		}
		li.add(id)
	}

	// Merge phase
	res := &Result{Leaves: n}
	if n == 1 {
		res.RootID = li.ids[0]
		res.NodeIDs = li.ids
		return res, nil
	}

	for k, m := range merges {
		if m.A == m.B {
			return nil, store.Preconditionf("merge step %d joins label %d with itself", k, m.A)
		}
		left, err := li.take(m.A, k)
		if err != nil {
			return nil, err
		}
		right, err := li.take(m.B, k)
		if err != nil {
			return nil, err
		}

		parentID, err := w.InsertTreeNode(ctx, &store.TreeNode{
			DatasetID: datasetID,
			Name:      fmt.Sprintf("Cluster %d", n+k+1),
			Height:    m.Distance,
		})
		if err != nil {
			return nil, fmt.Errorf("inserting merge node %d: %w", k, err)
		}

		if err := w.SetTreeNodeParent(ctx, left, parentID); err != nil {
			return nil, fmt.Errorf("patching parent of label %d: %w", m.A, err)
		}
		if err := w.SetTreeNodeParent(ctx, right, parentID); err != nil {
			return nil, fmt.Errorf("patching parent of label %d: %w", m.B, err)
		}

		li.add(parentID)
		res.Internal++
		res.RootID = parentID
	}

	res.NodeIDs = li.ids
	return res, nil
}
