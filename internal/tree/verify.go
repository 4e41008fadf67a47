package tree

import (
	"fmt"

	"github.com/hurttlocker/mlstore/internal/store"
)

// Report describes a persisted tree that passed Verify.
type Report struct {
	Leaves    int     `json:"leaves"`
	Internal  int     `json:"internal"`
	RootID    int64   `json:"root_id"`
	MaxHeight float64 `json:"max_height"`
	// Monotonic is false when some parent sits lower than one of its
	// children. Centroid and median linkage can produce such inversions.
	Monotonic bool `json:"monotonic"`
	// ZeroHeight counts internal nodes formed at distance 0 (duplicate points).
	ZeroHeight int `json:"zero_height"`
}

// Verify checks the structural invariants of one dataset's tree rows:
// n leaves and n-1 internal nodes, a single parentless root, leaves with a
// point and height 0, internal nodes without a point and exactly two
// children, every parent an existing internal node, and no cycles.
//
// Height inversions are reported, not rejected.
func Verify(nodes []*store.TreeNode) (*Report, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("tree has no nodes")
	}

	byID := make(map[int64]*store.TreeNode, len(nodes))
	children := make(map[int64]int, len(nodes))
	rep := &Report{Monotonic: true}
	var roots []int64

	for _, n := range nodes {
		if _, dup := byID[n.ID]; dup {
			return nil, fmt.Errorf("node %d appears twice", n.ID)
		}
		byID[n.ID] = n
	}

	for _, n := range nodes {
		if n.IsLeaf() {
			rep.Leaves++
			if n.Height != 0 {
				return nil, fmt.Errorf("leaf %d has height %g", n.ID, n.Height)
			}
		} else {
			rep.Internal++
			if n.Height == 0 {
				rep.ZeroHeight++
			}
			if n.Height < 0 {
				return nil, fmt.Errorf("internal node %d has negative height %g", n.ID, n.Height)
			}
			if n.Height > rep.MaxHeight {
				rep.MaxHeight = n.Height
			}
		}

		if n.ParentID == nil {
			roots = append(roots, n.ID)
			continue
		}
		parent, ok := byID[*n.ParentID]
		if !ok {
			return nil, fmt.Errorf("node %d references missing parent %d", n.ID, *n.ParentID)
		}
		if parent.IsLeaf() {
			return nil, fmt.Errorf("node %d has leaf %d as parent", n.ID, parent.ID)
		}
		children[parent.ID]++
		if parent.Height < n.Height {
			rep.Monotonic = false
		}
	}

	if rep.Internal != rep.Leaves-1 {
		return nil, fmt.Errorf("tree has %d leaves and %d internal nodes, want %d internal", rep.Leaves, rep.Internal, rep.Leaves-1)
	}
	if len(roots) != 1 {
		return nil, fmt.Errorf("tree has %d roots, want 1", len(roots))
	}
	rep.RootID = roots[0]

	for _, n := range nodes {
		if !n.IsLeaf() && children[n.ID] != 2 {
			return nil, fmt.Errorf("internal node %d has %d children, want 2", n.ID, children[n.ID])
		}
	}

	// Every node must reach the root by parent links.
	depthLimit := len(nodes)
	for _, n := range nodes {
		cur, steps := n, 0
		for cur.ParentID != nil {
			cur = byID[*cur.ParentID]
			steps++
			if steps > depthLimit {
				return nil, fmt.Errorf("node %d is on a parent cycle", n.ID)
			}
		}
		if cur.ID != rep.RootID {
			return nil, fmt.Errorf("node %d does not reach root %d", n.ID, rep.RootID)
		}
	}

	return rep, nil
}
