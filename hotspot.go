package perflow

import "sort"

// Hotspot is one ranked entry returned by HotspotAnalyzer, per spec
// §4.8.
type Hotspot struct {
	Node           *TreeNode
	SelfCount      uint64
	SelfPercentage float64
	TotalCount     uint64
	SourceLocation string
}

// HotspotAnalyzer ranks a CallTree's nodes by self or total sample
// count, per spec §4.8.
type HotspotAnalyzer struct{}

// NewHotspotAnalyzer constructs a HotspotAnalyzer. It holds no state;
// the type exists to mirror the BalanceAnalyzer's shape and to give the
// operation a stable, mockable collaborator boundary.
func NewHotspotAnalyzer() *HotspotAnalyzer { return &HotspotAnalyzer{} }

// FindSelfHotspots ranks nodes by self_count descending, breaking ties
// by total_count, then library name, then offset, and returns the top n.
func (HotspotAnalyzer) FindSelfHotspots(tree *CallTree, n int) []Hotspot {
	return rankHotspots(tree, n, func(a, b *TreeNode) bool {
		if a.SelfCount() != b.SelfCount() {
			return a.SelfCount() > b.SelfCount()
		}
		return lessByTotalThenFrame(a, b)
	})
}

// FindTotalHotspots ranks nodes by total_count descending, breaking ties
// by library name then offset, and returns the top n.
func (HotspotAnalyzer) FindTotalHotspots(tree *CallTree, n int) []Hotspot {
	return rankHotspots(tree, n, func(a, b *TreeNode) bool {
		if a.TotalCount() != b.TotalCount() {
			return a.TotalCount() > b.TotalCount()
		}
		return lessByFrame(a, b)
	})
}

func lessByTotalThenFrame(a, b *TreeNode) bool {
	if a.TotalCount() != b.TotalCount() {
		return a.TotalCount() > b.TotalCount()
	}
	return lessByFrame(a, b)
}

func lessByFrame(a, b *TreeNode) bool {
	if a.Frame().Library != b.Frame().Library {
		return a.Frame().Library < b.Frame().Library
	}
	return a.Frame().Offset < b.Frame().Offset
}

func rankHotspots(tree *CallTree, n int, before func(a, b *TreeNode) bool) []Hotspot {
	var nodes []*TreeNode
	tree.WalkPreOrder(func(node *TreeNode) bool {
		if !node.IsRoot() {
			nodes = append(nodes, node)
		}
		return true
	})

	sort.Slice(nodes, func(i, j int) bool { return before(nodes[i], nodes[j]) })

	if n > 0 && n < len(nodes) {
		nodes = nodes[:n]
	}

	total := tree.TotalSamples()
	out := make([]Hotspot, len(nodes))
	for i, node := range nodes {
		pct := 0.0
		if total > 0 {
			pct = float64(node.SelfCount()) / float64(total) * 100
		}
		out[i] = Hotspot{
			Node:           node,
			SelfCount:      node.SelfCount(),
			SelfPercentage: pct,
			TotalCount:     node.TotalCount(),
			SourceLocation: node.sourceLocation(),
		}
	}
	return out
}
