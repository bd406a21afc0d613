package perflow

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/slices"
)

// BuildMode selects how the TreeBuilder keys children when inserting a
// resolved stack, per spec §4.7.
type BuildMode int

const (
	// ContextFree merges children across distinct call paths that share
	// the same (library, offset) frame.
	ContextFree BuildMode = iota
	// ContextAware never merges children across distinct parents: the
	// child key is the full prefix path.
	ContextAware
)

// CountMode selects which counters an insertion updates, per spec §4.7.
type CountMode int

const (
	// Exclusive updates only each leaf's self_count and the leaf's own
	// per_process_counts.
	Exclusive CountMode = iota
	// Inclusive updates only per-node per_process_counts along the walk.
	Inclusive
	// Both updates both self_count and per_process_counts.
	Both
)

// TreeNode is a shared-ownership node in the aggregated call tree (spec
// §3/§4.7). Derived values (TotalCount, Depth) are computed on demand
// from stored fields, never cached, since the tree is only mutated by
// the builder and is observationally immutable to every other reader.
type TreeNode struct {
	tree   *CallTree
	index  uint32
	parent int32 // -1 for the root

	frame            ResolvedFrame
	perProcessCounts map[int64]uint64
	selfCount        uint64
	children         []uint32

	// childIndex accelerates ContextFree child lookup: a linear scan
	// over children degrades on hot, high-fanout nodes (e.g. the root
	// once many distinct libraries appear), so insertion additionally
	// maintains a hash map from a frame's (library, offset) fingerprint
	// to its child slot. Populated lazily; nil in ContextAware mode,
	// where children are never merged by frame key.
	childIndex map[uint64]uint32
}

// Frame returns the resolved frame this node represents. The synthetic
// root's frame is the zero ResolvedFrame.
func (n *TreeNode) Frame() ResolvedFrame { return n.frame }

// SelfCount returns the number of samples whose leaf frame is this node.
func (n *TreeNode) SelfCount() uint64 { return n.selfCount }

// PerProcessCount returns the count attributed to rank, or 0 if rank
// never contributed to this node.
func (n *TreeNode) PerProcessCount(rank int64) uint64 {
	return n.perProcessCounts[rank]
}

// PerProcessCounts returns a defensive copy of the full per-rank map.
func (n *TreeNode) PerProcessCounts() map[int64]uint64 {
	out := make(map[int64]uint64, len(n.perProcessCounts))
	for k, v := range n.perProcessCounts {
		out[k] = v
	}
	return out
}

// TotalCount returns self_count plus the total count of every child,
// per the tree-sums invariant in spec §8.
func (n *TreeNode) TotalCount() uint64 {
	total := n.selfCount
	for _, ci := range n.children {
		total += n.tree.node(ci).TotalCount()
	}
	return total
}

// Depth returns the node's distance from the root (root is depth 0).
func (n *TreeNode) Depth() int {
	d := 0
	for p := n.parent; p >= 0; {
		d++
		node := n.tree.node(uint32(p))
		p = node.parent
	}
	return d
}

// Children returns the node's children in insertion order.
func (n *TreeNode) Children() []*TreeNode {
	out := make([]*TreeNode, len(n.children))
	for i, ci := range n.children {
		out[i] = n.tree.node(ci)
	}
	return out
}

// Parent returns the node's parent, or nil if n is the root.
func (n *TreeNode) Parent() *TreeNode {
	if n.parent < 0 {
		return nil
	}
	return n.tree.node(uint32(n.parent))
}

// IsRoot reports whether n is the tree's synthetic root.
func (n *TreeNode) IsRoot() bool { return n.parent < 0 }

// frameFingerprint hashes a (library, offset) pair for ContextFree child
// lookup. Collisions are possible but harmless here: childKey checks a
// fingerprint hit against the candidate child's frame and, on a
// mismatch, falls back to an exact scan of the node's children. Not used
// for CallStack identity (hash/fnv remains the fingerprint there, per §9).
func frameFingerprint(frame ResolvedFrame) uint64 {
	h := xxhash.New()
	h.WriteString(frame.Library)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(frame.Offset))
	h.Write(b[:])
	return h.Sum64()
}

func (n *TreeNode) childKey(frame ResolvedFrame, mode BuildMode) (uint32, bool) {
	if mode == ContextAware {
		return 0, false
	}
	if n.childIndex == nil {
		n.childIndex = make(map[uint64]uint32, len(n.children))
		for _, ci := range n.children {
			c := n.tree.node(ci)
			n.childIndex[frameFingerprint(c.frame)] = ci
		}
	}
	ci, ok := n.childIndex[frameFingerprint(frame)]
	if !ok {
		return 0, false
	}
	if c := n.tree.node(ci).frame; c.Library == frame.Library && c.Offset == frame.Offset {
		return ci, true
	}
	for _, cj := range n.children {
		if c := n.tree.node(cj).frame; c.Library == frame.Library && c.Offset == frame.Offset {
			return cj, true
		}
	}
	return 0, false
}

// CallTree is the aggregated, shared-ownership call tree built by a
// TreeBuilder from one or more resolved stacks (spec §3/§4.7). Nodes are
// stored in an arena addressed by u32 index rather than as individually
// heap-allocated, pointer-linked objects, so the tree remains a single
// contiguous allocation regardless of process/rank count.
type CallTree struct {
	nodes        []TreeNode
	processCount int
	buildMode    BuildMode
	countMode    CountMode
}

// NewCallTree constructs an empty tree with a single synthetic root,
// per spec §3 ("the root is unique and synthetic, represents 'program'").
func NewCallTree(buildMode BuildMode, countMode CountMode) *CallTree {
	t := &CallTree{buildMode: buildMode, countMode: countMode}
	t.nodes = append(t.nodes, TreeNode{
		tree:             t,
		index:            0,
		parent:           -1,
		perProcessCounts: make(map[int64]uint64),
	})
	return t
}

// BuildMode returns the tree's child-merging policy.
func (t *CallTree) BuildMode() BuildMode { return t.buildMode }

// CountMode returns the tree's counter-update policy.
func (t *CallTree) CountMode() CountMode { return t.countMode }

// Root returns the tree's synthetic root node.
func (t *CallTree) Root() *TreeNode { return t.node(0) }

// ProcessCount returns the number of distinct ranks observed by inserts
// so far; it is updated incrementally, not recomputed per call.
func (t *CallTree) ProcessCount() int { return t.processCount }

// TotalSamples returns the root's total count, i.e. every sample ever
// inserted into the tree.
func (t *CallTree) TotalSamples() uint64 { return t.Root().TotalCount() }

func (t *CallTree) node(i uint32) *TreeNode { return &t.nodes[i] }

// insert walks frames from the root, creating children as needed per
// buildMode, and applies the per-node/per-leaf counter updates
// prescribed by spec §4.7's insertion algorithm. rankSeen lets the
// builder track ProcessCount across many insert calls without rescanning
// the whole tree.
func (t *CallTree) insert(frames []ResolvedFrame, rank int64, count uint64, rankSeen map[int64]bool) {
	if !rankSeen[rank] {
		rankSeen[rank] = true
		t.processCount = len(rankSeen)
	}

	cur := uint32(0)
	for i, frame := range frames {
		node := t.node(cur)
		if t.countMode == Inclusive || t.countMode == Both {
			node.perProcessCounts[rank] += count
		}

		childIdx, ok := node.childKey(frame, t.buildMode)
		if !ok {
			childIdx = uint32(len(t.nodes))
			t.nodes = append(t.nodes, TreeNode{
				tree:             t,
				index:            childIdx,
				parent:           int32(cur),
				frame:            frame,
				perProcessCounts: make(map[int64]uint64),
			})
			// Appending may have reallocated t.nodes; re-fetch node and
			// the parent's children slice through the tree rather than
			// the now possibly-stale local pointer.
			parent := t.node(cur)
			parent.children = append(parent.children, childIdx)
			if parent.childIndex != nil {
				parent.childIndex[frameFingerprint(frame)] = childIdx
			}
		}

		cur = childIdx

		if i == len(frames)-1 {
			leaf := t.node(cur)
			if t.countMode == Exclusive || t.countMode == Both {
				leaf.selfCount += count
			}
			leaf.perProcessCounts[rank] += count
		}
	}
}

// Visitor is called once per visited node during a traversal; returning
// false halts the traversal immediately (spec §4.7).
type Visitor func(n *TreeNode) bool

// WalkPreOrder visits the root, then each subtree, in insertion order.
func (t *CallTree) WalkPreOrder(visit Visitor) {
	t.walkPre(t.Root(), visit)
}

func (t *CallTree) walkPre(n *TreeNode, visit Visitor) bool {
	if !visit(n) {
		return false
	}
	for _, c := range n.Children() {
		if !t.walkPre(c, visit) {
			return false
		}
	}
	return true
}

// WalkPostOrder visits each subtree before its own node.
func (t *CallTree) WalkPostOrder(visit Visitor) {
	t.walkPost(t.Root(), visit)
}

func (t *CallTree) walkPost(n *TreeNode, visit Visitor) bool {
	for _, c := range n.Children() {
		if !t.walkPost(c, visit) {
			return false
		}
	}
	return visit(n)
}

// WalkLevelOrder visits nodes breadth-first, root first.
func (t *CallTree) WalkLevelOrder(visit Visitor) {
	queue := []*TreeNode{t.Root()}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if !visit(n) {
			return
		}
		queue = append(queue, n.Children()...)
	}
}

// NodesAtDepth returns every node at the given depth, root being depth 0.
func (t *CallTree) NodesAtDepth(d int) []*TreeNode {
	var out []*TreeNode
	t.WalkPreOrder(func(n *TreeNode) bool {
		if n.Depth() == d {
			out = append(out, n)
		}
		return true
	})
	return out
}

// FindByName returns every node whose frame's library name equals name.
func (t *CallTree) FindByName(name string) []*TreeNode {
	var out []*TreeNode
	t.WalkPreOrder(func(n *TreeNode) bool {
		if !n.IsRoot() && n.frame.Library == name {
			out = append(out, n)
		}
		return true
	})
	return out
}

// FindByLibrary is an alias for FindByName: in this implementation a
// frame's only resolved identity is its library name, so the two
// finders named in spec §4.7 coincide.
func (t *CallTree) FindByLibrary(name string) []*TreeNode {
	return t.FindByName(name)
}

// FilterByTotalSamples returns every non-root node whose TotalCount is
// >= n; the synthetic root is never included.
func (t *CallTree) FilterByTotalSamples(n uint64) []*TreeNode {
	var out []*TreeNode
	t.WalkPreOrder(func(node *TreeNode) bool {
		if !node.IsRoot() && node.TotalCount() >= n {
			out = append(out, node)
		}
		return true
	})
	return out
}

// FilterBySelfSamples returns every node whose SelfCount is >= n.
func (t *CallTree) FilterBySelfSamples(n uint64) []*TreeNode {
	var out []*TreeNode
	t.WalkPreOrder(func(node *TreeNode) bool {
		if node.selfCount >= n {
			out = append(out, node)
		}
		return true
	})
	return out
}

// sourceLocation renders a best-effort human string for a node's frame,
// used by HotspotAnalyzer; "" when the node is the root.
func (n *TreeNode) sourceLocation() string {
	if n.IsRoot() {
		return ""
	}
	return n.frame.Library
}

// allLeaves returns every node with no children, used by BalanceAnalyzer
// when count_mode is Exclusive/Both.
func (t *CallTree) allLeaves() []*TreeNode {
	var out []*TreeNode
	t.WalkPreOrder(func(n *TreeNode) bool {
		if len(n.children) == 0 {
			out = append(out, n)
		}
		return true
	})
	return out
}

// ranks returns the sorted set of every rank id that appears in any
// node's per_process_counts, used by BalanceAnalyzer to build a stable
// per-process vector.
func (t *CallTree) ranks() []int64 {
	seen := make(map[int64]struct{})
	t.WalkPreOrder(func(n *TreeNode) bool {
		for r := range n.perProcessCounts {
			seen[r] = struct{}{}
		}
		return true
	})
	out := make([]int64, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}
