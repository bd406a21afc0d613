package perflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHotspotAnalyzerSingleStack(t *testing.T) {
	tree := NewCallTree(ContextFree, Both)
	rankSeen := map[int64]bool{}
	tree.insert([]ResolvedFrame{frame("app"), frame("app"), frame("app")}, 0, 1000, rankSeen)

	analyzer := NewHotspotAnalyzer()
	hotspots := analyzer.FindSelfHotspots(tree, 1)
	require.Len(t, hotspots, 1)
	assert.Equal(t, uint64(1000), hotspots[0].SelfCount)
	assert.Equal(t, 100.0, hotspots[0].SelfPercentage)
}

func TestHotspotAnalyzerTieBreak(t *testing.T) {
	tree := NewCallTree(ContextFree, Both)
	rankSeen := map[int64]bool{}
	tree.insert([]ResolvedFrame{frame("z")}, 0, 5, rankSeen)
	tree.insert([]ResolvedFrame{frame("a")}, 0, 5, rankSeen)

	analyzer := NewHotspotAnalyzer()
	hotspots := analyzer.FindSelfHotspots(tree, 2)
	require.Len(t, hotspots, 2)
	assert.Equal(t, "a", hotspots[0].Node.Frame().Library)
	assert.Equal(t, "z", hotspots[1].Node.Frame().Library)
}

func TestHotspotAnalyzerFindTotalHotspots(t *testing.T) {
	tree := NewCallTree(ContextFree, Both)
	rankSeen := map[int64]bool{}
	tree.insert([]ResolvedFrame{frame("A"), frame("B")}, 0, 10, rankSeen)
	tree.insert([]ResolvedFrame{frame("A"), frame("C")}, 0, 1, rankSeen)

	analyzer := NewHotspotAnalyzer()
	hotspots := analyzer.FindTotalHotspots(tree, 1)
	require.Len(t, hotspots, 1)
	assert.Equal(t, "A", hotspots[0].Node.Frame().Library)
	assert.Equal(t, uint64(11), hotspots[0].TotalCount)
}
