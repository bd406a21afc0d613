package perflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBalanceAnalyzerTwoRanks(t *testing.T) {
	tree := NewCallTree(ContextFree, Both)
	rankSeen := map[int64]bool{}
	tree.insert([]ResolvedFrame{frame("A"), frame("B"), frame("C")}, 0, 300, rankSeen)
	tree.insert([]ResolvedFrame{frame("A"), frame("B"), frame("D")}, 1, 700, rankSeen)

	analyzer := NewBalanceAnalyzer()
	result := analyzer.Analyze(tree)

	assert.Equal(t, uint64(300), result.PerProcess[0])
	assert.Equal(t, uint64(700), result.PerProcess[1])
	assert.Equal(t, 500.0, result.Mean)
	assert.InDelta(t, 0.8, result.ImbalanceFactor, 1e-9)
	assert.Equal(t, int64(1), result.MostLoadedProcess)
	assert.Equal(t, int64(0), result.LeastLoadedProcess)
}

func TestBalanceAnalyzerEmptyTree(t *testing.T) {
	tree := NewCallTree(ContextFree, Both)
	analyzer := NewBalanceAnalyzer()
	result := analyzer.Analyze(tree)
	assert.Equal(t, 0.0, result.Mean)
	assert.Equal(t, 0.0, result.ImbalanceFactor)
}

func TestBalanceAnalyzerSingleProcess(t *testing.T) {
	tree := NewCallTree(ContextFree, Both)
	rankSeen := map[int64]bool{}
	tree.insert([]ResolvedFrame{frame("A")}, 0, 42, rankSeen)

	analyzer := NewBalanceAnalyzer()
	result := analyzer.Analyze(tree)
	assert.Equal(t, uint64(42), result.PerProcess[0])
	assert.Equal(t, 0.0, result.ImbalanceFactor)
}

func TestBalanceAnalyzerFractionalMeanFloorsEpsilonAtOne(t *testing.T) {
	tree := NewCallTree(ContextFree, Both)
	rankSeen := map[int64]bool{}
	tree.insert([]ResolvedFrame{frame("A")}, 0, 0, rankSeen)
	tree.insert([]ResolvedFrame{frame("B")}, 1, 1, rankSeen)

	analyzer := NewBalanceAnalyzer()
	result := analyzer.Analyze(tree)

	// mean = 0.5, which is < 1: epsilon must floor at 1 rather than
	// dividing by the sub-1 mean itself.
	assert.Equal(t, 0.5, result.Mean)
	assert.InDelta(t, 1.0, result.ImbalanceFactor, 1e-9)
}
