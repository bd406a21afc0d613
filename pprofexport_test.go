package perflow

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallTreeWritePprof(t *testing.T) {
	tree := NewCallTree(ContextFree, Both)
	rankSeen := map[int64]bool{}
	tree.insert([]ResolvedFrame{frame("A"), frame("B")}, 0, 10, rankSeen)

	var buf bytes.Buffer
	require.NoError(t, tree.WritePprof(&buf))
	require.NotEmpty(t, buf.Bytes())
}
