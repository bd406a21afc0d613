package perflow

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressResolverResolveStack(t *testing.T) {
	m, err := ParseMemoryMap(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	set := NewMemoryMapSet()
	id := uuid.New()
	set.Put(id, m)

	resolver := NewAddressResolver(set)
	s := stackOf(0x400100, 0xdeadbeef)
	frames := resolver.ResolveStack(&s, id)

	require.Len(t, frames, 2)
	assert.Equal(t, "/usr/bin/app", frames[0].Library)
	assert.Equal(t, uintptr(0x400100), frames[0].Offset)

	assert.Equal(t, unresolvedLibrary, frames[1].Library)
	assert.Equal(t, uintptr(0xdeadbeef), frames[1].Offset)
}

func TestAddressResolverUnknownMapID(t *testing.T) {
	set := NewMemoryMapSet()
	resolver := NewAddressResolver(set)
	s := stackOf(0x1)
	frames := resolver.ResolveStack(&s, uuid.New())
	require.Len(t, frames, 1)
	assert.Equal(t, unresolvedLibrary, frames[0].Library)
}
