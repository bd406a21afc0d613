package perflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallStackPushPopClear(t *testing.T) {
	var s CallStack
	require.Equal(t, 0, s.Depth())

	require.True(t, s.Push(0x1000))
	require.True(t, s.Push(0x2000))
	require.Equal(t, 2, s.Depth())
	assert.Equal(t, uintptr(0x1000), s.Frame(0))
	assert.Equal(t, uintptr(0x2000), s.Frame(1))

	assert.Equal(t, uintptr(0x2000), s.Pop())
	assert.Equal(t, 1, s.Depth())

	s.Clear()
	assert.Equal(t, 0, s.Depth())
}

func TestCallStackPushBeyondCapacityDrops(t *testing.T) {
	var s CallStack
	for i := 0; i < MaxStackDepth; i++ {
		require.True(t, s.Push(uintptr(i+1)))
	}
	assert.False(t, s.Push(0xdead))
	assert.Equal(t, MaxStackDepth, s.Depth())
}

func TestCallStackHashConsistency(t *testing.T) {
	var s, u CallStack
	for _, addr := range []uintptr{0x400000, 0x400100, 0x400200} {
		s.Push(addr)
		u.Push(addr)
	}
	assert.True(t, s.Equal(&u))
	assert.Equal(t, s.Hash(), u.Hash())
}

func TestCallStackHashInvalidatedByMutation(t *testing.T) {
	var s CallStack
	s.Push(0x1)
	h1 := s.Hash()
	s.Push(0x2)
	h2 := s.Hash()
	assert.NotEqual(t, h1, h2)
}

func TestCallStackEqualityIsByteWise(t *testing.T) {
	var s, u CallStack
	s.Set([]uintptr{1, 2, 3}, 3)
	u.Set([]uintptr{1, 2, 4}, 3)
	assert.False(t, s.Equal(&u))

	u.Set([]uintptr{1, 2, 3}, 3)
	assert.True(t, s.Equal(&u))
}

func TestCallStackSetTruncatesToCapacity(t *testing.T) {
	var s CallStack
	addrs := make([]uintptr, MaxStackDepth+10)
	for i := range addrs {
		addrs[i] = uintptr(i)
	}
	s.Set(addrs, len(addrs))
	assert.Equal(t, MaxStackDepth, s.Depth())
}

func TestCallStackClone(t *testing.T) {
	var s CallStack
	s.Set([]uintptr{1, 2, 3}, 3)
	c := s.Clone()
	s.Push(4)
	assert.Equal(t, 3, c.Depth())
	assert.Equal(t, 4, s.Depth())
}
