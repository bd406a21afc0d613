package perflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stackOf(addrs ...uintptr) CallStack {
	var s CallStack
	s.Set(addrs, len(addrs))
	return s
}

func TestCounterTableIncrementAndFind(t *testing.T) {
	tbl := NewCounterTable(16)
	key := stackOf(0x1, 0x2, 0x3)

	require.True(t, tbl.Increment(&key))
	require.True(t, tbl.Increment(&key))
	require.True(t, tbl.Increment(&key))

	count, ok := tbl.Find(&key)
	require.True(t, ok)
	assert.Equal(t, uint64(3), count)
	assert.Equal(t, uint64(1), tbl.Size())
}

func TestCounterTableSumEqualsIncrementCalls(t *testing.T) {
	tbl := NewCounterTable(64)
	keys := []CallStack{
		stackOf(0x1),
		stackOf(0x2),
		stackOf(0x3),
	}

	calls := 0
	for i, k := range keys {
		for j := 0; j <= i; j++ {
			kk := k
			require.True(t, tbl.Increment(&kk))
			calls++
		}
	}

	var sum uint64
	tbl.ForEach(func(stack *CallStack, count uint64) {
		sum += count
	})
	assert.Equal(t, uint64(calls), sum)
}

func TestCounterTableEraseRemovesEntry(t *testing.T) {
	tbl := NewCounterTable(16)
	key := stackOf(0xA, 0xB)
	tbl.Increment(&key)

	require.True(t, tbl.Erase(&key))
	_, ok := tbl.Find(&key)
	assert.False(t, ok)
}

func TestCounterTableDropsSampleWhenFull(t *testing.T) {
	tbl := NewCounterTable(4)

	for i := 0; i < 4; i++ {
		k := stackOf(uintptr(i + 1))
		require.True(t, tbl.Increment(&k))
	}

	fifth := stackOf(0x99)
	first := stackOf(0x1)
	before, _ := tbl.Find(&first)
	ok := tbl.Increment(&fifth)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), tbl.Dropped())

	after, _ := tbl.Find(&first)
	assert.Equal(t, before, after)
}

func TestCounterTableTombstoneReused(t *testing.T) {
	tbl := NewCounterTable(4)
	a := stackOf(0x1)
	b := stackOf(0x2)
	tbl.Increment(&a)
	tbl.Increment(&b)
	tbl.Erase(&a)

	c := stackOf(0x3)
	require.True(t, tbl.Increment(&c))
	_, ok := tbl.Find(&c)
	assert.True(t, ok)
}

func TestCounterTableClear(t *testing.T) {
	tbl := NewCounterTable(16)
	k := stackOf(0x1)
	tbl.Increment(&k)
	tbl.Clear()
	assert.Equal(t, uint64(0), tbl.Size())
	_, ok := tbl.Find(&k)
	assert.False(t, ok)
}
