package perflow

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMaps = `00400000-00401000 r-xp 00000000 08:01 123456 /usr/bin/app
00601000-00602000 rw-p 00001000 08:01 123456 /usr/bin/app
7f0000000000-7f0000021000 r-xp 00000000 08:01 654321 /usr/lib/libc.so
7ffd00000000-7ffd00021000 rwxp 00000000 00:00 0 [stack]
7f1000000000-7f1000010000 rw-p 00000000 00:00 0
`

func TestParseMemoryMapKeepsOnlyExecutable(t *testing.T) {
	m, err := ParseMemoryMap(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	regions := m.Regions()
	require.Len(t, regions, 3)
	assert.Equal(t, "/usr/bin/app", regions[0].Name)
	assert.Equal(t, "/usr/lib/libc.so", regions[1].Name)
	assert.Equal(t, "[stack]", regions[2].Name)
}

func TestMemoryMapResolveStaticBase(t *testing.T) {
	m, err := ParseMemoryMap(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	name, offset, ok := m.Resolve(0x400100)
	require.True(t, ok)
	assert.Equal(t, "/usr/bin/app", name)
	assert.Equal(t, uintptr(0x400100), offset) // static base: offset == addr
}

func TestMemoryMapResolveDynamicBase(t *testing.T) {
	m, err := ParseMemoryMap(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	name, offset, ok := m.Resolve(0x7f0000000100)
	require.True(t, ok)
	assert.Equal(t, "/usr/lib/libc.so", name)
	assert.Equal(t, uintptr(0x100), offset)
}

func TestMemoryMapResolveMiss(t *testing.T) {
	m := NewMemoryMap()
	_, _, ok := m.Resolve(0xdeadbeef)
	assert.False(t, ok)
}

func TestMemoryMapSet(t *testing.T) {
	set := NewMemoryMapSet()
	id := uuid.New()
	m, err := ParseMemoryMap(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	set.Put(id, m)
	got, ok := set.Get(id)
	require.True(t, ok)
	assert.Same(t, m, got)

	_, ok = set.Get(uuid.New())
	assert.False(t, ok)
}

func TestParseMemoryMapRejectsMalformedRange(t *testing.T) {
	_, err := ParseMemoryMap(strings.NewReader("not-a-range r-xp 0 00:00 0 /bin/x\n"))
	require.Error(t, err)
	assert.Equal(t, InvalidFormat, KindOf(err))
}
