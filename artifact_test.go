package perflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleTableRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rank_0.bin")

	tbl := NewCounterTable(64)
	s1 := stackOf(0x400000, 0x400100, 0x400200)
	tbl.Add(&s1, 1000)

	require.NoError(t, WriteSampleTable(path, tbl, MaxStackDepth, 1234, false))

	got, err := ReadSampleTable(path)
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, uint64(1000), got.Entries[0].Count)
	assert.Equal(t, int64(1234), got.Timestamp)
	assert.True(t, s1.Equal(&got.Entries[0].Stack))
}

func TestSampleTableRoundTripCompressed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rank_0.bin")

	tbl := NewCounterTable(64)
	s1 := stackOf(0x1, 0x2)
	tbl.Add(&s1, 42)

	require.NoError(t, WriteSampleTable(path, tbl, MaxStackDepth, 1, true))

	got, err := ReadSampleTable(path)
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, uint64(42), got.Entries[0].Count)
}

func TestSampleTableEmptyRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rank_0.bin")

	tbl := NewCounterTable(64)
	require.NoError(t, WriteSampleTable(path, tbl, MaxStackDepth, 0, false))

	got, err := ReadSampleTable(path)
	require.NoError(t, err)
	assert.Empty(t, got.Entries)
}

func TestSampleTableRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rank_0.bin")

	tbl := NewCounterTable(8)
	s := stackOf(0x1)
	tbl.Add(&s, 1)
	require.NoError(t, WriteSampleTable(path, tbl, MaxStackDepth, 0, false))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	b[0] ^= 0xff
	require.NoError(t, os.WriteFile(path, b, 0o644))

	_, err = ReadSampleTable(path)
	require.Error(t, err)
	assert.Equal(t, InvalidFormat, KindOf(err))
}

func TestSampleTableRejectsVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rank_0.bin")

	tbl := NewCounterTable(8)
	s := stackOf(0x1)
	tbl.Add(&s, 1)
	require.NoError(t, WriteSampleTable(path, tbl, MaxStackDepth, 0, false))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	// version is a little-endian uint16 right after the 4-byte magic.
	b[4] = 2
	b[5] = 0
	require.NoError(t, os.WriteFile(path, b, 0o644))

	_, err = ReadSampleTable(path)
	require.Error(t, err)
	assert.Equal(t, VersionMismatch, KindOf(err))
}

func TestSampleTableRejectsOversizedStackDepth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rank_0.bin")

	tbl := NewCounterTable(8)
	s := stackOf(0x1)
	tbl.Add(&s, 1)
	require.NoError(t, WriteSampleTable(path, tbl, 0, 0, false))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	// entry header begins right after the 64-byte file header;
	// stack_depth is its first field. Tamper it past the hard cap.
	b[64] = 0xff
	b[65] = 0xff
	b[66] = 0xff
	b[67] = 0x7f
	require.NoError(t, os.WriteFile(path, b, 0o644))

	_, err = ReadSampleTable(path)
	require.Error(t, err)
	assert.Equal(t, Integrity, KindOf(err))
}

func TestMemoryMapArtifactRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rank_0.libmap")

	m := NewMemoryMap()
	m.add(MemoryRegion{Name: "/usr/bin/app", Base: 0x400000, End: 0x401000, Executable: true})
	m.add(MemoryRegion{Name: "[stack]", Base: 0x7ffd0000, End: 0x7ffd1000, Executable: true})

	require.NoError(t, WriteMemoryMap(path, m, 3, 555))

	got, pid, err := ReadMemoryMap(path)
	require.NoError(t, err)
	assert.Equal(t, int32(3), pid)
	require.Len(t, got.Regions(), 2)
	assert.Equal(t, "/usr/bin/app", got.Regions()[0].Name)
	assert.Equal(t, "[stack]", got.Regions()[1].Name)
}

func TestArtifactPaths(t *testing.T) {
	sample, libmap, text := ArtifactPaths("/tmp/out", "myapp", 7)
	assert.Equal(t, "/tmp/out/myapp_rank_7.bin", sample)
	assert.Equal(t, "/tmp/out/myapp_rank_7.libmap", libmap)
	assert.Equal(t, "/tmp/out/myapp_rank_7.txt", text)
}
