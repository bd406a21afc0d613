package perflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplerLifecycleStateErrors(t *testing.T) {
	s := NewSampler()

	err := s.Stop()
	require.Error(t, err)
	assert.Equal(t, StateError, KindOf(err))

	err = s.Finalize()
	require.NoError(t, err) // finalize is idempotent from any state

	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	require.NoError(t, s.Init(cfg))

	err = s.Init(cfg)
	require.Error(t, err)
	assert.Equal(t, StateError, KindOf(err))
}

func TestSamplerEmptyRun(t *testing.T) {
	s := NewSampler()
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.OutputFilenameStem = "test"

	require.NoError(t, s.Init(cfg))
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Finalize())

	assert.Equal(t, uint64(0), s.SampleCount())

	samplePath, libmapPath, _ := ArtifactPaths(cfg.OutputDir, cfg.OutputFilenameStem, -1)
	got, err := ReadSampleTable(samplePath)
	require.NoError(t, err)
	assert.Empty(t, got.Entries)

	_, _, err = ReadMemoryMap(libmapPath)
	require.NoError(t, err)
}

func TestSamplerStartStopRestart(t *testing.T) {
	s := NewSampler()
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()

	require.NoError(t, s.Init(cfg))
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Finalize())
}
