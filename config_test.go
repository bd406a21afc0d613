package perflow

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultFrequencyHz, cfg.FrequencyHz)
	assert.Equal(t, MaxStackDepth, cfg.MaxStackDepth)
	assert.Equal(t, Auto, cfg.TimerSource)
	assert.False(t, cfg.CompressOutput)
}

func TestLoadConfigAppliesOverrides(t *testing.T) {
	const prefix = "TEST_PERFLOW_"
	os.Setenv(prefix+"FREQUENCY", "500")
	os.Setenv(prefix+"OUTPUT_DIR", "/tmp/out")
	os.Setenv(prefix+"ENABLE_COMPRESSION", "true")
	os.Setenv(prefix+"TIMER_METHOD", "cycle")
	defer func() {
		os.Unsetenv(prefix + "FREQUENCY")
		os.Unsetenv(prefix + "OUTPUT_DIR")
		os.Unsetenv(prefix + "ENABLE_COMPRESSION")
		os.Unsetenv(prefix + "TIMER_METHOD")
	}()

	cfg := LoadConfig(prefix)
	assert.Equal(t, 500, cfg.FrequencyHz)
	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	assert.True(t, cfg.CompressOutput)
	assert.Equal(t, HardwareCounter, cfg.TimerSource)
}

func TestLoadConfigIgnoresMalformedOverrides(t *testing.T) {
	const prefix = "TEST_PERFLOW2_"
	os.Setenv(prefix+"FREQUENCY", "not-a-number")
	os.Setenv(prefix+"MAX_STACK_DEPTH", "99999")
	defer func() {
		os.Unsetenv(prefix + "FREQUENCY")
		os.Unsetenv(prefix + "MAX_STACK_DEPTH")
	}()

	cfg := LoadConfig(prefix)
	assert.Equal(t, DefaultFrequencyHz, cfg.FrequencyHz)
	assert.Equal(t, DefaultMaxStackDepth, cfg.MaxStackDepth)
}

func TestTimerSourceString(t *testing.T) {
	assert.Equal(t, "auto", Auto.String())
	assert.Equal(t, "cycle", HardwareCounter.String())
	assert.Equal(t, "timer", MonotonicClockTimer.String())
}
