package perflow

import (
	"os"
	"strconv"
	"strings"
)

// TimerSource selects which OS interrupt source the Sampler arms to
// drive periodic sampling (spec §4.4).
type TimerSource int

const (
	// Auto prefers HardwareCounter, falling back to
	// MonotonicClockTimer (silently on success, with a one-line notice
	// on fallback) if the hardware counter cannot be opened or armed.
	Auto TimerSource = iota
	// HardwareCounter arms an overflow-triggered performance counter.
	HardwareCounter
	// MonotonicClockTimer arms a periodic monotonic timer.
	MonotonicClockTimer
)

func (t TimerSource) String() string {
	switch t {
	case HardwareCounter:
		return "cycle"
	case MonotonicClockTimer:
		return "timer"
	default:
		return "auto"
	}
}

// Defaults for Config fields, per spec §4.4.
const (
	DefaultFrequencyHz    = 1000
	DefaultMaxStackDepth  = MaxStackDepth
	DefaultOutputDir      = "."
	DefaultFilenameStem   = "perflow"
	DefaultCounterDropCap = DefaultCounterTableCapacity
)

// Config holds the Sampler's tunable parameters, all of which default
// to sensible values and may be overridden by environment variables at
// Init time (spec §4.4/§4.9). The environment variable names below may
// be given a project-chosen prefix via LoadConfig's prefix argument
// (spec §6).
type Config struct {
	FrequencyHz        int
	MaxStackDepth       int
	OutputDir           string
	OutputFilenameStem  string
	CompressOutput      bool
	TimerSource         TimerSource
	EnableUnwinding     bool
	CounterTableCapacity int
	Debug               bool
}

// DefaultConfig returns a Config populated with spec-mandated defaults
// and no environment overrides applied.
func DefaultConfig() Config {
	return Config{
		FrequencyHz:          DefaultFrequencyHz,
		MaxStackDepth:        DefaultMaxStackDepth,
		OutputDir:            DefaultOutputDir,
		OutputFilenameStem:   DefaultFilenameStem,
		CompressOutput:       false,
		TimerSource:          Auto,
		EnableUnwinding:      true,
		CounterTableCapacity: DefaultCounterDropCap,
	}
}

// LoadConfig returns DefaultConfig with any recognized environment
// variables applied on top. prefix, if non-empty, is prepended to each
// variable name (e.g. prefix "PERFLOW_" recognizes "PERFLOW_FREQUENCY").
// Unrecognized or malformed values fall back to the default silently,
// except that a debug-mode log line is emitted when DEBUG is set,
// matching spec §4.4.
func LoadConfig(prefix string) Config {
	cfg := DefaultConfig()

	cfg.Debug = envBool(prefix+"DEBUG", false)
	SetDebug(cfg.Debug)

	if v, ok := envInt(prefix + "FREQUENCY"); ok && v > 0 {
		cfg.FrequencyHz = v
	} else if raw := os.Getenv(prefix + "FREQUENCY"); raw != "" {
		logDebugOverrideIgnored(prefix+"FREQUENCY", raw)
	}

	if v := os.Getenv(prefix + "OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}

	if v, ok := envInt(prefix + "MAX_STACK_DEPTH"); ok && v > 0 && v <= MaxStackDepth {
		cfg.MaxStackDepth = v
	} else if raw := os.Getenv(prefix + "MAX_STACK_DEPTH"); raw != "" {
		logDebugOverrideIgnored(prefix+"MAX_STACK_DEPTH", raw)
	}

	cfg.CompressOutput = envBool(prefix+"ENABLE_COMPRESSION", cfg.CompressOutput)

	if v := os.Getenv(prefix + "TIMER_METHOD"); v != "" {
		switch strings.ToLower(v) {
		case "auto":
			cfg.TimerSource = Auto
		case "cycle":
			cfg.TimerSource = HardwareCounter
		case "timer":
			cfg.TimerSource = MonotonicClockTimer
		default:
			logDebugOverrideIgnored(prefix+"TIMER_METHOD", v)
		}
	}

	return cfg
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(name string, def bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logDebugOverrideIgnored(name, raw)
		return def
	}
	return v
}

func logDebugOverrideIgnored(name, raw string) {
	logger.Debug().Str("var", name).Str("value", raw).Msg("ignoring unrecognized environment override")
}
