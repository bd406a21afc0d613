package perflow

import (
	"os"

	"github.com/rs/zerolog"
)

// logger is the package-wide diagnostic sink. It writes to stderr so it
// never competes with artifact output on stdout. When PERFLOW_DEBUG is
// set in the environment at startup it uses a human-readable console
// writer at debug level; otherwise it emits compact JSON lines, one
// event per line, matching the "one-line diagnostic" requirement of
// spec §7.
var logger = newLogger()

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	var writer = zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}

	if os.Getenv("PERFLOW_DEBUG") != "" {
		level = zerolog.DebugLevel
		return zerolog.New(writer).With().Timestamp().Logger().Level(level)
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
}

// SetDebug toggles debug-level logging at runtime, used by LoadConfig
// to apply the DEBUG environment override. It changes only the level;
// the output format chosen at startup (console or JSON) is kept.
func SetDebug(enabled bool) {
	if enabled {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}
}
