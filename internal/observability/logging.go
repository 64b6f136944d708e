package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	// Sub-second timestamps so liquidation audit logs can be ordered
	// against the price updates that triggered them.
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// NewLogger returns a JSON logger tagged with the component name.
// The level comes from LIQ_LOG_LEVEL; anything unparseable falls back
// to info rather than failing startup.
func NewLogger(component string) zerolog.Logger {
	level, err := zerolog.ParseLevel(os.Getenv("LIQ_LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
