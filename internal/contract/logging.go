package contract

import (
	"io"

	"github.com/rs/zerolog"
)

// NewLogger builds the pipeline logger. Console output is the default; json
// selects one JSON object per line for log shippers.
func NewLogger(w io.Writer, level zerolog.Level, json bool) zerolog.Logger {
	if !json {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
