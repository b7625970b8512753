// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Formats accepted by Configure.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Configure returns a logger writing to w at the given level. An unknown
// level falls back to error and is reported on the returned logger.
func Configure(level, format string, w io.Writer) (zerolog.Logger, error) {
	switch strings.ToLower(format) {
	case "", FormatText:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case FormatJSON:
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q (want %s or %s)", format, FormatText, FormatJSON)
	}

	lvl, levelErr := ParseLevel(level)
	ctx := zerolog.New(w).With().Timestamp()
	if lvl <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	logger := ctx.Logger().Level(lvl)

	if levelErr != nil {
		logger.Error().Err(levelErr).Str("logLevel", level).Msg("Invalid log level provided. Defaulting to error level.")
	}
	return logger, nil
}

// ParseLevel converts a level name to a zerolog level. Empty means error.
func ParseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.ErrorLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.ErrorLevel, err
	}
	if lvl == zerolog.NoLevel {
		return zerolog.ErrorLevel, fmt.Errorf("unknown level %q", level)
	}
	return lvl, nil
}
