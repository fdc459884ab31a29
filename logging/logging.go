// Package logging configures the structured diagnostic logger every
// other package writes through for events the interactive progress
// bar (console.Progress) isn't meant to carry: retries, promotions,
// registry recomputation, anything worth grepping after the fact.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the package-level logger every caller uses directly, set up
// once by Setup. It defaults to a plain stderr writer so a package that
// logs before Setup runs (e.g. in a test) doesn't panic on a nil writer.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Setup installs a human-readable console writer when stderr is a
// terminal and a plain JSON-lines writer otherwise, so piping debmirror's
// output into a log collector yields structured records instead of
// ANSI-colored text. levelStr is the value of --log-level ("debug",
// "info", "warn", "error" — case-insensitive, "warning" accepted as an
// alias for "warn"); an empty or unrecognized value falls back to info.
func Setup(levelStr string) zerolog.Logger {
	zerolog.SetGlobalLevel(levelFromString(levelStr))

	if isTerminal(os.Stderr) {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return Logger
}

// levelFromString parses levelStr into a zerolog.Level, defaulting to
// Info (rather than Debug) on an empty or unrecognized value: an
// unrecognized --log-level is far more likely a typo than a deliberate
// request for maximum verbosity.
func levelFromString(levelStr string) zerolog.Level {
	levelStr = strings.ToLower(levelStr)
	if levelStr == "" {
		return zerolog.InfoLevel
	}
	if levelStr == "warning" {
		levelStr = "warn"
	}

	var level zerolog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
