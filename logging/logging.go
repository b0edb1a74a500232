// Package logging wraps a process-wide zerolog logger with the leveled, printf-style helpers
// used throughout sheetsync.
//
// The default output is a console writer on stderr, which suits a CLI that is mostly run from
// cron or a CI job. Set Format to "json" for machine readable logs.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type Config struct {
	// Level is the minimum level: debug, info, warn, error. Defaults to info.
	Level string

	// Format is either "console" (default) or "json".
	Format string

	// Output defaults to os.Stderr.
	Output io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
		Output: os.Stderr,
	}
}

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

func init() {
	initLogger(DefaultConfig())
}

// Init reconfigures the global logger. Safe to call more than once.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	initLogger(cfg)
}

func initLogger(cfg Config) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}

	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	output := cfg.Output
	if !strings.EqualFold(cfg.Format, "json") {
		output = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: "2006-01-02 15:04:05",
			NoColor:    true,
		}
	}

	log = zerolog.New(output).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func Debugf(format string, args ...any) {
	emit(zerolog.DebugLevel, format, args...)
}

func Infof(format string, args ...any) {
	emit(zerolog.InfoLevel, format, args...)
}

func Warnf(format string, args ...any) {
	emit(zerolog.WarnLevel, format, args...)
}

func Errorf(format string, args ...any) {
	emit(zerolog.ErrorLevel, format, args...)
}

func emit(level zerolog.Level, format string, args ...any) {
	mu.RLock()
	l := log
	mu.RUnlock()

	l.WithLevel(level).Msg(fmt.Sprintf(format, args...))
}
