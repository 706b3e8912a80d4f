package obs

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	logger   = newLogger(os.Stdout, zerolog.InfoLevel, "json")
)

// Logger returns the shared structured logger used across the service.
func Logger() *zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	l := logger
	return &l
}

// Configure rebuilds the shared logger. level is a zerolog level name; format is
// "json" or "console".
func Configure(level, format string) error {
	lvl := zerolog.InfoLevel
	if strings.TrimSpace(level) != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return err
		}
		lvl = parsed
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = newLogger(os.Stdout, lvl, format)
	return nil
}

// SetOutput redirects the shared logger, keeping its level. Tests use it to capture
// log lines.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = newLogger(w, logger.GetLevel(), "json")
}

func newLogger(w io.Writer, level zerolog.Level, format string) zerolog.Logger {
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(zerolog.SyncWriter(w)).Level(level).With().Timestamp().Logger()
}

// LogRequest emits one access log line with common HTTP fields.
func LogRequest(entry map[string]any) {
	Logger().Info().Fields(entry).Msg("request_complete")
}
