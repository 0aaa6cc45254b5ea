package config

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel maps a log.level value to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// SetupLogger creates the server logger: text to stderr and, when cfg.File
// is set, JSON to that file. The returned function closes the file.
func SetupLogger(cfg LogConfig, stderr io.Writer) (*slog.Logger, func() error) {
	level := ParseLevel(cfg.Level)
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	if cfg.File == "" {
		return slog.New(stderrHandler), func() error { return nil }
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(stderrHandler)
		logger.Error("failed to open log file, using stderr only", "error", err, "file", cfg.File)
		return logger, func() error { return nil }
	}
	return SetupLoggerWithWriters(stderr, file, level), file.Close
}

// SetupLoggerWithWriters fans records out to a text writer and a JSON writer.
func SetupLoggerWithWriters(text, jsonOut io.Writer, level slog.Level) *slog.Logger {
	textHandler := slog.NewTextHandler(text, &slog.HandlerOptions{Level: level})
	jsonHandler := slog.NewJSONHandler(jsonOut, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(textHandler, jsonHandler))
}
