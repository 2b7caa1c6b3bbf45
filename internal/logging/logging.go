// Package logging настраивает структурированный логгер slog
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init создает логгер и делает его логгером по умолчанию.
// format "text" выбирает текстовый вывод, иначе JSON.
func Init(format string, level slog.Level) *slog.Logger {
	logger := New(os.Stdout, format, level)
	slog.SetDefault(logger)
	return logger
}

// New создает логгер поверх произвольного writer
func New(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel переводит строку ("debug", "info", "warn", "error") в slog.Level.
// Неизвестные значения дают LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
