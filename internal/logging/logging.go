// Package logging configures the zerolog loggers used across pukpuk.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Filename is the log file kept in the output directory.
const Filename = "pukpuk.log"

// Console returns a logger writing human readable lines to w at the given
// level ("debug", "info" or "quiet").
func Console(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(consoleWriter(w, level)).Level(parseLevel(level)).With().Timestamp().Logger()
}

// WithFile returns a logger writing to w and, as JSON lines, to
// <outputDir>/pukpuk.log. The file stays at debug level regardless of the
// console level. Close the returned file when done.
func WithFile(w io.Writer, level, outputDir string) (zerolog.Logger, *os.File, error) {
	f, err := os.OpenFile(filepath.Join(outputDir, Filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	console := zerolog.LevelWriterAdapter{Writer: consoleWriter(w, level)}
	multi := zerolog.MultiLevelWriter(
		&levelFilter{LevelWriter: console, min: parseLevel(level)},
		f,
	)
	return zerolog.New(multi).Level(zerolog.DebugLevel).With().Timestamp().Logger(), f, nil
}

func consoleWriter(w io.Writer, level string) io.Writer {
	if level == "quiet" {
		return io.Discard
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "quiet":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}

// levelFilter drops events below min for one branch of a MultiLevelWriter.
type levelFilter struct {
	zerolog.LevelWriter
	min zerolog.Level
}

func (f *levelFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < f.min {
		return len(p), nil
	}
	return f.LevelWriter.WriteLevel(level, p)
}
