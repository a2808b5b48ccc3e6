package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunLogger manages logging for a single review invocation. Progress
// messages go to the console through zerolog; when a log directory is
// configured, the same stream is mirrored into a per-run log file.
type RunLogger struct {
	log     zerolog.Logger
	runID   string
	logFile *os.File
	start   time.Time
}

// NewRunLogger initializes logging for a new review run. The returned
// logger carries a fresh run ID that also identifies the run in the
// persisted summary. logDir may be empty to disable the file mirror.
func NewRunLogger(verbose bool, logDir string) (*RunLogger, error) {
	runID := uuid.NewString()

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	writer := io.Writer(console)

	var logFile *os.File
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		logName := fmt.Sprintf("review_%s_%s.log", time.Now().Format("20060102_150405"), runID[:8])
		f, err := os.Create(filepath.Join(logDir, logName))
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		logFile = f
		writer = zerolog.MultiLevelWriter(console, f)
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(writer).Level(level).With().
		Timestamp().
		Str("run_id", runID[:8]).
		Logger()

	return &RunLogger{
		log:     logger,
		runID:   runID,
		logFile: logFile,
		start:   time.Now(),
	}, nil
}

// RunID returns the unique identifier of this run.
func (l *RunLogger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// Debug logs a verbose-only message.
func (l *RunLogger) Debug(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.log.Debug().Msgf(format, args...)
}

// Info logs a progress message.
func (l *RunLogger) Info(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.log.Info().Msgf(format, args...)
}

// Success logs a completed state transition.
func (l *RunLogger) Success(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.log.Info().Str("status", "success").Msgf(format, args...)
}

// Warn logs a non-fatal skip or retry.
func (l *RunLogger) Warn(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.log.Warn().Msgf(format, args...)
}

// Error logs a failure.
func (l *RunLogger) Error(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.log.Error().Msgf(format, args...)
}

// Close finalizes the log file, recording the total run duration.
func (l *RunLogger) Close() {
	if l == nil {
		return
	}
	l.log.Info().Msgf("Run completed in %v", time.Since(l.start).Round(time.Millisecond))
	if l.logFile != nil {
		l.logFile.Close()
		l.logFile = nil
	}
}
