// Package monitoring provides the structured logging and progress
// observation ambient stack shared by the Runner and Post-processor: a
// zerolog-backed Logger with per-subject/per-worker child loggers, and an
// ObserverManager that fans a montage run's progress out to zero or more
// sinks (a log sink always, a websocket sink optionally).
package monitoring

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with the method surface the Runner and
// Post-processor use to report montage-run events. It never writes to
// stdout/stderr in production use (spec §4.7); callers construct it with
// a file writer via NewFileLogger.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger wraps an existing zerolog.Logger.
func NewLogger(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

// NewFileLogger opens (creating parent directories as needed) a log file
// at path and returns a Logger writing leveled, structured lines to it.
// debug raises the level to zerolog.DebugLevel; otherwise zerolog.InfoLevel,
// matching the CLI contract's "--debug controls log verbosity only".
func NewFileLogger(path string, debug bool) (*Logger, io.Closer, error) {
	f, err := openLogFile(path)
	if err != nil {
		return nil, nil, err
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(f).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl}, f, nil
}

// NewDiscardLogger returns a Logger that drops everything, for callers
// (tests, dry runs) that don't want a log file on disk.
func NewDiscardLogger() *Logger {
	return &Logger{zl: zerolog.New(io.Discard)}
}

// WithSubject returns a child logger carrying the subject field, the way
// the original's per-subject log files are named.
func (l *Logger) WithSubject(subject string) *Logger {
	return &Logger{zl: l.zl.With().Str("subject", subject).Logger()}
}

// WithMontage returns a child logger carrying the montage field.
func (l *Logger) WithMontage(montage string) *Logger {
	return &Logger{zl: l.zl.With().Str("montage", montage).Logger()}
}

// WithWorker returns a child logger carrying the worker index, the way a
// parallel-mode worker's private log file tags every line.
func (l *Logger) WithWorker(index int) *Logger {
	return &Logger{zl: l.zl.With().Int("worker", index).Logger()}
}

func (l *Logger) MontageStarted(montage string) {
	l.zl.Info().Str("montage", montage).Msg("montage started")
}

func (l *Logger) MontageCompleted(montage string) {
	l.zl.Info().Str("montage", montage).Msg("montage completed")
}

func (l *Logger) MontageFailed(montage string, err error) {
	l.zl.Error().Str("montage", montage).Err(err).Msg("montage failed")
}

func (l *Logger) MontageSkipped(montage, reason string) {
	l.zl.Warn().Str("montage", montage).Str("reason", reason).Msg("montage skipped")
}

func (l *Logger) StepFailed(montage, step string, err error) {
	l.zl.Warn().Str("montage", montage).Str("step", step).Err(err).Msg("step failed")
}

func (l *Logger) Info(msg string)  { l.zl.Info().Msg(msg) }
func (l *Logger) Debug(msg string) { l.zl.Debug().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zl.Warn().Msg(msg) }
func (l *Logger) Error(msg string, err error) {
	l.zl.Error().Err(err).Msg(msg)
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
}
