// Package logging provides structured logging for both CLI and TUI modes.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kbpicker/kb-picker/internal/constants"
)

const (
	// ModeCLI logs to stdout through a console writer.
	ModeCLI = "cli"
	// ModeTUI logs only to a rotating file so the picker screen is not corrupted.
	ModeTUI = "tui"
)

// Logger wraps zerolog with mode-specific behavior.
type Logger struct {
	zlog   zerolog.Logger
	mode   string
	output io.Writer
	file   *lumberjack.Logger
}

// FileConfig configures the rotating log file.
type FileConfig struct {
	// Path is the log file location (empty = no file logging)
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger creates a new logger for the specified mode.
func NewLogger(mode string) *Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	}
	if mode != ModeCLI {
		output.Out = os.Stderr
	}

	return &Logger{
		zlog:   zerolog.New(output).With().Timestamp().Logger(),
		mode:   mode,
		output: output,
	}
}

// NewFileLogger creates a logger that writes JSON lines to a rotating file.
// In CLI mode the console writer is kept alongside the file.
func NewFileLogger(mode string, cfg FileConfig) *Logger {
	if cfg.Path == "" {
		if mode == ModeTUI {
			return &Logger{zlog: zerolog.Nop(), mode: mode, output: io.Discard}
		}
		return NewLogger(mode)
	}

	file := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    orDefault(cfg.MaxSizeMB, constants.LogMaxSizeMB), // MB
		MaxBackups: orDefault(cfg.MaxBackups, constants.LogMaxBackups),
		MaxAge:     orDefault(cfg.MaxAgeDays, constants.LogMaxAgeDays), // days
		Compress:   true,
	}

	var output io.Writer = file
	if mode == ModeCLI {
		output = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}, file)
	}

	return &Logger{
		zlog:   zerolog.New(output).With().Timestamp().Logger(),
		mode:   mode,
		output: output,
		file:   file,
	}
}

// NewDefaultCLILogger creates a default CLI logger.
func NewDefaultCLILogger() *Logger {
	return NewLogger(ModeCLI)
}

// NewNopLogger returns a logger that discards everything. Used by tests.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop(), mode: ModeCLI, output: io.Discard}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// Mode returns "cli" or "tui".
func (l *Logger) Mode() string {
	return l.mode
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Debugf logs a debug message with printf-style formatting.
// This is only shown when debug/verbose mode is enabled.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
