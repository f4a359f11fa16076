// Package logging provides structured logging for the CLI and the broker.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const consoleTimeFormat = "15:04:05"

// Logger wraps zerolog with console formatting and an optional rotating file.
type Logger struct {
	zlog   zerolog.Logger
	output io.Writer // current output writer
}

// FileOptions configures rotation for file logging.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger creates a console logger writing to out.
func NewLogger(out io.Writer) *Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: consoleTimeFormat,
	}
	return &Logger{
		zlog:   zerolog.New(output).With().Timestamp().Logger(),
		output: output,
	}
}

// NewDefaultCLILogger logs to stderr; stdout is reserved for command output
// and the progress bars draw on stderr through the same writer.
func NewDefaultCLILogger() *Logger {
	return NewLogger(os.Stderr)
}

// NewJSONLogger writes one JSON object per event to out.
func NewJSONLogger(out io.Writer) *Logger {
	return &Logger{
		zlog:   zerolog.New(out).With().Timestamp().Logger(),
		output: out,
	}
}

// NewFileLogger logs to the console and, when opts.Path is set, to a
// rotating JSON file.
func NewFileLogger(console io.Writer, opts FileOptions) *Logger {
	if opts.Path == "" {
		return NewLogger(console)
	}
	rotating := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    orDefault(opts.MaxSizeMB, 50),
		MaxBackups: orDefault(opts.MaxBackups, 5),
		MaxAge:     orDefault(opts.MaxAgeDays, 28),
		Compress:   true,
	}
	out := zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: console, TimeFormat: consoleTimeFormat},
		rotating,
	)
	return &Logger{
		zlog:   zerolog.New(out).With().Timestamp().Logger(),
		output: out,
	}
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop(), output: io.Discard}
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

// Fatal returns a fatal level event.
func (l *Logger) Fatal() *zerolog.Event {
	return l.zlog.Fatal()
}

// With creates a child logger with additional context.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// Child returns a Logger carrying the fields added by fn.
func (l *Logger) Child(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zlog: fn(l.zlog.With()).Logger(), output: l.output}
}

// SetOutput redirects console output, e.g. through a progress container
// so log lines do not tear the bars.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.zlog = zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: consoleTimeFormat,
	}).With().Timestamp().Logger()
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// Debugf logs a debug message with printf-style formatting.
// This is only shown when verbose mode is enabled.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Errorf logs an error message with printf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// SetVerbose switches between debug and info output.
func SetVerbose(verbose bool) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: consoleTimeFormat,
	})
}
