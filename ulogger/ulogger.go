// Package ulogger is the logging seam used by every long-lived component.
package ulogger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	SetLogLevel(level string)
	New(service string) Logger
}

type Options struct {
	writer   io.Writer
	logLevel string
	pretty   bool
}

type Option func(*Options)

func DefaultOptions() *Options {
	return &Options{
		writer:   os.Stdout,
		logLevel: "INFO",
		pretty:   true,
	}
}

func WithWriter(w io.Writer) Option {
	return func(o *Options) {
		o.writer = w
	}
}

func WithLevel(level string) Option {
	return func(o *Options) {
		o.logLevel = level
	}
}

// WithJSON switches from the console format to one JSON object per line.
func WithJSON() Option {
	return func(o *Options) {
		o.pretty = false
	}
}

// ZLoggerWrapper adapts a zerolog.Logger to Logger.
type ZLoggerWrapper struct {
	zerolog.Logger
	service string
	writer  io.Writer
}

func New(service string, options ...Option) *ZLoggerWrapper {
	opts := DefaultOptions()
	for _, o := range options {
		o(opts)
	}

	w := opts.writer
	if opts.pretty {
		w = zerolog.ConsoleWriter{Out: opts.writer, TimeFormat: time.TimeOnly}
	}

	z := &ZLoggerWrapper{
		Logger:  zerolog.New(w).With().Timestamp().Str("service", service).Logger(),
		service: service,
		writer:  w,
	}
	z.SetLogLevel(opts.logLevel)
	return z
}

// New returns a logger for a sub-service that shares this logger's output
// and level.
func (z *ZLoggerWrapper) New(service string) Logger {
	return &ZLoggerWrapper{
		Logger:  zerolog.New(z.writer).With().Timestamp().Str("service", service).Logger().Level(z.Logger.GetLevel()),
		service: service,
		writer:  z.writer,
	}
}

func (z *ZLoggerWrapper) SetLogLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		z.Logger = z.Logger.Level(zerolog.DebugLevel)
	case "WARN":
		z.Logger = z.Logger.Level(zerolog.WarnLevel)
	case "ERROR":
		z.Logger = z.Logger.Level(zerolog.ErrorLevel)
	default:
		z.Logger = z.Logger.Level(zerolog.InfoLevel)
	}
}

func (z *ZLoggerWrapper) Debugf(format string, args ...interface{}) {
	z.Logger.Debug().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Infof(format string, args ...interface{}) {
	z.Logger.Info().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Warnf(format string, args ...interface{}) {
	z.Logger.Warn().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Errorf(format string, args ...interface{}) {
	z.Logger.Error().Msgf(format, args...)
}

// TestLogger discards everything.
type TestLogger struct{}

func (TestLogger) Debugf(string, ...interface{}) {}
func (TestLogger) Infof(string, ...interface{})  {}
func (TestLogger) Warnf(string, ...interface{})  {}
func (TestLogger) Errorf(string, ...interface{}) {}
func (TestLogger) SetLogLevel(string)            {}
func (l TestLogger) New(string) Logger           { return l }
