// Package logging provides the shared structured-logging contract for the
// pipeline and adapts it to Watermill's logger interface so the router,
// transports and processors all log through the same sink.
package logging

import (
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields carries structured key/value pairs attached to a log line.
type LogFields map[string]any

// ServiceLogger is the logging contract used throughout the pipeline.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
}

var levelMapping = map[slog.Level]slog.Level{
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelError: slog.LevelError,
}

// NewSlogServiceLogger wraps a slog.Logger so it satisfies ServiceLogger.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("stockflow: slog logger cannot be nil")
	}
	return &watermillServiceLogger{inner: watermill.NewSlogLoggerWithLevelMapping(log, levelMapping)}
}

// NewJSONLogger returns a ServiceLogger emitting JSON lines to stdout at the
// given level. This is what the cmd binaries use.
func NewJSONLogger(level slog.Level) ServiceLogger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return NewSlogServiceLogger(slog.New(h))
}

type watermillServiceLogger struct {
	inner watermill.LoggerAdapter
}

func (w *watermillServiceLogger) With(fields LogFields) ServiceLogger {
	return &watermillServiceLogger{inner: w.inner.With(watermill.LogFields(fields))}
}

func (w *watermillServiceLogger) Debug(msg string, fields LogFields) {
	w.inner.Debug(msg, watermill.LogFields(fields))
}

func (w *watermillServiceLogger) Info(msg string, fields LogFields) {
	w.inner.Info(msg, watermill.LogFields(fields))
}

func (w *watermillServiceLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, watermill.LogFields(fields))
}

// NewWatermillAdapter converts a ServiceLogger back into a Watermill
// LoggerAdapter for the router and transport constructors.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("stockflow: ServiceLogger cannot be nil")
	}
	return &serviceLoggerAdapter{base: log}
}

type serviceLoggerAdapter struct {
	base ServiceLogger
}

func (s *serviceLoggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	s.base.Error(msg, err, LogFields(fields))
}

func (s *serviceLoggerAdapter) Info(msg string, fields watermill.LogFields) {
	s.base.Info(msg, LogFields(fields))
}

func (s *serviceLoggerAdapter) Debug(msg string, fields watermill.LogFields) {
	s.base.Debug(msg, LogFields(fields))
}

func (s *serviceLoggerAdapter) Trace(msg string, fields watermill.LogFields) {
	s.base.Debug(msg, LogFields(fields))
}

func (s *serviceLoggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &serviceLoggerAdapter{base: s.base.With(LogFields(fields))}
}
