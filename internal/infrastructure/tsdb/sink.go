package tsdb

import (
	"context"
	"time"

	"github.com/instrumentkit/instrument-core/internal/instrument"
)

// Logger defines the logging interface used by the Sink.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// propertyWriter is the slice of Client the sink needs.
type propertyWriter interface {
	WritePropertyValue(driver, path, op string, value any, at time.Time)
}

// Sink forwards instrument property events to the time-series store.
//
// It consumes an event channel (typically from a driver's event hub)
// and writes every value through the client. The sink never blocks the
// event source: the client buffers and batches internally.
type Sink struct {
	w      propertyWriter
	logger Logger
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithSinkLogger sets the logger for the sink.
func WithSinkLogger(logger Logger) SinkOption {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSink creates a sink writing through the given client.
func NewSink(w propertyWriter, opts ...SinkOption) *Sink {
	s := &Sink{
		w:      w,
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run consumes events until the channel closes or the context is
// cancelled. It is intended to be run as a goroutine.
func (s *Sink) Run(ctx context.Context, events <-chan instrument.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.w.WritePropertyValue(ev.Driver, ev.Path, string(ev.Op), ev.Value, ev.At)
			s.logger.Debug("property value written",
				"driver", ev.Driver, "path", ev.Path, "op", ev.Op)
		}
	}
}
