package history

import (
	"context"

	"github.com/instrumentkit/instrument-core/internal/instrument"
)

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder drains a driver's event hub into a history repository.
//
// By default only programmed values (sets) are recorded; observed values
// can be included for instruments whose readings drift.
type Recorder struct {
	repo        Repository
	logger      Logger
	recordReads bool
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the logger for recording failures.
func WithRecorderLogger(logger Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReads makes the recorder persist observed values too.
func WithReads() RecorderOption {
	return func(r *Recorder) { r.recordReads = true }
}

// NewRecorder creates a recorder writing to the given repository.
func NewRecorder(repo Repository, opts ...RecorderOption) *Recorder {
	r := &Recorder{repo: repo, logger: noopLogger{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes events until the channel closes or the context is
// cancelled. Recording failures are logged and skipped; history loss must
// not stall the property pipeline.
func (r *Recorder) Run(ctx context.Context, events <-chan instrument.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if evt.Op == instrument.OpGet && !r.recordReads {
				continue
			}
			entry := Entry{
				ID:        evt.ID,
				Driver:    evt.Driver,
				Path:      evt.Path,
				Op:        string(evt.Op),
				Value:     evt.Value,
				CreatedAt: evt.At,
			}
			if err := r.repo.Record(ctx, entry); err != nil {
				r.logger.Warn("recording property history failed",
					"driver", evt.Driver, "path", evt.Path, "error", err)
			}
		}
	}
}
