package instrument

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/instrumentkit/instrument-core/internal/iprop"
	"github.com/instrumentkit/instrument-core/internal/transport"
)

// Driver is the root owner of an instrument tree. It holds the transport,
// the tree-wide operation lock and the event hub, and acts as the default
// backend for every owner below it.
type Driver struct {
	Base

	name   string
	tr     transport.Transport
	lock   *iprop.Lock
	hub    *Hub
	logger Logger

	stateMu        sync.RWMutex
	cachingAllowed bool
	autoOpen       bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger for the driver tree.
func WithLogger(logger Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithCachingAllowed sets the tree-wide caching permission. Caching is
// allowed by default; a driver for an instrument whose state drifts
// behind its front panel starts with caching off.
func WithCachingAllowed(allowed bool) Option {
	return func(d *Driver) { d.cachingAllowed = allowed }
}

// WithAutoOpen makes the first property access open the connection
// instead of failing when the driver was never opened explicitly.
func WithAutoOpen(auto bool) Option {
	return func(d *Driver) { d.autoOpen = auto }
}

// NewDriver creates a driver rooted on the given transport.
func NewDriver(name string, tr transport.Transport, opts ...Option) *Driver {
	d := &Driver{
		name:           name,
		tr:             tr,
		lock:           iprop.NewLock(),
		hub:            NewHub(),
		logger:         noopLogger{},
		cachingAllowed: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.Base = newBase("", d, d)
	return d
}

// Name returns the driver name.
func (d *Driver) Name() string { return d.name }

// Events returns the driver's property event hub.
func (d *Driver) Events() *Hub { return d.hub }

// Open establishes the transport connection.
func (d *Driver) Open(ctx context.Context) error {
	if err := d.tr.Open(ctx); err != nil {
		return fmt.Errorf("%w: opening %s: %v", iprop.ErrCommunication, d.name, err)
	}
	d.logger.Info("instrument connected", "driver", d.name)
	return nil
}

// Close tears the transport connection down.
func (d *Driver) Close(ctx context.Context) error {
	if err := d.tr.Close(ctx); err != nil {
		return fmt.Errorf("closing %s: %w", d.name, err)
	}
	d.logger.Info("instrument disconnected", "driver", d.name)
	return nil
}

// Connected reports whether the transport is open.
func (d *Driver) Connected() bool { return d.tr.Connected() }

// CheckConnection verifies the connection with an instrument round-trip.
// Returns nil when the instrument answers and reports no pending error.
func (d *Driver) CheckConnection(ctx context.Context) error {
	if !d.tr.Connected() {
		return fmt.Errorf("%w: %s is not connected", iprop.ErrCommunication, d.name)
	}
	return d.checkOperation(ctx)
}

// CachingAllowed reports the tree-wide caching permission.
func (d *Driver) CachingAllowed() bool {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.cachingAllowed
}

// SetCachingAllowed flips the tree-wide caching permission. Existing
// cache entries are kept; they become visible again when caching is
// re-allowed.
func (d *Driver) SetCachingAllowed(allowed bool) {
	d.stateMu.Lock()
	d.cachingAllowed = allowed
	d.stateMu.Unlock()
}

// defaultGet implements the root backend: one query round-trip, with
// transport failures classified for the retry machinery.
func (d *Driver) defaultGet(ctx context.Context, cmd string) (string, error) {
	if err := d.ensureOpen(ctx); err != nil {
		return "", err
	}
	resp, err := d.tr.Query(ctx, cmd)
	if err != nil {
		return "", d.classify("query", cmd, err)
	}
	return resp, nil
}

// defaultSet implements the root backend: format the command with the
// encoded value and transmit it.
func (d *Driver) defaultSet(ctx context.Context, cmd, value string) error {
	if err := d.ensureOpen(ctx); err != nil {
		return err
	}
	line := cmd
	if strings.Contains(cmd, "%s") {
		line = strings.ReplaceAll(cmd, "%s", value)
	} else if value != "" {
		line = cmd + " " + value
	}
	if err := d.tr.Send(ctx, line); err != nil {
		return d.classify("send", line, err)
	}
	return nil
}

func (d *Driver) checkOperation(ctx context.Context) error {
	msg, err := d.tr.CheckOperation(ctx)
	if err != nil {
		return d.classify("operation check", "", err)
	}
	if msg != "" {
		return fmt.Errorf("%w: %s reported %q", iprop.ErrInstrument, d.name, msg)
	}
	return nil
}

func (d *Driver) reopen(ctx context.Context) error {
	d.logger.Warn("reopening instrument connection", "driver", d.name)
	if err := d.tr.Reopen(ctx); err != nil {
		return fmt.Errorf("%w: reopening %s: %v", iprop.ErrCommunication, d.name, err)
	}
	return nil
}

func (d *Driver) ensureOpen(ctx context.Context) error {
	if d.tr.Connected() {
		return nil
	}

	d.stateMu.RLock()
	auto := d.autoOpen
	d.stateMu.RUnlock()
	if !auto {
		return fmt.Errorf("%w: %s is not connected", iprop.ErrCommunication, d.name)
	}
	return d.Open(ctx)
}

// classify maps transport failures onto the communication error class so
// the retry machinery recognises them. Context cancellation and already
// classified errors pass through untouched.
func (d *Driver) classify(op, detail string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, iprop.ErrCommunication), errors.Is(err, iprop.ErrInstrument):
		return err
	}
	if detail != "" {
		return fmt.Errorf("%w: %s %s %q: %v", iprop.ErrCommunication, d.name, op, detail, err)
	}
	return fmt.Errorf("%w: %s %s: %v", iprop.ErrCommunication, d.name, op, err)
}
