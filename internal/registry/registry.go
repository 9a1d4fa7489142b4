// Package registry maps instrument names to driver factories and hands
// out live driver instances.
//
// Drivers are memoized per (name, connection info): asking twice for the
// same instrument over the same connection yields the same *Driver, so
// its operation lock, cache and channel instances are shared by all
// callers. Factories that fail to register are remembered as loading
// errors for diagnosis instead of being silently dropped.
package registry

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/instrumentkit/instrument-core/internal/instrument"
	"github.com/instrumentkit/instrument-core/internal/transport"
)

// Logger defines the logging interface used by the Registry.
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

// ConnectionInfo identifies one instrument connection.
type ConnectionInfo struct {
	// Transport selects the wire implementation: "tcp", "mqtt" or "sim".
	Transport string `yaml:"transport"`

	// Address is the host:port for tcp, or the broker host:port for mqtt.
	Address string `yaml:"address"`

	// BaseTopic is the instrument's topic prefix for mqtt.
	BaseTopic string `yaml:"base_topic"`
}

// Key returns the canonical memoization key for this connection.
func (c ConnectionInfo) Key() string {
	return c.Transport + "|" + c.Address + "|" + c.BaseTopic
}

// Factory builds a driver on the given transport. The options carry the
// registry-wide driver configuration (caching permission, auto-open,
// logger) and should be passed through to instrument.NewDriver.
type Factory func(name string, tr transport.Transport, opts ...instrument.Option) (*instrument.Driver, error)

// Registry holds driver factories and memoized driver instances.
//
// All public methods are thread-safe.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	loadErrs  map[string]error
	instances map[string]*instrument.Driver
	logger    Logger

	driverOpts []instrument.Option
}

// New creates an empty registry. The driver options are applied to every
// driver the registry constructs (caching permission, auto-open, logger).
func New(driverOpts ...instrument.Option) *Registry {
	return &Registry{
		factories:  make(map[string]Factory),
		loadErrs:   make(map[string]error),
		instances:  make(map[string]*instrument.Driver),
		logger:     noopLogger{},
		driverOpts: driverOpts,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Register adds a named driver factory.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("registry: name and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("registry: driver %q already registered", name)
	}
	r.factories[name] = f
	delete(r.loadErrs, name)
	return nil
}

// RecordLoadingError remembers why a driver could not be registered. The
// name stays listed as broken until a successful Register for it.
func (r *Registry) RecordLoadingError(name string, err error) {
	r.mu.Lock()
	r.loadErrs[name] = err
	logger := r.logger
	r.mu.Unlock()
	logger.Warn("driver failed to load", "driver", name, "error", err)
}

// ListDrivers returns the registered driver names, sorted.
func (r *Registry) ListDrivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadingErrors returns the recorded per-driver loading failures.
func (r *Registry) LoadingErrors() map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]error, len(r.loadErrs))
	for name, err := range r.loadErrs {
		out[name] = err
	}
	return out
}

// FormatLoadingErrors renders the loading failures one per line, sorted
// by driver name. Returns "" when every driver loaded.
func (r *Registry) FormatLoadingErrors() string {
	errs := r.LoadingErrors()
	if len(errs) == 0 {
		return ""
	}
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, "%s: %v\n", name, errs[name])
	}
	return sb.String()
}

// GetDriver returns the driver for a registered name over the given
// connection, building it on first use. Identical connection info yields
// the identical driver instance while the registry lives.
func (r *Registry) GetDriver(name string, conn ConnectionInfo) (*instrument.Driver, error) {
	key := name + "@" + conn.Key()

	r.mu.RLock()
	if d, ok := r.instances[key]; ok {
		r.mu.RUnlock()
		return d, nil
	}
	factory, ok := r.factories[name]
	loadErr, broken := r.loadErrs[name]
	r.mu.RUnlock()

	if !ok {
		if broken {
			return nil, fmt.Errorf("registry: driver %q failed to load: %w", name, loadErr)
		}
		return nil, fmt.Errorf("registry: unknown driver %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.instances[key]; ok {
		return d, nil
	}

	tr, err := buildTransport(conn)
	if err != nil {
		return nil, fmt.Errorf("registry: connection for %q: %w", name, err)
	}
	d, err := factory(name, tr, r.driverOpts...)
	if err != nil {
		return nil, fmt.Errorf("registry: building driver %q: %w", name, err)
	}

	r.instances[key] = d
	r.logger.Info("driver instantiated", "driver", name, "connection", conn.Key())
	return d, nil
}

// Instances returns every live driver, sorted by name for stable output.
func (r *Registry) Instances() []*instrument.Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.instances))
	for key := range r.instances {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	drivers := make([]*instrument.Driver, 0, len(keys))
	for _, key := range keys {
		drivers = append(drivers, r.instances[key])
	}
	return drivers
}

// Instance returns the live driver with the given name, if any.
func (r *Registry) Instance(name string) (*instrument.Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key, d := range r.instances {
		if strings.HasPrefix(key, name+"@") {
			return d, true
		}
	}
	return nil, false
}

// CloseAll disconnects every live driver. The first error is returned;
// remaining drivers are still closed.
func (r *Registry) CloseAll(ctx context.Context) error {
	var firstErr error
	for _, d := range r.Instances() {
		if !d.Connected() {
			continue
		}
		if err := d.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildTransport constructs the wire layer described by the connection
// info.
func buildTransport(conn ConnectionInfo) (transport.Transport, error) {
	switch conn.Transport {
	case "tcp":
		if conn.Address == "" {
			return nil, fmt.Errorf("tcp connection needs an address")
		}
		return transport.NewTCP(transport.TCPConfig{Address: conn.Address}), nil

	case "mqtt":
		host, portStr, err := net.SplitHostPort(conn.Address)
		if err != nil {
			return nil, fmt.Errorf("mqtt broker address %q: %w", conn.Address, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("mqtt broker port %q: %w", portStr, err)
		}
		if conn.BaseTopic == "" {
			return nil, fmt.Errorf("mqtt connection needs a base topic")
		}
		return transport.NewMQTT(transport.MQTTConfig{
			Host:      host,
			Port:      port,
			BaseTopic: conn.BaseTopic,
		}), nil

	case "sim", "":
		return transport.NewSim(), nil

	default:
		return nil, fmt.Errorf("unknown transport %q", conn.Transport)
	}
}
