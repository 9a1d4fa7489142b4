package instrument

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/instrumentkit/instrument-core/internal/iprop"
)

// Logger defines the logging interface used by the instrument tree.
// This allows different logging implementations to be used.
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

// backend carries transport traffic for an owner. The driver is the root
// backend; channel owners wrap it to rewrite commands for their id.
type backend interface {
	defaultGet(ctx context.Context, cmd string) (string, error)
	defaultSet(ctx context.Context, cmd, value string) error
	checkOperation(ctx context.Context) error
	reopen(ctx context.Context) error
}

// RangeResolver produces a validator from current instrument state, for
// example by querying a programmable limit. Resolvers run with the
// operation lock held and may read other properties on the host.
type RangeResolver func(ctx context.Context, h iprop.Host) (iprop.Validator, error)

// Base is one owner in the driver tree: a table of properties plus the
// per-owner runtime state the property pipeline consumes (value cache,
// hook patches, resolved validators) and the child owners below it.
//
// Base implements iprop.Host. All public methods are thread-safe.
type Base struct {
	path    string
	drv     *Driver
	backend backend

	mu       sync.RWMutex
	props    map[string]*iprop.Property
	order    []string
	cache    map[string]any
	caching  map[string]bool // per-property overrides of the declared default
	patches  map[string]iprop.Hooks
	ranges   map[string]RangeResolver
	rngCache map[string]iprop.Validator

	subs     map[string]*Subsystem
	subOrder []string
	groups   map[string]*ChannelGroup
	grpOrder []string
}

func newBase(path string, drv *Driver, be backend) Base {
	return Base{
		path:     path,
		drv:      drv,
		backend:  be,
		props:    make(map[string]*iprop.Property),
		cache:    make(map[string]any),
		caching:  make(map[string]bool),
		patches:  make(map[string]iprop.Hooks),
		ranges:   make(map[string]RangeResolver),
		rngCache: make(map[string]iprop.Validator),
		subs:     make(map[string]*Subsystem),
		groups:   make(map[string]*ChannelGroup),
	}
}

// Path returns the owner's dotted path below the driver, empty for the
// driver itself.
func (b *Base) Path() string { return b.path }

// OpLock returns the tree-wide operation lock.
func (b *Base) OpLock() *iprop.Lock { return b.drv.lock }

// CacheEnabled reports whether caching is currently permitted for the
// named property on this owner.
func (b *Base) CacheEnabled(name string) bool {
	if !b.drv.CachingAllowed() {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if enabled, ok := b.caching[name]; ok {
		return enabled
	}
	return true
}

// CachedValue returns the cached value for the named property. The value
// is a deep copy; callers can safely modify it.
func (b *Base) CachedValue(name string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.cache[name]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// StoreCache records the last known value for the named property.
func (b *Base) StoreCache(name string, value any) {
	b.mu.Lock()
	b.cache[name] = copyValue(value)
	b.mu.Unlock()
}

// DropCache removes the cached value for the named property.
func (b *Base) DropCache(name string) {
	b.mu.Lock()
	delete(b.cache, name)
	b.mu.Unlock()
}

// HookOverride returns the runtime hook patch for the named property.
func (b *Base) HookOverride(name string) (iprop.Hooks, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.patches[name]
	return h, ok
}

// RangeValidator resolves a named validator, caching the result until it
// is explicitly discarded.
func (b *Base) RangeValidator(ctx context.Context, key string) (iprop.Validator, error) {
	b.mu.RLock()
	v, cached := b.rngCache[key]
	resolver, declared := b.ranges[key]
	b.mu.RUnlock()

	if cached {
		return v, nil
	}
	if !declared {
		return nil, fmt.Errorf("%w: no range resolver registered for %q on %s",
			iprop.ErrConfiguration, key, b.describePath())
	}

	v, err := resolver(ctx, b)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.rngCache[key] = v
	b.mu.Unlock()
	return v, nil
}

// DefaultGet queries the instrument through the owner's backend.
func (b *Base) DefaultGet(ctx context.Context, cmd string) (string, error) {
	return b.backend.defaultGet(ctx, cmd)
}

// DefaultSet programs the instrument through the owner's backend.
func (b *Base) DefaultSet(ctx context.Context, cmd, value string) error {
	return b.backend.defaultSet(ctx, cmd, value)
}

// CheckOperation asks the instrument whether the last operation succeeded.
func (b *Base) CheckOperation(ctx context.Context) error {
	return b.backend.checkOperation(ctx)
}

// Reopen re-establishes the underlying connection.
func (b *Base) Reopen(ctx context.Context) error {
	return b.backend.reopen(ctx)
}

// Add registers a property on this owner.
// Returns ErrDuplicate if the name is already taken by a property,
// subsystem or channel group.
func (b *Base) Add(p *iprop.Property) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.reserveLocked(p.Name()); err != nil {
		return err
	}
	b.props[p.Name()] = p
	b.order = append(b.order, p.Name())
	return nil
}

// MustAdd is Add for static driver definitions; it panics on a name
// collision.
func (b *Base) MustAdd(p *iprop.Property) {
	if err := b.Add(p); err != nil {
		panic(err)
	}
}

func (b *Base) reserveLocked(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name on %s", ErrDuplicate, b.describePath())
	}
	if _, ok := b.props[name]; ok {
		return fmt.Errorf("%w: property %s", ErrDuplicate, b.qual(name))
	}
	if _, ok := b.subs[name]; ok {
		return fmt.Errorf("%w: subsystem %s", ErrDuplicate, b.qual(name))
	}
	if _, ok := b.groups[name]; ok {
		return fmt.Errorf("%w: channel group %s", ErrDuplicate, b.qual(name))
	}
	return nil
}

// Lookup returns the named property declared on this owner.
func (b *Base) Lookup(name string) (*iprop.Property, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.props[name]
	return p, ok
}

// PropertyNames returns this owner's property names in declaration order.
func (b *Base) PropertyNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, len(b.order))
	copy(names, b.order)
	return names
}

// SubsystemNames returns this owner's subsystem names in declaration order.
func (b *Base) SubsystemNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, len(b.subOrder))
	copy(names, b.subOrder)
	return names
}

// GroupNames returns this owner's channel group names in declaration order.
func (b *Base) GroupNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, len(b.grpOrder))
	copy(names, b.grpOrder)
	return names
}

// Get reads a property declared on this owner and publishes the observed
// value.
func (b *Base) Get(ctx context.Context, name string) (any, error) {
	p, ok := b.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: property %s", ErrNotFound, b.qual(name))
	}
	v, err := p.Get(ctx, b)
	if err != nil {
		return nil, err
	}
	b.drv.hub.publish(b.drv.name, b.qual(name), OpGet, v)
	return v, nil
}

// Set writes a property declared on this owner and publishes the
// programmed value.
func (b *Base) Set(ctx context.Context, name string, value any) error {
	p, ok := b.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: property %s", ErrNotFound, b.qual(name))
	}
	coerced, err := p.Set(ctx, b, value)
	if err != nil {
		return err
	}
	b.drv.hub.publish(b.drv.name, b.qual(name), OpSet, coerced)
	return nil
}

// Discard purges the cached value of one property on this owner.
func (b *Base) Discard(name string) error {
	p, ok := b.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: property %s", ErrNotFound, b.qual(name))
	}
	p.Discard(b)
	return nil
}

// SetCaching overrides the declared caching default for one property on
// this owner. Disabling caching does not purge an existing entry.
func (b *Base) SetCaching(name string, enabled bool) {
	b.mu.Lock()
	b.caching[name] = enabled
	b.mu.Unlock()
}

// SetCachingPath applies a caching override to a property anywhere below
// this owner by dotted path.
func (b *Base) SetCachingPath(path string, enabled bool) error {
	owner, name, err := b.resolve(path)
	if err != nil {
		return err
	}
	owner.SetCaching(name, enabled)
	return nil
}

// Patch installs runtime hook overrides for the named property on this
// owner. Patched phases win over declaration hooks; a later Patch for the
// same property replaces the earlier one.
func (b *Base) Patch(name string, hooks iprop.Hooks) error {
	if _, ok := b.Lookup(name); !ok {
		return fmt.Errorf("%w: property %s", ErrNotFound, b.qual(name))
	}
	b.mu.Lock()
	b.patches[name] = hooks
	b.mu.Unlock()
	return nil
}

// Unpatch removes the runtime hook overrides for the named property.
func (b *Base) Unpatch(name string) {
	b.mu.Lock()
	delete(b.patches, name)
	b.mu.Unlock()
}

// UnpatchAll removes every runtime hook override on this owner.
func (b *Base) UnpatchAll() {
	b.mu.Lock()
	b.patches = make(map[string]iprop.Hooks)
	b.mu.Unlock()
}

// RegisterRange declares a named validator resolver on this owner.
func (b *Base) RegisterRange(key string, resolver RangeResolver) {
	b.mu.Lock()
	b.ranges[key] = resolver
	delete(b.rngCache, key)
	b.mu.Unlock()
}

// DiscardRange drops the cached validator for the given key, forcing
// re-resolution on next use. Properties whose post-set changes another
// property's valid envelope call this.
func (b *Base) DiscardRange(key string) {
	b.mu.Lock()
	delete(b.rngCache, key)
	b.mu.Unlock()
}

// DiscardRanges drops every cached validator on this owner.
func (b *Base) DiscardRanges() {
	b.mu.Lock()
	b.rngCache = make(map[string]iprop.Validator)
	b.mu.Unlock()
}

// AddSubsystem creates a child subsystem under this owner.
func (b *Base) AddSubsystem(name string) (*Subsystem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.reserveLocked(name); err != nil {
		return nil, err
	}

	sub := &Subsystem{Base: newBase(b.childPath(name), b.drv, b.backend)}
	b.subs[name] = sub
	b.subOrder = append(b.subOrder, name)
	return sub, nil
}

// MustAddSubsystem is AddSubsystem for static driver definitions.
func (b *Base) MustAddSubsystem(name string) *Subsystem {
	sub, err := b.AddSubsystem(name)
	if err != nil {
		panic(err)
	}
	return sub
}

// Subsystem returns the named child subsystem.
func (b *Base) Subsystem(name string) (*Subsystem, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sub, ok := b.subs[name]
	return sub, ok
}

// AddChannelGroup declares a channel group under this owner.
func (b *Base) AddChannelGroup(name string, cfg ChannelConfig) (*ChannelGroup, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.reserveLocked(name); err != nil {
		return nil, err
	}

	g := newChannelGroup(name, b, cfg)
	b.groups[name] = g
	b.grpOrder = append(b.grpOrder, name)
	return g, nil
}

// MustAddChannelGroup is AddChannelGroup for static driver definitions.
func (b *Base) MustAddChannelGroup(name string, cfg ChannelConfig) *ChannelGroup {
	g, err := b.AddChannelGroup(name, cfg)
	if err != nil {
		panic(err)
	}
	return g
}

// Group returns the named channel group.
func (b *Base) Group(name string) (*ChannelGroup, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	g, ok := b.groups[name]
	return g, ok
}

// GetPath reads a property anywhere below this owner by dotted path, for
// example "ovp.level" or "out[2].enabled".
func (b *Base) GetPath(ctx context.Context, path string) (any, error) {
	owner, name, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	return owner.Get(ctx, name)
}

// SetPath writes a property anywhere below this owner by dotted path.
func (b *Base) SetPath(ctx context.Context, path string, value any) error {
	owner, name, err := b.resolve(path)
	if err != nil {
		return err
	}
	return owner.Set(ctx, name, value)
}

// resolve walks a dotted path to the owner declaring its final segment as
// a property. Channel segments must carry an id ("out[2]").
func (b *Base) resolve(path string) (*Base, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("%w: empty property path", ErrNotFound)
	}

	cur := b
	rest := path
	for {
		head, tail, more := strings.Cut(rest, ".")
		name, id, hasID, err := parseSegment(head)
		if err != nil {
			return nil, "", fmt.Errorf("%s in path %q: %w", err, path, ErrNotFound)
		}

		if !more && !hasID {
			if _, ok := cur.Lookup(name); ok {
				return cur, name, nil
			}
			return nil, "", fmt.Errorf("%w: property %s", ErrNotFound, cur.qual(name))
		}

		next, err := cur.descend(name, id, hasID)
		if err != nil {
			return nil, "", err
		}
		if !more {
			return nil, "", fmt.Errorf("%w: path %q names an owner, not a property", ErrNotFound, path)
		}
		cur = next
		rest = tail
	}
}

// descend steps into one child owner: a subsystem, or a channel instance
// when an id is given.
func (b *Base) descend(name, id string, hasID bool) (*Base, error) {
	if hasID {
		g, ok := b.Group(name)
		if !ok {
			return nil, fmt.Errorf("%w: channel group %s", ErrNotFound, b.qual(name))
		}
		ch, err := g.Channel(id)
		if err != nil {
			return nil, err
		}
		return &ch.Base, nil
	}

	sub, ok := b.Subsystem(name)
	if !ok {
		return nil, fmt.Errorf("%w: subsystem %s", ErrNotFound, b.qual(name))
	}
	return &sub.Base, nil
}

// ClearCache purges cached values below this owner.
//
// An empty path or "*" clears everything recursively. A dotted path can
// name a single property, a subsystem or channel-group subtree, a channel
// instance ("out[2]"), or one property across every instantiated channel
// ("out.enabled").
func (b *Base) ClearCache(path string) error {
	// Hold the operation lock so a purge never interleaves with an
	// in-flight get or set. The lock is re-entrant, so the recursive
	// calls below nest safely.
	lk := b.OpLock()
	lk.Acquire()
	defer lk.Release()

	if path == "" || path == "*" {
		b.clearAll()
		return nil
	}

	head, tail, more := strings.Cut(path, ".")
	name, id, hasID, err := parseSegment(head)
	if err != nil {
		return fmt.Errorf("%s in path %q: %w", err, path, ErrNotFound)
	}

	if hasID {
		g, ok := b.Group(name)
		if !ok {
			return fmt.Errorf("%w: channel group %s", ErrNotFound, b.qual(name))
		}
		ch, ok := g.instance(id)
		if !ok {
			// Never instantiated, so nothing is cached.
			return nil
		}
		return ch.ClearCache(tail)
	}

	if !more {
		if _, ok := b.Lookup(name); ok {
			b.DropCache(name)
			return nil
		}
		if sub, ok := b.Subsystem(name); ok {
			sub.clearAll()
			return nil
		}
		if g, ok := b.Group(name); ok {
			for _, ch := range g.liveInstances() {
				ch.clearAll()
			}
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNotFound, b.qual(name))
	}

	if sub, ok := b.Subsystem(name); ok {
		return sub.ClearCache(tail)
	}
	if g, ok := b.Group(name); ok {
		var firstErr error
		for _, ch := range g.liveInstances() {
			if err := ch.ClearCache(tail); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	return fmt.Errorf("%w: %s", ErrNotFound, b.qual(name))
}

func (b *Base) clearAll() {
	b.mu.Lock()
	b.cache = make(map[string]any)
	subs := make([]*Subsystem, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	groups := make([]*ChannelGroup, 0, len(b.groups))
	for _, g := range b.groups {
		groups = append(groups, g)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.clearAll()
	}
	for _, g := range groups {
		for _, ch := range g.liveInstances() {
			ch.clearAll()
		}
	}
}

// CheckCache reports cached values below this owner, keyed by path
// relative to the driver. The path argument follows the same grammar as
// ClearCache.
func (b *Base) CheckCache(path string) (map[string]any, error) {
	// Hold the operation lock so the snapshot is consistent with any
	// in-flight get or set.
	lk := b.OpLock()
	lk.Acquire()
	defer lk.Release()

	out := make(map[string]any)
	if err := b.collectCache(path, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Base) collectCache(path string, out map[string]any) error {
	if path == "" || path == "*" {
		b.collectAll(out)
		return nil
	}

	head, tail, more := strings.Cut(path, ".")
	name, id, hasID, err := parseSegment(head)
	if err != nil {
		return fmt.Errorf("%s in path %q: %w", err, path, ErrNotFound)
	}

	if hasID {
		g, ok := b.Group(name)
		if !ok {
			return fmt.Errorf("%w: channel group %s", ErrNotFound, b.qual(name))
		}
		ch, ok := g.instance(id)
		if !ok {
			return nil
		}
		return ch.collectCache(tail, out)
	}

	if !more {
		if _, ok := b.Lookup(name); ok {
			if v, ok := b.CachedValue(name); ok {
				out[b.qual(name)] = v
			}
			return nil
		}
		if sub, ok := b.Subsystem(name); ok {
			sub.collectAll(out)
			return nil
		}
		if g, ok := b.Group(name); ok {
			for _, ch := range g.liveInstances() {
				ch.collectAll(out)
			}
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNotFound, b.qual(name))
	}

	if sub, ok := b.Subsystem(name); ok {
		return sub.collectCache(tail, out)
	}
	if g, ok := b.Group(name); ok {
		for _, ch := range g.liveInstances() {
			if err := ch.collectCache(tail, out); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, b.qual(name))
}

func (b *Base) collectAll(out map[string]any) {
	b.mu.RLock()
	for name, v := range b.cache {
		out[b.qual(name)] = copyValue(v)
	}
	subs := make([]*Subsystem, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	groups := make([]*ChannelGroup, 0, len(b.groups))
	for _, g := range b.groups {
		groups = append(groups, g)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.collectAll(out)
	}
	for _, g := range groups {
		for _, ch := range g.liveInstances() {
			ch.collectAll(out)
		}
	}
}

func (b *Base) qual(name string) string {
	if b.path == "" {
		return name
	}
	return b.path + "." + name
}

func (b *Base) childPath(name string) string {
	return b.qual(name)
}

func (b *Base) describePath() string {
	if b.path == "" {
		return "driver " + b.drv.name
	}
	return b.path
}

// parseSegment splits one path segment into a name and optional channel
// id: "out" and "out[2]" are both valid.
func parseSegment(seg string) (name, id string, hasID bool, err error) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		if strings.IndexByte(seg, ']') >= 0 {
			return "", "", false, fmt.Errorf("malformed segment %q", seg)
		}
		return seg, "", false, nil
	}
	if !strings.HasSuffix(seg, "]") || open == 0 {
		return "", "", false, fmt.Errorf("malformed segment %q", seg)
	}
	id = seg[open+1 : len(seg)-1]
	if id == "" {
		return "", "", false, fmt.Errorf("empty channel id in segment %q", seg)
	}
	return seg[:open], id, true, nil
}

// copyValue deep-copies cacheable values so callers cannot mutate the
// cache through a returned map.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]bool:
		cpy := make(map[string]bool, len(val))
		for k, b := range val {
			cpy[k] = b
		}
		return cpy
	case map[string]any:
		cpy := make(map[string]any, len(val))
		for k, e := range val {
			cpy[k] = copyValue(e)
		}
		return cpy
	case []any:
		cpy := make([]any, len(val))
		for i, e := range val {
			cpy[i] = copyValue(e)
		}
		return cpy
	default:
		return v
	}
}
