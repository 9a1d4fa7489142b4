package iprop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/instrumentkit/instrument-core/internal/unit"
)

// Config declares an instrument property.
//
// A property is gettable when Get (or Hooks.Get) is set and settable when
// Set (or Hooks.Set) is set. Declarations are validated by New and immutable
// afterwards; runtime variation goes through the host's patch table.
type Config struct {
	// Name identifies the property, unique per owner.
	Name string

	// Get is the wire command used to query the value ("FREQ?").
	Get string

	// Set is the wire command used to program the value ("FREQ %s"); the
	// encoded value replaces the %s verb, or is appended when absent.
	Set string

	// Retries is how many extra transport attempts are made when a get or
	// set fails with ErrCommunication. The connection is reopened between
	// attempts. Applies per call.
	Retries int

	// Cache enables caching of the last known value by default; hosts can
	// restrict it at construction time.
	Cache bool

	// Kind selects the coercion applied in post-get/pre-set. Default KindRaw.
	Kind Kind

	// Values is the optional allowed-value set, compared after coercion.
	Values []any

	// Range is a static validator for int and float properties.
	Range Validator

	// RangeKey names a validator resolved dynamically through the host
	// (mutually exclusive with Range).
	RangeKey string

	// Unit is the base unit symbol for float properties. Gets yield a
	// Quantity in this unit; sets accept bare numbers (interpreted as this
	// unit) or Quantities (converted, ErrUnit on incompatibility).
	Unit string

	// Mapping translates user values to instrument values for KindMapping.
	Mapping map[string]string

	// BoolTrue and BoolFalse are the instrument representations for
	// KindBool. Default "1" and "0".
	BoolTrue  string
	BoolFalse string

	// Aliases maps extra accepted set values ("On", "Off") to booleans for
	// KindBool.
	Aliases map[string]bool

	// Bits names the register bits for KindRegister, index 0 first. An
	// empty string marks an unused bit.
	Bits []string

	// Checks are assertions against owner state run in the default pre-get
	// and pre-set phases.
	Checks []Check

	// Hooks are declaration-time phase overrides.
	Hooks Hooks
}

// Property is a declared instrument parameter with a typed get/set pipeline.
//
// Properties are immutable and safe to share across host instances of the
// same owner type.
type Property struct {
	name      string
	getCmd    string
	setCmd    string
	gettable  bool
	settable  bool
	retries   int
	cacheable bool
	kind      Kind

	values   []any
	rng      Validator
	rangeKey string
	unitSym  string

	mapping   map[string]string
	imap      map[string]string
	trueRepr  string
	falseRepr string
	aliases   map[string]bool
	bits      []string

	checks []Check
	hooks  Hooks
}

// New validates a declaration and builds the property.
//
// Returns an error wrapping ErrConfiguration when the declaration is
// malformed (no name, no getter and no setter, kind-specific requirements
// unmet, or both Range and RangeKey given).
func New(cfg Config) (*Property, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: property name is required", ErrConfiguration)
	}

	p := &Property{
		name:      cfg.Name,
		getCmd:    cfg.Get,
		setCmd:    cfg.Set,
		gettable:  cfg.Get != "" || cfg.Hooks.Get != nil,
		settable:  cfg.Set != "" || cfg.Hooks.Set != nil,
		retries:   cfg.Retries,
		cacheable: cfg.Cache,
		kind:      cfg.Kind,
		values:    cfg.Values,
		rng:       cfg.Range,
		rangeKey:  cfg.RangeKey,
		unitSym:   cfg.Unit,
		checks:    cfg.Checks,
		hooks:     cfg.Hooks,
	}

	if !p.gettable && !p.settable {
		return nil, fmt.Errorf("%w: %s declares neither getter nor setter", ErrConfiguration, cfg.Name)
	}
	if p.retries < 0 {
		return nil, fmt.Errorf("%w: %s has negative retry count", ErrConfiguration, cfg.Name)
	}
	if cfg.Range != nil && cfg.RangeKey != "" {
		return nil, fmt.Errorf("%w: %s declares both a static range and a range key", ErrConfiguration, cfg.Name)
	}
	if cfg.Unit != "" && cfg.Kind != KindFloat {
		return nil, fmt.Errorf("%w: %s declares a unit but is not a float property", ErrConfiguration, cfg.Name)
	}

	switch cfg.Kind {
	case KindMapping:
		if len(cfg.Mapping) == 0 {
			return nil, fmt.Errorf("%w: %s is a mapping property without a mapping", ErrConfiguration, cfg.Name)
		}
		p.mapping = make(map[string]string, len(cfg.Mapping))
		p.imap = make(map[string]string, len(cfg.Mapping))
		for user, instr := range cfg.Mapping {
			if _, dup := p.imap[instr]; dup {
				return nil, fmt.Errorf("%w: %s maps two values to %q", ErrConfiguration, cfg.Name, instr)
			}
			p.mapping[user] = instr
			p.imap[instr] = user
		}

	case KindBool:
		p.trueRepr, p.falseRepr = cfg.BoolTrue, cfg.BoolFalse
		if p.trueRepr == "" {
			p.trueRepr = "1"
		}
		if p.falseRepr == "" {
			p.falseRepr = "0"
		}
		if p.trueRepr == p.falseRepr {
			return nil, fmt.Errorf("%w: %s uses the same representation for true and false", ErrConfiguration, cfg.Name)
		}
		p.aliases = cfg.Aliases

	case KindRegister:
		if len(cfg.Bits) == 0 || len(cfg.Bits) > 64 {
			return nil, fmt.Errorf("%w: %s needs between 1 and 64 bit names", ErrConfiguration, cfg.Name)
		}
		named := false
		for _, b := range cfg.Bits {
			if b != "" {
				named = true
				break
			}
		}
		if !named {
			return nil, fmt.Errorf("%w: %s names no register bit", ErrConfiguration, cfg.Name)
		}
		p.bits = cfg.Bits
	}

	return p, nil
}

// MustNew is New for static declarations; it panics on a malformed
// declaration, which is always a programming error in a driver definition.
func MustNew(cfg Config) *Property {
	p, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// Name returns the property name.
func (p *Property) Name() string { return p.name }

// Kind returns the coercion kind.
func (p *Property) Kind() Kind { return p.kind }

// Gettable reports whether the property can be read.
func (p *Property) Gettable() bool { return p.gettable }

// Settable reports whether the property can be written.
func (p *Property) Settable() bool { return p.settable }

// Cacheable reports the declared caching default.
func (p *Property) Cacheable() bool { return p.cacheable }

// Unit returns the base unit symbol, empty when unitless.
func (p *Property) Unit() string { return p.unitSym }

// Get reads the property through the six-phase pipeline.
//
// The owner's operation lock is held for the full sequence. A cached value
// short-circuits the pipeline before any hook runs.
func (p *Property) Get(ctx context.Context, h Host) (any, error) {
	if !p.gettable {
		return nil, fmt.Errorf("%w: %s", ErrNotReadable, p.qualName(h))
	}

	lk := h.OpLock()
	lk.Acquire()
	defer lk.Release()

	return p.getLocked(ctx, h)
}

// getLocked runs the get pipeline. The operation lock must be held.
func (p *Property) getLocked(ctx context.Context, h Host) (any, error) {
	if p.cacheable && h.CacheEnabled(p.name) {
		if v, ok := h.CachedValue(p.name); ok {
			return v, nil
		}
	}

	hooks := p.resolveHooks(h)

	// Pre-get phase.
	if hooks.PreGet != nil {
		if err := hooks.PreGet(ctx, h); err != nil {
			return nil, err
		}
	} else {
		for _, check := range p.checks {
			if err := check(ctx, h); err != nil {
				return nil, err
			}
		}
	}

	// Get phase, retried on communication failure.
	raw, err := p.withRetry(ctx, h, func() (string, error) {
		if hooks.Get != nil {
			return hooks.Get(ctx, h, p.getCmd)
		}
		return h.DefaultGet(ctx, p.getCmd)
	})
	if err != nil {
		return nil, err
	}

	// Post-get phase.
	var value any
	if hooks.PostGet != nil {
		value, err = hooks.PostGet(h, raw)
	} else {
		value, err = p.decode(raw)
		if err == nil && p.kind != KindMapping {
			err = p.checkAllowedGet(value)
		}
	}
	if err != nil {
		return nil, err
	}

	if p.cacheable && h.CacheEnabled(p.name) {
		h.StoreCache(p.name, value)
	}
	return value, nil
}

// Set writes the property through the six-phase pipeline and returns
// the coerced value that was programmed (the same value the cache
// holds: booleans resolved from aliases, quantities converted to the
// declared unit, register bits merged).
//
// On success the cache holds that value; on any failure the cache is
// left untouched.
func (p *Property) Set(ctx context.Context, h Host, value any) (any, error) {
	if !p.settable {
		return nil, fmt.Errorf("%w: %s", ErrNotWritable, p.qualName(h))
	}

	lk := h.OpLock()
	lk.Acquire()
	defer lk.Release()

	hooks := p.resolveHooks(h)

	// Pre-set phase: validation, unit conversion, coercion.
	var repr string
	var cacheValue any
	var err error
	if hooks.PreSet != nil {
		repr, err = hooks.PreSet(ctx, h, value)
		cacheValue = value
	} else {
		repr, cacheValue, err = p.preSet(ctx, h, value)
	}
	if err != nil {
		return nil, err
	}

	// Set phase, retried on communication failure.
	err = p.withRetryErr(ctx, h, func() error {
		if hooks.Set != nil {
			return hooks.Set(ctx, h, p.setCmd, repr)
		}
		return h.DefaultSet(ctx, p.setCmd, repr)
	})
	if err != nil {
		return nil, err
	}

	// Post-set phase: operation check.
	if hooks.PostSet != nil {
		err = hooks.PostSet(ctx, h, value, repr)
	} else {
		err = h.CheckOperation(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("setting %s to %v (%s): %w", p.qualName(h), value, repr, err)
	}

	if p.cacheable && h.CacheEnabled(p.name) {
		h.StoreCache(p.name, cacheValue)
	}
	return cacheValue, nil
}

// Discard purges the cache entry for this property on the given host.
// Idempotent when no entry exists.
func (p *Property) Discard(h Host) {
	lk := h.OpLock()
	lk.Acquire()
	defer lk.Release()

	h.DropCache(p.name)
}

// preSet is the default pre-set phase: owner-state checks, range and
// allowed-value validation, unit conversion, and encoding to the instrument
// representation. It returns the wire representation and the value to cache
// after the set succeeds.
func (p *Property) preSet(ctx context.Context, h Host, value any) (string, any, error) {
	for _, check := range p.checks {
		if err := check(ctx, h); err != nil {
			return "", nil, err
		}
	}

	validator := p.rng
	if p.rangeKey != "" {
		var err error
		validator, err = h.RangeValidator(ctx, p.rangeKey)
		if err != nil {
			return "", nil, err
		}
	}

	switch p.kind {
	case KindInt:
		v, ok := toInt(value)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s expects an integer, got %T", ErrValidation, p.name, value)
		}
		if validator != nil {
			if err := validator.Validate(v); err != nil {
				return "", nil, err
			}
		} else if err := p.checkAllowed(v); err != nil {
			return "", nil, err
		}
		return strconv.Itoa(v), v, nil

	case KindFloat:
		mag, err := p.toBaseMagnitude(value)
		if err != nil {
			return "", nil, err
		}
		var candidate any = mag
		if p.unitSym != "" {
			candidate = unit.Q(mag, p.unitSym)
		}
		if validator != nil {
			if err := validator.Validate(candidate); err != nil {
				return "", nil, err
			}
		} else if err := p.checkAllowed(mag); err != nil {
			return "", nil, err
		}
		return formatFloat(mag), candidate, nil

	case KindMapping:
		s, ok := value.(string)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s expects a mapped value, got %T", ErrValidation, p.name, value)
		}
		repr, ok := p.mapping[s]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s accepts %v, got %q", ErrValidation, p.name, mapKeys(p.mapping), s)
		}
		return repr, s, nil

	case KindBool:
		b, err := p.toBool(value)
		if err != nil {
			return "", nil, err
		}
		if b {
			return p.trueRepr, true, nil
		}
		return p.falseRepr, false, nil

	case KindRegister:
		partial, err := toBitMap(value)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s %v", ErrValidation, p.name, err)
		}
		merged, err := p.mergeBits(ctx, h, partial)
		if err != nil {
			return "", nil, err
		}
		return strconv.FormatUint(p.encodeBits(merged), 10), merged, nil

	case KindString:
		s, ok := value.(string)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s expects a string, got %T", ErrValidation, p.name, value)
		}
		if err := p.checkAllowed(s); err != nil {
			return "", nil, err
		}
		return s, s, nil

	default: // KindRaw
		return fmt.Sprint(value), value, nil
	}
}

// mergeBits resolves the register's current bits and applies a partial
// update. Unspecified bits keep their prior value; when the register has
// never been read and is gettable, it is read back first (the lock is
// re-entrant, so this nests safely).
func (p *Property) mergeBits(ctx context.Context, h Host, partial map[string]bool) (map[string]bool, error) {
	for name := range partial {
		if !p.hasBit(name) {
			return nil, fmt.Errorf("%w: %s has no bit named %q", ErrValidation, p.name, name)
		}
	}

	current := p.decodeBits(0)
	if p.gettable {
		v, err := p.getLocked(ctx, h)
		if err != nil {
			return nil, err
		}
		bits, ok := v.(map[string]bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s read back %T instead of a bit mapping", ErrConfiguration, p.name, v)
		}
		current = bits
	}

	merged := make(map[string]bool, len(current))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	return merged, nil
}

func (p *Property) hasBit(name string) bool {
	for _, b := range p.bits {
		if b != "" && b == name {
			return true
		}
	}
	return false
}

// toBool resolves a set value for a bool property: the boolean itself or any
// declared alias.
func (p *Property) toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		if b, ok := p.aliases[v]; ok {
			return b, nil
		}
	}
	return false, fmt.Errorf("%w: %s accepts booleans%s, got %v",
		ErrValidation, p.name, aliasHint(p.aliases), value)
}

// toBaseMagnitude converts a float set value to the property's base unit.
// Bare numbers are assumed to already be expressed in the base unit.
func (p *Property) toBaseMagnitude(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case unit.Quantity:
		if p.unitSym == "" {
			return 0, fmt.Errorf("%w: %s is unitless, got %v", ErrUnit, p.name, v)
		}
		mag, err := v.MagnitudeIn(p.unitSym)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrUnit, p.name, err)
		}
		return mag, nil
	default:
		return 0, fmt.Errorf("%w: %s expects a number, got %T", ErrValidation, p.name, value)
	}
}

// checkAllowedGet validates a value decoded from the instrument against the
// allowed-value set; Quantities are compared by base-unit magnitude.
func (p *Property) checkAllowedGet(value any) error {
	if q, ok := value.(unit.Quantity); ok {
		return p.checkAllowed(q.Magnitude)
	}
	return p.checkAllowed(value)
}

// withRetry runs the get phase, retrying on ErrCommunication up to the
// declared count, reopening the connection before each new attempt.
func (p *Property) withRetry(ctx context.Context, h Host, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			if err := h.Reopen(ctx); err != nil {
				return "", fmt.Errorf("reopening connection for %s: %w", p.qualName(h), err)
			}
		}
		raw, err := fn()
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, ErrCommunication) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// withRetryErr is withRetry for the set phase.
func (p *Property) withRetryErr(ctx context.Context, h Host, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			if err := h.Reopen(ctx); err != nil {
				return fmt.Errorf("reopening connection for %s: %w", p.qualName(h), err)
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrCommunication) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// resolveHooks combines declaration-time hooks with the host's runtime patch
// table; the patch wins per phase.
func (p *Property) resolveHooks(h Host) Hooks {
	hooks := p.hooks
	if over, ok := h.HookOverride(p.name); ok {
		hooks = hooks.merged(over)
	}
	return hooks
}

// qualName returns the property name qualified by the host's path.
func (p *Property) qualName(h Host) string {
	if path := h.Path(); path != "" {
		return path + "." + p.name
	}
	return p.name
}

// toInt accepts the integer types callers naturally produce. Integral
// floats are included because JSON decoding yields float64 for every
// number.
func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

// toBitMap normalises a partial register update to map[string]bool.
// JSON decoding produces map[string]any, so that shape is accepted as
// long as every value is a bool.
func toBitMap(value any) (map[string]bool, error) {
	switch v := value.(type) {
	case map[string]bool:
		return v, nil
	case map[string]any:
		bits := make(map[string]bool, len(v))
		for name, raw := range v {
			b, ok := raw.(bool)
			if !ok {
				return nil, fmt.Errorf("expects a bool for bit %q, got %T", name, raw)
			}
			bits[name] = b
		}
		return bits, nil
	default:
		return nil, fmt.Errorf("expects a bit mapping, got %T", value)
	}
}

func mapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func aliasHint(aliases map[string]bool) string {
	if len(aliases) == 0 {
		return ""
	}
	return " and declared aliases"
}
