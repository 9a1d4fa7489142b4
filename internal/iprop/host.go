package iprop

import "context"

// Host is the capability interface a property needs from its owner.
//
// It is implemented by drivers, subsystems and channels in the instrument
// package. Subsystems and channels forward the transport primitives
// (DefaultGet, DefaultSet, CheckOperation, Reopen) to their parent, up to
// the root driver which performs the actual wire call; the lock is likewise
// the root driver's.
type Host interface {
	// Path returns the dotted path of the host within its driver tree, used
	// in error messages and change events ("" for the root driver,
	// "osc" for a subsystem, "output[2]" for a channel instance).
	Path() string

	// OpLock returns the driver-wide re-entrant operation lock.
	OpLock() *Lock

	// CacheEnabled reports whether caching is in effect for the named
	// property on this host, combining the property's declared default with
	// the host's construction-time permissions.
	CacheEnabled(name string) bool

	// CachedValue returns the cached value for the named property. Callers
	// must hold the operation lock.
	CachedValue(name string) (any, bool)

	// StoreCache records a value for the named property. Callers must hold
	// the operation lock.
	StoreCache(name string, value any)

	// DropCache removes the cache entry for the named property, if any.
	// Callers must hold the operation lock.
	DropCache(name string)

	// HookOverride returns the runtime patch for the named property, if one
	// is installed on this host instance.
	HookOverride(name string) (Hooks, bool)

	// RangeValidator resolves a named range validator, caching the result
	// until DiscardRange is called on the host. A missing resolver is a
	// configuration error.
	RangeValidator(ctx context.Context, key string) (Validator, error)

	// DefaultGet performs the wire query for a get command and returns the
	// raw response. Failures are reported as ErrCommunication.
	DefaultGet(ctx context.Context, cmd string) (string, error)

	// DefaultSet performs the wire write for a set command and the encoded
	// instrument representation of the value.
	DefaultSet(ctx context.Context, cmd string, value string) error

	// CheckOperation verifies that the instrument executed the last
	// operation correctly. Failures are reported as ErrInstrument.
	CheckOperation(ctx context.Context) error

	// Reopen re-establishes the connection to the instrument. Called
	// between communication retries.
	Reopen(ctx context.Context) error
}
