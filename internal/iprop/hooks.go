package iprop

import "context"

// Check is a pre-phase assertion run against the owner's current state
// before a get or set proceeds. Returning an error (wrapping ErrValidation)
// aborts the operation.
type Check func(ctx context.Context, h Host) error

// Hooks holds optional per-phase overrides for a property.
//
// A nil field keeps the default behaviour for that phase. An override
// replaces the default entirely: it receives the same arguments as the
// default plus the owner, and is fully responsible for validation and cache
// consistency if it bypasses the defaults.
//
// Hooks can be supplied at declaration time (Config.Hooks) or installed on a
// single host instance at runtime via the host's patch table; the patch
// table wins per phase.
type Hooks struct {
	// PreGet replaces the default pre-get phase (running the declared
	// Checks).
	PreGet func(ctx context.Context, h Host) error

	// Get replaces the default get phase (h.DefaultGet with the property's
	// get command). Still subject to the property's retry count.
	Get func(ctx context.Context, h Host, cmd string) (string, error)

	// PostGet replaces the default post-get phase (coercion plus
	// allowed-value validation). It receives the raw wire response.
	PostGet func(h Host, raw string) (any, error)

	// PreSet replaces the default pre-set phase (checks, range and
	// allowed-value validation, unit conversion, coercion). It returns the
	// instrument representation to send.
	PreSet func(ctx context.Context, h Host, value any) (string, error)

	// Set replaces the default set phase (h.DefaultSet with the property's
	// set command). Still subject to the property's retry count.
	Set func(ctx context.Context, h Host, cmd, repr string) error

	// PostSet replaces the default post-set phase (h.CheckOperation).
	PostSet func(ctx context.Context, h Host, value any, repr string) error
}

// merged returns a copy of h with non-nil fields of over taking precedence.
func (h Hooks) merged(over Hooks) Hooks {
	out := h
	if over.PreGet != nil {
		out.PreGet = over.PreGet
	}
	if over.Get != nil {
		out.Get = over.Get
	}
	if over.PostGet != nil {
		out.PostGet = over.PostGet
	}
	if over.PreSet != nil {
		out.PreSet = over.PreSet
	}
	if over.Set != nil {
		out.Set = over.Set
	}
	if over.PostSet != nil {
		out.PostSet = over.PostSet
	}
	return out
}

// isZero reports whether no override is set.
func (h Hooks) isZero() bool {
	return h.PreGet == nil && h.Get == nil && h.PostGet == nil &&
		h.PreSet == nil && h.Set == nil && h.PostSet == nil
}
