package iprop

import "errors"

// Error taxonomy for property access.
//
// All of these propagate to the caller of the property access; none are
// swallowed by the pipeline. Check with errors.Is():
//
//	if errors.Is(err, iprop.ErrValidation) {
//	    // value rejected before reaching the instrument
//	}
var (
	// ErrValidation is returned when a pre-phase check fails (range or
	// allowed-value violation). The operation is aborted and the cache is
	// left untouched.
	ErrValidation = errors.New("iprop: validation failed")

	// ErrCommunication is returned when the underlying transport call fails.
	// The transport call is retried up to the property's configured attempt
	// count before this surfaces.
	ErrCommunication = errors.New("iprop: communication failed")

	// ErrInstrument is returned when the post-set check indicates the
	// instrument rejected or mis-executed the operation. Never retried.
	ErrInstrument = errors.New("iprop: instrument reported failure")

	// ErrUnit is returned when an incompatible unit conversion is attempted.
	ErrUnit = errors.New("iprop: unit mismatch")

	// ErrConfiguration is returned for malformed property declarations,
	// detected at declaration time or on first use.
	ErrConfiguration = errors.New("iprop: invalid property configuration")

	// ErrNotReadable is returned when getting a property declared without a
	// getter.
	ErrNotReadable = errors.New("iprop: property is not readable")

	// ErrNotWritable is returned when setting a property declared without a
	// setter.
	ErrNotWritable = errors.New("iprop: property is not writable")
)
