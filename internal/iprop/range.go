package iprop

import (
	"fmt"
	"math"

	"github.com/instrumentkit/instrument-core/internal/unit"
)

// Validator checks a candidate value against an instrument's current limits.
//
// Validators are resolved once and cached per host; a property whose
// post-set phase changes another property's valid envelope must explicitly
// discard that validator from the host's cache.
type Validator interface {
	// Validate returns nil if the value is acceptable, or an error wrapping
	// ErrValidation describing the violated bound.
	Validate(value any) error
}

// stepEpsilon is the tolerance for float step checks, matching the precision
// instruments typically honour.
const stepEpsilon = 1e-9

// IntRange validates integer values against optional bounds and step.
//
// At least one of Min and Max must be set. Step, when set, requires the
// value to be Min+k*Step (or Max-k*Step when only Max is set).
type IntRange struct {
	Min  *int
	Max  *int
	Step int
}

// NewIntRange builds an IntRange with both bounds set.
func NewIntRange(min, max int) *IntRange {
	return &IntRange{Min: &min, Max: &max}
}

// Validate implements Validator. Accepts int and int64 values.
func (r *IntRange) Validate(value any) error {
	if r.Min == nil && r.Max == nil {
		return fmt.Errorf("%w: integer range has neither min nor max", ErrConfiguration)
	}

	var v int
	switch n := value.(type) {
	case int:
		v = n
	case int64:
		v = int(n)
	default:
		return fmt.Errorf("%w: expected an integer, got %T", ErrValidation, value)
	}

	if r.Min != nil && v < *r.Min {
		return r.fail(v)
	}
	if r.Max != nil && v > *r.Max {
		return r.fail(v)
	}
	if r.Step > 0 {
		anchor := 0
		if r.Min != nil {
			anchor = *r.Min
		} else if r.Max != nil {
			anchor = *r.Max
		}
		if (v-anchor)%r.Step != 0 {
			return r.fail(v)
		}
	}
	return nil
}

func (r *IntRange) fail(v int) error {
	msg := fmt.Sprintf("%d is out of bounds", v)
	if r.Min != nil {
		msg += fmt.Sprintf(", minimum %d", *r.Min)
	}
	if r.Max != nil {
		msg += fmt.Sprintf(", maximum %d", *r.Max)
	}
	if r.Step > 0 {
		msg += fmt.Sprintf(", step %d", r.Step)
	}
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// FloatRange validates float values against optional bounds and step.
//
// When Unit is set the bounds are expressed in that unit and Quantity values
// are converted before comparison; bare floats are assumed to already be in
// the range's unit.
type FloatRange struct {
	Min  *float64
	Max  *float64
	Step float64
	Unit string
}

// NewFloatRange builds a FloatRange with both bounds set.
func NewFloatRange(min, max float64) *FloatRange {
	return &FloatRange{Min: &min, Max: &max}
}

// Validate implements Validator. Accepts float64, int and unit.Quantity
// values.
func (r *FloatRange) Validate(value any) error {
	if r.Min == nil && r.Max == nil {
		return fmt.Errorf("%w: float range has neither min nor max", ErrConfiguration)
	}

	var v float64
	switch n := value.(type) {
	case float64:
		v = n
	case int:
		v = float64(n)
	case unit.Quantity:
		if r.Unit != "" {
			mag, err := n.MagnitudeIn(r.Unit)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUnit, err)
			}
			v = mag
		} else {
			v = n.Magnitude
		}
	default:
		return fmt.Errorf("%w: expected a number, got %T", ErrValidation, value)
	}

	if r.Min != nil && v < *r.Min {
		return r.fail(v)
	}
	if r.Max != nil && v > *r.Max {
		return r.fail(v)
	}
	if r.Step > 0 {
		anchor := 0.0
		if r.Min != nil {
			anchor = *r.Min
		} else if r.Max != nil {
			anchor = *r.Max
		}
		ratio := math.Abs((v - anchor) / r.Step)
		if frac := ratio - math.Round(ratio); math.Abs(frac) > stepEpsilon {
			return r.fail(v)
		}
	}
	return nil
}

func (r *FloatRange) fail(v float64) error {
	msg := fmt.Sprintf("%g is out of bounds", v)
	if r.Min != nil {
		msg += fmt.Sprintf(", minimum %g", *r.Min)
	}
	if r.Max != nil {
		msg += fmt.Sprintf(", maximum %g", *r.Max)
	}
	if r.Step > 0 {
		msg += fmt.Sprintf(", step %g", r.Step)
	}
	if r.Unit != "" {
		msg += " " + r.Unit
	}
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
