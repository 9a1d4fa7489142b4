package unit

import "fmt"

// Quantity is a magnitude tagged with a unit symbol.
//
// Quantities are immutable values; conversion returns a new Quantity.
type Quantity struct {
	Magnitude float64
	Unit      string
}

// Q is shorthand for constructing a Quantity.
func Q(magnitude float64, symbol string) Quantity {
	return Quantity{Magnitude: magnitude, Unit: symbol}
}

// To converts the quantity to another unit within the process registry.
//
// Returns ErrUnknownUnit or ErrIncompatible on failure.
func (q Quantity) To(symbol string) (Quantity, error) {
	mag, err := DefaultRegistry().Convert(q.Magnitude, q.Unit, symbol)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Magnitude: mag, Unit: symbol}, nil
}

// MagnitudeIn returns the magnitude of the quantity expressed in the given
// unit.
func (q Quantity) MagnitudeIn(symbol string) (float64, error) {
	return DefaultRegistry().Convert(q.Magnitude, q.Unit, symbol)
}

// Compare compares two quantities after converting the other to this
// quantity's unit. It returns -1, 0 or 1.
//
// Returns ErrIncompatible if the quantities measure different dimensions.
func (q Quantity) Compare(other Quantity) (int, error) {
	mag, err := other.MagnitudeIn(q.Unit)
	if err != nil {
		return 0, err
	}
	switch {
	case q.Magnitude < mag:
		return -1, nil
	case q.Magnitude > mag:
		return 1, nil
	default:
		return 0, nil
	}
}

// Equal reports whether two quantities represent the same value, converting
// units as needed.
func (q Quantity) Equal(other Quantity) (bool, error) {
	cmp, err := q.Compare(other)
	if err != nil {
		return false, err
	}
	return cmp == 0, nil
}

// String formats the quantity as "<magnitude> <unit>".
func (q Quantity) String() string {
	return fmt.Sprintf("%g %s", q.Magnitude, q.Unit)
}
