package iprop

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/instrumentkit/instrument-core/internal/unit"
)

// Kind selects the value coercion applied in the post-get and pre-set
// phases.
type Kind int

// Supported coercion kinds.
const (
	// KindRaw passes the wire response through untouched.
	KindRaw Kind = iota

	// KindString trims the response to text, optionally checked against an
	// allowed-value set.
	KindString

	// KindInt casts to an integer, validated against an allowed-value set
	// or an integer range.
	KindInt

	// KindFloat casts to a float, validated against a float range; with a
	// declared unit, gets yield a Quantity in the base unit and sets accept
	// bare numbers (base unit) or Quantities (converted).
	KindFloat

	// KindMapping translates between user values and instrument values
	// through a bidirectional mapping.
	KindMapping

	// KindBool is a specialized mapping yielding a boolean on get; sets
	// accept the boolean or any declared alias.
	KindBool

	// KindRegister interprets a fixed-width integer as a bit-indexed
	// mapping from bit name to boolean; sets accept a partial mapping and
	// only mutate the named bits.
	KindRegister
)

// String returns the kind's name as used in configuration and the API.
func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindMapping:
		return "mapping"
	case KindBool:
		return "bool"
	case KindRegister:
		return "register"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// decode converts a raw wire response into the property's user-facing value.
func (p *Property) decode(raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)

	switch p.kind {
	case KindRaw:
		return raw, nil

	case KindString:
		return trimmed, nil

	case KindInt:
		v, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %s answered %q, expected an integer",
				ErrCommunication, p.name, trimmed)
		}
		return v, nil

	case KindFloat:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s answered %q, expected a number",
				ErrCommunication, p.name, trimmed)
		}
		if p.unitSym != "" {
			return unit.Q(f, p.unitSym), nil
		}
		return f, nil

	case KindMapping:
		user, ok := p.imap[trimmed]
		if !ok {
			return nil, fmt.Errorf("%w: %s answered %q, not a mapped instrument value",
				ErrValidation, p.name, trimmed)
		}
		return user, nil

	case KindBool:
		switch trimmed {
		case p.trueRepr:
			return true, nil
		case p.falseRepr:
			return false, nil
		default:
			return nil, fmt.Errorf("%w: %s answered %q, expected %q or %q",
				ErrValidation, p.name, trimmed, p.trueRepr, p.falseRepr)
		}

	case KindRegister:
		v, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s answered %q, expected a register value",
				ErrCommunication, p.name, trimmed)
		}
		return p.decodeBits(v), nil

	default:
		return nil, fmt.Errorf("%w: %s has unsupported kind %v", ErrConfiguration, p.name, p.kind)
	}
}

// decodeBits expands a register value into a named bit mapping. Unnamed bits
// are skipped.
func (p *Property) decodeBits(v uint64) map[string]bool {
	bits := make(map[string]bool, len(p.bits))
	for i, name := range p.bits {
		if name == "" {
			continue
		}
		bits[name] = v&(1<<uint(i)) != 0
	}
	return bits
}

// encodeBits packs a full named bit mapping into a register value.
func (p *Property) encodeBits(bits map[string]bool) uint64 {
	var v uint64
	for i, name := range p.bits {
		if name != "" && bits[name] {
			v |= 1 << uint(i)
		}
	}
	return v
}

// checkAllowed validates a coerced value against the declared allowed-value
// set. A nil set allows everything.
func (p *Property) checkAllowed(v any) error {
	if len(p.values) == 0 {
		return nil
	}
	for _, allowed := range p.values {
		if allowed == v {
			return nil
		}
	}
	return fmt.Errorf("%w: allowed values for %s are %v, got %v",
		ErrValidation, p.name, p.values, v)
}

// formatFloat renders a float the way instruments accept it.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'G', -1, 64)
}
