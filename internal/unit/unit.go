package unit

import (
	"errors"
	"fmt"
	"sync"
)

// Domain errors for the unit package.
var (
	// ErrUnknownUnit is returned when a symbol is not declared in the registry.
	ErrUnknownUnit = errors.New("unit: unknown unit")

	// ErrIncompatible is returned when converting between different dimensions.
	ErrIncompatible = errors.New("unit: incompatible units")

	// ErrRegistrySet is returned when a second process registry is installed.
	ErrRegistrySet = errors.New("unit: registry already set")
)

// Unit describes a single unit: its symbol, the dimension it measures, and
// the affine transform to the dimension's base unit.
//
// A value v in this unit equals v*Factor + Offset in the base unit.
type Unit struct {
	Symbol    string
	Dimension string
	Factor    float64
	Offset    float64
}

// Registry holds the set of known units.
//
// Symbols resolve either directly or as an SI prefix applied to a declared
// prefixable unit ("kHz" = "k" + "Hz"). Directly declared symbols win over
// prefix resolution.
type Registry struct {
	mu         sync.RWMutex
	units      map[string]Unit
	prefixable map[string]bool
}

// siPrefixes maps SI prefix symbols to their scale factors.
var siPrefixes = map[string]float64{
	"p": 1e-12,
	"n": 1e-9,
	"u": 1e-6,
	"µ": 1e-6,
	"m": 1e-3,
	"k": 1e3,
	"M": 1e6,
	"G": 1e9,
	"T": 1e12,
}

// NewRegistry creates a registry pre-populated with the common electrical and
// physical units instruments use. All built-in base units accept SI prefixes.
func NewRegistry() *Registry {
	r := &Registry{
		units:      make(map[string]Unit),
		prefixable: make(map[string]bool),
	}

	bases := []struct {
		symbol    string
		dimension string
	}{
		{"Hz", "frequency"},
		{"V", "voltage"},
		{"A", "current"},
		{"W", "power"},
		{"Ohm", "resistance"},
		{"F", "capacitance"},
		{"H", "inductance"},
		{"s", "time"},
		{"m", "length"},
		{"K", "temperature"},
		{"dB", "ratio"},
		{"dBm", "power_level"},
	}
	for _, b := range bases {
		r.units[b.symbol] = Unit{Symbol: b.symbol, Dimension: b.dimension, Factor: 1}
		r.prefixable[b.symbol] = true
	}

	// Celsius converts to Kelvin with an offset rather than a scale.
	r.units["degC"] = Unit{Symbol: "degC", Dimension: "temperature", Factor: 1, Offset: 273.15}

	// Minutes and hours are common in sweep/dwell settings.
	r.units["min"] = Unit{Symbol: "min", Dimension: "time", Factor: 60}
	r.units["h"] = Unit{Symbol: "h", Dimension: "time", Factor: 3600}

	return r
}

// Register adds a unit to the registry.
//
// Parameters:
//   - u: Unit to add; Symbol and Dimension are required, Factor defaults to 1
//   - prefixable: Whether SI prefixes may be applied to the symbol
//
// Returns:
//   - error: If the symbol or dimension is empty
func (r *Registry) Register(u Unit, prefixable bool) error {
	if u.Symbol == "" || u.Dimension == "" {
		return fmt.Errorf("unit: symbol and dimension are required")
	}
	if u.Factor == 0 {
		u.Factor = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[u.Symbol] = u
	if prefixable {
		r.prefixable[u.Symbol] = true
	}
	return nil
}

// Lookup resolves a symbol to a Unit, applying SI prefix resolution if the
// symbol is not declared directly.
//
// Returns ErrUnknownUnit if the symbol cannot be resolved.
func (r *Registry) Lookup(symbol string) (Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if u, ok := r.units[symbol]; ok {
		return u, nil
	}

	// Prefix resolution: first rune is a prefix, remainder a prefixable unit.
	for prefix, factor := range siPrefixes {
		if len(symbol) > len(prefix) && symbol[:len(prefix)] == prefix {
			base := symbol[len(prefix):]
			if u, ok := r.units[base]; ok && r.prefixable[base] && u.Offset == 0 {
				return Unit{
					Symbol:    symbol,
					Dimension: u.Dimension,
					Factor:    u.Factor * factor,
				}, nil
			}
		}
	}

	return Unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, symbol)
}

// Convert converts a magnitude from one unit to another.
//
// Returns ErrUnknownUnit if either symbol is unknown, ErrIncompatible if the
// units measure different dimensions.
func (r *Registry) Convert(value float64, from, to string) (float64, error) {
	if from == to {
		return value, nil
	}

	fu, err := r.Lookup(from)
	if err != nil {
		return 0, err
	}
	tu, err := r.Lookup(to)
	if err != nil {
		return 0, err
	}
	if fu.Dimension != tu.Dimension {
		return 0, fmt.Errorf("%w: cannot convert %q (%s) to %q (%s)",
			ErrIncompatible, from, fu.Dimension, to, tu.Dimension)
	}

	base := value*fu.Factor + fu.Offset
	return (base - tu.Offset) / tu.Factor, nil
}

// Process-wide registry, guarded for one-time installation.
var (
	processMu       sync.Mutex
	processRegistry *Registry
)

// SetRegistry installs the registry used by the whole process.
//
// Conversion can only happen between units declared in the same registry, so
// an application must use a single one. Call this before building any driver;
// once a registry is in place (set or lazily created) it cannot be replaced.
//
// Returns:
//   - error: ErrRegistrySet if a registry is already installed
func SetRegistry(r *Registry) error {
	processMu.Lock()
	defer processMu.Unlock()

	if processRegistry != nil {
		return ErrRegistrySet
	}
	processRegistry = r
	return nil
}

// DefaultRegistry returns the process registry, creating the built-in one on
// first use.
func DefaultRegistry() *Registry {
	processMu.Lock()
	defer processMu.Unlock()

	if processRegistry == nil {
		processRegistry = NewRegistry()
	}
	return processRegistry
}

// resetRegistry clears the process registry. Test use only.
func resetRegistry() {
	processMu.Lock()
	defer processMu.Unlock()
	processRegistry = nil
}
