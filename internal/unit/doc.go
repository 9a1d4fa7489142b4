// Package unit provides quantity and unit handling for instrument properties.
//
// Instruments always communicate in a fixed base unit per parameter (a signal
// generator speaks Hz, a source-meter speaks V), while callers may prefer
// scaled units (kHz, mV). This package converts between the two.
//
// # Key Types
//
//   - Quantity: a magnitude tagged with a unit symbol ("1.5 kHz")
//   - Registry: the set of known units and their conversion rules
//
// # Process Registry
//
// Conversion is only meaningful between units declared in the same registry,
// so a process uses exactly one. SetRegistry installs a custom registry once,
// before any driver is built; DefaultRegistry lazily creates the built-in one
// on first use. Installing a second registry is an error.
//
// # Usage
//
//	q := unit.Q(1, "kHz")
//	base, err := q.To("Hz") // 1000 Hz
//	if err != nil {
//	    // incompatible or unknown unit
//	}
//
// All methods are safe for concurrent use.
package unit
