package iprop

import (
	"errors"
	"testing"

	"github.com/instrumentkit/instrument-core/internal/unit"
)

func TestIntRangeValidate(t *testing.T) {
	min, max := 0, 100

	tests := []struct {
		name    string
		rng     IntRange
		value   any
		wantErr error
	}{
		{name: "in range", rng: IntRange{Min: &min, Max: &max}, value: 50},
		{name: "at minimum", rng: IntRange{Min: &min, Max: &max}, value: 0},
		{name: "at maximum", rng: IntRange{Min: &min, Max: &max}, value: 100},
		{name: "below", rng: IntRange{Min: &min, Max: &max}, value: -1, wantErr: ErrValidation},
		{name: "above", rng: IntRange{Min: &min, Max: &max}, value: 101, wantErr: ErrValidation},
		{name: "step respected", rng: IntRange{Min: &min, Max: &max, Step: 10}, value: 40},
		{name: "step violated", rng: IntRange{Min: &min, Max: &max, Step: 10}, value: 45, wantErr: ErrValidation},
		{name: "min only", rng: IntRange{Min: &min}, value: 1 << 20},
		{name: "int64 accepted", rng: IntRange{Min: &min, Max: &max}, value: int64(7)},
		{name: "not an integer", rng: IntRange{Min: &min, Max: &max}, value: "7", wantErr: ErrValidation},
		{name: "no bounds", rng: IntRange{}, value: 1, wantErr: ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rng.Validate(tt.value)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate(%v) unexpected error: %v", tt.value, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate(%v) error = %v, want %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestFloatRangeValidate(t *testing.T) {
	min, max := 0.0, 10.0

	tests := []struct {
		name    string
		rng     FloatRange
		value   any
		wantErr error
	}{
		{name: "in range", rng: FloatRange{Min: &min, Max: &max}, value: 5.0},
		{name: "int accepted", rng: FloatRange{Min: &min, Max: &max}, value: 5},
		{name: "below", rng: FloatRange{Min: &min, Max: &max}, value: -0.1, wantErr: ErrValidation},
		{name: "step respected", rng: FloatRange{Min: &min, Max: &max, Step: 0.1}, value: 0.3},
		{name: "step violated", rng: FloatRange{Min: &min, Max: &max, Step: 0.25}, value: 0.3, wantErr: ErrValidation},
		{name: "no bounds", rng: FloatRange{}, value: 1.0, wantErr: ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rng.Validate(tt.value)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate(%v) unexpected error: %v", tt.value, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate(%v) error = %v, want %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestFloatRangeWithUnit(t *testing.T) {
	min, max := 0.0, 1000.0
	rng := FloatRange{Min: &min, Max: &max, Unit: "Hz"}

	if err := rng.Validate(unit.Q(0.5, "kHz")); err != nil {
		t.Errorf("0.5 kHz should be inside 0..1000 Hz: %v", err)
	}
	if err := rng.Validate(unit.Q(2, "kHz")); !errors.Is(err, ErrValidation) {
		t.Errorf("2 kHz outside 0..1000 Hz: error = %v, want ErrValidation", err)
	}
	if err := rng.Validate(unit.Q(1, "V")); !errors.Is(err, ErrUnit) {
		t.Errorf("volts against a frequency range: error = %v, want ErrUnit", err)
	}
}
