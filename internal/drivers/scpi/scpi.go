// Package scpi provides a reference driver for SCPI-style signal
// generators and power supplies.
//
// The driver declares the common property set shared by most SCPI
// instruments: identification, output power, a source subsystem, an
// output channel group, trigger modes and the questionable status
// register. Instrument families with extra capabilities can build on it
// with further Add calls before first use.
package scpi

import (
	"context"
	"strconv"
	"strings"

	"github.com/instrumentkit/instrument-core/internal/instrument"
	"github.com/instrumentkit/instrument-core/internal/iprop"
	"github.com/instrumentkit/instrument-core/internal/registry"
	"github.com/instrumentkit/instrument-core/internal/transport"
)

// DriverName is the name the driver registers under.
const DriverName = "scpi"

// New builds the SCPI reference driver on the given transport.
//
// The signature matches registry.Factory so the driver can be handed
// straight to Registry.Register.
func New(name string, tr transport.Transport, opts ...instrument.Option) (*instrument.Driver, error) {
	d := instrument.NewDriver(name, tr, opts...)

	if err := d.Add(iprop.MustNew(iprop.Config{
		Name:  "idn",
		Get:   "*IDN?",
		Kind:  iprop.KindString,
		Cache: true,
	})); err != nil {
		return nil, err
	}

	if err := d.Add(iprop.MustNew(iprop.Config{
		Name:    "power",
		Get:     "POW?",
		Set:     "POW %s",
		Kind:    iprop.KindInt,
		Range:   iprop.NewIntRange(0, 100),
		Retries: 2,
		Cache:   true,
	})); err != nil {
		return nil, err
	}

	// Amplitude limits depend on the installed output stage, so the
	// range is resolved from the instrument on first use.
	if err := d.Add(iprop.MustNew(iprop.Config{
		Name:     "amplitude",
		Get:      "VOLT?",
		Set:      "VOLT %s",
		Kind:     iprop.KindFloat,
		Unit:     "V",
		RangeKey: "amplitude",
		Cache:    true,
	})); err != nil {
		return nil, err
	}
	d.RegisterRange("amplitude", amplitudeRange)

	if err := d.Add(iprop.MustNew(iprop.Config{
		Name: "mode",
		Get:  "TRIG:MODE?",
		Set:  "TRIG:MODE %s",
		Kind: iprop.KindMapping,
		Mapping: map[string]string{
			"continuous": "CONT",
			"single":     "SING",
			"external":   "EXT",
		},
		Cache: true,
	})); err != nil {
		return nil, err
	}

	if err := d.Add(iprop.MustNew(iprop.Config{
		Name:    "output",
		Get:     "OUTP?",
		Set:     "OUTP %s",
		Kind:    iprop.KindBool,
		Aliases: map[string]bool{"on": true, "off": false},
		Cache:   true,
	})); err != nil {
		return nil, err
	}

	// Questionable status register; bit 2 is unused on this family.
	if err := d.Add(iprop.MustNew(iprop.Config{
		Name: "status",
		Get:  "STAT:QUES?",
		Set:  "STAT:QUES %s",
		Kind: iprop.KindRegister,
		Bits: []string{"voltage", "current", "", "temperature"},
	})); err != nil {
		return nil, err
	}

	osc, err := d.AddSubsystem("osc")
	if err != nil {
		return nil, err
	}
	if err := osc.Add(iprop.MustNew(iprop.Config{
		Name:  "frequency",
		Get:   "SOUR:FREQ?",
		Set:   "SOUR:FREQ %s",
		Kind:  iprop.KindFloat,
		Unit:  "Hz",
		Cache: true,
	})); err != nil {
		return nil, err
	}
	if err := osc.Add(iprop.MustNew(iprop.Config{
		Name: "waveform",
		Get:  "SOUR:FUNC?",
		Set:  "SOUR:FUNC %s",
		Kind: iprop.KindMapping,
		Mapping: map[string]string{
			"sine":     "SIN",
			"square":   "SQU",
			"triangle": "TRI",
		},
		Cache: true,
	})); err != nil {
		return nil, err
	}

	if _, err := d.AddChannelGroup("out", instrument.ChannelConfig{
		Properties: []*iprop.Property{
			iprop.MustNew(iprop.Config{
				Name:  "enabled",
				Get:   "OUTP? (@{ch})",
				Set:   "OUTP (@{ch}),%s",
				Kind:  iprop.KindBool,
				Cache: true,
			}),
			iprop.MustNew(iprop.Config{
				Name:  "voltage",
				Get:   "SOUR{ch}:VOLT?",
				Set:   "SOUR{ch}:VOLT %s",
				Kind:  iprop.KindFloat,
				Unit:  "V",
				Cache: true,
			}),
		},
	}); err != nil {
		return nil, err
	}

	return d, nil
}

// Register adds the driver factory to a registry.
func Register(reg *registry.Registry) error {
	return reg.Register(DriverName, New)
}

// amplitudeRange queries the instrument for its amplitude limits. The
// result is cached by the host until DiscardRange.
func amplitudeRange(ctx context.Context, h iprop.Host) (iprop.Validator, error) {
	minRepr, err := h.DefaultGet(ctx, "VOLT? MIN")
	if err != nil {
		return nil, err
	}
	maxRepr, err := h.DefaultGet(ctx, "VOLT? MAX")
	if err != nil {
		return nil, err
	}

	minVal, err := parseFloat(minRepr)
	if err != nil {
		return nil, err
	}
	maxVal, err := parseFloat(maxRepr)
	if err != nil {
		return nil, err
	}

	r := iprop.NewFloatRange(minVal, maxVal)
	r.Unit = "V"
	return r, nil
}

func parseFloat(repr string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(repr), 64)
}
