package scpi

import (
	"context"
	"errors"
	"testing"

	"github.com/instrumentkit/instrument-core/internal/instrument"
	"github.com/instrumentkit/instrument-core/internal/iprop"
	"github.com/instrumentkit/instrument-core/internal/registry"
	"github.com/instrumentkit/instrument-core/internal/transport"
	"github.com/instrumentkit/instrument-core/internal/unit"
)

func newTestDriver(t *testing.T) (*instrument.Driver, *transport.Sim) {
	t.Helper()

	sim := transport.NewSim()
	d, err := New("siggen", sim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d, sim
}

func TestIdentification(t *testing.T) {
	d, sim := newTestDriver(t)
	sim.Respond("*IDN?", "Acme Instruments,SG-3000,12345,1.04")

	got, err := d.Get(context.Background(), "idn")
	if err != nil {
		t.Fatalf("Get idn: %v", err)
	}
	if got != "Acme Instruments,SG-3000,12345,1.04" {
		t.Errorf("idn = %v", got)
	}
}

// A power write that fails once on the wire is retried transparently:
// the connection is reopened and the command repeated, and the cache
// ends up holding the programmed value.
func TestPowerSetRetriesOnWireFailure(t *testing.T) {
	d, sim := newTestDriver(t)
	sim.FailSends(1)

	if err := d.Set(context.Background(), "power", 50); err != nil {
		t.Fatalf("Set power: %v", err)
	}

	sends := sim.Sends()
	if len(sends) != 2 || sends[0] != "POW 50" || sends[1] != "POW 50" {
		t.Errorf("sends = %v, want the command twice", sends)
	}
	if sim.Reopens() != 1 {
		t.Errorf("reopens = %d, want 1", sim.Reopens())
	}

	entries, err := d.CheckCache("power")
	if err != nil {
		t.Fatal(err)
	}
	if entries["power"] != 50 {
		t.Errorf("cached power = %v, want 50", entries["power"])
	}
}

func TestPowerRangeEnforced(t *testing.T) {
	d, sim := newTestDriver(t)

	err := d.Set(context.Background(), "power", 150)
	if !errors.Is(err, iprop.ErrValidation) {
		t.Fatalf("error = %v, want validation error", err)
	}
	if len(sim.Sends()) != 0 {
		t.Error("rejected value must not reach the wire")
	}
}

// A frequency programmed in kilohertz goes to the wire in the base
// unit, and the cache holds the converted quantity.
func TestFrequencyQuantityConversion(t *testing.T) {
	d, sim := newTestDriver(t)

	if err := d.SetPath(context.Background(), "osc.frequency", unit.Q(1, "kHz")); err != nil {
		t.Fatalf("Set osc.frequency: %v", err)
	}

	sends := sim.Sends()
	if len(sends) != 1 || sends[0] != "SOUR:FREQ 1000" {
		t.Errorf("sends = %v, want [SOUR:FREQ 1000]", sends)
	}

	entries, err := d.CheckCache("osc")
	if err != nil {
		t.Fatal(err)
	}
	if entries["osc.frequency"] != unit.Q(1000, "Hz") {
		t.Errorf("cached frequency = %v, want 1000 Hz", entries["osc.frequency"])
	}
}

func TestModeMappingRoundTrip(t *testing.T) {
	d, sim := newTestDriver(t)
	sim.Respond("TRIG:MODE?", "CONT")

	got, err := d.Get(context.Background(), "mode")
	if err != nil {
		t.Fatal(err)
	}
	if got != "continuous" {
		t.Errorf("mode = %v, want continuous", got)
	}

	if err := d.Set(context.Background(), "mode", "single"); err != nil {
		t.Fatal(err)
	}
	sends := sim.Sends()
	if len(sends) != 1 || sends[0] != "TRIG:MODE SING" {
		t.Errorf("sends = %v", sends)
	}
}

func TestOutputBoolAliases(t *testing.T) {
	d, sim := newTestDriver(t)

	if err := d.Set(context.Background(), "output", "on"); err != nil {
		t.Fatal(err)
	}
	sends := sim.Sends()
	if len(sends) != 1 || sends[0] != "OUTP 1" {
		t.Errorf("sends = %v", sends)
	}
}

func TestStatusRegister(t *testing.T) {
	d, sim := newTestDriver(t)
	sim.Respond("STAT:QUES?", "9")

	got, err := d.Get(context.Background(), "status")
	if err != nil {
		t.Fatal(err)
	}
	fields, ok := got.(map[string]bool)
	if !ok {
		t.Fatalf("status = %T", got)
	}
	if !fields["voltage"] || fields["current"] || !fields["temperature"] {
		t.Errorf("fields = %v, want voltage and temperature set", fields)
	}
}

func TestAmplitudeRangeResolvedFromInstrument(t *testing.T) {
	d, sim := newTestDriver(t)
	sim.Respond("VOLT? MIN", "0")
	sim.Respond("VOLT? MAX", "5.0")

	if err := d.Set(context.Background(), "amplitude", 2.5); err != nil {
		t.Fatalf("in-range amplitude: %v", err)
	}

	err := d.Set(context.Background(), "amplitude", 7.5)
	if !errors.Is(err, iprop.ErrValidation) {
		t.Fatalf("error = %v, want validation error", err)
	}

	// The limits were queried once, not per set.
	minQueries := 0
	for _, q := range sim.Queries() {
		if q == "VOLT? MAX" {
			minQueries++
		}
	}
	if minQueries != 1 {
		t.Errorf("VOLT? MAX queried %d times, want 1", minQueries)
	}
}

func TestChannelProperties(t *testing.T) {
	d, sim := newTestDriver(t)
	sim.Respond("SOUR2:VOLT?", "1.5")

	got, err := d.GetPath(context.Background(), "out[2].voltage")
	if err != nil {
		t.Fatal(err)
	}
	if got != unit.Q(1.5, "V") {
		t.Errorf("out[2].voltage = %v", got)
	}

	if err := d.SetPath(context.Background(), "out[2].enabled", true); err != nil {
		t.Fatal(err)
	}
	sends := sim.Sends()
	if len(sends) != 1 || sends[0] != "OUTP (@2),1" {
		t.Errorf("sends = %v", sends)
	}
}

func TestRegisterFactory(t *testing.T) {
	reg := registry.New()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d, err := reg.GetDriver(DriverName, registry.ConnectionInfo{Transport: "sim"})
	if err != nil {
		t.Fatalf("GetDriver: %v", err)
	}
	if d.Name() != DriverName {
		t.Errorf("name = %q", d.Name())
	}
}
