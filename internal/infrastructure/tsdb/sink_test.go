package tsdb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/instrumentkit/instrument-core/internal/infrastructure/config"
	"github.com/instrumentkit/instrument-core/internal/instrument"
	"github.com/instrumentkit/instrument-core/internal/unit"
)

type recordedPoint struct {
	driver string
	path   string
	op     string
	value  any
}

type fakeWriter struct {
	mu     sync.Mutex
	points []recordedPoint
}

func (f *fakeWriter) WritePropertyValue(driver, path, op string, value any, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, recordedPoint{driver: driver, path: path, op: op, value: value})
}

func (f *fakeWriter) snapshot() []recordedPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedPoint(nil), f.points...)
}

func TestSinkForwardsEvents(t *testing.T) {
	w := &fakeWriter{}
	sink := NewSink(w)

	events := make(chan instrument.Event, 2)
	events <- instrument.Event{Driver: "psu", Path: "voltage", Op: instrument.OpSet, Value: 12.5, At: time.Now()}
	events <- instrument.Event{Driver: "psu", Path: "out[1].enabled", Op: instrument.OpGet, Value: true, At: time.Now()}
	close(events)

	done := make(chan struct{})
	go func() {
		sink.Run(context.Background(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sink did not drain the channel")
	}

	points := w.snapshot()
	if len(points) != 2 {
		t.Fatalf("points = %d, want 2", len(points))
	}
	if points[0].driver != "psu" || points[0].path != "voltage" || points[0].op != "set" {
		t.Errorf("first point = %+v", points[0])
	}
}

func TestSinkStopsOnContextCancel(t *testing.T) {
	w := &fakeWriter{}
	sink := NewSink(w)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan instrument.Event)

	done := make(chan struct{})
	go func() {
		sink.Run(ctx, events)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sink did not stop on cancellation")
	}
}

func TestNumericValue(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		want     float64
		wantUnit string
		wantOK   bool
	}{
		{name: "float", value: 12.5, want: 12.5, wantOK: true},
		{name: "int", value: 42, want: 42, wantOK: true},
		{name: "bool true", value: true, want: 1, wantOK: true},
		{name: "bool false", value: false, want: 0, wantOK: true},
		{name: "quantity", value: unit.Q(1000, "Hz"), want: 1000, wantUnit: "Hz", wantOK: true},
		{name: "string skipped", value: "ramping", wantOK: false},
		{name: "register skipped", value: map[string]bool{"ovp": true}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, gotUnit, ok := numericValue(tt.value)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got != tt.want || gotUnit != tt.wantUnit {
				t.Errorf("numericValue = (%v, %q), want (%v, %q)", got, gotUnit, tt.want, tt.wantUnit)
			}
		})
	}
}

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if err != ErrDisabled {
		t.Errorf("Connect with disabled config: error = %v, want ErrDisabled", err)
	}
}
