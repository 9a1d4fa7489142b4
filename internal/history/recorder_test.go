package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/instrumentkit/instrument-core/internal/instrument"
)

// fakeRepo records entries in memory.
type fakeRepo struct {
	mu      sync.Mutex
	entries []Entry
	fail    bool
}

func (f *fakeRepo) Record(_ context.Context, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("disk full")
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeRepo) List(context.Context, Query) ([]Entry, error) { return nil, nil }

func (f *fakeRepo) Prune(context.Context, time.Duration) (int64, error) { return 0, nil }

func (f *fakeRepo) snapshot() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Entry(nil), f.entries...)
}

func TestRecorderPersistsSets(t *testing.T) {
	repo := &fakeRepo{}
	rec := NewRecorder(repo)

	events := make(chan instrument.Event, 4)
	events <- instrument.Event{ID: "1", Driver: "psu", Path: "voltage", Op: instrument.OpSet, Value: 5.0, At: time.Now().UTC()}
	events <- instrument.Event{ID: "2", Driver: "psu", Path: "voltage", Op: instrument.OpGet, Value: 5.0, At: time.Now().UTC()}
	close(events)

	if err := rec.Run(context.Background(), events); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := repo.snapshot()
	if len(got) != 1 {
		t.Fatalf("recorded %d entries, want 1 (reads skipped by default)", len(got))
	}
	if got[0].Op != "set" || got[0].Path != "voltage" {
		t.Errorf("entry = %+v", got[0])
	}
}

func TestRecorderWithReads(t *testing.T) {
	repo := &fakeRepo{}
	rec := NewRecorder(repo, WithReads())

	events := make(chan instrument.Event, 2)
	events <- instrument.Event{ID: "1", Driver: "psu", Path: "voltage", Op: instrument.OpGet, Value: 4.9, At: time.Now().UTC()}
	close(events)

	if err := rec.Run(context.Background(), events); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := repo.snapshot(); len(got) != 1 || got[0].Op != "get" {
		t.Errorf("entries = %+v, want one get entry", got)
	}
}

// A failing repository must not stop the recorder; history loss is
// logged, not fatal.
func TestRecorderSurvivesRecordFailure(t *testing.T) {
	repo := &fakeRepo{fail: true}
	rec := NewRecorder(repo)

	events := make(chan instrument.Event, 2)
	events <- instrument.Event{ID: "1", Driver: "psu", Path: "voltage", Op: instrument.OpSet, Value: 1.0, At: time.Now().UTC()}
	events <- instrument.Event{ID: "2", Driver: "psu", Path: "output", Op: instrument.OpSet, Value: true, At: time.Now().UTC()}
	close(events)

	if err := rec.Run(context.Background(), events); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRecorderStopsOnCancel(t *testing.T) {
	repo := &fakeRepo{}
	rec := NewRecorder(repo)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan instrument.Event)

	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx, events) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop on cancel")
	}
}
