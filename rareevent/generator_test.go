package rareevent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dere-run/dered/bond"
	"github.com/dere-run/dered/emotion"
	"github.com/dere-run/dered/store"
)

func newTestGenerator(t *testing.T, cfg Config) (*Generator, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dered.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewGenerator(st, bond.New(st), emotion.New(st, nil), cfg), st
}

func TestGatedByCooldown(t *testing.T) {
	now := time.Now().UTC()
	pending := []store.RareEvent{{CreatedAt: now.Add(-10 * time.Minute)}}
	if !gated(pending, now, time.Hour, 10) {
		t.Error("gated() = false, want true within cooldown window")
	}
}

func TestGatedByDailyCap(t *testing.T) {
	now := time.Now().UTC()
	pending := []store.RareEvent{
		{CreatedAt: now.Add(-1 * time.Hour)},
		{CreatedAt: now.Add(-2 * time.Hour)},
	}
	if !gated(pending, now, 0, 2) {
		t.Error("gated() = false, want true at daily cap")
	}
}

func TestNotGatedWhenClear(t *testing.T) {
	now := time.Now().UTC()
	if gated(nil, now, time.Hour, 3) {
		t.Error("gated() = true, want false with no pending events")
	}
}

func TestTickCreatesEventWhenCandidateForcedCertain(t *testing.T) {
	g, st := newTestGenerator(t, Config{})
	g.candidates = []Candidate{{
		EventType:   "always",
		Probability: func(Snapshot) float64 { return 1.0 },
		ContentHint: func(Snapshot) map[string]any { return map[string]any{"x": 1} },
	}}
	ctx := context.Background()

	if err := g.tick(ctx, Subject{UserID: "u1", ActivityCategory: "idle"}); err != nil {
		t.Fatalf("tick() error = %v", err)
	}

	events, err := st.ListPendingRareEvents(ctx, "u1")
	if err != nil {
		t.Fatalf("ListPendingRareEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].EventType != "always" {
		t.Errorf("EventType = %q, want always", events[0].EventType)
	}
}

func TestOnCreateFiresWhenCandidateDraws(t *testing.T) {
	g, _ := newTestGenerator(t, Config{})
	g.candidates = []Candidate{{
		EventType:   "always",
		Probability: func(Snapshot) float64 { return 1.0 },
		ContentHint: func(Snapshot) map[string]any { return nil },
	}}

	var got store.RareEvent
	calls := 0
	g.OnCreate(func(ev store.RareEvent) {
		calls++
		got = ev
	})

	ctx := context.Background()
	if err := g.tick(ctx, Subject{UserID: "u1"}); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("OnCreate callback calls = %d, want 1", calls)
	}
	if got.UserID != "u1" || got.EventType != "always" {
		t.Errorf("OnCreate callback received %+v, want UserID=u1 EventType=always", got)
	}
}

func TestOnCreateNotCalledWhenGated(t *testing.T) {
	g, st := newTestGenerator(t, Config{Cooldown: time.Hour, DailyCap: 10})
	g.candidates = []Candidate{{
		EventType:   "always",
		Probability: func(Snapshot) float64 { return 1.0 },
		ContentHint: func(Snapshot) map[string]any { return nil },
	}}
	ctx := context.Background()
	now := time.Now().UTC()
	if err := st.CreateRareEvent(ctx, store.RareEvent{ID: "pre", UserID: "u1", EventType: "always", CreatedAt: now}); err != nil {
		t.Fatalf("CreateRareEvent() error = %v", err)
	}

	calls := 0
	g.OnCreate(func(store.RareEvent) { calls++ })

	if err := g.tick(ctx, Subject{UserID: "u1"}); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("OnCreate callback calls = %d, want 0 (cooldown should gate the tick)", calls)
	}
}

func TestTickDrawsNothingWhenAllProbabilitiesZero(t *testing.T) {
	g, st := newTestGenerator(t, Config{})
	g.candidates = []Candidate{{
		EventType:   "never",
		Probability: func(Snapshot) float64 { return 0 },
		ContentHint: func(Snapshot) map[string]any { return nil },
	}}
	ctx := context.Background()

	if err := g.tick(ctx, Subject{UserID: "u1"}); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	events, err := st.ListPendingRareEvents(ctx, "u1")
	if err != nil {
		t.Fatalf("ListPendingRareEvents() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("len(events) = %d, want 0", len(events))
	}
}

func TestTimeOfDayBand(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{6, "morning"}, {13, "afternoon"}, {19, "evening"}, {2, "night"},
	}
	for _, tt := range tests {
		at := time.Date(2026, 1, 1, tt.hour, 0, 0, 0, time.UTC)
		if got := timeOfDayBand(at); got != tt.want {
			t.Errorf("timeOfDayBand(hour=%d) = %q, want %q", tt.hour, got, tt.want)
		}
	}
}
