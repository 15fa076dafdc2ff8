package mission

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dere-run/dered/store"
)

func TestValidateCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 9 * * *", false},
		{"*/15 * * * *", false},
		{"0 12 * * 1-5", false},
		{"not a cron expression", true},
		{"99 99 * * *", true},
	}
	for _, tt := range tests {
		err := ValidateCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestNextOccurrence(t *testing.T) {
	after := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	next, err := NextOccurrence("0 9 * * *", "UTC", after)
	if err != nil {
		t.Fatalf("NextOccurrence() error = %v", err)
	}
	want := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextOccurrence() = %v, want %v", next, want)
	}
}

type fakeExecutor struct {
	calls int
}

func (f *fakeExecutor) Execute(ctx context.Context, m store.Mission, trigger store.TriggerKind, triggeredBy string) (store.MissionExecution, error) {
	f.calls++
	return store.MissionExecution{ID: "exec_1", MissionID: m.ID, Status: store.ExecutionCompleted}, nil
}

func TestSchedulerRunsDueMissions(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dered.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	ctx := context.Background()
	if err := st.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer st.Close()

	past := time.Now().UTC().Add(-time.Minute)
	now := time.Now().UTC()
	m := store.Mission{
		ID: "mission_1", Name: "test", Cron: "* * * * *", Timezone: "UTC",
		Status: store.MissionActive, NextExecutionAt: &past, WorkDir: "/work",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := st.CreateMission(ctx, m); err != nil {
		t.Fatalf("CreateMission() error = %v", err)
	}

	exec := &fakeExecutor{}
	sched := NewScheduler(st, exec, 0)
	sched.tick(ctx)

	if exec.calls != 1 {
		t.Fatalf("executor called %d times, want 1", exec.calls)
	}

	updated, err := st.GetMission(ctx, "mission_1")
	if err != nil {
		t.Fatalf("GetMission() error = %v", err)
	}
	if updated.NextExecutionAt == nil || !updated.NextExecutionAt.After(now) {
		t.Errorf("NextExecutionAt = %v, want recomputed to the future", updated.NextExecutionAt)
	}
	if updated.LastExecutionAt == nil {
		t.Errorf("LastExecutionAt = nil, want set after tick")
	}
}

func TestSchedulerTickSkipsNotYetDue(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dered.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	ctx := context.Background()
	if err := st.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer st.Close()

	future := time.Now().UTC().Add(time.Hour)
	now := time.Now().UTC()
	m := store.Mission{
		ID: "mission_1", Name: "test", Cron: "0 0 * * *", Timezone: "UTC",
		Status: store.MissionActive, NextExecutionAt: &future, WorkDir: "/work",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := st.CreateMission(ctx, m); err != nil {
		t.Fatalf("CreateMission() error = %v", err)
	}

	exec := &fakeExecutor{}
	sched := NewScheduler(st, exec, 0)
	sched.tick(ctx)

	if exec.calls != 0 {
		t.Errorf("executor called %d times, want 0 for a not-yet-due mission", exec.calls)
	}
}
