package bond

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dere-run/dered/store"
)

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dered.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func TestGetStateInitializesAtStartingAffection(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := m.GetState(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if s.Affection != startingAffection {
		t.Errorf("Affection = %v, want %v", s.Affection, startingAffection)
	}
	if s.Trend != store.TrendStable {
		t.Errorf("Trend = %q, want stable", s.Trend)
	}
}

func TestApplyDecayNeverIncreasesAffection(t *testing.T) {
	now := time.Now().UTC()
	s := store.BondState{UserID: "u1", Affection: 60, LastInteractionAt: now.Add(-24 * time.Hour)}
	decayed := applyDecay(s, now)
	if decayed.Affection >= s.Affection {
		t.Errorf("Affection after 24h decay = %v, want < %v", decayed.Affection, s.Affection)
	}
	if decayed.Affection < 0 {
		t.Errorf("Affection after decay = %v, want >= 0", decayed.Affection)
	}
}

func TestApplyDecayResetsStreakAfterGap(t *testing.T) {
	now := time.Now().UTC()
	s := store.BondState{
		UserID:            "u1",
		Affection:         60,
		LastInteractionAt: now.Add(-72 * time.Hour),
		StreakDays:        5,
		StreakLastDate:    now.Add(-72 * time.Hour).Format("2006-01-02"),
	}
	decayed := applyDecay(s, now)
	if decayed.StreakDays != 0 {
		t.Errorf("StreakDays after 3-day gap = %d, want 0", decayed.StreakDays)
	}
}

func TestRecordInteractionIncreasesAffectionAndSetsMeaningful(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	before, err := m.GetState(ctx, "u1")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}

	after, err := m.RecordInteraction(ctx, "u1", QualityMeaningful, 20*time.Minute)
	if err != nil {
		t.Fatalf("RecordInteraction() error = %v", err)
	}
	if after.Affection <= before.Affection {
		t.Errorf("Affection after meaningful interaction = %v, want > %v", after.Affection, before.Affection)
	}
	if after.LastMeaningfulAt == nil {
		t.Error("LastMeaningfulAt not set after meaningful interaction")
	}
	if after.StreakDays != 1 {
		t.Errorf("StreakDays = %d, want 1 (first interaction)", after.StreakDays)
	}
}

func TestRecordInteractionSameDayStreakUnchanged(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.RecordInteraction(ctx, "u1", QualityStandard, 0); err != nil {
		t.Fatalf("RecordInteraction() error = %v", err)
	}
	second, err := m.RecordInteraction(ctx, "u1", QualityStandard, 0)
	if err != nil {
		t.Fatalf("RecordInteraction() error = %v", err)
	}
	if second.StreakDays != 1 {
		t.Errorf("StreakDays after two same-day interactions = %d, want 1", second.StreakDays)
	}
}

func TestClassifyTrendDistantBelowThreshold(t *testing.T) {
	s := store.BondState{Affection: distanceThreshold - 1}
	if got := classifyTrend(s, time.Now().UTC()); got != store.TrendDistant {
		t.Errorf("classifyTrend() = %q, want distant", got)
	}
}

func TestClassifyTrendRisingAgainstWindowBaseline(t *testing.T) {
	now := time.Now().UTC()
	s := store.BondState{
		Affection: 70,
		History: []store.BondHistoryEntry{
			{Timestamp: now.Add(-3 * 24 * time.Hour), Affection: 50, Reason: "decay"},
		},
	}
	if got := classifyTrend(s, now); got != store.TrendRising {
		t.Errorf("classifyTrend() = %q, want rising", got)
	}
}

func TestS5BondDecayThenMeaningfulInteraction(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	now := time.Now().UTC()
	seed := store.BondState{UserID: "u1", Affection: 60, LastInteractionAt: now.Add(-24 * time.Hour)}
	if err := m.store.UpdateBondState(ctx, seed); err != nil {
		t.Fatalf("UpdateBondState() error = %v", err)
	}

	decayed, err := m.ApplyDecay(ctx, "u1")
	if err != nil {
		t.Fatalf("ApplyDecay() error = %v", err)
	}
	if decayed.Affection >= seed.Affection || decayed.Affection < 0 {
		t.Errorf("decayed.Affection = %v, want in [0, %v)", decayed.Affection, seed.Affection)
	}

	after, err := m.RecordInteraction(ctx, "u1", QualityMeaningful, 20*time.Minute)
	if err != nil {
		t.Fatalf("RecordInteraction() error = %v", err)
	}
	if after.Affection <= decayed.Affection {
		t.Errorf("after.Affection = %v, want > decayed %v", after.Affection, decayed.Affection)
	}
	if after.LastMeaningfulAt == nil {
		t.Error("LastMeaningfulAt not set")
	}
}

func TestContextForReflectsAffectionBand(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	now := time.Now().UTC()
	seed := store.BondState{
		UserID:            "u1",
		Affection:         90,
		StreakDays:        4,
		LastInteractionAt: now,
		StreakLastDate:    calendarDay(now),
		History: []store.BondHistoryEntry{
			{Timestamp: now.Add(-3 * 24 * time.Hour), Affection: 70, Reason: "decay"},
		},
	}
	if err := m.store.UpdateBondState(ctx, seed); err != nil {
		t.Fatalf("UpdateBondState() error = %v", err)
	}

	summary, err := m.ContextFor(ctx, "u1")
	if err != nil {
		t.Fatalf("ContextFor() error = %v", err)
	}
	if !strings.Contains(summary, "deeply bonded") {
		t.Errorf("ContextFor() = %q, want mention of deep bond", summary)
	}
	if !strings.Contains(summary, "growing closer") {
		t.Errorf("ContextFor() = %q, want mention of rising trend", summary)
	}
	if !strings.Contains(summary, "4-day streak") {
		t.Errorf("ContextFor() = %q, want streak mention", summary)
	}
}

func TestBondSummaryDistantBand(t *testing.T) {
	s := store.BondState{Affection: 5, Trend: store.TrendFalling}
	summary := bondSummary(s)
	if !strings.Contains(summary, "distant from") {
		t.Errorf("bondSummary() = %q, want distant band", summary)
	}
	if !strings.Contains(summary, "drifting apart") {
		t.Errorf("bondSummary() = %q, want falling trend mention", summary)
	}
}
