package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dered.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	sess := Session{
		ID:             "sess_1",
		WorkDir:        "/work",
		StartedAt:      now,
		LastActivityAt: now,
		Personality:    "default",
		UserID:         "user_1",
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	got, err := s.GetSession(ctx, "sess_1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.WorkDir != sess.WorkDir || got.UserID != sess.UserID {
		t.Errorf("GetSession() = %+v, want matching %+v", got, sess)
	}
	if got.EndedAt != nil {
		t.Errorf("GetSession().EndedAt = %v, want nil", got.EndedAt)
	}

	ended := now.Add(time.Hour)
	got.EndedAt = &ended
	if err := s.UpdateSession(ctx, got); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}

	active, err := s.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSessions() error = %v", err)
	}
	for _, a := range active {
		if a.ID == "sess_1" {
			t.Errorf("ListActiveSessions() still includes sess_1 after it was ended")
		}
	}

	if _, err := s.GetSession(ctx, "missing"); err != ErrNotFound {
		t.Errorf("GetSession(missing) error = %v, want ErrNotFound", err)
	}
}

func TestConversationOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, role := range []Role{RoleUser, RoleAssistant, RoleUser} {
		_, err := s.AppendConversation(ctx, Conversation{
			SessionID: "sess_1",
			Role:      string(role),
			Text:      "msg",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendConversation() error = %v", err)
		}
	}

	msgs, err := s.ListConversation(ctx, "sess_1", 10)
	if err != nil {
		t.Fatalf("ListConversation() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("ListConversation() returned %d messages, want 3", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Errorf("ListConversation() not in chronological order: %v before %v", msgs[i].Timestamp, msgs[i-1].Timestamp)
		}
	}
}

func TestClaimReadyTaskExcludesBlocked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	blocker := ProjectTask{ID: "t_blocker", WorkDir: "/work", Title: "blocker", Status: TaskDone, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateTask(ctx, blocker); err != nil {
		t.Fatalf("CreateTask(blocker) error = %v", err)
	}

	blocked := ProjectTask{ID: "t_blocked", WorkDir: "/work", Title: "blocked", Status: TaskReady, BlockedBy: []string{"t_unfinished"}, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateTask(ctx, blocked); err != nil {
		t.Fatalf("CreateTask(blocked) error = %v", err)
	}
	unfinished := ProjectTask{ID: "t_unfinished", WorkDir: "/work", Title: "unfinished", Status: TaskInProgress, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateTask(ctx, unfinished); err != nil {
		t.Fatalf("CreateTask(unfinished) error = %v", err)
	}

	ready := ProjectTask{ID: "t_ready", WorkDir: "/work", Title: "ready", Priority: 5, Status: TaskReady, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateTask(ctx, ready); err != nil {
		t.Fatalf("CreateTask(ready) error = %v", err)
	}

	claimed, err := s.ClaimReadyTask(ctx, "/work", "sess_1", "agent_1")
	if err != nil {
		t.Fatalf("ClaimReadyTask() error = %v", err)
	}
	if claimed.ID != "t_ready" {
		t.Errorf("ClaimReadyTask() claimed %q, want t_ready", claimed.ID)
	}
	if claimed.Status != TaskClaimed {
		t.Errorf("ClaimReadyTask() status = %q, want claimed", claimed.Status)
	}
	if claimed.AttemptCount != 1 {
		t.Errorf("ClaimReadyTask() attempt count = %d, want 1", claimed.AttemptCount)
	}

	if _, err := s.ClaimReadyTask(ctx, "/work", "sess_1", "agent_1"); err != ErrNoReadyTask {
		t.Errorf("second ClaimReadyTask() error = %v, want ErrNoReadyTask", err)
	}
}

func TestClaimReadyTaskConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		task := ProjectTask{ID: uuidLike(i), WorkDir: "/work", Title: "task", Status: TaskReady, CreatedAt: now, UpdatedAt: now}
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask() error = %v", err)
		}
	}

	claimedIDs := make(map[string]bool)
	var mu sync.Mutex
	done := make(chan claimResult, 10)
	for i := 0; i < 10; i++ {
		go func() {
			t, err := s.ClaimReadyTask(ctx, "/work", "sess", "agent")
			done <- claimResult{t, err}
		}()
	}
	for i := 0; i < 10; i++ {
		r := <-done
		if r.err == ErrNoReadyTask {
			continue
		}
		if r.err != nil {
			t.Fatalf("ClaimReadyTask() error = %v", r.err)
		}
		mu.Lock()
		if claimedIDs[r.task.ID] {
			t.Errorf("task %q claimed more than once", r.task.ID)
		}
		claimedIDs[r.task.ID] = true
		mu.Unlock()
	}
	if len(claimedIDs) != 5 {
		t.Errorf("claimed %d distinct tasks, want 5", len(claimedIDs))
	}
}

type claimResult struct {
	task ProjectTask
	err  error
}

func uuidLike(i int) string {
	return fmt.Sprintf("t_%d", i)
}

func TestUpdateMemoryBlockVersioned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	block := CoreMemoryBlock{ID: "block_1", UserID: "user_1", BlockType: MemoryPersona, Content: "v1", CharLimit: 2000, Version: 1, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateMemoryBlock(ctx, block); err != nil {
		t.Fatalf("CreateMemoryBlock() error = %v", err)
	}

	updated, err := s.UpdateMemoryBlockVersioned(ctx, "block_1", "v2", "user correction")
	if err != nil {
		t.Fatalf("UpdateMemoryBlockVersioned() error = %v", err)
	}
	if updated.Version != 2 || updated.Content != "v2" {
		t.Errorf("UpdateMemoryBlockVersioned() = %+v, want version 2 content v2", updated)
	}

	versions, err := s.ListMemoryVersions(ctx, "block_1")
	if err != nil {
		t.Fatalf("ListMemoryVersions() error = %v", err)
	}
	if len(versions) != 1 || versions[0].Version != 2 {
		t.Errorf("ListMemoryVersions() = %+v, want one entry at version 2", versions)
	}
}

func TestBondStateUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	b := BondState{UserID: "user_1", Affection: 10, Trend: TrendRising, LastInteractionAt: now}
	if err := s.UpdateBondState(ctx, b); err != nil {
		t.Fatalf("UpdateBondState() error = %v", err)
	}
	b.Affection = 12
	b.Trend = TrendStable
	if err := s.UpdateBondState(ctx, b); err != nil {
		t.Fatalf("UpdateBondState() second call error = %v", err)
	}

	got, err := s.GetBondState(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetBondState() error = %v", err)
	}
	if got.Affection != 12 || got.Trend != TrendStable {
		t.Errorf("GetBondState() = %+v, want affection 12 trend stable", got)
	}
}
