package workqueue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dere-run/dered/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, store.Store) {
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

func TestCreateTaskDefaultsStatus(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	ready, err := c.CreateTask(ctx, store.ProjectTask{ID: "t1", WorkDir: "/work", Title: "a"})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if ready.Status != store.TaskReady {
		t.Errorf("task with no dependencies status = %q, want ready", ready.Status)
	}

	blocked, err := c.CreateTask(ctx, store.ProjectTask{ID: "t2", WorkDir: "/work", Title: "b", BlockedBy: []string{"t1"}})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if blocked.Status != store.TaskBlocked {
		t.Errorf("task with a dependency status = %q, want blocked", blocked.Status)
	}
}

func TestCompletingTaskUnblocksDependents(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.CreateTask(ctx, store.ProjectTask{ID: "t1", WorkDir: "/work", Title: "a"}); err != nil {
		t.Fatalf("CreateTask(t1) error = %v", err)
	}
	if _, err := c.CreateTask(ctx, store.ProjectTask{ID: "t2", WorkDir: "/work", Title: "b", BlockedBy: []string{"t1"}}); err != nil {
		t.Fatalf("CreateTask(t2) error = %v", err)
	}

	t1, err := c.ClaimTask(ctx, "/work", "sess", "agent")
	if err != nil {
		t.Fatalf("ClaimTask() error = %v", err)
	}
	if t1.ID != "t1" {
		t.Fatalf("ClaimTask() claimed %q, want t1", t1.ID)
	}

	t1.Status = store.TaskDone
	if err := c.UpdateTask(ctx, t1); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}

	t2, err := c.store.GetTask(ctx, "t2")
	if err != nil {
		t.Fatalf("GetTask(t2) error = %v", err)
	}
	if t2.Status != store.TaskReady {
		t.Errorf("t2 status after t1 completed = %q, want ready", t2.Status)
	}
}

func TestClaimTaskNoneReady(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.ClaimTask(ctx, "/work", "sess", "agent"); err != ErrTaskNotReady {
		t.Errorf("ClaimTask() on empty queue error = %v, want ErrTaskNotReady", err)
	}
}

func TestAddFollowUpTaskLinksParent(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.CreateTask(ctx, store.ProjectTask{ID: "t1", WorkDir: "/work", Title: "a"}); err != nil {
		t.Fatalf("CreateTask(t1) error = %v", err)
	}

	followUp, err := c.AddFollowUpTask(ctx, "t1", store.ProjectTask{ID: "t1-followup", Title: "discovered work"})
	if err != nil {
		t.Fatalf("AddFollowUpTask() error = %v", err)
	}
	if followUp.Provenance.ParentTaskID != "t1" {
		t.Errorf("follow-up ParentTaskID = %q, want t1", followUp.Provenance.ParentTaskID)
	}
	if followUp.WorkDir != "/work" {
		t.Errorf("follow-up WorkDir = %q, want inherited /work", followUp.WorkDir)
	}

	parent, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask(t1) error = %v", err)
	}
	if len(parent.FollowUpTaskIDs) != 1 || parent.FollowUpTaskIDs[0] != "t1-followup" {
		t.Errorf("parent FollowUpTaskIDs = %v, want [t1-followup]", parent.FollowUpTaskIDs)
	}
}

func TestDeleteTaskNotFound(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if err := c.DeleteTask(context.Background(), "missing"); err != ErrTaskNotFound {
		t.Errorf("DeleteTask(missing) error = %v, want ErrTaskNotFound", err)
	}
}

func TestUpdateTaskStampsStartedAtOnInProgressTransition(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()

	claimed, err := c.CreateTask(ctx, store.ProjectTask{ID: "t1", WorkDir: "/work", Title: "a"})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if claimed.StartedAt != nil {
		t.Fatalf("freshly created task StartedAt = %v, want nil", claimed.StartedAt)
	}

	claimed.Status = store.TaskInProgress
	if err := c.UpdateTask(ctx, claimed); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}

	got, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.StartedAt == nil {
		t.Error("task moved to in_progress has StartedAt = nil, want set")
	}
}

func TestUpdateTaskStampsCompletedAtOnDoneTransition(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()

	task, err := c.CreateTask(ctx, store.ProjectTask{ID: "t1", WorkDir: "/work", Title: "a"})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	task.Status = store.TaskDone
	if err := c.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}

	got, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.CompletedAt == nil {
		t.Error("task moved to done has CompletedAt = nil, want set: done implies completed_at is set")
	}
}

func TestUpdateTaskDoesNotOverwriteExistingStartedAt(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()

	task, err := c.CreateTask(ctx, store.ProjectTask{ID: "t1", WorkDir: "/work", Title: "a"})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	task.Status = store.TaskInProgress
	if err := c.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	first, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}

	first.Results.Notes = "still working"
	if err := c.UpdateTask(ctx, first); err != nil {
		t.Fatalf("UpdateTask() second call error = %v", err)
	}
	second, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if !second.StartedAt.Equal(*first.StartedAt) {
		t.Errorf("StartedAt changed across an unrelated update: %v != %v", second.StartedAt, first.StartedAt)
	}
}

func TestClaimTaskDoesNotSetStartedAt(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.CreateTask(ctx, store.ProjectTask{ID: "t1", WorkDir: "/work", Title: "a"}); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	claimed, err := c.ClaimTask(ctx, "/work", "sess", "agent")
	if err != nil {
		t.Fatalf("ClaimTask() error = %v", err)
	}
	if claimed.Status != store.TaskClaimed {
		t.Errorf("ClaimTask() status = %q, want claimed", claimed.Status)
	}
	if claimed.StartedAt != nil {
		t.Errorf("ClaimTask() StartedAt = %v, want nil: started_at belongs to the in_progress transition, not claim", claimed.StartedAt)
	}
}
