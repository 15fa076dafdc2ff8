// Package workqueue implements the Work Queue Coordinator: a durable,
// dependency-aware backlog of ProjectTasks that agents claim, work, and
// resolve, cascading follow-up work and unblocking dependents as tasks
// complete.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dere-run/dered/store"
)

var (
	ErrTaskNotFound        = errors.New("workqueue: task not found")
	ErrTaskNotReady         = errors.New("workqueue: no ready task available")
	ErrTaskAlreadyClaimed   = errors.New("workqueue: task already claimed")
)

// TaskClaimError wraps a claim failure with the task ID that was contested,
// so callers can log which task they lost the race for.
type TaskClaimError struct {
	TaskID string
	Err    error
}

func (e *TaskClaimError) Error() string {
	return fmt.Sprintf("workqueue: claim %s: %v", e.TaskID, e.Err)
}

func (e *TaskClaimError) Unwrap() error { return e.Err }

// Coordinator is the Work Queue Coordinator.
type Coordinator struct {
	store store.Store
}

// New constructs a Coordinator over the given store.
func New(st store.Store) *Coordinator {
	return &Coordinator{store: st}
}

// CreateTask inserts a new task. Tasks with no BlockedBy start ready
// immediately; tasks with unmet dependencies start blocked.
func (c *Coordinator) CreateTask(ctx context.Context, t store.ProjectTask) (store.ProjectTask, error) {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		if len(t.BlockedBy) > 0 {
			t.Status = store.TaskBlocked
		} else {
			t.Status = store.TaskReady
		}
	}
	if err := c.store.CreateTask(ctx, t); err != nil {
		return store.ProjectTask{}, fmt.Errorf("workqueue: create task: %w", err)
	}
	return t, nil
}

// GetReadyTasks lists tasks in workDir whose status is ready, ordered by
// priority then creation time — the same ordering ClaimTask uses, so
// callers previewing the queue see what they would actually claim next.
func (c *Coordinator) GetReadyTasks(ctx context.Context, workDir string) ([]store.ProjectTask, error) {
	tasks, err := c.store.ListTasks(ctx, workDir, store.TaskReady)
	if err != nil {
		return nil, fmt.Errorf("workqueue: list ready tasks: %w", err)
	}
	return tasks, nil
}

// ClaimTask atomically claims one ready, unblocked task for the given
// session/agent. The store's ClaimReadyTask does the actual atomic
// claiming; this method only translates its sentinel error.
func (c *Coordinator) ClaimTask(ctx context.Context, workDir, sessionID, agentID string) (store.ProjectTask, error) {
	t, err := c.store.ClaimReadyTask(ctx, workDir, sessionID, agentID)
	if errors.Is(err, store.ErrNoReadyTask) {
		return store.ProjectTask{}, ErrTaskNotReady
	}
	if err != nil {
		return store.ProjectTask{}, fmt.Errorf("workqueue: claim task: %w", err)
	}
	return t, nil
}

// ReleaseTask returns a claimed or in-progress task to ready, for a caller
// that claimed it but could not proceed (e.g. its session died).
func (c *Coordinator) ReleaseTask(ctx context.Context, taskID string) error {
	if err := c.store.ReleaseTask(ctx, taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("workqueue: release task: %w", err)
	}
	return nil
}

// UpdateTask persists a task's new state (typically a completion or
// failure) and cascades: any other task whose BlockedBy is now fully done
// moves from blocked to ready. A transition to in_progress stamps
// StartedAt and a transition to done stamps CompletedAt, each only if not
// already set, so done implies CompletedAt is set regardless of whether
// the caller remembered to set it.
func (c *Coordinator) UpdateTask(ctx context.Context, t store.ProjectTask) error {
	now := time.Now().UTC()
	if t.Status == store.TaskInProgress && t.StartedAt == nil {
		t.StartedAt = &now
	}
	if t.Status == store.TaskDone && t.CompletedAt == nil {
		t.CompletedAt = &now
	}
	if err := c.store.UpdateTask(ctx, t); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("workqueue: update task: %w", err)
	}
	if t.Status == store.TaskDone {
		if err := c.unblockDependents(ctx, t.WorkDir, t.ID); err != nil {
			return err
		}
	}
	return nil
}

// unblockDependents scans every blocked task in workDir and promotes it to
// ready once none of its BlockedBy tasks remain undone. This is a full
// table scan over blocked tasks rather than an index lookup by dependency
// id, which is fine at the scale a single project's backlog reaches and
// keeps the dependency representation a plain string slice instead of a
// second join table.
func (c *Coordinator) unblockDependents(ctx context.Context, workDir, completedTaskID string) error {
	blocked, err := c.store.ListTasks(ctx, workDir, store.TaskBlocked)
	if err != nil {
		return fmt.Errorf("workqueue: list blocked tasks: %w", err)
	}
	for _, bt := range blocked {
		dependsOnCompleted := false
		for _, dep := range bt.BlockedBy {
			if dep == completedTaskID {
				dependsOnCompleted = true
				break
			}
		}
		if !dependsOnCompleted {
			continue
		}
		allDone, err := c.allDependenciesDone(ctx, bt)
		if err != nil {
			return err
		}
		if allDone {
			bt.Status = store.TaskReady
			if err := c.store.UpdateTask(ctx, bt); err != nil {
				return fmt.Errorf("workqueue: unblock %s: %w", bt.ID, err)
			}
		}
	}
	return nil
}

func (c *Coordinator) allDependenciesDone(ctx context.Context, t store.ProjectTask) (bool, error) {
	for _, depID := range t.BlockedBy {
		dep, err := c.store.GetTask(ctx, depID)
		if errors.Is(err, store.ErrNotFound) {
			continue // a deleted dependency no longer blocks.
		}
		if err != nil {
			return false, fmt.Errorf("workqueue: check dependency %s: %w", depID, err)
		}
		if dep.Status != store.TaskDone {
			return false, nil
		}
	}
	return true, nil
}

// AddFollowUpTask creates a new task discovered during work on parentID,
// recording provenance and appending to the parent's FollowUpTaskIDs.
func (c *Coordinator) AddFollowUpTask(ctx context.Context, parentID string, t store.ProjectTask) (store.ProjectTask, error) {
	parent, err := c.store.GetTask(ctx, parentID)
	if errors.Is(err, store.ErrNotFound) {
		return store.ProjectTask{}, ErrTaskNotFound
	}
	if err != nil {
		return store.ProjectTask{}, fmt.Errorf("workqueue: get parent task: %w", err)
	}

	t.WorkDir = parent.WorkDir
	t.Provenance.ParentTaskID = parentID
	created, err := c.CreateTask(ctx, t)
	if err != nil {
		return store.ProjectTask{}, err
	}

	parent.FollowUpTaskIDs = append(parent.FollowUpTaskIDs, created.ID)
	if err := c.store.UpdateTask(ctx, parent); err != nil {
		return store.ProjectTask{}, fmt.Errorf("workqueue: link follow-up to parent: %w", err)
	}
	return created, nil
}

// DeleteTask removes a task outright. Tasks that depend on it are left
// with a dangling BlockedBy entry, which allDependenciesDone treats as
// satisfied.
func (c *Coordinator) DeleteTask(ctx context.Context, taskID string) error {
	if err := c.store.DeleteTask(ctx, taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("workqueue: delete task: %w", err)
	}
	return nil
}
