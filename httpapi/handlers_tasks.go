package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dere-run/dered/eventbus"
	"github.com/dere-run/dered/store"
	"github.com/dere-run/dered/workqueue"
)

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "work queue unavailable")
		return
	}
	var t store.ProjectTask
	if err := decodeJSON(r, &t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if t.WorkDir == "" || t.Title == "" {
		writeError(w, http.StatusBadRequest, "work_dir and title are required")
		return
	}
	created, err := s.tasks.CreateTask(r.Context(), t)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	q := r.URL.Query()
	workDir := q.Get("working_dir")
	if workDir == "" {
		writeError(w, http.StatusBadRequest, "working_dir is required")
		return
	}
	tasks, err := s.store.ListTasks(r.Context(), workDir, store.TaskStatus(q.Get("status")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if taskType := q.Get("task_type"); taskType != "" {
		tasks = filterTasks(tasks, func(t store.ProjectTask) bool { return t.TaskType == taskType })
	}
	if tagsParam := q.Get("tags"); tagsParam != "" {
		want := strings.Split(tagsParam, ",")
		tasks = filterTasks(tasks, func(t store.ProjectTask) bool { return hasAnyTag(t.Tags, want) })
	}

	offset := parseIntOr(q.Get("offset"), 0)
	limit := parseIntOr(q.Get("limit"), 0)
	tasks = paginate(tasks, offset, limit)

	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleReadyTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "work queue unavailable")
		return
	}
	q := r.URL.Query()
	workDir := q.Get("working_dir")
	if workDir == "" {
		writeError(w, http.StatusBadRequest, "working_dir is required")
		return
	}
	tasks, err := s.tasks.GetReadyTasks(r.Context(), workDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if taskType := q.Get("task_type"); taskType != "" {
		tasks = filterTasks(tasks, func(t store.ProjectTask) bool { return t.TaskType == taskType })
	}
	if toolsParam := q.Get("required_tools"); toolsParam != "" {
		have := strings.Split(toolsParam, ",")
		tasks = filterTasks(tasks, func(t store.ProjectTask) bool { return isSubset(t.RequiredTools, have) })
	}
	if limit := parseIntOr(q.Get("limit"), 0); limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	t, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleClaimTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "work queue unavailable")
		return
	}
	var body struct {
		WorkDir   string `json:"work_dir"`
		SessionID string `json:"session_id"`
		AgentID   string `json:"agent_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := s.tasks.ClaimTask(r.Context(), body.WorkDir, body.SessionID, body.AgentID)
	if errors.Is(err, workqueue.ErrTaskNotReady) {
		writeError(w, http.StatusConflict, "no ready task available")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.publishTaskUpdate(t)
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleReleaseTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "work queue unavailable")
		return
	}
	if err := s.tasks.ReleaseTask(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, workqueue.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil || s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "work queue unavailable")
		return
	}
	id := r.PathValue("id")
	existing, err := s.store.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := decodeJSON(r, &existing); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	existing.ID = id
	if err := s.tasks.UpdateTask(r.Context(), existing); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.publishTaskUpdate(existing)
	writeJSON(w, http.StatusOK, existing)
}

// publishTaskUpdate fans a task's new state out over the bus for any
// dashboard or downstream consumer watching workDir's queue, independent of
// whoever made the HTTP request.
func (s *Server) publishTaskUpdate(t store.ProjectTask) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishJSON(eventbus.TaskUpdates(t.WorkDir), t); err != nil {
		slog.Error("httpapi: publish task update failed", "task_id", t.ID, "error", err)
	}
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "work queue unavailable")
		return
	}
	if err := s.tasks.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, workqueue.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddFollowUpTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "work queue unavailable")
		return
	}
	var t store.ProjectTask
	if err := decodeJSON(r, &t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := s.tasks.AddFollowUpTask(r.Context(), r.PathValue("id"), t)
	if errors.Is(err, workqueue.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "parent task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func filterTasks(tasks []store.ProjectTask, keep func(store.ProjectTask) bool) []store.ProjectTask {
	out := tasks[:0]
	for _, t := range tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// isSubset reports whether every element of need is present in have, the
// required_tools ⊆ caller_tools check get_ready_tasks filters by: a task
// needing a tool the caller didn't list is not ready for that caller, even
// if the two sets overlap.
func isSubset(need, have []string) bool {
	haveSet := make(map[string]bool, len(have))
	for _, h := range have {
		haveSet[h] = true
	}
	for _, n := range need {
		if !haveSet[n] {
			return false
		}
	}
	return true
}

func paginate(tasks []store.ProjectTask, offset, limit int) []store.ProjectTask {
	if offset > 0 {
		if offset >= len(tasks) {
			return nil
		}
		tasks = tasks[offset:]
	}
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks
}

func parseIntOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
