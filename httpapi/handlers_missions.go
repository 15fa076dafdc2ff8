package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dere-run/dered/eventbus"
	"github.com/dere-run/dered/mission"
	"github.com/dere-run/dered/store"
)

func (s *Server) handleCreateMission(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	var m store.Mission
	if err := decodeJSON(r, &m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if m.Name == "" || m.Prompt == "" || m.WorkDir == "" {
		writeError(w, http.StatusBadRequest, "name, prompt and work_dir are required")
		return
	}
	if m.Cron == "" && m.NaturalSchedule != "" {
		if s.model == nil {
			writeError(w, http.StatusServiceUnavailable, "natural_schedule requires an LLM backend, none configured")
			return
		}
		expr, err := mission.ParseNaturalSchedule(r.Context(), s.model, m.NaturalSchedule)
		if err != nil {
			writeError(w, http.StatusBadRequest, "could not interpret natural_schedule: "+err.Error())
			return
		}
		m.Cron = expr
	}
	if err := mission.ValidateCron(m.Cron); err != nil {
		writeError(w, http.StatusBadRequest, "invalid cron expression: "+err.Error())
		return
	}
	next, err := mission.NextOccurrence(m.Cron, m.Timezone, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m.NextExecutionAt = &next
	if m.Status == "" {
		m.Status = store.MissionActive
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	if err := s.store.CreateMission(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMissions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	status := store.MissionStatus(r.URL.Query().Get("status"))
	missions, err := s.store.ListMissions(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, missions)
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	m, err := s.store.GetMission(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpdateMission(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	id := r.PathValue("id")
	m, err := s.store.GetMission(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := decodeJSON(r, &m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	m.ID = id
	if err := mission.ValidateCron(m.Cron); err != nil {
		writeError(w, http.StatusBadRequest, "invalid cron expression: "+err.Error())
		return
	}
	m.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateMission(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMission(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if err := s.store.DeleteMission(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "mission not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMissionPause(w http.ResponseWriter, r *http.Request) {
	s.setMissionStatus(w, r, store.MissionPaused)
}

func (s *Server) handleMissionResume(w http.ResponseWriter, r *http.Request) {
	s.setMissionStatus(w, r, store.MissionActive)
}

func (s *Server) setMissionStatus(w http.ResponseWriter, r *http.Request, status store.MissionStatus) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	id := r.PathValue("id")
	m, err := s.store.GetMission(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateMission(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMissionExecute(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil || s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "mission executor unavailable")
		return
	}
	m, err := s.store.GetMission(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	exec, err := s.executor.Execute(r.Context(), m, store.TriggerManual, "api")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.bus != nil {
		if err := s.bus.PublishJSON(eventbus.MissionExecutions(m.ID), exec); err != nil {
			slog.Error("httpapi: publish mission execution failed", "mission_id", m.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	limit := parseIntOr(r.URL.Query().Get("limit"), 0)
	execs, err := s.store.ListExecutions(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	execs, err := s.store.ListExecutions(r.Context(), r.PathValue("id"), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	execID := r.PathValue("execID")
	for _, e := range execs {
		if e.ID == execID {
			writeJSON(w, http.StatusOK, e)
			return
		}
	}
	writeError(w, http.StatusNotFound, "execution not found")
}
