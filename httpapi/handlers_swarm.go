package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dere-run/dered/eventbus"
	"github.com/dere-run/dered/store"
	"github.com/dere-run/dered/swarm"
)

type createSwarmRequest struct {
	Swarm  store.Swarm        `json:"swarm"`
	Agents []store.SwarmAgent `json:"agents"`
}

func (s *Server) handleCreateSwarm(w http.ResponseWriter, r *http.Request) {
	if s.swarms == nil {
		writeError(w, http.StatusServiceUnavailable, "swarm coordinator unavailable")
		return
	}
	var req createSwarmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Swarm.Name == "" || req.Swarm.WorkDir == "" || len(req.Agents) == 0 {
		writeError(w, http.StatusBadRequest, "name, work_dir and at least one agent are required")
		return
	}
	sw, agents, err := s.swarms.CreateSwarm(r.Context(), req.Swarm, req.Agents)
	if err != nil {
		status := http.StatusBadRequest
		if isRecursiveSwarmErr(err) {
			status = http.StatusForbidden
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"swarm": sw, "agents": agents})
}

func isRecursiveSwarmErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "recursive swarm creation")
}

func (s *Server) handleListSwarms(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	status := store.SwarmStatus(r.URL.Query().Get("status"))
	swarms, err := s.store.ListSwarms(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, swarms)
}

func (s *Server) handleGetSwarm(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	sw, err := s.store.GetSwarm(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "swarm not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	agents, err := s.store.ListSwarmAgents(r.Context(), sw.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"swarm": sw, "agents": agents})
}

// handleSwarmStart kicks off Coordinator.Run in the background: it blocks
// until every agent reaches a terminal status, which can be arbitrarily
// long, so the HTTP request returns immediately once the run has begun and
// callers poll GET /swarm/{id} or use POST /swarm/{id}/wait.
func (s *Server) handleSwarmStart(w http.ResponseWriter, r *http.Request) {
	if s.swarms == nil {
		writeError(w, http.StatusServiceUnavailable, "swarm coordinator unavailable")
		return
	}
	id := r.PathValue("id")
	runCtx := context.WithoutCancel(r.Context())
	go func() {
		if err := s.swarms.Run(runCtx, id); err != nil {
			slog.Error("httpapi: swarm run failed", "swarm_id", id, "error", err)
		}
		s.publishSwarmAgents(runCtx, id)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleSwarmCancel(w http.ResponseWriter, r *http.Request) {
	if s.swarms == nil {
		writeError(w, http.StatusServiceUnavailable, "swarm coordinator unavailable")
		return
	}
	id := r.PathValue("id")
	if err := s.swarms.CancelSwarm(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.publishSwarmAgents(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// publishSwarmAgents fans every agent's terminal state out over the bus
// once a swarm run finishes or is cancelled, for any dashboard watching
// this swarm without having to poll GET /swarm/{id}.
func (s *Server) publishSwarmAgents(ctx context.Context, swarmID string) {
	if s.bus == nil || s.store == nil {
		return
	}
	agents, err := s.store.ListSwarmAgents(ctx, swarmID)
	if err != nil {
		slog.Error("httpapi: list swarm agents for publish failed", "swarm_id", swarmID, "error", err)
		return
	}
	if err := s.bus.PublishJSON(eventbus.SwarmAgents(swarmID), agents); err != nil {
		slog.Error("httpapi: publish swarm agents failed", "swarm_id", swarmID, "error", err)
	}
}

func (s *Server) handleSwarmWait(w http.ResponseWriter, r *http.Request) {
	if s.swarms == nil {
		writeError(w, http.StatusServiceUnavailable, "swarm coordinator unavailable")
		return
	}
	sw, err := s.swarms.WaitForAgents(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sw)
}

func (s *Server) handleGetSwarmAgent(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	agents, err := s.store.ListSwarmAgents(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	name := r.PathValue("name")
	for _, a := range agents {
		if a.Name == name {
			writeJSON(w, http.StatusOK, a)
			return
		}
	}
	writeError(w, http.StatusNotFound, "agent not found")
}

func (s *Server) handleSwarmMerge(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	var body struct {
		AgentName string `json:"agent_name"`
	}
	if err := decodeJSON(r, &body); err != nil || body.AgentName == "" {
		writeError(w, http.StatusBadRequest, "agent_name is required")
		return
	}
	sw, err := s.store.GetSwarm(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "swarm not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	agents, err := s.store.ListSwarmAgents(r.Context(), sw.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var branch string
	for _, a := range agents {
		if a.Name == body.AgentName {
			branch = a.Branch
		}
	}
	if branch == "" {
		writeError(w, http.StatusNotFound, "agent not found or has no branch")
		return
	}
	if err := swarm.MergeAgentBranch(r.Context(), sw.WorkDir, sw.BaseBranch, branch); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "merged"})
}

func (s *Server) handleListScratchpad(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	entries, err := s.store.ListScratchpad(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make(map[string]json.RawMessage, len(entries))
	for _, e := range entries {
		out[e.Key] = json.RawMessage(e.Value)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetScratchpad(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	e, err := s.store.GetScratchpad(r.Context(), r.PathValue("id"), r.PathValue("key"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(e.Value))
}

func (s *Server) handlePutScratchpad(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	var value json.RawMessage
	if err := decodeJSON(r, &value); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry := store.SwarmScratchpadEntry{
		SwarmID: r.PathValue("id"),
		Key:     r.PathValue("key"),
		Value:   string(value),
	}
	if err := s.store.PutScratchpad(r.Context(), entry); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func (s *Server) handleDeleteScratchpad(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if err := s.store.DeleteScratchpad(r.Context(), r.PathValue("id"), r.PathValue("key")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
