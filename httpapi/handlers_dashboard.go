package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dere-run/dered/emotion"
	"github.com/dere-run/dered/eventbus"
)

func (s *Server) handleGetBond(w http.ResponseWriter, r *http.Request) {
	if s.bonds == nil {
		writeError(w, http.StatusServiceUnavailable, "bond engine unavailable")
		return
	}
	userID := r.PathValue("userID")
	state, err := s.bonds.ApplyDecay(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.bus != nil {
		if err := s.bus.PublishJSON(eventbus.BondUpdates(userID), state); err != nil {
			slog.Error("httpapi: publish bond update failed", "user_id", userID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleGetEmotion(w http.ResponseWriter, r *http.Request) {
	if s.emotions == nil {
		writeError(w, http.StatusServiceUnavailable, "emotion engine unavailable")
		return
	}
	sessionID := r.PathValue("sessionID")
	state, err := s.emotions.GetState(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.bus != nil {
		if err := s.bus.PublishJSON(eventbus.EmotionUpdates(sessionID), state); err != nil {
			slog.Error("httpapi: publish emotion update failed", "session_id", sessionID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    state,
		"dominant": emotion.GetCurrentDominantEmotion(state),
		"summary":  emotion.GetEmotionalStateSummary(state),
	})
}

func (s *Server) handleListRareEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	events, err := s.store.ListPendingRareEvents(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleRareEventShown(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if err := s.store.MarkRareEventShown(r.Context(), r.PathValue("id"), time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "shown"})
}

func (s *Server) handleRareEventDismissed(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if err := s.store.MarkRareEventDismissed(r.Context(), r.PathValue("id"), time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}
