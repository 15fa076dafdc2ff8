package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dere-run/dered/store"
)

func (s *Server) handleMemoryEdit(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	var body struct {
		BlockID   string                `json:"block_id"`
		Content   string                `json:"content"`
		Reason    string                `json:"reason"`
		UserID    string                `json:"user_id"`
		SessionID string                `json:"session_id"`
		BlockType store.MemoryBlockType `json:"block_type"`
		CharLimit int                   `json:"char_limit"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.BlockID == "" {
		if body.BlockType == "" {
			writeError(w, http.StatusBadRequest, "block_id or block_type is required")
			return
		}
		b := store.CoreMemoryBlock{
			UserID:    body.UserID,
			SessionID: body.SessionID,
			BlockType: body.BlockType,
			Content:   body.Content,
			CharLimit: body.CharLimit,
			Version:   1,
		}
		if err := s.store.CreateMemoryBlock(r.Context(), b); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, b)
		return
	}
	updated, err := s.store.UpdateMemoryBlockVersioned(r.Context(), body.BlockID, body.Content, body.Reason)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "memory block not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleMemoryGet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	q := r.URL.Query()
	if blockID := q.Get("block_id"); blockID != "" {
		b, err := s.store.GetMemoryBlock(r.Context(), blockID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory block not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, b)
		return
	}
	blocks, err := s.store.ListMemoryBlocks(r.Context(), q.Get("user_id"), q.Get("session_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (s *Server) handleMemoryHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	blockID := r.URL.Query().Get("block_id")
	if blockID == "" {
		writeError(w, http.StatusBadRequest, "block_id is required")
		return
	}
	versions, err := s.store.ListMemoryVersions(r.Context(), blockID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleMemoryRollback(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	var body struct {
		BlockID string `json:"block_id"`
		Version int    `json:"version"`
	}
	if err := decodeJSON(r, &body); err != nil || body.BlockID == "" {
		writeError(w, http.StatusBadRequest, "block_id and version are required")
		return
	}
	versions, err := s.store.ListMemoryVersions(r.Context(), body.BlockID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var target *store.CoreMemoryVersion
	for i := range versions {
		if versions[i].Version == body.Version {
			target = &versions[i]
			break
		}
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "version not found")
		return
	}
	updated, err := s.store.UpdateMemoryBlockVersioned(r.Context(), body.BlockID, target.Content, "rollback to version "+strconv.Itoa(body.Version))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
