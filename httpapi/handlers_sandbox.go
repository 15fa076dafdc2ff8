package httpapi

import (
	"net/http"

	"github.com/dere-run/dered/container"
)

// sandboxProjectFromWorkDir mirrors cmd/dered/sandbox.go's project naming so
// a caller can ask about a project's container using the same working
// directory it passed when creating the mission or swarm that sandboxed it.
func sandboxProjectFromWorkDir(workDir string) string {
	return container.ProjectNameForWorkDir(workDir)
}

func (s *Server) handleSandboxStatus(w http.ResponseWriter, r *http.Request) {
	if s.containers == nil {
		writeError(w, http.StatusServiceUnavailable, "container manager unavailable")
		return
	}
	workDir := r.URL.Query().Get("working_dir")
	if workDir == "" {
		writeError(w, http.StatusBadRequest, "working_dir is required")
		return
	}
	status, err := s.containers.GetProjectStatus(r.Context(), sandboxProjectFromWorkDir(workDir))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSandboxList(w http.ResponseWriter, r *http.Request) {
	if s.containers == nil {
		writeError(w, http.StatusServiceUnavailable, "container manager unavailable")
		return
	}
	names, err := s.containers.ListProjectContainers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleSandboxStop(w http.ResponseWriter, r *http.Request) {
	if s.containers == nil {
		writeError(w, http.StatusServiceUnavailable, "container manager unavailable")
		return
	}
	var body struct {
		WorkDir string `json:"work_dir"`
	}
	if err := decodeJSON(r, &body); err != nil || body.WorkDir == "" {
		writeError(w, http.StatusBadRequest, "work_dir is required")
		return
	}
	if err := s.containers.StopProject(r.Context(), sandboxProjectFromWorkDir(body.WorkDir)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleSandboxLogs(w http.ResponseWriter, r *http.Request) {
	if s.containers == nil {
		writeError(w, http.StatusServiceUnavailable, "container manager unavailable")
		return
	}
	workDir := r.URL.Query().Get("working_dir")
	if workDir == "" {
		writeError(w, http.StatusBadRequest, "working_dir is required")
		return
	}
	tail := parseIntOr(r.URL.Query().Get("tail"), 200)
	logs, err := s.containers.GetLogs(r.Context(), sandboxProjectFromWorkDir(workDir), tail)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(logs))
}
