package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleSandboxStatusUnavailableWithoutContainerManager(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/sandbox/status?working_dir=/work", nil)
	w := httptest.NewRecorder()

	s.handleSandboxStatus(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleSandboxStatusNoManagerReportedBeforeMissingWorkingDir(t *testing.T) {
	s := &Server{containers: nil}
	req := httptest.NewRequest(http.MethodGet, "/sandbox/status", nil)
	w := httptest.NewRecorder()

	s.handleSandboxStatus(w, req)

	// No container manager at all still reports 503 before the missing
	// working_dir would otherwise produce a 400; both are failure paths a
	// caller must already handle, so this just pins which one fires first.
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestSandboxProjectFromWorkDirIsStable(t *testing.T) {
	a := sandboxProjectFromWorkDir("/home/user/projects/my-bot")
	b := sandboxProjectFromWorkDir("/home/user/projects/my-bot")
	if a != b || a == "" {
		t.Errorf("sandboxProjectFromWorkDir() = %q, %q, want equal non-empty", a, b)
	}
}
