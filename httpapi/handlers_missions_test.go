package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dere-run/dered/store"
)

func newTestMissionServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dered.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return &Server{store: st}
}

func TestHandleCreateMissionRejectsNaturalScheduleWithoutModel(t *testing.T) {
	s := newTestMissionServer(t)
	body := strings.NewReader(`{"name":"n","prompt":"p","work_dir":"/w","natural_schedule":"every morning at 9am"}`)
	req := httptest.NewRequest(http.MethodPost, "/missions", body)
	w := httptest.NewRecorder()

	s.handleCreateMission(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d: natural_schedule with no LLM client wired must fail closed, not panic on a nil s.model", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleCreateMissionAllowsExplicitCronWithoutModel(t *testing.T) {
	s := newTestMissionServer(t)
	body := strings.NewReader(`{"name":"n","prompt":"p","work_dir":"/w","cron":"0 9 * * *"}`)
	req := httptest.NewRequest(http.MethodPost, "/missions", body)
	w := httptest.NewRecorder()

	s.handleCreateMission(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d: an explicit cron expression needs no LLM call at all", w.Code, http.StatusCreated)
	}
}
