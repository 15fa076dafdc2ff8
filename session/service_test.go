package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dere-run/dered"
	"github.com/dere-run/dered/agentrt"
	"github.com/dere-run/dered/store"
)

const fakeAdapterScript = `
echo '{"type":"session_ready","external_agent_id":"fake-1"}'
while IFS= read -r line; do
  echo '{"type":"text","delta":"ack"}'
  echo '{"type":"done"}'
done
`

func fakeFactory(ctx context.Context, workDir, personality, sandboxImage string, allowedTools []string) (*agentrt.Adapter, error) {
	return agentrt.Start(ctx, agentrt.Config{
		Command:      "sh",
		Args:         []string{"-c", fakeAdapterScript},
		WorkDir:      workDir,
		StartTimeout: 5 * time.Second,
	})
}

func newTestService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dered.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st, fakeFactory, nil, nil), st
}

func TestCreateQuerySubscribeClose(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	rs, err := svc.CreateSession(ctx, CreateOptions{WorkDir: t.TempDir(), UserID: "user_1", LeanMode: true})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	replay, ch, unsub, err := svc.Subscribe(rs.ID, 0)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if len(replay) != 0 {
		t.Errorf("Subscribe() replay = %v, want empty before any query", replay)
	}
	defer unsub()

	if err := svc.Query(ctx, rs.ID, "hello"); err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	var got []dered.StreamEvent
	timeout := time.After(2 * time.Second)
loop:
	for len(got) < 2 {
		select {
		case e := <-ch:
			got = append(got, e)
		case <-timeout:
			break loop
		}
	}
	if len(got) != 2 {
		t.Fatalf("received %d events, want 2", len(got))
	}
	if got[0].Type != dered.EventText || got[1].Type != dered.EventDone {
		t.Errorf("events = %+v, want text then done", got)
	}

	convo, err := st.ListConversation(ctx, rs.ID, 10)
	if err != nil {
		t.Fatalf("ListConversation() error = %v", err)
	}
	if len(convo) != 2 {
		t.Fatalf("ListConversation() = %d turns, want 2 (user + assistant)", len(convo))
	}
	if convo[0].Role != string(dered.RoleUser) || convo[1].Role != string(dered.RoleAssistant) {
		t.Errorf("conversation roles = %q, %q, want user, assistant", convo[0].Role, convo[1].Role)
	}
	if convo[1].Text != "ack" {
		t.Errorf("assistant turn text = %q, want ack", convo[1].Text)
	}

	if err := svc.CloseSession(ctx, rs.ID); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if _, err := svc.ResumeSession(rs.ID); err != ErrSessionNotFound {
		t.Errorf("ResumeSession() after close error = %v, want ErrSessionNotFound", err)
	}

	sess, err := st.GetSession(ctx, rs.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess.EndedAt == nil {
		t.Errorf("GetSession().EndedAt = nil, want set after CloseSession")
	}
}

func TestSubscribeLateJoinerReplaysHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rs, err := svc.CreateSession(ctx, CreateOptions{WorkDir: t.TempDir(), LeanMode: true})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := svc.Query(ctx, rs.ID, "hello"); err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	replay, _, unsub, err := svc.Subscribe(rs.ID, 0)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer unsub()
	if len(replay) != 2 {
		t.Fatalf("late subscriber replay = %d events, want 2", len(replay))
	}
}

func TestInjectContextSkippedInLeanMode(t *testing.T) {
	svc, _ := newTestService(t)
	rs := &RunningSession{ID: "sess_1", leanMode: true, userID: "user_1"}
	svc.bond = stubBond{}
	got := "hello"
	if !rs.leanMode {
		got = svc.injectContext(context.Background(), rs, "hello")
	}
	if got != "hello" {
		t.Errorf("lean mode session should not inject context, got %q", got)
	}
}

type stubBond struct{}

func (stubBond) ContextFor(ctx context.Context, userID string) (string, error) {
	return "bond: close friends", nil
}
