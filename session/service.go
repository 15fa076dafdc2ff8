// Package session implements the Agent Session Service: it owns every
// live agent runtime adapter process, serializes queries against each one,
// and fans out its event stream to any number of subscribers (the HTTP/WS
// facade, a swarm coordinator waiting on a dependency, a mission executor).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dere-run/dered"
	"github.com/dere-run/dered/agentrt"
	"github.com/dere-run/dered/store"
)

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrSessionBusy      = errors.New("session: query already in flight")
)

// BondContext supplies the affection/relationship summary injected into a
// session's prompt context. The bond package implements this; it is an
// interface here so session has no import-time dependency on bond.
type BondContext interface {
	ContextFor(ctx context.Context, userID string) (string, error)
}

// EmotionContext supplies the current emotional-state summary injected
// into a session's prompt context, implemented by the emotion package.
type EmotionContext interface {
	ContextFor(ctx context.Context, sessionID string) (string, error)
}

// AdapterFactory starts a new agent runtime adapter for a session. Swapped
// out in tests for a fake. sandboxImage is the mission- or session-level
// image tag requesting an isolated run; empty means run unsandboxed.
// allowedTools is the resolved tool-name allowlist passed through to the
// adapter process; nil means the adapter's own default applies.
type AdapterFactory func(ctx context.Context, workDir, personality, sandboxImage string, allowedTools []string) (*agentrt.Adapter, error)

// CreateOptions configures a new session.
type CreateOptions struct {
	WorkDir         string              `json:"work_dir"`
	Personality     string              `json:"personality"`
	Medium          string              `json:"medium"`
	UserID          string              `json:"user_id"`
	ParentSessionID string              `json:"parent_session_id,omitempty"`
	LeanMode        bool                `json:"lean_mode,omitempty"` // when true, skip bond/emotion context injection
	Restart         dered.RestartPolicy `json:"restart"`
	SandboxImage    string              `json:"sandbox_image,omitempty"` // non-empty runs the adapter inside this container image
	AllowedTools    []string            `json:"allowed_tools,omitempty"` // tool names the adapter process may expose to the model
}

// RunningSession is one live adapter plus its replay buffer and metadata.
type RunningSession struct {
	ID      string
	Adapter *agentrt.Adapter
	Restart dered.RestartPolicy

	buffer *replayBuffer
	mu     sync.Mutex // serializes Query: the adapter protocol allows one in-flight query

	leanMode        bool
	userID          string
	contextInjected bool // set once bond/emotion context has gone out with the first query
}

// Service is the Agent Session Service.
type Service struct {
	store          store.Store
	newAdapter     AdapterFactory
	bond           BondContext
	emotion        EmotionContext
	defaultRestart dered.RestartPolicy

	mu       sync.Mutex
	sessions map[string]*RunningSession
}

// NewService constructs the service. bond and emotion may be nil, in which
// case context injection is skipped for every session regardless of
// LeanMode. cmd/dered passes both; the swarm runner and the mission
// executor turn injection off per session with LeanMode instead.
func NewService(st store.Store, newAdapter AdapterFactory, bond BondContext, emotion EmotionContext) *Service {
	return &Service{
		store:      st,
		newAdapter: newAdapter,
		bond:       bond,
		emotion:    emotion,
		sessions:   make(map[string]*RunningSession),
	}
}

// CreateSession starts a new adapter process and registers a session row.
func (s *Service) CreateSession(ctx context.Context, opts CreateOptions) (*RunningSession, error) {
	adapter, err := s.newAdapter(ctx, opts.WorkDir, opts.Personality, opts.SandboxImage, opts.AllowedTools)
	if err != nil {
		return nil, fmt.Errorf("session: start adapter: %w", err)
	}

	now := time.Now().UTC()
	id := fmt.Sprintf("sess_%s", adapter.ExternalAgentID)
	if adapter.ExternalAgentID == "" {
		id = fmt.Sprintf("sess_%d", now.UnixNano())
	}

	rec := store.Session{
		ID:              id,
		WorkDir:         opts.WorkDir,
		StartedAt:       now,
		LastActivityAt:  now,
		Personality:     opts.Personality,
		Medium:          opts.Medium,
		UserID:          opts.UserID,
		ParentSessionID: opts.ParentSessionID,
		ExternalAgentID: adapter.ExternalAgentID,
	}
	if err := s.store.CreateSession(ctx, rec); err != nil {
		adapter.Close()
		return nil, fmt.Errorf("session: persist: %w", err)
	}

	rs := &RunningSession{
		ID:       id,
		Adapter:  adapter,
		Restart:  opts.Restart,
		buffer:   newReplayBuffer(),
		leanMode: opts.LeanMode,
		userID:   opts.UserID,
	}

	s.mu.Lock()
	s.sessions[id] = rs
	s.mu.Unlock()

	return rs, nil
}

// ResumeSession looks up an already-running session by ID.
func (s *Service) ResumeSession(id string) (*RunningSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return rs, nil
}

// Query sends message to the session's adapter, persisting both turns and
// broadcasting every emitted event to the session's subscribers. Unless the
// session is in LeanMode, the session's first query is prefixed with
// bond/emotion context; later queries are sent as they are.
func (s *Service) Query(ctx context.Context, sessionID, message string) error {
	rs, err := s.ResumeSession(sessionID)
	if err != nil {
		return err
	}

	if !rs.mu.TryLock() {
		return ErrSessionBusy
	}
	defer rs.mu.Unlock()

	prompt := message
	if !rs.leanMode && !rs.contextInjected {
		prompt = s.injectContext(ctx, rs, message)
		rs.contextInjected = true
	}

	now := time.Now().UTC()
	if _, err := s.store.AppendConversation(ctx, store.Conversation{
		SessionID: sessionID,
		Role:      string(dered.RoleUser),
		Text:      message,
		Timestamp: now,
	}); err != nil {
		slog.Error("session: persist user turn failed", "session_id", sessionID, "error", err)
	}

	var assistantText string
	emit := func(e dered.StreamEvent) {
		rs.buffer.publish(e)
		if e.Type == dered.EventText {
			assistantText += e.Delta
		}
	}

	queryErr := rs.Adapter.Query(ctx, sessionID, prompt, emit)

	if assistantText != "" {
		if _, err := s.store.AppendConversation(ctx, store.Conversation{
			SessionID: sessionID,
			Role:      string(dered.RoleAssistant),
			Text:      assistantText,
			Timestamp: time.Now().UTC(),
		}); err != nil {
			slog.Error("session: persist assistant turn failed", "session_id", sessionID, "error", err)
		}
	}

	if sess, err := s.store.GetSession(ctx, sessionID); err == nil {
		sess.LastActivityAt = time.Now().UTC()
		s.store.UpdateSession(ctx, sess)
	}

	return queryErr
}

func (s *Service) injectContext(ctx context.Context, rs *RunningSession, message string) string {
	var parts []string
	if s.bond != nil && rs.userID != "" {
		if c, err := s.bond.ContextFor(ctx, rs.userID); err == nil && c != "" {
			parts = append(parts, c)
		}
	}
	if s.emotion != nil {
		if c, err := s.emotion.ContextFor(ctx, rs.ID); err == nil && c != "" {
			parts = append(parts, c)
		}
	}
	if len(parts) == 0 {
		return message
	}
	prefix := ""
	for _, p := range parts {
		prefix += p + "\n"
	}
	return prefix + "\n" + message
}

// Subscribe returns retained history from fromSeq onward plus a channel of
// future events. The returned unsubscribe func must be called when the
// caller stops reading.
func (s *Service) Subscribe(sessionID string, fromSeq uint64) ([]dered.StreamEvent, <-chan dered.StreamEvent, func(), error) {
	rs, err := s.ResumeSession(sessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	replay, sub := rs.buffer.subscribe(fromSeq)
	unsub := func() { rs.buffer.unsubscribe(sub) }
	return replay, sub.ch, unsub, nil
}

// CloseSession terminates the adapter, marks the session row ended, and
// releases every subscriber.
func (s *Service) CloseSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	rs, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	rs.buffer.finish()
	closeErr := rs.Adapter.Close()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err == nil {
		now := time.Now().UTC()
		sess.EndedAt = &now
		s.store.UpdateSession(ctx, sess)
	}
	return closeErr
}

// ListActive returns the IDs of every currently-running session.
func (s *Service) ListActive() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
