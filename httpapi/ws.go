package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dere-run/dered/session"
)

// upgrader is permissive on origin: dered runs as a single-operator daemon
// behind a CLI wrapper or local dashboard, not a public multi-tenant
// service, the same posture go-memsh's REPL endpoint takes.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is one client->server message on /agent/ws. Fields not used by
// the frame's type are left zero.
type wsFrame struct {
	Type      string                `json:"type"`
	Config    session.CreateOptions `json:"config"`
	SessionID string                `json:"session_id"`
	FromSeq   uint64                `json:"from_seq"`
	Prompt    string                `json:"prompt"`
}

type wsReady struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type wsError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// handleAgentWS upgrades to a WebSocket and drives one client's session
// lifecycle: new_session/resume_session create or reattach to a
// session.Service session, query drives it, and every dered.StreamEvent it
// emits is forwarded to the client as it streams in. One goroutine per
// connection reads frames; a second forwards the active subscription's
// events; writeMu serializes writes to the connection since gorilla's Conn
// forbids concurrent writers.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session service unavailable")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("httpapi: ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	writeJSONWS := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	var (
		subMu  sync.Mutex
		unsub  func()
		sessID string
	)
	stopSubscription := func() {
		subMu.Lock()
		if unsub != nil {
			unsub()
			unsub = nil
		}
		subMu.Unlock()
	}
	defer stopSubscription()

	startSubscription := func(id string, fromSeq uint64) error {
		stopSubscription()
		replay, live, un, err := s.sessions.Subscribe(id, fromSeq)
		if err != nil {
			return err
		}
		subMu.Lock()
		unsub = un
		sessID = id
		subMu.Unlock()

		go func() {
			for _, ev := range replay {
				if writeJSONWS(ev) != nil {
					return
				}
			}
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-live:
					if !ok {
						return
					}
					if writeJSONWS(ev) != nil {
						return
					}
				}
			}
		}()
		return nil
	}

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case "new_session":
			rs, err := s.sessions.CreateSession(ctx, frame.Config)
			if err != nil {
				writeJSONWS(wsError{Type: "error", Error: err.Error()})
				continue
			}
			if err := startSubscription(rs.ID, 0); err != nil {
				writeJSONWS(wsError{Type: "error", Error: err.Error()})
				continue
			}
			writeJSONWS(wsReady{Type: "session_ready", SessionID: rs.ID})

		case "resume_session":
			if err := startSubscription(frame.SessionID, frame.FromSeq); err != nil {
				writeJSONWS(wsError{Type: "error", Error: err.Error()})
				continue
			}
			writeJSONWS(wsReady{Type: "session_ready", SessionID: frame.SessionID})

		case "update_config":
			// The running adapter's personality and tool policy are fixed at
			// CreateSession time; there is nothing in session.Service to
			// retarget mid-session, so this acknowledges without effect.
			writeJSONWS(map[string]string{"type": "config_updated"})

		case "query":
			subMu.Lock()
			target := sessID
			subMu.Unlock()
			if target == "" {
				writeJSONWS(wsError{Type: "error", Error: "no active session"})
				continue
			}
			go func(id, prompt string) {
				if err := s.sessions.Query(ctx, id, prompt); err != nil {
					writeJSONWS(wsError{Type: "error", Error: err.Error()})
				}
			}(target, frame.Prompt)

		case "ping":
			writeJSONWS(map[string]string{"type": "pong"})

		case "close":
			subMu.Lock()
			target := sessID
			subMu.Unlock()
			if target != "" {
				s.sessions.CloseSession(ctx, target)
			}
			return

		default:
			writeJSONWS(wsError{Type: "error", Error: "unknown frame type: " + frame.Type})
		}
	}
}
