// Package agentrt adapts an external agent runtime process (a coding-agent
// CLI that does its own reasoning and tool execution) into a typed Go event
// stream. The daemon never calls an LLM or executes a tool itself here; it
// starts the subprocess, feeds it prompts, and decodes its NDJSON stdout
// into dered.StreamEvent values.
package agentrt

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/dere-run/dered"
)

// Config describes how to launch one agent runtime adapter process.
type Config struct {
	// Command is the adapter binary, e.g. the configured coding-agent CLI.
	Command string
	// Args are appended after Command; the adapter is expected to run in
	// "stream NDJSON events on stdout, read prompts as NDJSON on stdin"
	// mode given these flags.
	Args []string
	WorkDir string
	Env     []string
	// StartTimeout bounds how long Start waits for the adapter's initial
	// session_ready event before giving up.
	StartTimeout time.Duration
}

// wireEvent is the on-wire shape the adapter process emits, one JSON object
// per line. Only fields relevant to Type are populated by the adapter.
type wireEvent struct {
	Type             string         `json:"type"`
	Delta            string         `json:"delta,omitempty"`
	ToolUseID        string         `json:"tool_use_id,omitempty"`
	ToolName         string         `json:"tool_name,omitempty"`
	ToolInput        map[string]any `json:"tool_input,omitempty"`
	ToolResult       string         `json:"tool_result,omitempty"`
	PermissionTool   string         `json:"permission_tool,omitempty"`
	PermissionDetail string         `json:"permission_detail,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Recoverable      bool           `json:"recoverable,omitempty"`
	InputTokens      int            `json:"input_tokens,omitempty"`
	OutputTokens     int            `json:"output_tokens,omitempty"`
	ToolCalls        int            `json:"tool_calls,omitempty"`
	CostUSD          float64        `json:"cost_usd,omitempty"`
	ExternalAgentID  string         `json:"external_agent_id,omitempty"`
}

// wireQuery is the shape written to the adapter's stdin for each query.
type wireQuery struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// Adapter is one running agent runtime subprocess, serialized to at most
// one in-flight query at a time.
type Adapter struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner

	mu     sync.Mutex // serializes Query calls; the adapter protocol is one request in flight at a time
	closed bool
	seq    uint64 // last event sequence number assigned; guarded by mu and continued across queries

	ExternalAgentID string
}

// Start launches the adapter process and blocks until it reports ready or
// cfg.StartTimeout elapses.
func Start(ctx context.Context, cfg Config) (*Adapter, error) {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.WorkDir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("agentrt: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agentrt: stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("agentrt: start: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	a := &Adapter{
		cmd:    cmd,
		stdin:  stdin,
		stdout: scanner,
	}

	timeout := cfg.StartTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	readyCh := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			var ev wireEvent
			if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
				continue
			}
			if ev.Type == "session_ready" {
				a.ExternalAgentID = ev.ExternalAgentID
				readyCh <- nil
				return
			}
		}
		readyCh <- fmt.Errorf("agentrt: process exited before session_ready: %w", scanner.Err())
	}()

	select {
	case err := <-readyCh:
		if err != nil {
			cmd.Process.Kill()
			return nil, err
		}
	case <-time.After(timeout):
		cmd.Process.Kill()
		return nil, fmt.Errorf("agentrt: timed out waiting for session_ready after %s", timeout)
	case <-ctx.Done():
		cmd.Process.Kill()
		return nil, ctx.Err()
	}

	return a, nil
}

// Query sends message to the running adapter and streams decoded events to
// emit until the adapter produces a terminal event (done, cancelled, or a
// non-recoverable error) or ctx is cancelled. Query itself never returns
// the terminal event to the caller via its error return; the terminal
// event is delivered through emit like any other, and the caller inspects
// StreamEvent.IsTerminal to know the query finished. Event Seq numbers
// continue from the adapter's previous query rather than restarting at 1.
func (a *Adapter) Query(ctx context.Context, sessionID, message string, emit func(dered.StreamEvent)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("agentrt: adapter closed")
	}

	q := wireQuery{Type: "query", Message: message}
	line, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("agentrt: encode query: %w", err)
	}
	if _, err := a.stdin.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("agentrt: write query: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !a.stdout.Scan() {
			err := a.stdout.Err()
			a.seq++
			ev := dered.StreamEvent{
				Type:         dered.EventError,
				SessionID:    sessionID,
				Seq:          a.seq,
				Timestamp:    time.Now().UTC(),
				ErrorMessage: fmt.Sprintf("adapter process ended: %v", err),
				Recoverable:  false,
			}
			emit(ev)
			return fmt.Errorf("agentrt: stream ended: %w", err)
		}

		var wire wireEvent
		if err := json.Unmarshal(a.stdout.Bytes(), &wire); err != nil {
			continue
		}

		a.seq++
		ev := translate(wire, sessionID, a.seq)
		emit(ev)
		if ev.IsTerminal() {
			return nil
		}
	}
}

func translate(w wireEvent, sessionID string, seq uint64) dered.StreamEvent {
	return dered.StreamEvent{
		Type:             dered.StreamEventType(w.Type),
		SessionID:        sessionID,
		Seq:              seq,
		Timestamp:        time.Now().UTC(),
		Delta:            w.Delta,
		ToolUseID:        w.ToolUseID,
		ToolName:         w.ToolName,
		ToolInput:        w.ToolInput,
		ToolResult:       w.ToolResult,
		PermissionTool:   w.PermissionTool,
		PermissionDetail: w.PermissionDetail,
		ErrorMessage:     w.ErrorMessage,
		Recoverable:      w.Recoverable,
		InputTokens:      w.InputTokens,
		OutputTokens:     w.OutputTokens,
		ToolCalls:        w.ToolCalls,
		CostUSD:          w.CostUSD,
	}
}

// Close terminates the adapter process, waiting briefly for a clean exit
// before killing it.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- a.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		a.cmd.Process.Kill()
		<-done
	}
	return nil
}
