package mission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dere-run/dered"
	"github.com/dere-run/dered/session"
	"github.com/dere-run/dered/store"
)

// outputCap bounds how much of a mission run's accumulated text output is
// retained on the execution record; coding-agent runs can produce output
// far larger than anyone will read back from a mission log.
const outputCap = 20000

// SessionExecutor runs a mission by opening a dedicated session for it via
// session.Service, feeding it the mission prompt, and collecting the
// resulting event stream into a store.MissionExecution. Grounded on
// process_llm.go's LLM-call-accumulation loop (collect text deltas into
// one string, count tool calls), retargeted to consume dered.StreamEvent
// via session.Service instead of calling an llm.LLM directly — the
// mission executor never talks to a model; the agent runtime adapter does.
type SessionExecutor struct {
	store   store.Store
	session *session.Service
}

// NewSessionExecutor constructs a SessionExecutor.
func NewSessionExecutor(st store.Store, svc *session.Service) *SessionExecutor {
	return &SessionExecutor{store: st, session: svc}
}

// Execute opens a session scoped to the mission's work dir and personality,
// sends the mission prompt, and waits for the run to finish.
func (e *SessionExecutor) Execute(ctx context.Context, m store.Mission, trigger store.TriggerKind, triggeredBy string) (store.MissionExecution, error) {
	started := time.Now().UTC()
	exec := store.MissionExecution{
		ID:          fmt.Sprintf("exec_%s_%d", m.ID, started.UnixNano()),
		MissionID:   m.ID,
		Trigger:     trigger,
		TriggeredBy: triggeredBy,
		Status:      store.ExecutionRunning,
		StartedAt:   started,
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return store.MissionExecution{}, fmt.Errorf("mission: persist execution: %w", err)
	}

	rs, err := e.session.CreateSession(ctx, session.CreateOptions{
		WorkDir:      m.WorkDir,
		Personality:  m.Personality,
		LeanMode:     true, // missions run unattended; no bond/emotion context to inject
		Restart:      dered.Temporary,
		SandboxImage: m.SandboxImage,
		AllowedTools: m.AllowedTools,
	})
	if err != nil {
		exec.Status = store.ExecutionFailed
		exec.Error = err.Error()
		now := time.Now().UTC()
		exec.CompletedAt = &now
		e.store.UpdateExecution(ctx, exec)
		return exec, fmt.Errorf("mission: create session: %w", err)
	}
	defer e.session.CloseSession(context.Background(), rs.ID)

	_, events, unsub, err := e.session.Subscribe(rs.ID, 0)
	if err != nil {
		exec.Status = store.ExecutionFailed
		exec.Error = err.Error()
		now := time.Now().UTC()
		exec.CompletedAt = &now
		e.store.UpdateExecution(ctx, exec)
		return exec, fmt.Errorf("mission: subscribe: %w", err)
	}
	defer unsub()

	var budget time.Duration
	if m.BudgetUSD > 0 {
		budget = 20 * time.Minute
	} else {
		budget = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	queryErr := make(chan error, 1)
	go func() { queryErr <- e.session.Query(runCtx, rs.ID, m.Prompt) }()

	var output strings.Builder
	var toolCalls int
	var costUSD float64
	var runErr error

collect:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break collect
			}
			switch ev.Type {
			case dered.EventText:
				if output.Len() < outputCap {
					output.WriteString(ev.Delta)
				}
			case dered.EventToolUse:
				toolCalls++
			case dered.EventDone:
				costUSD = ev.CostUSD
				break collect
			case dered.EventError:
				if !ev.Recoverable {
					runErr = fmt.Errorf("mission: agent error: %s", ev.ErrorMessage)
					break collect
				}
			}
		case err := <-queryErr:
			if err != nil {
				runErr = err
			}
			break collect
		case <-runCtx.Done():
			runErr = runCtx.Err()
			break collect
		}
	}

	completed := time.Now().UTC()
	exec.CompletedAt = &completed
	exec.ToolUseCount = toolCalls
	exec.BudgetUSD = costUSD
	exec.Output = truncate(output.String(), outputCap)
	exec.Summary = summarize(exec.Output)

	if runErr != nil {
		exec.Status = store.ExecutionFailed
		exec.Error = runErr.Error()
	} else {
		exec.Status = store.ExecutionCompleted
	}

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return exec, fmt.Errorf("mission: persist execution result: %w", err)
	}
	return exec, runErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}

// summarize takes the first line (or first 200 characters) of output as a
// cheap one-line execution summary, avoiding a second LLM round trip just
// to summarize a summary.
func summarize(output string) string {
	if output == "" {
		return ""
	}
	if idx := strings.IndexByte(output, '\n'); idx > 0 && idx < 200 {
		return output[:idx]
	}
	if len(output) > 200 {
		return output[:200] + "..."
	}
	return output
}
