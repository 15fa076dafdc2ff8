package main

import (
	"context"
	"fmt"

	"github.com/dere-run/dered"
	"github.com/dere-run/dered/session"
	"github.com/dere-run/dered/store"
	"github.com/dere-run/dered/swarm"
)

// sessionAgentRunner implements swarm.AgentRunner as a thin wrapper around
// session.Service: each swarm agent gets its own session, seeded with the
// scratchpad's current contents, and its final text is written back to the
// scratchpad under the agent's name so dependents can read it.
type sessionAgentRunner struct {
	sessions *session.Service
}

func newSessionAgentRunner(sessions *session.Service) *sessionAgentRunner {
	return &sessionAgentRunner{sessions: sessions}
}

func (r *sessionAgentRunner) Run(ctx context.Context, sw store.Swarm, agent store.SwarmAgent, scratch *swarm.Scratchpad) (string, int, error) {
	rs, err := r.sessions.CreateSession(ctx, session.CreateOptions{
		WorkDir:         sw.WorkDir,
		Personality:     agent.Personality,
		Medium:          "swarm",
		ParentSessionID: sw.ParentSessionID,
		LeanMode:        true,
	})
	if err != nil {
		return "", 0, fmt.Errorf("runner: create session for agent %s: %w", agent.Name, err)
	}
	defer r.sessions.CloseSession(context.WithoutCancel(ctx), rs.ID)

	replay, live, unsub, err := r.sessions.Subscribe(rs.ID, 0)
	if err != nil {
		return "", 0, fmt.Errorf("runner: subscribe agent %s: %w", agent.Name, err)
	}
	defer unsub()

	var (
		output    string
		toolCount int
		done      = make(chan error, 1)
	)
	go func() {
		for _, ev := range replay {
			accumulateAgentOutput(ev, &output, &toolCount)
		}
		for ev := range live {
			accumulateAgentOutput(ev, &output, &toolCount)
			if ev.Type == dered.EventDone || ev.Type == dered.EventCancelled {
				done <- nil
				return
			}
			if ev.Type == dered.EventError && !ev.Recoverable {
				done <- fmt.Errorf("runner: agent %s: %s", agent.Name, ev.ErrorMessage)
				return
			}
		}
		done <- nil
	}()

	prompt := agent.Prompt
	if ctxStr := scratchpadContext(scratch); ctxStr != "" {
		prompt = ctxStr + "\n\n" + prompt
	}

	queryErr := r.sessions.Query(ctx, rs.ID, prompt)
	runErr := <-done
	if queryErr != nil {
		return output, toolCount, fmt.Errorf("runner: agent %s query: %w", agent.Name, queryErr)
	}
	if runErr != nil {
		return output, toolCount, runErr
	}

	if err := scratch.Put(ctx, agent.Name, output, rs.ID, agent.Name); err != nil {
		return output, toolCount, fmt.Errorf("runner: write scratchpad for agent %s: %w", agent.Name, err)
	}

	return output, toolCount, nil
}

func accumulateAgentOutput(ev dered.StreamEvent, output *string, toolCount *int) {
	switch ev.Type {
	case dered.EventText:
		*output += ev.Delta
	case dered.EventToolUse:
		*toolCount++
	}
}

// scratchpadContext renders every key currently on a swarm's scratchpad as
// a short prompt preamble, so an agent that depends on earlier agents sees
// their output without needing its own scratchpad-read tool call.
func scratchpadContext(scratch *swarm.Scratchpad) string {
	if scratch == nil {
		return ""
	}
	entries := scratch.List()
	if len(entries) == 0 {
		return ""
	}
	out := "Shared scratchpad from earlier agents in this swarm:\n"
	for k, v := range entries {
		out += fmt.Sprintf("- %s: %v\n", k, v)
	}
	return out
}
