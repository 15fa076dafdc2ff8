// Package swarm implements the Swarm Coordinator: a DAG of agents sharing
// a working directory and scratchpad, scheduled to a fixed point as their
// dependencies complete.
package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dere-run/dered/store"
)

// AgentRunner executes one swarm agent to completion. Implemented by a
// thin wrapper around session.Service in cmd/dered's wiring; kept as an
// interface here so swarm does not import session directly, the same
// pattern session.Service uses for BondContext/EmotionContext.
type AgentRunner interface {
	Run(ctx context.Context, sw store.Swarm, agent store.SwarmAgent, scratch *Scratchpad) (output string, toolCount int, err error)
}

// Coordinator schedules and runs a swarm's agent DAG.
type Coordinator struct {
	store  store.Store
	runner AgentRunner
}

// New constructs a Coordinator.
func New(st store.Store, runner AgentRunner) *Coordinator {
	return &Coordinator{store: st, runner: runner}
}

// CreateSwarm validates the agent DAG (unique names, no self-dependency,
// no cycle) and persists the swarm and its agents in pending state. If
// sw.AutoSynthesize is set, a synthesis agent depending on every leaf
// agent (one nothing else depends on) is appended automatically so the
// swarm always ends in a single combining step.
func (c *Coordinator) CreateSwarm(ctx context.Context, sw store.Swarm, agents []store.SwarmAgent) (store.Swarm, []store.SwarmAgent, error) {
	if sw.ParentSessionID != "" {
		isAgent, err := c.sessionBelongsToAgent(ctx, sw.ParentSessionID)
		if err != nil {
			return store.Swarm{}, nil, fmt.Errorf("swarm: check recursion: %w", err)
		}
		if isAgent {
			return store.Swarm{}, nil, fmt.Errorf("swarm: recursive swarm creation: parent session %q is itself a swarm agent", sw.ParentSessionID)
		}
	}

	if err := validateDAG(agents); err != nil {
		return store.Swarm{}, nil, err
	}

	if sw.AutoSynthesize {
		agents = append(agents, synthesisAgent(agents))
	}

	sw.Status = store.SwarmPending
	sw.CreatedAt = time.Now().UTC()
	if err := c.store.CreateSwarm(ctx, sw); err != nil {
		return store.Swarm{}, nil, fmt.Errorf("swarm: create swarm: %w", err)
	}
	for i := range agents {
		agents[i].SwarmID = sw.ID
		agents[i].Status = store.AgentPending
		if err := c.store.CreateSwarmAgent(ctx, agents[i]); err != nil {
			return store.Swarm{}, nil, fmt.Errorf("swarm: create agent %q: %w", agents[i].Name, err)
		}
	}
	return sw, agents, nil
}

// sessionBelongsToAgent reports whether sessionID is the spawned session of
// any swarm agent, which would make a new swarm created from it recursive.
func (c *Coordinator) sessionBelongsToAgent(ctx context.Context, sessionID string) (bool, error) {
	swarms, err := c.store.ListSwarms(ctx, "")
	if err != nil {
		return false, err
	}
	for _, sw := range swarms {
		agents, err := c.store.ListSwarmAgents(ctx, sw.ID)
		if err != nil {
			return false, err
		}
		for _, a := range agents {
			if a.SessionID == sessionID {
				return true, nil
			}
		}
	}
	return false, nil
}

// validateDAG rejects a self-dependency, a dependency on an agent name
// that doesn't exist in the batch, and any cycle, via depth-first search
// with the standard white/gray/black coloring. Grounded on the teacher's
// GetSpawnTree() parent/child graph walk (spawntree.go), generalized from
// a read-only tree view (which can never contain a cycle, since it's built
// from already-running processes) to a graph that must be validated before
// anything runs.
func validateDAG(agents []store.SwarmAgent) error {
	byName := make(map[string]store.SwarmAgent, len(agents))
	for _, a := range agents {
		if _, dup := byName[a.Name]; dup {
			return fmt.Errorf("swarm: duplicate agent name %q", a.Name)
		}
		byName[a.Name] = a
	}
	for _, a := range agents {
		for _, dep := range a.DependsOn {
			if dep.Agent == a.Name {
				return fmt.Errorf("swarm: agent %q depends on itself", a.Name)
			}
			if _, ok := byName[dep.Agent]; !ok {
				return fmt.Errorf("swarm: agent %q depends on unknown agent %q", a.Name, dep.Agent)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(agents))
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("swarm: dependency cycle detected: %v -> %s", path, name)
		}
		color[name] = gray
		for _, dep := range byName[name].DependsOn {
			if err := visit(dep.Agent, append(path, name)); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}
	for _, a := range agents {
		if err := visit(a.Name, nil); err != nil {
			return err
		}
	}
	return nil
}

// synthesisAgent builds an auto-appended agent depending on every leaf
// agent in the batch (one no other agent depends on), whose job is to
// combine their outputs into a final result.
func synthesisAgent(agents []store.SwarmAgent) store.SwarmAgent {
	dependedOn := make(map[string]bool)
	for _, a := range agents {
		for _, dep := range a.DependsOn {
			dependedOn[dep.Agent] = true
		}
	}
	var deps []store.DependencySpec
	for _, a := range agents {
		if !dependedOn[a.Name] {
			deps = append(deps, store.DependencySpec{Agent: a.Name})
		}
	}
	return store.SwarmAgent{
		Name:      "synthesis",
		Role:      "synthesis",
		Prompt:    "Combine the outputs of the other agents in this swarm's scratchpad into one final result.",
		DependsOn: deps,
	}
}

// Run drives a swarm's agent DAG to completion: a fixed-point loop that,
// each round, starts every pending agent whose dependencies are all
// terminal and whose condition (if any) evaluates true against the
// dependency's output, concurrently within the round, then waits for the
// round to finish before checking again. It returns once every agent has
// reached a terminal status or no further progress is possible (a
// deadlock, which should be unreachable given validateDAG, but is handled
// defensively by marking the stuck agents failed rather than looping
// forever).
func (c *Coordinator) Run(ctx context.Context, swarmID string) error {
	sw, err := c.store.GetSwarm(ctx, swarmID)
	if err != nil {
		return fmt.Errorf("swarm: get swarm: %w", err)
	}
	started := time.Now().UTC()
	sw.Status = store.SwarmRunning
	sw.StartedAt = &started
	if err := c.store.UpdateSwarm(ctx, sw); err != nil {
		return fmt.Errorf("swarm: mark running: %w", err)
	}

	scratch, err := NewScratchpad(ctx, c.store, swarmID)
	if err != nil {
		return err
	}

	for {
		agents, err := c.store.ListSwarmAgents(ctx, swarmID)
		if err != nil {
			return fmt.Errorf("swarm: list agents: %w", err)
		}
		byName := make(map[string]store.SwarmAgent, len(agents))
		for _, a := range agents {
			byName[a.Name] = a
		}

		if allTerminal(agents) {
			return c.finish(ctx, sw)
		}

		runnable := runnableAgents(agents, byName)
		if len(runnable) == 0 {
			slog.Error("swarm: no progress possible, marking stuck agents failed", "swarm_id", swarmID)
			for _, a := range agents {
				if !isTerminal(a.Status) {
					a.Status = store.AgentFailed
					a.Error = "swarm: dependency never became runnable"
					c.store.UpdateSwarmAgent(ctx, a)
				}
			}
			return c.finish(ctx, sw)
		}

		var wg sync.WaitGroup
		for _, a := range runnable {
			wg.Add(1)
			go func(agent store.SwarmAgent) {
				defer wg.Done()
				c.runAgent(ctx, sw, agent, scratch)
			}(a)
		}
		wg.Wait()
	}
}

// runnableAgents returns every pending agent whose dependencies are all
// terminal, resolving each one's condition (if set) against the
// dependency's decoded output. A false condition skips the dependent
// agent rather than running it; a failed dependency with no condition
// skips its dependents too, since there is nothing meaningful to react to.
func runnableAgents(agents []store.SwarmAgent, byName map[string]store.SwarmAgent) []store.SwarmAgent {
	var runnable []store.SwarmAgent
	for _, a := range agents {
		if a.Status != store.AgentPending {
			continue
		}
		allDepsTerminal := true
		shouldSkip := false
		for _, dep := range a.DependsOn {
			depAgent, ok := byName[dep.Agent]
			if !ok || !isTerminal(depAgent.Status) {
				allDepsTerminal = false
				break
			}
			if dep.Condition != "" {
				data := decodeOutput(depAgent.Output)
				ok, err := EvalCondition(dep.Condition, data)
				if err != nil || !ok {
					shouldSkip = true
				}
			} else if depAgent.Status != store.AgentCompleted {
				shouldSkip = true
			}
		}
		if !allDepsTerminal {
			continue
		}
		if shouldSkip {
			a.Status = store.AgentSkipped
			runnable = append(runnable, a) // surfaced so the caller persists the skip
			continue
		}
		runnable = append(runnable, a)
	}
	return runnable
}

func decodeOutput(output string) map[string]any {
	var m map[string]any
	if json.Unmarshal([]byte(output), &m) == nil {
		return m
	}
	return map[string]any{"text": output}
}

func isTerminal(s store.AgentStatus) bool {
	switch s {
	case store.AgentCompleted, store.AgentFailed, store.AgentCancelled, store.AgentSkipped:
		return true
	default:
		return false
	}
}

func allTerminal(agents []store.SwarmAgent) bool {
	for _, a := range agents {
		if !isTerminal(a.Status) {
			return false
		}
	}
	return true
}

func (c *Coordinator) runAgent(ctx context.Context, sw store.Swarm, agent store.SwarmAgent, scratch *Scratchpad) {
	if agent.Status == store.AgentSkipped {
		c.store.UpdateSwarmAgent(ctx, agent)
		return
	}

	now := time.Now().UTC()
	agent.Status = store.AgentRunning
	agent.StartedAt = &now
	if err := c.store.UpdateSwarmAgent(ctx, agent); err != nil {
		slog.Error("swarm: mark agent running failed", "agent", agent.Name, "error", err)
	}

	output, toolCount, err := c.runner.Run(ctx, sw, agent, scratch)

	completed := time.Now().UTC()
	agent.CompletedAt = &completed
	agent.Output = output
	agent.ToolCount = toolCount
	if err != nil {
		agent.Status = store.AgentFailed
		agent.Error = err.Error()
	} else {
		agent.Status = store.AgentCompleted
	}
	if err := c.store.UpdateSwarmAgent(ctx, agent); err != nil {
		slog.Error("swarm: persist agent result failed", "agent", agent.Name, "error", err)
	}
}

func (c *Coordinator) finish(ctx context.Context, sw store.Swarm) error {
	agents, err := c.store.ListSwarmAgents(ctx, sw.ID)
	if err != nil {
		return fmt.Errorf("swarm: list agents for finish: %w", err)
	}
	completed := time.Now().UTC()
	sw.CompletedAt = &completed
	sw.Status = store.SwarmCompleted
	for _, a := range agents {
		if a.Status == store.AgentFailed {
			sw.Status = store.SwarmFailed
			break
		}
	}
	return c.store.UpdateSwarm(ctx, sw)
}

// WaitForAgents polls the store until the swarm reaches a terminal status
// or ctx is cancelled. Run already blocks its caller until completion when
// called synchronously; WaitForAgents exists for a caller (the HTTP
// facade) that started a swarm asynchronously and wants to block on its
// result separately.
func (c *Coordinator) WaitForAgents(ctx context.Context, swarmID string) (store.Swarm, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		sw, err := c.store.GetSwarm(ctx, swarmID)
		if err != nil {
			return store.Swarm{}, fmt.Errorf("swarm: get swarm: %w", err)
		}
		switch sw.Status {
		case store.SwarmCompleted, store.SwarmFailed, store.SwarmCancelled:
			return sw, nil
		}
		select {
		case <-ctx.Done():
			return store.Swarm{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CancelSwarm marks a swarm and every non-terminal agent cancelled. Agents
// already running are not forcibly killed here; their session is closed
// by the caller (cmd/dered's wiring), which is what actually tears down
// the adapter subprocess.
func (c *Coordinator) CancelSwarm(ctx context.Context, swarmID string) error {
	sw, err := c.store.GetSwarm(ctx, swarmID)
	if err != nil {
		return fmt.Errorf("swarm: get swarm: %w", err)
	}
	agents, err := c.store.ListSwarmAgents(ctx, swarmID)
	if err != nil {
		return fmt.Errorf("swarm: list agents: %w", err)
	}
	for _, a := range agents {
		if !isTerminal(a.Status) {
			a.Status = store.AgentCancelled
			if err := c.store.UpdateSwarmAgent(ctx, a); err != nil {
				return fmt.Errorf("swarm: cancel agent %q: %w", a.Name, err)
			}
		}
	}
	now := time.Now().UTC()
	sw.Status = store.SwarmCancelled
	sw.CompletedAt = &now
	return c.store.UpdateSwarm(ctx, sw)
}
