package swarm

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dere-run/dered/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dered.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// recordingRunner returns a canned output per agent name and records the
// order agents actually ran in, guarded by a mutex since Run starts each
// round's agents concurrently.
type recordingRunner struct {
	mu      sync.Mutex
	order   []string
	outputs map[string]string
	fail    map[string]bool
}

func (r *recordingRunner) Run(ctx context.Context, sw store.Swarm, agent store.SwarmAgent, scratch *Scratchpad) (string, int, error) {
	r.mu.Lock()
	r.order = append(r.order, agent.Name)
	r.mu.Unlock()
	if r.fail[agent.Name] {
		return "", 0, fmt.Errorf("agent %s failed", agent.Name)
	}
	out := r.outputs[agent.Name]
	if out == "" {
		out = `{"text":"ok"}`
	}
	return out, 1, nil
}

func TestCreateSwarmRejectsSelfDependency(t *testing.T) {
	st := newTestStore(t)
	c := New(st, &recordingRunner{})

	_, _, err := c.CreateSwarm(context.Background(), store.Swarm{ID: "s1", WorkDir: "/work"}, []store.SwarmAgent{
		{Name: "a", DependsOn: []store.DependencySpec{{Agent: "a"}}},
	})
	if err == nil {
		t.Fatal("CreateSwarm() with self-dependency: expected error, got nil")
	}
}

func TestCreateSwarmRejectsCycle(t *testing.T) {
	st := newTestStore(t)
	c := New(st, &recordingRunner{})

	_, _, err := c.CreateSwarm(context.Background(), store.Swarm{ID: "s1", WorkDir: "/work"}, []store.SwarmAgent{
		{Name: "a", DependsOn: []store.DependencySpec{{Agent: "b"}}},
		{Name: "b", DependsOn: []store.DependencySpec{{Agent: "a"}}},
	})
	if err == nil {
		t.Fatal("CreateSwarm() with cycle: expected error, got nil")
	}
}

func TestCreateSwarmRejectsUnknownDependency(t *testing.T) {
	st := newTestStore(t)
	c := New(st, &recordingRunner{})

	_, _, err := c.CreateSwarm(context.Background(), store.Swarm{ID: "s1", WorkDir: "/work"}, []store.SwarmAgent{
		{Name: "a", DependsOn: []store.DependencySpec{{Agent: "ghost"}}},
	})
	if err == nil {
		t.Fatal("CreateSwarm() with unknown dependency: expected error, got nil")
	}
}

func TestCreateSwarmRejectsRecursiveParent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := New(st, &recordingRunner{})

	_, agents, err := c.CreateSwarm(ctx, store.Swarm{ID: "s1", WorkDir: "/work"}, []store.SwarmAgent{
		{Name: "a"},
	})
	if err != nil {
		t.Fatalf("CreateSwarm() error = %v", err)
	}

	parent := agents[0]
	parent.SessionID = "sess-agent-a"
	if err := st.UpdateSwarmAgent(ctx, parent); err != nil {
		t.Fatalf("UpdateSwarmAgent() error = %v", err)
	}

	_, _, err = c.CreateSwarm(ctx, store.Swarm{
		ID:              "s2",
		WorkDir:         "/work",
		ParentSessionID: "sess-agent-a",
	}, []store.SwarmAgent{
		{Name: "child"},
	})
	if err == nil {
		t.Fatal("CreateSwarm() with a swarm-agent session as parent: expected error, got nil")
	}
}

func TestCreateSwarmAllowsNonAgentParentSession(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := New(st, &recordingRunner{})

	_, _, err := c.CreateSwarm(ctx, store.Swarm{
		ID:              "s1",
		WorkDir:         "/work",
		ParentSessionID: "sess-top-level",
	}, []store.SwarmAgent{
		{Name: "a"},
	})
	if err != nil {
		t.Fatalf("CreateSwarm() with ordinary parent session: error = %v", err)
	}
}

func TestCreateSwarmAutoSynthesizeAppendsAgent(t *testing.T) {
	st := newTestStore(t)
	c := New(st, &recordingRunner{})

	sw, agents, err := c.CreateSwarm(context.Background(), store.Swarm{ID: "s1", WorkDir: "/work", AutoSynthesize: true}, []store.SwarmAgent{
		{Name: "a"},
		{Name: "b", DependsOn: []store.DependencySpec{{Agent: "a"}}},
	})
	if err != nil {
		t.Fatalf("CreateSwarm() error = %v", err)
	}
	if len(agents) != 3 {
		t.Fatalf("len(agents) = %d, want 3 (a, b, synthesis)", len(agents))
	}
	last := agents[len(agents)-1]
	if last.Name != "synthesis" {
		t.Fatalf("last agent name = %q, want synthesis", last.Name)
	}
	if len(last.DependsOn) != 1 || last.DependsOn[0].Agent != "b" {
		t.Errorf("synthesis agent depends on %v, want [b] (the only leaf)", last.DependsOn)
	}
	if sw.Status != store.SwarmPending {
		t.Errorf("sw.Status = %q, want pending", sw.Status)
	}
}

func TestRunExecutesInDependencyOrder(t *testing.T) {
	st := newTestStore(t)
	runner := &recordingRunner{}
	c := New(st, runner)
	ctx := context.Background()

	sw, _, err := c.CreateSwarm(ctx, store.Swarm{ID: "s1", WorkDir: "/work"}, []store.SwarmAgent{
		{Name: "a"},
		{Name: "b", DependsOn: []store.DependencySpec{{Agent: "a"}}},
		{Name: "c", DependsOn: []store.DependencySpec{{Agent: "a"}}},
		{Name: "d", DependsOn: []store.DependencySpec{{Agent: "b"}, {Agent: "c"}}},
	})
	if err != nil {
		t.Fatalf("CreateSwarm() error = %v", err)
	}

	if err := c.Run(ctx, sw.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	runner.mu.Lock()
	order := append([]string(nil), runner.order...)
	runner.mu.Unlock()

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	if pos["a"] > pos["b"] || pos["a"] > pos["c"] {
		t.Errorf("order %v: a must run before b and c", order)
	}
	if pos["b"] > pos["d"] || pos["c"] > pos["d"] {
		t.Errorf("order %v: d must run after both b and c", order)
	}

	final, err := st.GetSwarm(ctx, sw.ID)
	if err != nil {
		t.Fatalf("GetSwarm() error = %v", err)
	}
	if final.Status != store.SwarmCompleted {
		t.Errorf("final swarm status = %q, want completed", final.Status)
	}
}

func TestRunSkipsAgentWhenConditionFalse(t *testing.T) {
	st := newTestStore(t)
	runner := &recordingRunner{outputs: map[string]string{"a": `{"ok":false}`}}
	c := New(st, runner)
	ctx := context.Background()

	sw, _, err := c.CreateSwarm(ctx, store.Swarm{ID: "s1", WorkDir: "/work"}, []store.SwarmAgent{
		{Name: "a"},
		{Name: "b", DependsOn: []store.DependencySpec{{Agent: "a", Condition: "ok == true"}}},
	})
	if err != nil {
		t.Fatalf("CreateSwarm() error = %v", err)
	}
	if err := c.Run(ctx, sw.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	agents, err := st.ListSwarmAgents(ctx, sw.ID)
	if err != nil {
		t.Fatalf("ListSwarmAgents() error = %v", err)
	}
	var bStatus store.AgentStatus
	for _, a := range agents {
		if a.Name == "b" {
			bStatus = a.Status
		}
	}
	if bStatus != store.AgentSkipped {
		t.Errorf("agent b status = %q, want skipped", bStatus)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	for _, name := range runner.order {
		if name == "b" {
			t.Errorf("agent b should not have run, but it did")
		}
	}
}

func TestRunMarksSwarmFailedWhenAgentFails(t *testing.T) {
	st := newTestStore(t)
	runner := &recordingRunner{fail: map[string]bool{"a": true}}
	c := New(st, runner)
	ctx := context.Background()

	sw, _, err := c.CreateSwarm(ctx, store.Swarm{ID: "s1", WorkDir: "/work"}, []store.SwarmAgent{
		{Name: "a"},
	})
	if err != nil {
		t.Fatalf("CreateSwarm() error = %v", err)
	}
	if err := c.Run(ctx, sw.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	final, err := st.GetSwarm(ctx, sw.ID)
	if err != nil {
		t.Fatalf("GetSwarm() error = %v", err)
	}
	if final.Status != store.SwarmFailed {
		t.Errorf("final swarm status = %q, want failed", final.Status)
	}
}

func TestCancelSwarmMarksNonTerminalAgentsCancelled(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := New(st, &recordingRunner{})

	sw, _, err := c.CreateSwarm(ctx, store.Swarm{ID: "s1", WorkDir: "/work"}, []store.SwarmAgent{
		{Name: "a"},
	})
	if err != nil {
		t.Fatalf("CreateSwarm() error = %v", err)
	}

	if err := c.CancelSwarm(ctx, sw.ID); err != nil {
		t.Fatalf("CancelSwarm() error = %v", err)
	}

	agents, err := st.ListSwarmAgents(ctx, sw.ID)
	if err != nil {
		t.Fatalf("ListSwarmAgents() error = %v", err)
	}
	if agents[0].Status != store.AgentCancelled {
		t.Errorf("agent status = %q, want cancelled", agents[0].Status)
	}
	final, err := st.GetSwarm(ctx, sw.ID)
	if err != nil {
		t.Fatalf("GetSwarm() error = %v", err)
	}
	if final.Status != store.SwarmCancelled {
		t.Errorf("swarm status = %q, want cancelled", final.Status)
	}
}
