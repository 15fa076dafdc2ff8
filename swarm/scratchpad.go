package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dere-run/dered/store"
)

// Scratchpad is a swarm's shared key/value blackboard: every agent in a
// swarm can read and write it, which is how a later agent sees an earlier
// agent's output without depending on session history directly. Backed by
// store for durability and mirrored in memory so reads inside a single
// swarm run don't round-trip to SQLite. Grounded on dsl/blackboard.go's
// tool-wrapper shape (read/write exposed as agent tools) and group.go's
// underlying map+mutex, both retargeted from a process-group-wide map to
// a store-backed, per-swarm table.
type Scratchpad struct {
	store   store.Store
	swarmID string

	mu     sync.RWMutex
	mirror map[string]string // key -> raw JSON value
}

// NewScratchpad constructs a Scratchpad for one swarm, preloading the
// in-memory mirror from the store.
func NewScratchpad(ctx context.Context, st store.Store, swarmID string) (*Scratchpad, error) {
	entries, err := st.ListScratchpad(ctx, swarmID)
	if err != nil {
		return nil, fmt.Errorf("swarm: load scratchpad: %w", err)
	}
	mirror := make(map[string]string, len(entries))
	for _, e := range entries {
		mirror[e.Key] = e.Value
	}
	return &Scratchpad{store: st, swarmID: swarmID, mirror: mirror}, nil
}

// Put stores value (marshaled to JSON) under key, attributing the write to
// the given agent.
func (sp *Scratchpad) Put(ctx context.Context, key string, value any, agentID, agentName string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("swarm: encode scratchpad value: %w", err)
	}
	entry := store.SwarmScratchpadEntry{
		SwarmID:         sp.swarmID,
		Key:             key,
		Value:           string(raw),
		SetterAgentID:   agentID,
		SetterAgentName: agentName,
	}
	if err := sp.store.PutScratchpad(ctx, entry); err != nil {
		return fmt.Errorf("swarm: put scratchpad: %w", err)
	}

	sp.mu.Lock()
	sp.mirror[key] = string(raw)
	sp.mu.Unlock()
	return nil
}

// Get returns the JSON-decoded value stored under key, or nil if unset.
func (sp *Scratchpad) Get(key string) (any, bool) {
	sp.mu.RLock()
	raw, ok := sp.mirror[key]
	sp.mu.RUnlock()
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	return v, true
}

// List returns every key currently in the scratchpad's in-memory mirror.
func (sp *Scratchpad) List() map[string]any {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	out := make(map[string]any, len(sp.mirror))
	for k, raw := range sp.mirror {
		var v any
		if json.Unmarshal([]byte(raw), &v) == nil {
			out[k] = v
		}
	}
	return out
}

// Delete removes a key both from the store and the in-memory mirror.
func (sp *Scratchpad) Delete(ctx context.Context, key string) error {
	if err := sp.store.DeleteScratchpad(ctx, sp.swarmID, key); err != nil {
		return fmt.Errorf("swarm: delete scratchpad key %q: %w", key, err)
	}
	sp.mu.Lock()
	delete(sp.mirror, key)
	sp.mu.Unlock()
	return nil
}
