package emotion

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dere-run/dered/llm"
	"github.com/dere-run/dered/store"
)

type fakeLLM struct {
	toolCalls []llm.ToolCall
	err       error
}

func (f *fakeLLM) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema) (*llm.LLMResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.LLMResponse{ToolCalls: f.toolCalls}, nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema) (<-chan llm.StreamEvent, error) {
	ch := make(chan llm.StreamEvent)
	close(ch)
	return ch, nil
}

func newTestManager(t *testing.T, model llm.LLM) (*Manager, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dered.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, model), st
}

func TestProcessStimulusAppliesAppraisal(t *testing.T) {
	model := &fakeLLM{toolCalls: []llm.ToolCall{{
		Name: appraisalToolName,
		Arguments: map[string]any{
			"event_outcome":    "desirable",
			"agent_action":     "neutral",
			"object_attribute": "neutral",
			"emotions": []any{
				map[string]any{"type": "joy", "intensity": 60, "reason": "good news"},
			},
		},
	}}}
	m, _ := newTestManager(t, model)
	ctx := context.Background()

	s, err := m.ProcessStimulus(ctx, "s1", 5, 50, ContextFactors{UserPresent: true, UserEngaged: true}, "user shared good news", nil)
	if err != nil {
		t.Fatalf("ProcessStimulus() error = %v", err)
	}
	if s.Primary == nil {
		t.Fatal("Primary emotion is nil after appraisal")
	}
	if s.Primary.Type != Joy {
		t.Errorf("Primary.Type = %q, want joy", s.Primary.Type)
	}
	if s.Primary.Intensity <= 0 {
		t.Errorf("Primary.Intensity = %v, want > 0", s.Primary.Intensity)
	}
}

func TestProcessStimulusContinuesOnAppraisalFailure(t *testing.T) {
	model := &fakeLLM{err: context.DeadlineExceeded}
	m, _ := newTestManager(t, model)
	ctx := context.Background()

	s, err := m.ProcessStimulus(ctx, "s1", 0, 0, ContextFactors{}, "irrelevant", nil)
	if err != nil {
		t.Fatalf("ProcessStimulus() error = %v, want nil (appraisal failure is non-fatal)", err)
	}
	if s.Primary != nil {
		t.Errorf("Primary = %+v, want nil when appraisal fails with no prior state", s.Primary)
	}
}

func TestDecayInstanceRemovesBelowThreshold(t *testing.T) {
	now := time.Now().UTC()
	inst := &store.EmotionInstance{Type: Joy, Intensity: 5, UpdatedAt: now.Add(-2 * time.Hour)}
	got := decayInstance(inst, now, ContextFactors{})
	if got != nil {
		t.Errorf("decayInstance() = %+v, want nil (decayed below removal threshold)", got)
	}
}

func TestDecayInstanceRespectsMinPersistence(t *testing.T) {
	now := time.Now().UTC()
	inst := &store.EmotionInstance{Type: Love, Intensity: 6, UpdatedAt: now.Add(-100 * time.Hour)}
	got := decayInstance(inst, now, ContextFactors{})
	if got == nil {
		t.Fatal("decayInstance() = nil, want instance held at MinPersistence")
	}
	if got.Intensity != profileFor(Love).MinPersistence {
		t.Errorf("Intensity = %v, want %v (MinPersistence floor)", got.Intensity, profileFor(Love).MinPersistence)
	}
}

func TestGetEmotionalStateSummaryNeutral(t *testing.T) {
	got := GetEmotionalStateSummary(store.EmotionState{})
	if got == "" {
		t.Error("GetEmotionalStateSummary() empty for neutral state")
	}
}

func TestContextForReturnsSummary(t *testing.T) {
	m, st := newTestManager(t, &fakeLLM{})
	ctx := context.Background()
	if err := st.UpdateEmotionState(ctx, store.EmotionState{
		SessionID: "s1",
		Primary:   &store.EmotionInstance{Type: Joy, Intensity: 80, UpdatedAt: time.Now().UTC()},
	}); err != nil {
		t.Fatalf("UpdateEmotionState() error = %v", err)
	}
	summary, err := m.ContextFor(ctx, "s1")
	if err != nil {
		t.Fatalf("ContextFor() error = %v", err)
	}
	if summary == "" {
		t.Error("ContextFor() returned empty summary")
	}
}
