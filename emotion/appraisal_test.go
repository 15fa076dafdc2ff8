package emotion

import (
	"context"
	"testing"

	"github.com/dere-run/dered/llm"
)

func TestAppraiseStimulusParsesToolCallArguments(t *testing.T) {
	model := &fakeLLM{toolCalls: []llm.ToolCall{{
		Name: appraisalToolName,
		Arguments: map[string]any{
			"event_outcome":    "undesirable",
			"agent_action":     "blameworthy",
			"object_attribute": "unappealing",
			"emotions": []any{
				map[string]any{"type": "anger", "intensity": 70, "reason": "broken promise"},
			},
		},
	}}}

	got, err := appraiseStimulus(context.Background(), model, "a broken promise")
	if err != nil {
		t.Fatalf("appraiseStimulus() error = %v", err)
	}
	if got.EventOutcome != "undesirable" {
		t.Errorf("EventOutcome = %q, want undesirable", got.EventOutcome)
	}
	if len(got.Emotions) != 1 || got.Emotions[0].Type != "anger" {
		t.Errorf("Emotions = %+v, want one anger entry", got.Emotions)
	}
}

func TestAppraiseStimulusErrorsWhenModelSkipsTheTool(t *testing.T) {
	model := &fakeLLM{}

	if _, err := appraiseStimulus(context.Background(), model, "something happened"); err == nil {
		t.Error("appraiseStimulus() error = nil, want error when the model never calls record_appraisal")
	}
}

func TestAppraiseStimulusRequiresModel(t *testing.T) {
	if _, err := appraiseStimulus(context.Background(), nil, "x"); err == nil {
		t.Error("appraiseStimulus() error = nil, want error for a nil model")
	}
}
