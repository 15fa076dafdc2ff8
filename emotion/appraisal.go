package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dere-run/dered/llm"
)

// appraisalSystemPrompt instructs the model to classify a stimulus through
// the OCC (Ortony, Clore & Collins) cognitive-appraisal model. Grounded on
// mission's natural_schedule.go system-prompt pattern: a narrow,
// single-purpose instruction, reusing the same llm.LLM interface rather than
// agentrt (the coding-agent subprocess adapter is the wrong tool for a
// one-shot classification call).
const appraisalSystemPrompt = `You classify a single stimulus using the OCC (Ortony, Clore, Collins) model of emotion.

Call record_appraisal exactly once with your classification. List at most 2 emotions, the most strongly implicated ones. Use the taxonomy types exactly as spelled in the tool schema; do not invent new ones.`

// appraisalToolName is the tool call the system prompt asks the model to
// make to report its classification, instead of free text the caller would
// otherwise have to fence-strip and unmarshal. The request offers it as the
// only tool but sets no tool_choice, so the call is not forced; a reply
// without it is an appraisal failure.
const appraisalToolName = "record_appraisal"

// appraisalTool describes record_appraisal's input shape. Its InputSchema
// marks every top-level property as required, so a well-formed call arrives
// as structured Arguments rather than prose.
var appraisalTool = llm.ToolSchema{
	Name:        appraisalToolName,
	Description: "Record the OCC appraisal classification for the stimulus just described.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"event_outcome": map[string]any{
				"type":        "string",
				"enum":        []string{"desirable", "undesirable", "neutral"},
				"description": "relative to the subject's goals",
			},
			"agent_action": map[string]any{
				"type":        "string",
				"enum":        []string{"praiseworthy", "blameworthy", "neutral"},
				"description": "relative to standards",
			},
			"object_attribute": map[string]any{
				"type": "string",
				"enum": []string{"appealing", "unappealing", "neutral"},
			},
			"emotions": map[string]any{
				"type":     "array",
				"maxItems": 2,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type": map[string]any{
							"type": "string",
							"enum": []string{
								"joy", "distress", "hope", "fear", "satisfaction", "fears_confirmed",
								"relief", "disappointment", "pride", "shame", "admiration", "reproach",
								"gratitude", "anger", "love", "gratification", "remorse",
							},
						},
						"intensity": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
						"reason":    map[string]any{"type": "string"},
					},
					"required": []string{"type", "intensity", "reason"},
				},
			},
		},
		"required": []string{"event_outcome", "agent_action", "object_attribute", "emotions"},
	},
}

// Appraisal is the OCC appraisal-dimension snapshot parsed from the model.
type Appraisal struct {
	EventOutcome    string           `json:"event_outcome"`
	AgentAction     string           `json:"agent_action"`
	ObjectAttribute string           `json:"object_attribute"`
	Emotions        []AppraisedEmotion `json:"emotions"`
}

// AppraisedEmotion is one (type, intensity, reason) tuple the model returned.
type AppraisedEmotion struct {
	Type      string  `json:"type"`
	Intensity float64 `json:"intensity"`
	Reason    string  `json:"reason"`
}

// appraiseStimulus asks model to classify description via the OCC prompt.
// A model error, a reply without a record_appraisal call, or unparseable
// arguments is reported back as (nil, err) without logging here: the caller
// logs it, treats it as "appraisal failed" and continues with only the
// post-decay state.
func appraiseStimulus(ctx context.Context, model llm.LLM, description string) (*Appraisal, error) {
	if model == nil {
		return nil, fmt.Errorf("emotion: no appraisal model configured")
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: appraisalSystemPrompt},
		{Role: llm.RoleUser, Content: description},
	}
	resp, err := model.Generate(ctx, messages, []llm.ToolSchema{appraisalTool})
	if err != nil {
		return nil, fmt.Errorf("emotion: appraisal call: %w", err)
	}
	for _, call := range resp.ToolCalls {
		if call.Name != appraisalToolName {
			continue
		}
		raw, err := json.Marshal(call.Arguments)
		if err != nil {
			return nil, fmt.Errorf("emotion: marshal appraisal arguments: %w", err)
		}
		var a Appraisal
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("emotion: parse appraisal response: %w", err)
		}
		return &a, nil
	}
	return nil, fmt.Errorf("emotion: model did not call %s", appraisalToolName)
}

func logAppraisalFailure(err error) {
	slog.Warn("emotion: appraisal failed, continuing with post-decay state only", "error", err)
}
