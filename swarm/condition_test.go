package swarm

import "testing"

func TestEvalCondition(t *testing.T) {
	data := map[string]any{
		"status": "passed",
		"count":  float64(3),
		"nested": map[string]any{"ok": true},
		"items":  []any{true, true, false},
		"empty":  []any{},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"status == 'passed'", true},
		{"status != 'passed'", false},
		{"count > 2", true},
		{"count >= 3 && status == 'passed'", true},
		{"count < 2 || status == 'passed'", true},
		{"!(count < 2)", true},
		{"nested.ok", true},
		{"nested.ok == true", true},
		{"len(items) == 3", true},
		{"any(items)", true},
		{"all(items)", false},
		{"len(empty) == 0", true},
	}

	for _, tt := range tests {
		got, err := EvalCondition(tt.expr, data)
		if err != nil {
			t.Errorf("EvalCondition(%q) error = %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("EvalCondition(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestEvalConditionErrors(t *testing.T) {
	tests := []string{
		"count >",
		"(count == 3",
		"unknownfn(count)",
	}
	for _, expr := range tests {
		if _, err := EvalCondition(expr, map[string]any{"count": float64(1)}); err == nil {
			t.Errorf("EvalCondition(%q) expected error, got nil", expr)
		}
	}
}
