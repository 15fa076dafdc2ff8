package mission

import (
	"context"
	"fmt"
	"strings"

	"github.com/dere-run/dered/llm"
)

// natural-language-to-cron system prompt. Kept terse and example-driven
// since the model only needs to emit one line.
const scheduleSystemPrompt = `Convert the user's natural language schedule description into a standard 5-field cron expression (minute hour day-of-month month day-of-week). Respond with ONLY the cron expression, nothing else.

Examples:
"every morning at 9am" -> 0 9 * * *
"every weekday at noon" -> 0 12 * * 1-5
"every 15 minutes" -> */15 * * * *
"once a week on Sunday at midnight" -> 0 0 * * 0`

// ParseNaturalSchedule asks the given model to translate a natural
// language schedule description into a cron expression, then validates
// the result before returning it. Grounded on dsl's InjectMother
// agent-from-description flow, which likewise turns a free-text
// description into a structured definition via one LLM call before
// accepting it.
func ParseNaturalSchedule(ctx context.Context, model llm.LLM, description string) (string, error) {
	resp, err := model.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: scheduleSystemPrompt},
		{Role: llm.RoleUser, Content: description},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("mission: natural schedule generation: %w", err)
	}

	cronExpr := strings.TrimSpace(resp.Content)
	if err := ValidateCron(cronExpr); err != nil {
		return "", fmt.Errorf("mission: model produced invalid cron expression %q: %w", cronExpr, err)
	}
	return cronExpr, nil
}
