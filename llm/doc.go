// Package llm provides LLM backend implementations used by the emotion
// engine and the mission natural-schedule parser.
//
// # Anthropic Backend
//
// The primary backend is Anthropic's Claude API:
//
//	llm := llm.NewAnthropic()  // Uses ANTHROPIC_API_KEY env var
//
//	// Or with custom API key
//	llm := llm.NewAnthropic(llm.WithAPIKey("sk-..."))
//
//	// Or with custom model
//	llm := llm.NewAnthropic(llm.WithModel("claude-opus-4-20250514"))
//
// # Using with the emotion engine
//
// emotion.New takes any LLM implementation:
//
//	llm := llm.NewAnthropic()
//	emotions := emotion.New(store, llm)
//
// # Streaming
//
// The Anthropic backend supports streaming responses:
//
//	stream, err := llm.GenerateStream(ctx, messages, nil)
//	for ev := range stream {
//	    fmt.Print(ev.Delta)
//	}
//
// # Rate Limiting
//
// The Anthropic API has rate limits; retryAfterDelay backs off requests
// using the response's Retry-After header when a 429 is returned.
//
// # Implementing Custom Backends
//
// To implement a custom LLM backend, implement the LLM interface:
//
//	type LLM interface {
//	    Generate(ctx context.Context, messages []Message, tools []ToolSchema) (*LLMResponse, error)
//	    GenerateStream(ctx context.Context, messages []Message, tools []ToolSchema) (<-chan StreamEvent, error)
//	}
package llm
