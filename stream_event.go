package dered

import "time"

// StreamEventType enumerates the event kinds produced by the agent runtime
// adapter (package agentrt) and consumed verbatim by the session service.
// Replacing attribute-sniffed, duck-typed events with a tagged union of
// concrete structs lets every switch over EventType be checked for
// exhaustiveness by a linter instead of failing silently at runtime.
type StreamEventType string

const (
	EventSessionReady       StreamEventType = "session_ready"
	EventText               StreamEventType = "text"
	EventThinking           StreamEventType = "thinking"
	EventToolUse            StreamEventType = "tool_use"
	EventToolResult         StreamEventType = "tool_result"
	EventPermissionRequest  StreamEventType = "permission_request"
	EventError              StreamEventType = "error"
	EventDone               StreamEventType = "done"
	EventCancelled          StreamEventType = "cancelled"
	// EventGap is synthesized by the session service's replay buffer when a
	// late subscriber's position has fallen off the back of the buffer.
	EventGap StreamEventType = "gap"
)

// StreamEvent is one event in a session's ordered event stream. Only the
// fields relevant to Type are populated; see the agentrt package doc for the
// wire protocol each Type corresponds to.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`

	// EventText / EventThinking
	Delta string `json:"delta,omitempty"`

	// EventToolUse
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`

	// EventToolResult correlates to EventToolUse by ToolUseID.
	ToolResult string `json:"tool_result,omitempty"`

	// EventPermissionRequest
	PermissionTool   string `json:"permission_tool,omitempty"`
	PermissionDetail string `json:"permission_detail,omitempty"`

	// EventError
	ErrorMessage string `json:"error_message,omitempty"`
	Recoverable  bool   `json:"recoverable,omitempty"`

	// EventDone
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	ToolCalls    int     `json:"tool_calls,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`

	// EventGap
	SkippedFrom uint64 `json:"skipped_from,omitempty"`
	SkippedTo   uint64 `json:"skipped_to,omitempty"`
}

// IsTerminal reports whether the event ends the query that produced it.
func (e StreamEvent) IsTerminal() bool {
	switch e.Type {
	case EventDone, EventCancelled:
		return true
	case EventError:
		return !e.Recoverable
	default:
		return false
	}
}
