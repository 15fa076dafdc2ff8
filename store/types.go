// Package store provides the relational persistence layer shared by every
// coordinator: transactional CRUD plus the claim primitive (an IMMEDIATE
// transaction, see claim.go) that makes concurrent task claiming race-free.
package store

import "time"

// Session is a live or ended conversation with an agent runtime adapter.
type Session struct {
	ID               string     `json:"id"`
	WorkDir          string     `json:"work_dir"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	LastActivityAt   time.Time  `json:"last_activity_at"`
	Personality      string     `json:"personality,omitempty"`
	Medium           string     `json:"medium,omitempty"`
	UserID           string     `json:"user_id,omitempty"`
	ParentSessionID  string     `json:"parent_session_id,omitempty"`
	ExternalAgentID  string     `json:"external_agent_id,omitempty"`
}

// Conversation is one append-only turn in a session's history.
type Conversation struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
	Medium    string    `json:"medium,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskStatus is a ProjectTask's lifecycle state.
type TaskStatus string

const (
	TaskBacklog    TaskStatus = "backlog"
	TaskReady      TaskStatus = "ready"
	TaskClaimed    TaskStatus = "claimed"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskBlocked    TaskStatus = "blocked"
	TaskCancelled  TaskStatus = "cancelled"
)

// TaskResults holds the outcome fields recorded on task completion.
type TaskResults struct {
	Outcome        string   `json:"outcome,omitempty"`
	Notes          string   `json:"notes,omitempty"`
	FilesChanged   []string `json:"files_changed,omitempty"`
	FollowUpTaskIDs []string `json:"follow_up_task_ids,omitempty"`
	LastError      string   `json:"last_error,omitempty"`
}

// TaskProvenance records where a task came from.
type TaskProvenance struct {
	CreatorSessionID string `json:"creator_session_id,omitempty"`
	CreatorAgentID   string `json:"creator_agent_id,omitempty"`
	ParentTaskID     string `json:"parent_task_id,omitempty"`
	DiscoveryReason  string `json:"discovery_reason,omitempty"`
}

// ProjectTask is a unit of work in the work queue.
type ProjectTask struct {
	ID          string     `json:"id"`
	WorkDir     string     `json:"work_dir"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Acceptance  string     `json:"acceptance"`

	TaskType      string   `json:"task_type,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Effort        string   `json:"effort,omitempty"`
	Priority      int      `json:"priority"`
	RequiredTools []string `json:"required_tools,omitempty"`

	Status TaskStatus `json:"status"`

	ClaimSessionID string     `json:"claim_session_id,omitempty"`
	ClaimAgentID   string     `json:"claim_agent_id,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	AttemptCount   int        `json:"attempt_count"`

	BlockedBy       []string `json:"blocked_by,omitempty"`
	RelatedTaskIDs  []string `json:"related_task_ids,omitempty"`
	FollowUpTaskIDs []string `json:"follow_up_task_ids,omitempty"`

	Provenance TaskProvenance `json:"provenance"`
	Results    TaskResults    `json:"results"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// MissionStatus is a Mission's activation state.
type MissionStatus string

const (
	MissionActive MissionStatus = "active"
	MissionPaused MissionStatus = "paused"
)

// Mission is a durable, schedulable unit of agent work.
type Mission struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Prompt           string        `json:"prompt"`
	Cron             string        `json:"cron"`
	NaturalSchedule  string        `json:"natural_schedule,omitempty"`
	Timezone         string        `json:"timezone"`
	Status           MissionStatus `json:"status"`
	NextExecutionAt  *time.Time    `json:"next_execution_at,omitempty"`
	LastExecutionAt  *time.Time    `json:"last_execution_at,omitempty"`

	Personality  string   `json:"personality,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
	Model        string   `json:"model,omitempty"`
	WorkDir      string   `json:"work_dir"`
	SandboxImage string   `json:"sandbox_image,omitempty"`
	BudgetUSD    float64  `json:"budget_usd,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TriggerKind identifies why a mission execution ran.
type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerManual    TriggerKind = "manual"
)

// ExecutionStatus is a MissionExecution's lifecycle state.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// MissionExecution is one run of a Mission.
type MissionExecution struct {
	ID          string          `json:"id"`
	MissionID   string          `json:"mission_id"`
	Trigger     TriggerKind     `json:"trigger"`
	TriggeredBy string          `json:"triggered_by,omitempty"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Output      string          `json:"output,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	ToolUseCount int            `json:"tool_use_count"`
	Error       string          `json:"error,omitempty"`
	BudgetUSD   float64         `json:"budget_usd,omitempty"`
}

// SwarmStatus is a Swarm's lifecycle state.
type SwarmStatus string

const (
	SwarmPending   SwarmStatus = "pending"
	SwarmRunning   SwarmStatus = "running"
	SwarmCompleted SwarmStatus = "completed"
	SwarmFailed    SwarmStatus = "failed"
	SwarmCancelled SwarmStatus = "cancelled"
)

// Swarm is a DAG of agents sharing a working directory and scratchpad.
type Swarm struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	ParentSessionID string     `json:"parent_session_id,omitempty"`
	WorkDir        string      `json:"work_dir"`
	BranchPrefix   string      `json:"branch_prefix,omitempty"`
	BaseBranch     string      `json:"base_branch,omitempty"`
	AutoSynthesize bool        `json:"auto_synthesize"`
	Status         SwarmStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// AgentStatus is a SwarmAgent's lifecycle state.
type AgentStatus string

const (
	AgentPending   AgentStatus = "pending"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
	AgentCancelled AgentStatus = "cancelled"
	AgentSkipped   AgentStatus = "skipped"
)

// DependencySpec names a dependency of a swarm agent, optionally gated by a
// condition evaluated against the dependency's output.
type DependencySpec struct {
	Agent     string `json:"agent"`
	Condition string `json:"condition,omitempty"`
}

// SwarmAgent is one node in a swarm's DAG.
type SwarmAgent struct {
	ID          string           `json:"id"`
	SwarmID     string           `json:"swarm_id"`
	Name        string           `json:"name"`
	Role        string           `json:"role,omitempty"`
	Prompt      string           `json:"prompt"`
	Personality string           `json:"personality,omitempty"`
	Plugins     []string         `json:"plugins,omitempty"`
	Model       string           `json:"model,omitempty"`
	Branch      string           `json:"branch,omitempty"`
	DependsOn   []DependencySpec `json:"depends_on,omitempty"`
	SessionID   string           `json:"session_id,omitempty"`
	Status      AgentStatus      `json:"status"`
	Output      string           `json:"output,omitempty"`
	Summary     string           `json:"summary,omitempty"`
	Error       string           `json:"error,omitempty"`
	ToolCount   int              `json:"tool_count"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// SwarmScratchpadEntry is one key/value pair in a swarm's shared scratchpad.
type SwarmScratchpadEntry struct {
	SwarmID     string    `json:"swarm_id"`
	Key         string    `json:"key"`
	Value       string    `json:"value"` // JSON-encoded
	SetterAgentID   string `json:"setter_agent_id,omitempty"`
	SetterAgentName string `json:"setter_agent_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MemoryBlockType classifies a CoreMemoryBlock.
type MemoryBlockType string

const (
	MemoryPersona MemoryBlockType = "persona"
	MemoryHuman   MemoryBlockType = "human"
	MemoryTask    MemoryBlockType = "task"
)

// CoreMemoryBlock is a versioned block of persistent context scoped to
// exactly one of (UserID, SessionID).
type CoreMemoryBlock struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	BlockType MemoryBlockType `json:"block_type"`
	Content   string          `json:"content"`
	CharLimit int             `json:"char_limit"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CoreMemoryVersion is one append-only revision of a CoreMemoryBlock.
type CoreMemoryVersion struct {
	ID        string    `json:"id"`
	BlockID   string    `json:"block_id"`
	Version   int       `json:"version"`
	Content   string    `json:"content"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BondTrend classifies recent affection movement.
type BondTrend string

const (
	TrendRising  BondTrend = "rising"
	TrendStable  BondTrend = "stable"
	TrendFalling BondTrend = "falling"
	TrendDistant BondTrend = "distant"
)

// BondHistoryEntry is one recorded affection change.
type BondHistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Affection float64   `json:"affection"`
	Reason    string    `json:"reason"`
}

// BondState is the per-user affection state.
type BondState struct {
	UserID               string             `json:"user_id"`
	Affection            float64            `json:"affection"`
	Trend                BondTrend          `json:"trend"`
	LastInteractionAt    time.Time          `json:"last_interaction_at"`
	LastMeaningfulAt     *time.Time         `json:"last_meaningful_at,omitempty"`
	StreakDays           int                `json:"streak_days"`
	StreakLastDate       string             `json:"streak_last_date,omitempty"` // YYYY-MM-DD
	History              []BondHistoryEntry `json:"history,omitempty"`
}

// EmotionType is one of the OCC-taxonomy emotion labels the appraisal
// helper may return.
type EmotionType string

// EmotionInstance is one active emotion with its current intensity.
type EmotionInstance struct {
	Type      EmotionType `json:"type"`
	Intensity float64     `json:"intensity"`
	Reason    string      `json:"reason,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// EmotionState is the per-session affective state.
type EmotionState struct {
	SessionID        string            `json:"session_id"`
	Primary          *EmotionInstance  `json:"primary,omitempty"`
	Secondary        *EmotionInstance  `json:"secondary,omitempty"`
	OverallIntensity float64           `json:"overall_intensity"`
	LastUpdate       time.Time         `json:"last_update"`
	Appraisal        map[string]any    `json:"appraisal,omitempty"`
	Trigger          map[string]any    `json:"trigger,omitempty"`
}

// StimulusRecord is one entry in a session's bounded stimulus FIFO.
type StimulusRecord struct {
	SessionID string         `json:"session_id"`
	Valence   float64        `json:"valence"`   // -10..+10
	Intensity float64        `json:"intensity"` // 0..100
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// RareEvent is a probabilistically-generated UI-bound event.
type RareEvent struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	EventType      string         `json:"event_type"`
	ContentHint    map[string]any `json:"content_hint,omitempty"`
	TriggerReason  string         `json:"trigger_reason"`
	TriggerContext map[string]any `json:"trigger_context,omitempty"`
	ShownAt        *time.Time     `json:"shown_at,omitempty"`
	DismissedAt    *time.Time     `json:"dismissed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Notification is a queued outbound message to a user's medium.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Medium    string    `json:"medium"`
	Location  string    `json:"location"`
	Message   string    `json:"message"`
	Priority  int       `json:"priority"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
