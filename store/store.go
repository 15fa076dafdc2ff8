package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get-style methods when no row matches.
var ErrNotFound = errors.New("store: not found")

// ErrNoReadyTask is returned by ClaimReadyTask when no claimable task exists.
var ErrNoReadyTask = errors.New("store: no ready task")

// Store is the persistence interface every coordinator depends on. A single
// SQLite-backed implementation satisfies it; the interface exists so
// coordinator tests can substitute an in-memory fake.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	// Sessions
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	UpdateSession(ctx context.Context, s Session) error
	ListActiveSessions(ctx context.Context) ([]Session, error)

	AppendConversation(ctx context.Context, c Conversation) (int64, error)
	ListConversation(ctx context.Context, sessionID string, limit int) ([]Conversation, error)

	// Work queue
	CreateTask(ctx context.Context, t ProjectTask) error
	GetTask(ctx context.Context, id string) (ProjectTask, error)
	ListTasks(ctx context.Context, workDir string, status TaskStatus) ([]ProjectTask, error)
	// ClaimReadyTask atomically finds one task in the given workDir whose
	// status is ready and all of whose BlockedBy tasks are done, marks it
	// claimed by the given session/agent, and returns it. It returns
	// ErrNoReadyTask if none qualify. Correctness for concurrent callers
	// rests on SQLite's single-writer lock, not on row-level locking: see
	// claim.go.
	ClaimReadyTask(ctx context.Context, workDir, sessionID, agentID string) (ProjectTask, error)
	ReleaseTask(ctx context.Context, id string) error
	UpdateTask(ctx context.Context, t ProjectTask) error
	DeleteTask(ctx context.Context, id string) error

	// Missions
	CreateMission(ctx context.Context, m Mission) error
	GetMission(ctx context.Context, id string) (Mission, error)
	ListMissions(ctx context.Context, status MissionStatus) ([]Mission, error)
	UpdateMission(ctx context.Context, m Mission) error
	DeleteMission(ctx context.Context, id string) error
	// DueMissions returns active missions whose NextExecutionAt is <= asOf.
	DueMissions(ctx context.Context, asOf time.Time) ([]Mission, error)

	CreateExecution(ctx context.Context, e MissionExecution) error
	UpdateExecution(ctx context.Context, e MissionExecution) error
	ListExecutions(ctx context.Context, missionID string, limit int) ([]MissionExecution, error)

	// Swarms
	CreateSwarm(ctx context.Context, sw Swarm) error
	GetSwarm(ctx context.Context, id string) (Swarm, error)
	UpdateSwarm(ctx context.Context, sw Swarm) error
	ListSwarms(ctx context.Context, status SwarmStatus) ([]Swarm, error)

	CreateSwarmAgent(ctx context.Context, a SwarmAgent) error
	GetSwarmAgent(ctx context.Context, id string) (SwarmAgent, error)
	UpdateSwarmAgent(ctx context.Context, a SwarmAgent) error
	ListSwarmAgents(ctx context.Context, swarmID string) ([]SwarmAgent, error)

	PutScratchpad(ctx context.Context, e SwarmScratchpadEntry) error
	GetScratchpad(ctx context.Context, swarmID, key string) (SwarmScratchpadEntry, error)
	ListScratchpad(ctx context.Context, swarmID string) ([]SwarmScratchpadEntry, error)
	DeleteScratchpad(ctx context.Context, swarmID, key string) error

	// Core memory
	CreateMemoryBlock(ctx context.Context, b CoreMemoryBlock) error
	GetMemoryBlock(ctx context.Context, id string) (CoreMemoryBlock, error)
	ListMemoryBlocks(ctx context.Context, userID, sessionID string) ([]CoreMemoryBlock, error)
	// UpdateMemoryBlockVersioned atomically bumps a block's version, writes
	// its new content, and appends a CoreMemoryVersion row in one
	// transaction.
	UpdateMemoryBlockVersioned(ctx context.Context, blockID, content, reason string) (CoreMemoryBlock, error)
	ListMemoryVersions(ctx context.Context, blockID string) ([]CoreMemoryVersion, error)

	// Bond
	GetBondState(ctx context.Context, userID string) (BondState, error)
	UpdateBondState(ctx context.Context, b BondState) error

	// Emotion
	GetEmotionState(ctx context.Context, sessionID string) (EmotionState, error)
	UpdateEmotionState(ctx context.Context, e EmotionState) error
	AppendStimulus(ctx context.Context, sessionID string, rec StimulusRecord, maxHistory int) error
	ListStimulusHistory(ctx context.Context, sessionID string, limit int) ([]StimulusRecord, error)

	// Rare events
	CreateRareEvent(ctx context.Context, e RareEvent) error
	ListPendingRareEvents(ctx context.Context, userID string) ([]RareEvent, error)
	MarkRareEventShown(ctx context.Context, id string, shownAt time.Time) error
	MarkRareEventDismissed(ctx context.Context, id string, dismissedAt time.Time) error

	// Notifications
	CreateNotification(ctx context.Context, n Notification) error
	ListPendingNotifications(ctx context.Context) ([]Notification, error)
	UpdateNotification(ctx context.Context, n Notification) error
}
