package httpapi

import "net/http"

func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Work queue.
	mux.HandleFunc("POST /work-queue/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /work-queue/tasks", s.handleListTasks)
	mux.HandleFunc("GET /work-queue/tasks/ready", s.handleReadyTasks)
	mux.HandleFunc("GET /work-queue/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /work-queue/tasks/{id}/claim", s.handleClaimTask)
	mux.HandleFunc("POST /work-queue/tasks/{id}/release", s.handleReleaseTask)
	mux.HandleFunc("PATCH /work-queue/tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("DELETE /work-queue/tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("POST /work-queue/tasks/{id}/follow-up", s.handleAddFollowUpTask)

	// Missions.
	mux.HandleFunc("POST /missions", s.handleCreateMission)
	mux.HandleFunc("GET /missions", s.handleListMissions)
	mux.HandleFunc("GET /missions/{id}", s.handleGetMission)
	mux.HandleFunc("PATCH /missions/{id}", s.handleUpdateMission)
	mux.HandleFunc("DELETE /missions/{id}", s.handleDeleteMission)
	mux.HandleFunc("POST /missions/{id}/pause", s.handleMissionPause)
	mux.HandleFunc("POST /missions/{id}/resume", s.handleMissionResume)
	mux.HandleFunc("POST /missions/{id}/execute", s.handleMissionExecute)
	mux.HandleFunc("GET /missions/{id}/executions", s.handleListExecutions)
	mux.HandleFunc("GET /missions/{id}/executions/{execID}", s.handleGetExecution)

	// Swarms.
	mux.HandleFunc("POST /swarm/create", s.handleCreateSwarm)
	mux.HandleFunc("GET /swarm", s.handleListSwarms)
	mux.HandleFunc("GET /swarm/{id}", s.handleGetSwarm)
	mux.HandleFunc("POST /swarm/{id}/start", s.handleSwarmStart)
	mux.HandleFunc("POST /swarm/{id}/cancel", s.handleSwarmCancel)
	mux.HandleFunc("POST /swarm/{id}/merge", s.handleSwarmMerge)
	mux.HandleFunc("POST /swarm/{id}/wait", s.handleSwarmWait)
	mux.HandleFunc("GET /swarm/{id}/agent/{name}", s.handleGetSwarmAgent)
	mux.HandleFunc("GET /swarm/{id}/scratchpad", s.handleListScratchpad)
	mux.HandleFunc("GET /swarm/{id}/scratchpad/{key}", s.handleGetScratchpad)
	mux.HandleFunc("PUT /swarm/{id}/scratchpad/{key}", s.handlePutScratchpad)
	mux.HandleFunc("DELETE /swarm/{id}/scratchpad/{key}", s.handleDeleteScratchpad)

	// Core memory.
	mux.HandleFunc("POST /memory/core/edit", s.handleMemoryEdit)
	mux.HandleFunc("GET /memory/core", s.handleMemoryGet)
	mux.HandleFunc("GET /memory/core/history", s.handleMemoryHistory)
	mux.HandleFunc("POST /memory/core/rollback", s.handleMemoryRollback)

	// Bond / emotion / rare-event dashboards.
	mux.HandleFunc("GET /bond/{userID}", s.handleGetBond)
	mux.HandleFunc("GET /emotion/{sessionID}", s.handleGetEmotion)
	mux.HandleFunc("GET /rare-events/{userID}", s.handleListRareEvents)
	mux.HandleFunc("POST /rare-events/{id}/shown", s.handleRareEventShown)
	mux.HandleFunc("POST /rare-events/{id}/dismissed", s.handleRareEventDismissed)

	// Agent sessions.
	mux.HandleFunc("GET /agent/ws", s.handleAgentWS)

	// Sandbox container introspection.
	mux.HandleFunc("GET /sandbox/status", s.handleSandboxStatus)
	mux.HandleFunc("GET /sandbox/containers", s.handleSandboxList)
	mux.HandleFunc("GET /sandbox/logs", s.handleSandboxLogs)
	mux.HandleFunc("POST /sandbox/stop", s.handleSandboxStop)
}
