package dered

// RestartPolicy classifies whether a session's agent runtime adapter may be
// respawned after it dies with a non-recoverable error. The session service
// records it on each RunningSession but does not respawn adapters under any
// policy: a session whose adapter dies stays down. Adapted from the teacher's Erlang-style ChildRestart classification
// (Permanent/Transient/Temporary), narrowed to the cases the agent session
// service actually needs.
type RestartPolicy int

const (
	// Temporary sessions are never restarted. This is the default for
	// every session per SPEC_FULL.md §3: spec.md's failure semantics
	// describe a non-recoverable adapter error as tearing the session
	// down, not as the start of a restart loop.
	Temporary RestartPolicy = iota
	// Transient marks a session as restartable only after an abnormal exit,
	// never after an operator-initiated close_session.
	Transient
	// Permanent marks a session as always restartable. No caller in this
	// module sets it.
	Permanent
)

// String returns the policy name.
func (r RestartPolicy) String() string {
	switch r {
	case Temporary:
		return "temporary"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}
