package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no cgo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}
	// SQLite allows exactly one writer; a busy_timeout turns "database is
	// locked" into a blocking wait instead of an immediate error, which the
	// claim primitive in claim.go relies on under concurrent callers.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

// Init creates the schema tables.
func (s *SQLiteStore) Init(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id                 TEXT PRIMARY KEY,
		work_dir           TEXT NOT NULL DEFAULT '',
		started_at         DATETIME NOT NULL,
		ended_at           DATETIME,
		last_activity_at   DATETIME NOT NULL,
		personality        TEXT NOT NULL DEFAULT '',
		medium             TEXT NOT NULL DEFAULT '',
		user_id            TEXT NOT NULL DEFAULT '',
		parent_session_id  TEXT NOT NULL DEFAULT '',
		external_agent_id  TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role       TEXT NOT NULL,
		text       TEXT NOT NULL DEFAULT '',
		embedding  TEXT NOT NULL DEFAULT '[]',
		medium     TEXT NOT NULL DEFAULT '',
		user_id    TEXT NOT NULL DEFAULT '',
		timestamp  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id);

	CREATE TABLE IF NOT EXISTS project_tasks (
		id                 TEXT PRIMARY KEY,
		work_dir           TEXT NOT NULL DEFAULT '',
		title              TEXT NOT NULL DEFAULT '',
		description        TEXT NOT NULL DEFAULT '',
		acceptance         TEXT NOT NULL DEFAULT '',
		task_type          TEXT NOT NULL DEFAULT '',
		tags               TEXT NOT NULL DEFAULT '[]',
		effort             TEXT NOT NULL DEFAULT '',
		priority           INTEGER NOT NULL DEFAULT 0,
		required_tools     TEXT NOT NULL DEFAULT '[]',
		status             TEXT NOT NULL DEFAULT 'backlog',
		claim_session_id   TEXT NOT NULL DEFAULT '',
		claim_agent_id     TEXT NOT NULL DEFAULT '',
		claimed_at         DATETIME,
		attempt_count      INTEGER NOT NULL DEFAULT 0,
		blocked_by         TEXT NOT NULL DEFAULT '[]',
		related_task_ids   TEXT NOT NULL DEFAULT '[]',
		follow_up_task_ids TEXT NOT NULL DEFAULT '[]',
		provenance         TEXT NOT NULL DEFAULT '{}',
		results            TEXT NOT NULL DEFAULT '{}',
		created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		started_at         DATETIME,
		completed_at       DATETIME,
		extra              TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_work_dir_status ON project_tasks(work_dir, status);

	CREATE TABLE IF NOT EXISTS missions (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL DEFAULT '',
		prompt             TEXT NOT NULL DEFAULT '',
		cron               TEXT NOT NULL DEFAULT '',
		natural_schedule   TEXT NOT NULL DEFAULT '',
		timezone           TEXT NOT NULL DEFAULT 'UTC',
		status             TEXT NOT NULL DEFAULT 'active',
		next_execution_at  DATETIME,
		last_execution_at  DATETIME,
		personality        TEXT NOT NULL DEFAULT '',
		allowed_tools      TEXT NOT NULL DEFAULT '[]',
		model              TEXT NOT NULL DEFAULT '',
		work_dir           TEXT NOT NULL DEFAULT '',
		sandbox_image      TEXT NOT NULL DEFAULT '',
		budget_usd         REAL NOT NULL DEFAULT 0,
		created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_missions_status_next ON missions(status, next_execution_at);

	CREATE TABLE IF NOT EXISTS mission_executions (
		id              TEXT PRIMARY KEY,
		mission_id      TEXT NOT NULL,
		trigger         TEXT NOT NULL DEFAULT 'scheduled',
		triggered_by    TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL DEFAULT 'pending',
		started_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at    DATETIME,
		output          TEXT NOT NULL DEFAULT '',
		summary         TEXT NOT NULL DEFAULT '',
		tool_use_count  INTEGER NOT NULL DEFAULT 0,
		error           TEXT NOT NULL DEFAULT '',
		budget_usd      REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_executions_mission ON mission_executions(mission_id);

	CREATE TABLE IF NOT EXISTS swarms (
		id                TEXT PRIMARY KEY,
		name              TEXT NOT NULL DEFAULT '',
		parent_session_id TEXT NOT NULL DEFAULT '',
		work_dir          TEXT NOT NULL DEFAULT '',
		branch_prefix     TEXT NOT NULL DEFAULT '',
		base_branch       TEXT NOT NULL DEFAULT '',
		auto_synthesize   INTEGER NOT NULL DEFAULT 0,
		status            TEXT NOT NULL DEFAULT 'pending',
		created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		started_at        DATETIME,
		completed_at      DATETIME
	);

	CREATE TABLE IF NOT EXISTS swarm_agents (
		id           TEXT PRIMARY KEY,
		swarm_id     TEXT NOT NULL,
		name         TEXT NOT NULL DEFAULT '',
		role         TEXT NOT NULL DEFAULT '',
		prompt       TEXT NOT NULL DEFAULT '',
		personality  TEXT NOT NULL DEFAULT '',
		plugins      TEXT NOT NULL DEFAULT '[]',
		model        TEXT NOT NULL DEFAULT '',
		branch       TEXT NOT NULL DEFAULT '',
		depends_on   TEXT NOT NULL DEFAULT '[]',
		session_id   TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT 'pending',
		output       TEXT NOT NULL DEFAULT '',
		summary      TEXT NOT NULL DEFAULT '',
		error        TEXT NOT NULL DEFAULT '',
		tool_count   INTEGER NOT NULL DEFAULT 0,
		started_at   DATETIME,
		completed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_swarm_agents_swarm ON swarm_agents(swarm_id);

	CREATE TABLE IF NOT EXISTS swarm_scratchpad (
		swarm_id          TEXT NOT NULL,
		key               TEXT NOT NULL,
		value             TEXT NOT NULL DEFAULT '',
		setter_agent_id   TEXT NOT NULL DEFAULT '',
		setter_agent_name TEXT NOT NULL DEFAULT '',
		created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (swarm_id, key)
	);

	CREATE TABLE IF NOT EXISTS core_memory_blocks (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		block_type TEXT NOT NULL DEFAULT '',
		content    TEXT NOT NULL DEFAULT '',
		char_limit INTEGER NOT NULL DEFAULT 0,
		version    INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_memory_blocks_owner ON core_memory_blocks(user_id, session_id);

	CREATE TABLE IF NOT EXISTS core_memory_versions (
		id         TEXT PRIMARY KEY,
		block_id   TEXT NOT NULL,
		version    INTEGER NOT NULL,
		content    TEXT NOT NULL DEFAULT '',
		reason     TEXT NOT NULL DEFAULT '',
		timestamp  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_memory_versions_block ON core_memory_versions(block_id);

	CREATE TABLE IF NOT EXISTS bond_states (
		user_id              TEXT PRIMARY KEY,
		affection            REAL NOT NULL DEFAULT 0,
		trend                TEXT NOT NULL DEFAULT 'stable',
		last_interaction_at  DATETIME,
		last_meaningful_at   DATETIME,
		streak_days          INTEGER NOT NULL DEFAULT 0,
		streak_last_date     TEXT NOT NULL DEFAULT '',
		history              TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS emotion_states (
		session_id         TEXT PRIMARY KEY,
		primary_emotion    TEXT NOT NULL DEFAULT '{}',
		secondary_emotion  TEXT NOT NULL DEFAULT '{}',
		overall_intensity  REAL NOT NULL DEFAULT 0,
		last_update        DATETIME,
		appraisal          TEXT NOT NULL DEFAULT '{}',
		trigger_snapshot   TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS stimulus_history (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		valence    REAL NOT NULL DEFAULT 0,
		intensity  REAL NOT NULL DEFAULT 0,
		timestamp  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		context    TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_stimulus_session ON stimulus_history(session_id, id);

	CREATE TABLE IF NOT EXISTS rare_events (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL DEFAULT '',
		event_type      TEXT NOT NULL DEFAULT '',
		content_hint    TEXT NOT NULL DEFAULT '{}',
		trigger_reason  TEXT NOT NULL DEFAULT '',
		trigger_context TEXT NOT NULL DEFAULT '{}',
		shown_at        DATETIME,
		dismissed_at    DATETIME,
		created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_rare_events_user ON rare_events(user_id);

	CREATE TABLE IF NOT EXISTS notifications (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL DEFAULT '',
		medium     TEXT NOT NULL DEFAULT '',
		location   TEXT NOT NULL DEFAULT '',
		message    TEXT NOT NULL DEFAULT '',
		priority   INTEGER NOT NULL DEFAULT 0,
		status     TEXT NOT NULL DEFAULT 'pending',
		error      TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalJSON(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func unmarshalJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func scanNullTime(raw sql.NullTime) *time.Time {
	if !raw.Valid {
		return nil
	}
	t := raw.Time
	return &t
}

func newID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, work_dir, started_at, ended_at, last_activity_at, personality, medium, user_id, parent_session_id, external_agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.WorkDir, sess.StartedAt, nullTime(sess.EndedAt), sess.LastActivityAt,
		sess.Personality, sess.Medium, sess.UserID, sess.ParentSessionID, sess.ExternalAgentID)
	return err
}

func (s *SQLiteStore) scanSession(row interface {
	Scan(dest ...any) error
}) (Session, error) {
	var sess Session
	var ended sql.NullTime
	err := row.Scan(&sess.ID, &sess.WorkDir, &sess.StartedAt, &ended, &sess.LastActivityAt,
		&sess.Personality, &sess.Medium, &sess.UserID, &sess.ParentSessionID, &sess.ExternalAgentID)
	if err != nil {
		return Session{}, err
	}
	sess.EndedAt = scanNullTime(ended)
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, work_dir, started_at, ended_at, last_activity_at, personality, medium, user_id, parent_session_id, external_agent_id
		FROM sessions WHERE id = ?`, id)
	sess, err := s.scanSession(row)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	return sess, err
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess Session) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET work_dir=?, ended_at=?, last_activity_at=?, personality=?, medium=?, user_id=?, parent_session_id=?, external_agent_id=?
		WHERE id = ?`,
		sess.WorkDir, nullTime(sess.EndedAt), sess.LastActivityAt, sess.Personality, sess.Medium,
		sess.UserID, sess.ParentSessionID, sess.ExternalAgentID, sess.ID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *SQLiteStore) ListActiveSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_dir, started_at, ended_at, last_activity_at, personality, medium, user_id, parent_session_id, external_agent_id
		FROM sessions WHERE ended_at IS NULL ORDER BY last_activity_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendConversation(ctx context.Context, c Conversation) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (session_id, role, text, embedding, medium, user_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.Role, c.Text, marshalJSON(c.Embedding), c.Medium, c.UserID, c.Timestamp)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) ListConversation(ctx context.Context, sessionID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, text, embedding, medium, user_id, timestamp
		FROM conversations WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		var embedding string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Role, &c.Text, &embedding, &c.Medium, &c.UserID, &c.Timestamp); err != nil {
			return nil, err
		}
		unmarshalJSON(embedding, &c.Embedding)
		out = append(out, c)
	}
	// reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// --- Tasks ---

func (s *SQLiteStore) CreateTask(ctx context.Context, t ProjectTask) error {
	if t.ID == "" {
		t.ID = newID("task")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_tasks (id, work_dir, title, description, acceptance, task_type, tags, effort, priority,
			required_tools, status, claim_session_id, claim_agent_id, claimed_at, attempt_count, blocked_by,
			related_task_ids, follow_up_task_ids, provenance, results, created_at, updated_at, started_at, completed_at, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.WorkDir, t.Title, t.Description, t.Acceptance, t.TaskType, marshalJSON(t.Tags), t.Effort, t.Priority,
		marshalJSON(t.RequiredTools), string(t.Status), t.ClaimSessionID, t.ClaimAgentID, nullTime(t.ClaimedAt), t.AttemptCount,
		marshalJSON(t.BlockedBy), marshalJSON(t.RelatedTaskIDs), marshalJSON(t.FollowUpTaskIDs),
		marshalJSON(t.Provenance), marshalJSON(t.Results), t.CreatedAt, t.UpdatedAt, nullTime(t.StartedAt), nullTime(t.CompletedAt),
		marshalJSON(t.Extra))
	return err
}

const taskColumns = `id, work_dir, title, description, acceptance, task_type, tags, effort, priority,
	required_tools, status, claim_session_id, claim_agent_id, claimed_at, attempt_count, blocked_by,
	related_task_ids, follow_up_task_ids, provenance, results, created_at, updated_at, started_at, completed_at, extra`

func scanTask(row interface{ Scan(dest ...any) error }) (ProjectTask, error) {
	var t ProjectTask
	var tags, requiredTools, blockedBy, relatedTaskIDs, followUpTaskIDs, provenance, results, extra string
	var status string
	var claimedAt, startedAt, completedAt sql.NullTime
	err := row.Scan(&t.ID, &t.WorkDir, &t.Title, &t.Description, &t.Acceptance, &t.TaskType, &tags, &t.Effort, &t.Priority,
		&requiredTools, &status, &t.ClaimSessionID, &t.ClaimAgentID, &claimedAt, &t.AttemptCount, &blockedBy,
		&relatedTaskIDs, &followUpTaskIDs, &provenance, &results, &t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt, &extra)
	if err != nil {
		return ProjectTask{}, err
	}
	t.Status = TaskStatus(status)
	t.ClaimedAt = scanNullTime(claimedAt)
	t.StartedAt = scanNullTime(startedAt)
	t.CompletedAt = scanNullTime(completedAt)
	unmarshalJSON(tags, &t.Tags)
	unmarshalJSON(requiredTools, &t.RequiredTools)
	unmarshalJSON(blockedBy, &t.BlockedBy)
	unmarshalJSON(relatedTaskIDs, &t.RelatedTaskIDs)
	unmarshalJSON(followUpTaskIDs, &t.FollowUpTaskIDs)
	unmarshalJSON(provenance, &t.Provenance)
	unmarshalJSON(results, &t.Results)
	unmarshalJSON(extra, &t.Extra)
	return t, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (ProjectTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM project_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return ProjectTask{}, ErrNotFound
	}
	return t, err
}

func (s *SQLiteStore) ListTasks(ctx context.Context, workDir string, status TaskStatus) ([]ProjectTask, error) {
	query := `SELECT ` + taskColumns + ` FROM project_tasks WHERE work_dir = ?`
	args := []any{workDir}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY priority DESC, created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProjectTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ReleaseTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE project_tasks SET status = 'ready', claim_session_id = '', claim_agent_id = '', claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status IN ('claimed', 'in_progress')`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, t ProjectTask) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE project_tasks SET title=?, description=?, acceptance=?, task_type=?, tags=?, effort=?, priority=?,
			required_tools=?, status=?, claim_session_id=?, claim_agent_id=?, claimed_at=?, attempt_count=?,
			blocked_by=?, related_task_ids=?, follow_up_task_ids=?, provenance=?, results=?, updated_at=?,
			started_at=?, completed_at=?, extra=?
		WHERE id = ?`,
		t.Title, t.Description, t.Acceptance, t.TaskType, marshalJSON(t.Tags), t.Effort, t.Priority,
		marshalJSON(t.RequiredTools), string(t.Status), t.ClaimSessionID, t.ClaimAgentID, nullTime(t.ClaimedAt), t.AttemptCount,
		marshalJSON(t.BlockedBy), marshalJSON(t.RelatedTaskIDs), marshalJSON(t.FollowUpTaskIDs),
		marshalJSON(t.Provenance), marshalJSON(t.Results), t.UpdatedAt, nullTime(t.StartedAt), nullTime(t.CompletedAt),
		marshalJSON(t.Extra), t.ID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM project_tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// --- Missions ---

func (s *SQLiteStore) CreateMission(ctx context.Context, m Mission) error {
	if m.ID == "" {
		m.ID = newID("mission")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO missions (id, name, prompt, cron, natural_schedule, timezone, status, next_execution_at,
			last_execution_at, personality, allowed_tools, model, work_dir, sandbox_image, budget_usd, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Prompt, m.Cron, m.NaturalSchedule, m.Timezone, string(m.Status), nullTime(m.NextExecutionAt),
		nullTime(m.LastExecutionAt), m.Personality, marshalJSON(m.AllowedTools), m.Model, m.WorkDir, m.SandboxImage,
		m.BudgetUSD, m.CreatedAt, m.UpdatedAt)
	return err
}

const missionColumns = `id, name, prompt, cron, natural_schedule, timezone, status, next_execution_at,
	last_execution_at, personality, allowed_tools, model, work_dir, sandbox_image, budget_usd, created_at, updated_at`

func scanMission(row interface{ Scan(dest ...any) error }) (Mission, error) {
	var m Mission
	var status, allowedTools string
	var nextExec, lastExec sql.NullTime
	err := row.Scan(&m.ID, &m.Name, &m.Prompt, &m.Cron, &m.NaturalSchedule, &m.Timezone, &status, &nextExec,
		&lastExec, &m.Personality, &allowedTools, &m.Model, &m.WorkDir, &m.SandboxImage, &m.BudgetUSD, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Mission{}, err
	}
	m.Status = MissionStatus(status)
	m.NextExecutionAt = scanNullTime(nextExec)
	m.LastExecutionAt = scanNullTime(lastExec)
	unmarshalJSON(allowedTools, &m.AllowedTools)
	return m, nil
}

func (s *SQLiteStore) GetMission(ctx context.Context, id string) (Mission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = ?`, id)
	m, err := scanMission(row)
	if err == sql.ErrNoRows {
		return Mission{}, ErrNotFound
	}
	return m, err
}

func (s *SQLiteStore) ListMissions(ctx context.Context, status MissionStatus) ([]Mission, error) {
	query := `SELECT ` + missionColumns + ` FROM missions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateMission(ctx context.Context, m Mission) error {
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE missions SET name=?, prompt=?, cron=?, natural_schedule=?, timezone=?, status=?, next_execution_at=?,
			last_execution_at=?, personality=?, allowed_tools=?, model=?, work_dir=?, sandbox_image=?, budget_usd=?, updated_at=?
		WHERE id = ?`,
		m.Name, m.Prompt, m.Cron, m.NaturalSchedule, m.Timezone, string(m.Status), nullTime(m.NextExecutionAt),
		nullTime(m.LastExecutionAt), m.Personality, marshalJSON(m.AllowedTools), m.Model, m.WorkDir, m.SandboxImage,
		m.BudgetUSD, m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *SQLiteStore) DeleteMission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM missions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *SQLiteStore) DueMissions(ctx context.Context, asOf time.Time) ([]Mission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+missionColumns+` FROM missions
		WHERE status = 'active' AND next_execution_at IS NOT NULL AND next_execution_at <= ?
		ORDER BY next_execution_at ASC`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateExecution(ctx context.Context, e MissionExecution) error {
	if e.ID == "" {
		e.ID = newID("exec")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mission_executions (id, mission_id, trigger, triggered_by, status, started_at, completed_at,
			output, summary, tool_use_count, error, budget_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MissionID, string(e.Trigger), e.TriggeredBy, string(e.Status), e.StartedAt, nullTime(e.CompletedAt),
		e.Output, e.Summary, e.ToolUseCount, e.Error, e.BudgetUSD)
	return err
}

func (s *SQLiteStore) UpdateExecution(ctx context.Context, e MissionExecution) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mission_executions SET status=?, completed_at=?, output=?, summary=?, tool_use_count=?, error=?, budget_usd=?
		WHERE id = ?`,
		string(e.Status), nullTime(e.CompletedAt), e.Output, e.Summary, e.ToolUseCount, e.Error, e.BudgetUSD, e.ID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, missionID string, limit int) ([]MissionExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mission_id, trigger, triggered_by, status, started_at, completed_at, output, summary, tool_use_count, error, budget_usd
		FROM mission_executions WHERE mission_id = ? ORDER BY started_at DESC LIMIT ?`, missionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MissionExecution
	for rows.Next() {
		var e MissionExecution
		var trigger, status string
		var completedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.MissionID, &trigger, &e.TriggeredBy, &status, &e.StartedAt, &completedAt,
			&e.Output, &e.Summary, &e.ToolUseCount, &e.Error, &e.BudgetUSD); err != nil {
			return nil, err
		}
		e.Trigger = TriggerKind(trigger)
		e.Status = ExecutionStatus(status)
		e.CompletedAt = scanNullTime(completedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Swarms ---

func (s *SQLiteStore) CreateSwarm(ctx context.Context, sw Swarm) error {
	if sw.ID == "" {
		sw.ID = newID("swarm")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swarms (id, name, parent_session_id, work_dir, branch_prefix, base_branch, auto_synthesize, status, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sw.ID, sw.Name, sw.ParentSessionID, sw.WorkDir, sw.BranchPrefix, sw.BaseBranch, sw.AutoSynthesize, string(sw.Status),
		sw.CreatedAt, nullTime(sw.StartedAt), nullTime(sw.CompletedAt))
	return err
}

func scanSwarm(row interface{ Scan(dest ...any) error }) (Swarm, error) {
	var sw Swarm
	var status string
	var started, completed sql.NullTime
	err := row.Scan(&sw.ID, &sw.Name, &sw.ParentSessionID, &sw.WorkDir, &sw.BranchPrefix, &sw.BaseBranch,
		&sw.AutoSynthesize, &status, &sw.CreatedAt, &started, &completed)
	if err != nil {
		return Swarm{}, err
	}
	sw.Status = SwarmStatus(status)
	sw.StartedAt = scanNullTime(started)
	sw.CompletedAt = scanNullTime(completed)
	return sw, nil
}

func (s *SQLiteStore) GetSwarm(ctx context.Context, id string) (Swarm, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, parent_session_id, work_dir, branch_prefix, base_branch, auto_synthesize, status, created_at, started_at, completed_at
		FROM swarms WHERE id = ?`, id)
	sw, err := scanSwarm(row)
	if err == sql.ErrNoRows {
		return Swarm{}, ErrNotFound
	}
	return sw, err
}

func (s *SQLiteStore) UpdateSwarm(ctx context.Context, sw Swarm) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE swarms SET name=?, branch_prefix=?, base_branch=?, auto_synthesize=?, status=?, started_at=?, completed_at=?
		WHERE id = ?`,
		sw.Name, sw.BranchPrefix, sw.BaseBranch, sw.AutoSynthesize, string(sw.Status), nullTime(sw.StartedAt), nullTime(sw.CompletedAt), sw.ID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *SQLiteStore) ListSwarms(ctx context.Context, status SwarmStatus) ([]Swarm, error) {
	query := `SELECT id, name, parent_session_id, work_dir, branch_prefix, base_branch, auto_synthesize, status, created_at, started_at, completed_at FROM swarms`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Swarm
	for rows.Next() {
		sw, err := scanSwarm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sw)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateSwarmAgent(ctx context.Context, a SwarmAgent) error {
	if a.ID == "" {
		a.ID = newID("agent")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swarm_agents (id, swarm_id, name, role, prompt, personality, plugins, model, branch, depends_on,
			session_id, status, output, summary, error, tool_count, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SwarmID, a.Name, a.Role, a.Prompt, a.Personality, marshalJSON(a.Plugins), a.Model, a.Branch,
		marshalJSON(a.DependsOn), a.SessionID, string(a.Status), a.Output, a.Summary, a.Error, a.ToolCount,
		nullTime(a.StartedAt), nullTime(a.CompletedAt))
	return err
}

const swarmAgentColumns = `id, swarm_id, name, role, prompt, personality, plugins, model, branch, depends_on,
	session_id, status, output, summary, error, tool_count, started_at, completed_at`

func scanSwarmAgent(row interface{ Scan(dest ...any) error }) (SwarmAgent, error) {
	var a SwarmAgent
	var plugins, dependsOn, status string
	var started, completed sql.NullTime
	err := row.Scan(&a.ID, &a.SwarmID, &a.Name, &a.Role, &a.Prompt, &a.Personality, &plugins, &a.Model, &a.Branch,
		&dependsOn, &a.SessionID, &status, &a.Output, &a.Summary, &a.Error, &a.ToolCount, &started, &completed)
	if err != nil {
		return SwarmAgent{}, err
	}
	a.Status = AgentStatus(status)
	a.StartedAt = scanNullTime(started)
	a.CompletedAt = scanNullTime(completed)
	unmarshalJSON(plugins, &a.Plugins)
	unmarshalJSON(dependsOn, &a.DependsOn)
	return a, nil
}

func (s *SQLiteStore) GetSwarmAgent(ctx context.Context, id string) (SwarmAgent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+swarmAgentColumns+` FROM swarm_agents WHERE id = ?`, id)
	a, err := scanSwarmAgent(row)
	if err == sql.ErrNoRows {
		return SwarmAgent{}, ErrNotFound
	}
	return a, err
}

func (s *SQLiteStore) UpdateSwarmAgent(ctx context.Context, a SwarmAgent) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE swarm_agents SET session_id=?, status=?, output=?, summary=?, error=?, tool_count=?, started_at=?, completed_at=?
		WHERE id = ?`,
		a.SessionID, string(a.Status), a.Output, a.Summary, a.Error, a.ToolCount, nullTime(a.StartedAt), nullTime(a.CompletedAt), a.ID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *SQLiteStore) ListSwarmAgents(ctx context.Context, swarmID string) ([]SwarmAgent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+swarmAgentColumns+` FROM swarm_agents WHERE swarm_id = ?`, swarmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SwarmAgent
	for rows.Next() {
		a, err := scanSwarmAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutScratchpad(ctx context.Context, e SwarmScratchpadEntry) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swarm_scratchpad (swarm_id, key, value, setter_agent_id, setter_agent_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(swarm_id, key) DO UPDATE SET value=excluded.value, setter_agent_id=excluded.setter_agent_id,
			setter_agent_name=excluded.setter_agent_name, updated_at=excluded.updated_at`,
		e.SwarmID, e.Key, e.Value, e.SetterAgentID, e.SetterAgentName, now, now)
	return err
}

func (s *SQLiteStore) GetScratchpad(ctx context.Context, swarmID, key string) (SwarmScratchpadEntry, error) {
	var e SwarmScratchpadEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT swarm_id, key, value, setter_agent_id, setter_agent_name, created_at, updated_at
		FROM swarm_scratchpad WHERE swarm_id = ? AND key = ?`, swarmID, key).
		Scan(&e.SwarmID, &e.Key, &e.Value, &e.SetterAgentID, &e.SetterAgentName, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return SwarmScratchpadEntry{}, ErrNotFound
	}
	return e, err
}

func (s *SQLiteStore) ListScratchpad(ctx context.Context, swarmID string) ([]SwarmScratchpadEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT swarm_id, key, value, setter_agent_id, setter_agent_name, created_at, updated_at
		FROM swarm_scratchpad WHERE swarm_id = ? ORDER BY key ASC`, swarmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SwarmScratchpadEntry
	for rows.Next() {
		var e SwarmScratchpadEntry
		if err := rows.Scan(&e.SwarmID, &e.Key, &e.Value, &e.SetterAgentID, &e.SetterAgentName, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteScratchpad(ctx context.Context, swarmID, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM swarm_scratchpad WHERE swarm_id = ? AND key = ?`, swarmID, key)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// --- Core memory ---

func (s *SQLiteStore) CreateMemoryBlock(ctx context.Context, b CoreMemoryBlock) error {
	if b.ID == "" {
		b.ID = newID("block")
	}
	if b.Version == 0 {
		b.Version = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO core_memory_blocks (id, user_id, session_id, block_type, content, char_limit, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.SessionID, string(b.BlockType), b.Content, b.CharLimit, b.Version, b.CreatedAt, b.UpdatedAt)
	return err
}

func scanMemoryBlock(row interface{ Scan(dest ...any) error }) (CoreMemoryBlock, error) {
	var b CoreMemoryBlock
	var blockType string
	err := row.Scan(&b.ID, &b.UserID, &b.SessionID, &blockType, &b.Content, &b.CharLimit, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return CoreMemoryBlock{}, err
	}
	b.BlockType = MemoryBlockType(blockType)
	return b, nil
}

func (s *SQLiteStore) GetMemoryBlock(ctx context.Context, id string) (CoreMemoryBlock, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, session_id, block_type, content, char_limit, version, created_at, updated_at
		FROM core_memory_blocks WHERE id = ?`, id)
	b, err := scanMemoryBlock(row)
	if err == sql.ErrNoRows {
		return CoreMemoryBlock{}, ErrNotFound
	}
	return b, err
}

func (s *SQLiteStore) ListMemoryBlocks(ctx context.Context, userID, sessionID string) ([]CoreMemoryBlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, block_type, content, char_limit, version, created_at, updated_at
		FROM core_memory_blocks WHERE (user_id = ? AND ? != '') OR (session_id = ? AND ? != '')
		ORDER BY block_type ASC`, userID, userID, sessionID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CoreMemoryBlock
	for rows.Next() {
		b, err := scanMemoryBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateMemoryBlockVersioned bumps the block's version, updates its content,
// and appends a version row, all inside one transaction so a reader never
// observes a version bump without its matching version history entry.
func (s *SQLiteStore) UpdateMemoryBlockVersioned(ctx context.Context, blockID, content, reason string) (CoreMemoryBlock, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CoreMemoryBlock{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, user_id, session_id, block_type, content, char_limit, version, created_at, updated_at
		FROM core_memory_blocks WHERE id = ?`, blockID)
	b, err := scanMemoryBlock(row)
	if err == sql.ErrNoRows {
		return CoreMemoryBlock{}, ErrNotFound
	}
	if err != nil {
		return CoreMemoryBlock{}, err
	}

	b.Version++
	b.Content = content
	b.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		UPDATE core_memory_blocks SET content=?, version=?, updated_at=? WHERE id = ?`,
		b.Content, b.Version, b.UpdatedAt, b.ID); err != nil {
		return CoreMemoryBlock{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO core_memory_versions (id, block_id, version, content, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		newID("memver"), b.ID, b.Version, b.Content, reason, b.UpdatedAt); err != nil {
		return CoreMemoryBlock{}, err
	}
	if err := tx.Commit(); err != nil {
		return CoreMemoryBlock{}, err
	}
	return b, nil
}

func (s *SQLiteStore) ListMemoryVersions(ctx context.Context, blockID string) ([]CoreMemoryVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, block_id, version, content, reason, timestamp FROM core_memory_versions
		WHERE block_id = ? ORDER BY version DESC`, blockID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CoreMemoryVersion
	for rows.Next() {
		var v CoreMemoryVersion
		if err := rows.Scan(&v.ID, &v.BlockID, &v.Version, &v.Content, &v.Reason, &v.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- Bond ---

func (s *SQLiteStore) GetBondState(ctx context.Context, userID string) (BondState, error) {
	var b BondState
	var trend, history string
	var lastInteraction, lastMeaningful sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, affection, trend, last_interaction_at, last_meaningful_at, streak_days, streak_last_date, history
		FROM bond_states WHERE user_id = ?`, userID).
		Scan(&b.UserID, &b.Affection, &trend, &lastInteraction, &lastMeaningful, &b.StreakDays, &b.StreakLastDate, &history)
	if err == sql.ErrNoRows {
		return BondState{}, ErrNotFound
	}
	if err != nil {
		return BondState{}, err
	}
	b.Trend = BondTrend(trend)
	if lastInteraction.Valid {
		b.LastInteractionAt = lastInteraction.Time
	}
	b.LastMeaningfulAt = scanNullTime(lastMeaningful)
	unmarshalJSON(history, &b.History)
	return b, nil
}

func (s *SQLiteStore) UpdateBondState(ctx context.Context, b BondState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bond_states (user_id, affection, trend, last_interaction_at, last_meaningful_at, streak_days, streak_last_date, history)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET affection=excluded.affection, trend=excluded.trend,
			last_interaction_at=excluded.last_interaction_at, last_meaningful_at=excluded.last_meaningful_at,
			streak_days=excluded.streak_days, streak_last_date=excluded.streak_last_date, history=excluded.history`,
		b.UserID, b.Affection, string(b.Trend), b.LastInteractionAt, nullTime(b.LastMeaningfulAt),
		b.StreakDays, b.StreakLastDate, marshalJSON(b.History))
	return err
}

// --- Emotion ---

func (s *SQLiteStore) GetEmotionState(ctx context.Context, sessionID string) (EmotionState, error) {
	var e EmotionState
	var primary, secondary, appraisal, trigger string
	var lastUpdate sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, primary_emotion, secondary_emotion, overall_intensity, last_update, appraisal, trigger_snapshot
		FROM emotion_states WHERE session_id = ?`, sessionID).
		Scan(&e.SessionID, &primary, &secondary, &e.OverallIntensity, &lastUpdate, &appraisal, &trigger)
	if err == sql.ErrNoRows {
		return EmotionState{}, ErrNotFound
	}
	if err != nil {
		return EmotionState{}, err
	}
	if lastUpdate.Valid {
		e.LastUpdate = lastUpdate.Time
	}
	var p, sec EmotionInstance
	if unmarshalJSON(primary, &p) == nil && p.Type != "" {
		e.Primary = &p
	}
	if unmarshalJSON(secondary, &sec) == nil && sec.Type != "" {
		e.Secondary = &sec
	}
	unmarshalJSON(appraisal, &e.Appraisal)
	unmarshalJSON(trigger, &e.Trigger)
	return e, nil
}

func (s *SQLiteStore) UpdateEmotionState(ctx context.Context, e EmotionState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO emotion_states (session_id, primary_emotion, secondary_emotion, overall_intensity, last_update, appraisal, trigger_snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET primary_emotion=excluded.primary_emotion, secondary_emotion=excluded.secondary_emotion,
			overall_intensity=excluded.overall_intensity, last_update=excluded.last_update, appraisal=excluded.appraisal,
			trigger_snapshot=excluded.trigger_snapshot`,
		e.SessionID, marshalJSON(e.Primary), marshalJSON(e.Secondary), e.OverallIntensity, e.LastUpdate,
		marshalJSON(e.Appraisal), marshalJSON(e.Trigger))
	return err
}

func (s *SQLiteStore) AppendStimulus(ctx context.Context, sessionID string, rec StimulusRecord, maxHistory int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stimulus_history (session_id, valence, intensity, timestamp, context)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, rec.Valence, rec.Intensity, rec.Timestamp, marshalJSON(rec.Context)); err != nil {
		return err
	}
	if maxHistory > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM stimulus_history WHERE session_id = ? AND id NOT IN (
				SELECT id FROM stimulus_history WHERE session_id = ? ORDER BY id DESC LIMIT ?)`,
			sessionID, sessionID, maxHistory); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListStimulusHistory(ctx context.Context, sessionID string, limit int) ([]StimulusRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, valence, intensity, timestamp, context FROM stimulus_history
		WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StimulusRecord
	for rows.Next() {
		var r StimulusRecord
		var context string
		if err := rows.Scan(&r.SessionID, &r.Valence, &r.Intensity, &r.Timestamp, &context); err != nil {
			return nil, err
		}
		unmarshalJSON(context, &r.Context)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Rare events ---

func (s *SQLiteStore) CreateRareEvent(ctx context.Context, e RareEvent) error {
	if e.ID == "" {
		e.ID = newID("rare")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rare_events (id, user_id, event_type, content_hint, trigger_reason, trigger_context, shown_at, dismissed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.EventType, marshalJSON(e.ContentHint), e.TriggerReason, marshalJSON(e.TriggerContext),
		nullTime(e.ShownAt), nullTime(e.DismissedAt), e.CreatedAt)
	return err
}

func (s *SQLiteStore) ListPendingRareEvents(ctx context.Context, userID string) ([]RareEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, content_hint, trigger_reason, trigger_context, shown_at, dismissed_at, created_at
		FROM rare_events WHERE user_id = ? AND shown_at IS NULL ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RareEvent
	for rows.Next() {
		var e RareEvent
		var contentHint, triggerContext string
		var shownAt, dismissedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &contentHint, &e.TriggerReason, &triggerContext,
			&shownAt, &dismissedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		unmarshalJSON(contentHint, &e.ContentHint)
		unmarshalJSON(triggerContext, &e.TriggerContext)
		e.ShownAt = scanNullTime(shownAt)
		e.DismissedAt = scanNullTime(dismissedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkRareEventShown(ctx context.Context, id string, shownAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rare_events SET shown_at = ? WHERE id = ?`, shownAt, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *SQLiteStore) MarkRareEventDismissed(ctx context.Context, id string, dismissedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rare_events SET dismissed_at = ? WHERE id = ?`, dismissedAt, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// --- Notifications ---

func (s *SQLiteStore) CreateNotification(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = newID("notif")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, medium, location, message, priority, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Medium, n.Location, n.Message, n.Priority, n.Status, n.Error, n.CreatedAt, n.UpdatedAt)
	return err
}

func (s *SQLiteStore) ListPendingNotifications(ctx context.Context) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, medium, location, message, priority, status, error, created_at, updated_at
		FROM notifications WHERE status = 'pending' ORDER BY priority DESC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Medium, &n.Location, &n.Message, &n.Priority, &n.Status, &n.Error, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateNotification(ctx context.Context, n Notification) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status=?, error=?, updated_at=? WHERE id = ?`,
		n.Status, n.Error, time.Now().UTC(), n.ID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
