package store

import (
	"context"
	"database/sql"
	"time"
)

// ClaimReadyTask finds one ready, unblocked task in workDir and marks it
// claimed by (sessionID, agentID) in one transaction. SQLite has no
// SELECT ... FOR UPDATE SKIP LOCKED, so this relies on a different
// mechanism for the same "exactly one caller wins" guarantee: the select
// and update run inside an IMMEDIATE transaction, which takes SQLite's
// single reserved-lock slot up front. A second concurrent caller in this
// process waits for the pool's single connection, and a writer in another
// process waits up to the busy_timeout set in NewSQLiteStore; by the time
// either gets in, the first caller's row is no longer status='ready', so
// its SELECT returns a different row or none.
func (s *SQLiteStore) ClaimReadyTask(ctx context.Context, workDir, sessionID, agentID string) (ProjectTask, error) {
	// database/sql's BeginTx always issues a plain BEGIN. To get SQLite's
	// IMMEDIATE locking (take the write lock up front instead of on first
	// write) we issue the BEGIN ourselves, and run every statement of the
	// transaction on one connection reserved with db.Conn so no other
	// caller's statement can land inside it.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return ProjectTask{}, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return ProjectTask{}, err
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	row := conn.QueryRowContext(ctx, `
		SELECT id FROM project_tasks
		WHERE work_dir = ? AND status = 'ready'
		AND NOT EXISTS (
			SELECT 1 FROM json_each(blocked_by) dep
			JOIN project_tasks p ON p.id = dep.value
			WHERE p.status != 'done'
		)
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`, workDir)

	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return ProjectTask{}, ErrNoReadyTask
		}
		return ProjectTask{}, err
	}

	now := time.Now().UTC()
	res, err := conn.ExecContext(ctx, `
		UPDATE project_tasks SET status = 'claimed', claim_session_id = ?, claim_agent_id = ?,
			claimed_at = ?, attempt_count = attempt_count + 1, updated_at = ?
		WHERE id = ? AND status = 'ready'`,
		sessionID, agentID, now, now, id)
	if err != nil {
		return ProjectTask{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ProjectTask{}, err
	}
	if affected == 0 {
		// Lost the race between the select and the update to another
		// writer that committed in between; nothing to claim this round.
		return ProjectTask{}, ErrNoReadyTask
	}

	claimedRow := conn.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM project_tasks WHERE id = ?`, id)
	t, err := scanTask(claimedRow)
	if err != nil {
		return ProjectTask{}, err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return ProjectTask{}, err
	}
	committed = true
	return t, nil
}
