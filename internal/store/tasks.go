package store

import (
	"database/sql"
	"fmt"

	"github.com/CrewClaw/CrewClaw/internal/idgen"
)

// CreateTask inserts a new task. TaskID is generated if empty; status
// defaults to inbox and version starts at 1.
func (s *Store) CreateTask(t *TaskRecord) (*TaskRecord, error) {
	if t.TaskID == "" {
		t.TaskID = idgen.New()
	}
	if t.Status == "" {
		t.Status = StatusInbox
	}

	query := `
	INSERT INTO tasks (task_id, title, description, status, assignees, docs, version)
	VALUES (?, ?, ?, ?, ?, ?, 1)
	`
	result, err := s.db.Exec(query,
		t.TaskID,
		t.Title,
		t.Description,
		t.Status,
		encodeList(t.Assignees),
		encodeList(t.Docs),
	)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	id, _ := result.LastInsertId()
	t.ID = id
	return s.GetTask(t.TaskID)
}

const taskColumns = `id, task_id, title, description, status, blocked_from,
	assignees, docs, version, created_at, updated_at`

func scanTask(row *sql.Row) (*TaskRecord, error) {
	var t TaskRecord
	var assignees, docs string
	err := row.Scan(
		&t.ID, &t.TaskID, &t.Title, &t.Description, &t.Status, &t.BlockedFrom,
		&assignees, &docs, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Assignees = decodeList(assignees)
	t.Docs = decodeList(docs)
	return &t, nil
}

// GetTask returns a task by task_id.
func (s *Store) GetTask(taskID string) (*TaskRecord, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	return scanTask(row)
}

// ListTasks returns tasks most-recent-first, filtered by optional status and
// assignee.
func (s *Store) ListTasks(f TaskFilter) ([]TaskRecord, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Assignee != "" {
		// Assignees are stored as a JSON array; match the quoted element so
		// filtering happens before LIMIT/OFFSET and pages stay full.
		query += ` AND assignees LIKE ?`
		args = append(args, `%"`+f.Assignee+`"%`)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var t TaskRecord
		var assignees, docs string
		if err := rows.Scan(
			&t.ID, &t.TaskID, &t.Title, &t.Description, &t.Status, &t.BlockedFrom,
			&assignees, &docs, &t.Version, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		t.Assignees = decodeList(assignees)
		t.Docs = decodeList(docs)
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTaskStatus writes a new status if the caller's version is still
// current. Returns ErrVersionConflict when a concurrent writer got there
// first, ErrNotFound when the task does not exist.
func (s *Store) UpdateTaskStatus(taskID, newStatus, blockedFrom string, version int64) (*TaskRecord, error) {
	result, err := s.db.Exec(`
		UPDATE tasks
		SET status = ?, blocked_from = ?, version = version + 1, updated_at = datetime('now')
		WHERE task_id = ? AND version = ?`,
		newStatus, blockedFrom, taskID, version,
	)
	if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		if _, err := s.GetTask(taskID); err != nil {
			return nil, err // ErrNotFound
		}
		return nil, ErrVersionConflict
	}
	return s.GetTask(taskID)
}

// SetTaskAssignees replaces the assignee set and the status in one write
// under a single optimistic version check, so a lost race leaves neither
// committed.
func (s *Store) SetTaskAssignees(taskID string, assignees []string, newStatus string, version int64) (*TaskRecord, error) {
	result, err := s.db.Exec(`
		UPDATE tasks
		SET assignees = ?, status = ?, version = version + 1, updated_at = datetime('now')
		WHERE task_id = ? AND version = ?`,
		encodeList(assignees), newStatus, taskID, version,
	)
	if err != nil {
		return nil, fmt.Errorf("set task assignees: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		if _, err := s.GetTask(taskID); err != nil {
			return nil, err
		}
		return nil, ErrVersionConflict
	}
	return s.GetTask(taskID)
}

// TaskSubscribers returns every actor that has commented on, been assigned
// to, or been mentioned in the task. The set is derived on demand from the
// task and message records; there is no separately maintained table.
func (s *Store) TaskSubscribers(taskID string) ([]string, error) {
	task, err := s.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var subs []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			subs = append(subs, id)
		}
	}

	for _, a := range task.Assignees {
		add(a)
	}

	rows, err := s.db.Query(`SELECT author_id, mentions FROM messages WHERE task_id = ? ORDER BY seq ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("task subscribers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var author, mentions string
		if err := rows.Scan(&author, &mentions); err != nil {
			return nil, fmt.Errorf("scan subscriber row: %w", err)
		}
		add(author)
		for _, m := range decodeList(mentions) {
			add(m)
		}
	}
	return subs, rows.Err()
}

// CountTasksByStatus returns a status → count map for report commands.
func (s *Store) CountTasksByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
