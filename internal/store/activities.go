package store

import (
	"fmt"

	"github.com/CrewClaw/CrewClaw/internal/idgen"
)

// AppendActivity records one immutable audit fact. Duplicate content is
// allowed: two actors posting the same text are two distinct facts.
func (s *Store) AppendActivity(a *ActivityRecord) error {
	if a.ActivityID == "" {
		a.ActivityID = idgen.NewSortable()
	}
	result, err := s.db.Exec(`
		INSERT INTO activities (activity_id, type, actor_id, summary, task_id, ref_kind, ref_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ActivityID, a.Type, a.ActorID, a.Summary, a.TaskID, a.RefKind, a.RefID,
	)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	a.ID, _ = result.LastInsertId()
	return nil
}

// ListActivities returns the feed reverse-chronologically, optionally
// filtered by type, actor, or task.
func (s *Store) ListActivities(f ActivityFilter) ([]ActivityRecord, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := `SELECT id, activity_id, type, actor_id, summary, task_id, ref_kind, ref_id, created_at
		FROM activities WHERE 1=1`
	args := []any{}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.ActorID != "" {
		query += ` AND actor_id = ?`
		args = append(args, f.ActorID)
	}
	if f.TaskID != "" {
		query += ` AND task_id = ?`
		args = append(args, f.TaskID)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var out []ActivityRecord
	for rows.Next() {
		var a ActivityRecord
		if err := rows.Scan(
			&a.ID, &a.ActivityID, &a.Type, &a.ActorID, &a.Summary,
			&a.TaskID, &a.RefKind, &a.RefID, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
