package store

import (
	"database/sql"
	"fmt"

	"github.com/CrewClaw/CrewClaw/internal/idgen"
)

// AddMessage appends an immutable comment to a task thread. The sequence
// number is assigned inside the insert transaction, so ordering is defined by
// write order, not by the author's clock.
func (s *Store) AddMessage(m *MessageRecord) (*MessageRecord, error) {
	if m.MessageID == "" {
		m.MessageID = idgen.New()
	}

	if _, err := s.GetTask(m.TaskID); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE task_id = ?`, m.TaskID,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("next message seq: %w", err)
	}

	result, err := tx.Exec(`
		INSERT INTO messages (message_id, task_id, author_id, seq, body, attachments, mentions)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.TaskID, m.AuthorID, seq, m.Body,
		encodeList(m.Attachments), encodeList(m.Mentions),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}

	id, _ := result.LastInsertId()
	m.ID = id
	m.Seq = seq
	return s.GetMessage(m.MessageID)
}

const messageColumns = `id, message_id, task_id, author_id, seq, body, attachments, mentions, created_at`

// GetMessage returns a message by message_id.
func (s *Store) GetMessage(messageID string) (*MessageRecord, error) {
	var m MessageRecord
	var attachments, mentions string
	err := s.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, messageID).Scan(
		&m.ID, &m.MessageID, &m.TaskID, &m.AuthorID, &m.Seq, &m.Body,
		&attachments, &mentions, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	m.Attachments = decodeList(attachments)
	m.Mentions = decodeList(mentions)
	return &m, nil
}

// ListMessages returns a task's thread in sequence order.
func (s *Store) ListMessages(taskID string, limit, offset int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT `+messageColumns+` FROM messages WHERE task_id = ? ORDER BY seq ASC LIMIT ? OFFSET ?`,
		taskID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var m MessageRecord
		var attachments, mentions string
		if err := rows.Scan(
			&m.ID, &m.MessageID, &m.TaskID, &m.AuthorID, &m.Seq, &m.Body,
			&attachments, &mentions, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Attachments = decodeList(attachments)
		m.Mentions = decodeList(mentions)
		out = append(out, m)
	}
	return out, rows.Err()
}
