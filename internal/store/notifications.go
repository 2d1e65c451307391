package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/CrewClaw/CrewClaw/internal/idgen"
)

// CreateNotification persists an undelivered record. When the notification
// carries a MessageID and the target actor already has one for that message,
// the insert is a no-op (no duplicate pings for the same event); the returned
// bool reports whether a row was created.
func (s *Store) CreateNotification(n *NotificationRecord) (bool, error) {
	if n.NotificationID == "" {
		n.NotificationID = idgen.NewSortable()
	}
	result, err := s.db.Exec(`
		INSERT OR IGNORE INTO notifications (notification_id, actor_id, content, ref_kind, ref_id, message_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.NotificationID, n.ActorID, n.Content, n.RefKind, n.RefID, n.MessageID,
	)
	if err != nil {
		return false, fmt.Errorf("create notification: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return false, nil
	}
	n.ID, _ = result.LastInsertId()
	return true, nil
}

const notificationColumns = `id, notification_id, actor_id, content, ref_kind, ref_id,
	message_id, delivered, delivered_at, created_at`

func scanNotifications(rows *sql.Rows) ([]NotificationRecord, error) {
	var out []NotificationRecord
	for rows.Next() {
		var n NotificationRecord
		var deliveredAt sql.NullTime
		if err := rows.Scan(
			&n.ID, &n.NotificationID, &n.ActorID, &n.Content, &n.RefKind, &n.RefID,
			&n.MessageID, &n.Delivered, &deliveredAt, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		if deliveredAt.Valid {
			n.DeliveredAt = &deliveredAt.Time
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListUndelivered returns undelivered notifications oldest-first. These stay
// eligible indefinitely; an asleep actor picks them up on its next wake.
func (s *Store) ListUndelivered(limit int) ([]NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+notificationColumns+` FROM notifications WHERE delivered = 0 ORDER BY id ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list undelivered: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// ListUndeliveredFor returns one actor's undelivered notifications
// oldest-first, for draining a mailbox when that actor wakes.
func (s *Store) ListUndeliveredFor(actorID string, limit int) ([]NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+notificationColumns+` FROM notifications WHERE delivered = 0 AND actor_id = ? ORDER BY id ASC LIMIT ?`,
		actorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list undelivered for actor: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// ListNotifications returns an actor's mailbox newest-first.
func (s *Store) ListNotifications(actorID string, limit, offset int) ([]NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+notificationColumns+` FROM notifications WHERE actor_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		actorID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// MarkDelivered flips the delivered flag false→true. The guard on the current
// flag makes a second delivery attempt a harmless no-op; the returned bool
// reports whether this call did the flip.
func (s *Store) MarkDelivered(notificationID string) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE notifications SET delivered = 1, delivered_at = datetime('now')
		WHERE notification_id = ? AND delivered = 0`,
		notificationID,
	)
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// PruneDelivered removes delivered notifications older than cutoff. Retention
// is opt-in configuration; the default keeps everything.
func (s *Store) PruneDelivered(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM notifications WHERE delivered = 1 AND created_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune delivered: %w", err)
	}
	return result.RowsAffected()
}

// PruneForArchivedActors removes undelivered notifications addressed to
// archived actors. Only invoked when a retention window is configured.
func (s *Store) PruneForArchivedActors() (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM notifications
		WHERE delivered = 0
		AND actor_id IN (SELECT actor_id FROM actors WHERE archived = 1)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prune archived: %w", err)
	}
	return result.RowsAffected()
}
