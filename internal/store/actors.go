package store

import (
	"database/sql"
	"fmt"

	"github.com/CrewClaw/CrewClaw/internal/idgen"
)

// CreateActor provisions a new actor. Name and route key must be unique.
func (s *Store) CreateActor(name, routeKey string) (*ActorRecord, error) {
	actorID := idgen.New()
	if routeKey == "" {
		routeKey = name
	}
	_, err := s.db.Exec(`
		INSERT INTO actors (actor_id, name, route_key, state)
		VALUES (?, ?, ?, ?)`,
		actorID, name, routeKey, ActorIdle,
	)
	if err != nil {
		return nil, fmt.Errorf("create actor: %w", err)
	}
	return s.GetActor(actorID)
}

const actorColumns = `actor_id, name, route_key, state, current_task, archived, created_at, updated_at`

func scanActor(row *sql.Row) (*ActorRecord, error) {
	var a ActorRecord
	err := row.Scan(
		&a.ActorID, &a.Name, &a.RouteKey, &a.State, &a.CurrentTask,
		&a.Archived, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan actor: %w", err)
	}
	return &a, nil
}

// GetActor returns an actor by ID.
func (s *Store) GetActor(actorID string) (*ActorRecord, error) {
	return scanActor(s.db.QueryRow(`SELECT `+actorColumns+` FROM actors WHERE actor_id = ?`, actorID))
}

// GetActorByName returns an actor by its unique name. Mention resolution uses
// this at message write time.
func (s *Store) GetActorByName(name string) (*ActorRecord, error) {
	return scanActor(s.db.QueryRow(`SELECT `+actorColumns+` FROM actors WHERE name = ?`, name))
}

// ListActors returns all non-archived actors, oldest first. With
// includeArchived it returns everything.
func (s *Store) ListActors(includeArchived bool) ([]ActorRecord, error) {
	query := `SELECT ` + actorColumns + ` FROM actors`
	if !includeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	defer rows.Close()

	var out []ActorRecord
	for rows.Next() {
		var a ActorRecord
		if err := rows.Scan(
			&a.ActorID, &a.Name, &a.RouteKey, &a.State, &a.CurrentTask,
			&a.Archived, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan actor row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetActorState updates lifecycle state and the current-task pointer.
func (s *Store) SetActorState(actorID, state, currentTask string) error {
	result, err := s.db.Exec(`
		UPDATE actors SET state = ?, current_task = ?, updated_at = datetime('now')
		WHERE actor_id = ?`,
		state, currentTask, actorID,
	)
	if err != nil {
		return fmt.Errorf("set actor state: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveActor retires an actor. Actors are never deleted.
func (s *Store) ArchiveActor(actorID string) error {
	result, err := s.db.Exec(`
		UPDATE actors SET archived = 1, state = ?, updated_at = datetime('now')
		WHERE actor_id = ?`,
		ActorAsleep, actorID,
	)
	if err != nil {
		return fmt.Errorf("archive actor: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
