// Package tasks implements the task state machine and the comment thread on
// top of the durable store. All status writes go through here so transitions
// are validated centrally, and every accepted mutation publishes exactly one
// domain event on the bus.
package tasks

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CrewClaw/CrewClaw/internal/bus"
	"github.com/CrewClaw/CrewClaw/internal/store"
)

// ErrInvalidTransition means the requested status edge is not in the allowed
// graph. The stored status is unchanged; the caller must pick a valid edge.
var ErrInvalidTransition = errors.New("invalid status transition")

// forward is the linear part of the status graph. Blocked is handled
// separately: reachable from any non-terminal status, returning only to the
// status it was entered from.
var forward = map[string]string{
	store.StatusInbox:      store.StatusAssigned,
	store.StatusAssigned:   store.StatusInProgress,
	store.StatusInProgress: store.StatusReview,
	store.StatusReview:     store.StatusDone,
}

// Service coordinates task mutations between the store and the event bus.
type Service struct {
	store *store.Store
	bus   *bus.Bus
}

// NewService creates a task service.
func NewService(s *store.Store, b *bus.Bus) *Service {
	return &Service{store: s, bus: b}
}

// Store exposes the underlying store for read paths.
func (s *Service) Store() *store.Store { return s.store }

// Create inserts a new task in inbox and publishes task-created. Assignees
// are actor IDs; listing someone here subscribes them to the thread.
func (s *Service) Create(title, description string, assignees []string, actorID string) (*store.TaskRecord, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("task title must not be empty")
	}
	task, err := s.store.CreateTask(&store.TaskRecord{
		Title:       title,
		Description: description,
		Assignees:   assignees,
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(bus.EventTaskCreated, actorID, bus.TaskPayload{
		TaskID:    task.TaskID,
		Title:     task.Title,
		Status:    task.Status,
		Assignees: task.Assignees,
	})
	return task, nil
}

// Transition requests one status edge. Reapplying the current status is a
// no-op: no write, no event. Surfaces store.ErrNotFound,
// store.ErrVersionConflict, and ErrInvalidTransition unchanged; the caller
// decides whether to reread and retry.
func (s *Service) Transition(taskID, newStatus, actorID string) (*store.TaskRecord, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	if newStatus == task.Status {
		return task, nil
	}

	blockedFrom, err := validateEdge(task, newStatus)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateTaskStatus(taskID, newStatus, blockedFrom, task.Version)
	if err != nil {
		return nil, err
	}

	eventType := bus.EventTaskUpdated
	if newStatus == store.StatusDone {
		eventType = bus.EventTaskCompleted
	}
	s.bus.Publish(eventType, actorID, bus.TaskPayload{
		TaskID:    updated.TaskID,
		Title:     updated.Title,
		Status:    updated.Status,
		OldStatus: task.Status,
		Assignees: updated.Assignees,
	})
	return updated, nil
}

// validateEdge returns the blocked_from value to persist, or
// ErrInvalidTransition if the edge is not in the allowed set.
func validateEdge(task *store.TaskRecord, newStatus string) (string, error) {
	switch {
	case task.Status == store.StatusDone:
		// Terminal: no edge leaves done.
	case newStatus == store.StatusBlocked:
		return task.Status, nil
	case task.Status == store.StatusBlocked:
		if newStatus == task.BlockedFrom {
			return "", nil
		}
	case forward[task.Status] == newStatus:
		return "", nil
	}
	return "", fmt.Errorf("%w: %s → %s", ErrInvalidTransition, task.Status, newStatus)
}

// Assign merges assignees into the task and, when the task is still in inbox,
// advances it to assigned. Publishes one task-updated event.
func (s *Service) Assign(taskID string, assignees []string, actorID string) (*store.TaskRecord, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	merged := task.Assignees
	for _, a := range assignees {
		if a != "" && !containsID(merged, a) {
			merged = append(merged, a)
		}
	}

	// One guarded write covers both the assignee merge and the inbox bump, so
	// a lost version race commits neither and the single event stays accurate.
	newStatus := task.Status
	if task.Status == store.StatusInbox {
		newStatus = store.StatusAssigned
	}
	updated, err := s.store.SetTaskAssignees(taskID, merged, newStatus, task.Version)
	if err != nil {
		return nil, err
	}

	s.bus.Publish(bus.EventTaskUpdated, actorID, bus.TaskPayload{
		TaskID:    updated.TaskID,
		Title:     updated.Title,
		Status:    updated.Status,
		OldStatus: task.Status,
		Assignees: updated.Assignees,
	})
	return updated, nil
}

// Comment posts an immutable message on a task thread. Mention tokens are
// parsed and resolved to actor IDs at write time; unknown names are dropped
// with a log line rather than failing the post.
func (s *Service) Comment(taskID, authorID, body string, attachments []string) (*store.MessageRecord, error) {
	names, broadcast := ParseMentions(body)

	var mentionIDs []string
	for _, name := range names {
		actor, err := s.store.GetActorByName(name)
		if err != nil {
			slog.Debug("Mention did not resolve to an actor", "name", name, "task", taskID)
			continue
		}
		mentionIDs = append(mentionIDs, actor.ActorID)
	}

	msg, err := s.store.AddMessage(&store.MessageRecord{
		TaskID:      taskID,
		AuthorID:    authorID,
		Body:        body,
		Attachments: attachments,
		Mentions:    mentionIDs,
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(bus.EventMessagePosted, authorID, bus.MessagePayload{
		TaskID:    msg.TaskID,
		MessageID: msg.MessageID,
		Seq:       msg.Seq,
		AuthorID:  msg.AuthorID,
		Body:      msg.Body,
		Mentions:  msg.Mentions,
		Broadcast: broadcast,
	})
	return msg, nil
}

func containsID(vals []string, want string) bool {
	for _, v := range vals {
		if v == want {
			return true
		}
	}
	return false
}
