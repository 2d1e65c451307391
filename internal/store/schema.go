package store

import "time"

// ActorRecord identifies one independently scheduled agent session.
// Actors are never deleted; retirement sets the archived flag.
type ActorRecord struct {
	ActorID     string    `json:"actor_id"`
	Name        string    `json:"name"`
	RouteKey    string    `json:"route_key"` // routing key targeting exactly this session
	State       string    `json:"state"`     // idle | active | blocked | asleep
	CurrentTask string    `json:"current_task,omitempty"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Actor lifecycle states.
const (
	ActorIdle    = "idle"
	ActorActive  = "active"
	ActorBlocked = "blocked"
	ActorAsleep  = "asleep"
)

// TaskRecord is a unit of coordinated work. Version is the optimistic
// concurrency token: every status or assignee write carries the version it
// read and the store rejects stale writes.
type TaskRecord struct {
	ID          int64     `json:"id"`
	TaskID      string    `json:"task_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	BlockedFrom string    `json:"blocked_from,omitempty"` // status to return to after blocked
	Assignees   []string  `json:"assignees"`
	Docs        []string  `json:"docs,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Task statuses. Blocked is reachable from any non-terminal status and
// returns to the status it was entered from. Done is terminal.
const (
	StatusInbox      = "inbox"
	StatusAssigned   = "assigned"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusDone       = "done"
	StatusBlocked    = "blocked"
)

// MessageRecord is one immutable comment on a task. Seq is assigned at write
// time per task, so clock skew across actors cannot reorder a thread.
type MessageRecord struct {
	ID          int64     `json:"id"`
	MessageID   string    `json:"message_id"`
	TaskID      string    `json:"task_id"`
	AuthorID    string    `json:"author_id"`
	Seq         int64     `json:"seq"`
	Body        string    `json:"body"`
	Attachments []string  `json:"attachments,omitempty"`
	Mentions    []string  `json:"mentions,omitempty"` // resolved actor IDs
	CreatedAt   time.Time `json:"created_at"`
}

// ActivityRecord is one immutable audit fact. The activity log is append-only
// and is the single source of truth for "what happened".
type ActivityRecord struct {
	ID         int64     `json:"id"`
	ActivityID string    `json:"activity_id"`
	Type       string    `json:"type"`
	ActorID    string    `json:"actor_id"`
	Summary    string    `json:"summary"`
	TaskID     string    `json:"task_id,omitempty"`
	RefKind    string    `json:"ref_kind,omitempty"` // task | message | job
	RefID      string    `json:"ref_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ActivityFilter holds query parameters for the activity feed.
type ActivityFilter struct {
	Type    string
	ActorID string
	TaskID  string
	Limit   int
	Offset  int
}

// NotificationRecord is a directed, best-effort fact for one actor. The
// delivery loop flips delivered false→true exactly once; nothing moves it
// backward.
type NotificationRecord struct {
	ID             int64      `json:"id"`
	NotificationID string     `json:"notification_id"`
	ActorID        string     `json:"actor_id"`
	Content        string     `json:"content"`
	RefKind        string     `json:"ref_kind,omitempty"`
	RefID          string     `json:"ref_id,omitempty"`
	MessageID      string     `json:"message_id,omitempty"` // dedupe key per distinct message
	Delivered      bool       `json:"delivered"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// JobRecord is persisted scheduler state. NextFireAt is recomputed from the
// cadence on restart; missed ticks are never backfilled.
type JobRecord struct {
	ID          int64      `json:"id"`
	JobID       string     `json:"job_id"`
	Name        string     `json:"name"`
	Cadence     string     `json:"cadence"` // cron expr, @every <dur>, or @at <rfc3339>
	ActorID     string     `json:"actor_id"`
	WakeMessage string     `json:"wake_message"`
	Isolated    bool       `json:"isolated"` // wake into a throwaway session instead of the actor's persistent one
	NextFireAt  *time.Time `json:"next_fire_at,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastStatus  string     `json:"last_status,omitempty"`
	RunCount    int        `json:"run_count"`
	Removed     bool       `json:"removed"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskFilter holds query parameters for task listing.
type TaskFilter struct {
	Status   string
	Assignee string
	Limit    int
	Offset   int
}

const schema = `
CREATE TABLE IF NOT EXISTS actors (
	actor_id TEXT PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	route_key TEXT UNIQUE NOT NULL,
	state TEXT NOT NULL DEFAULT 'idle',
	current_task TEXT NOT NULL DEFAULT '',
	archived INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT UNIQUE NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'inbox',
	blocked_from TEXT NOT NULL DEFAULT '',
	assignees TEXT NOT NULL DEFAULT '[]',
	docs TEXT NOT NULL DEFAULT '[]',
	version INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT UNIQUE NOT NULL,
	task_id TEXT NOT NULL,
	author_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	attachments TEXT NOT NULL DEFAULT '[]',
	mentions TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(task_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_messages_task ON messages(task_id);
CREATE INDEX IF NOT EXISTS idx_messages_author ON messages(author_id);

CREATE TABLE IF NOT EXISTS activities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	activity_id TEXT UNIQUE NOT NULL,
	type TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	task_id TEXT NOT NULL DEFAULT '',
	ref_kind TEXT NOT NULL DEFAULT '',
	ref_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(type);
CREATE INDEX IF NOT EXISTS idx_activities_actor ON activities(actor_id);
CREATE INDEX IF NOT EXISTS idx_activities_task ON activities(task_id);

CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	notification_id TEXT UNIQUE NOT NULL,
	actor_id TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	ref_kind TEXT NOT NULL DEFAULT '',
	ref_id TEXT NOT NULL DEFAULT '',
	message_id TEXT NOT NULL DEFAULT '',
	delivered INTEGER NOT NULL DEFAULT 0,
	delivered_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_notifications_pending ON notifications(delivered, actor_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_dedupe
	ON notifications(actor_id, message_id) WHERE message_id != '';

CREATE TABLE IF NOT EXISTS scheduled_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL,
	cadence TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	wake_message TEXT NOT NULL DEFAULT '',
	isolated INTEGER NOT NULL DEFAULT 0,
	next_fire_at DATETIME,
	last_run_at DATETIME,
	last_status TEXT NOT NULL DEFAULT '',
	run_count INTEGER NOT NULL DEFAULT 0,
	removed INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_removed ON scheduled_jobs(removed);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at DATETIME
);
`
