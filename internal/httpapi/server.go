// Package httpapi exposes the coordination surface over local HTTP. It is a
// thin layer: every route delegates to the same services the CLI and gateway
// use, and errors map onto a small code envelope.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/CrewClaw/CrewClaw/internal/gateway"
	"github.com/CrewClaw/CrewClaw/internal/scheduler"
	"github.com/CrewClaw/CrewClaw/internal/store"
	"github.com/CrewClaw/CrewClaw/internal/tasks"
)

// Server wires the HTTP routes to the underlying services. Scheduler may be
// nil when wake scheduling is disabled; its routes then answer 503.
type Server struct {
	store   *store.Store
	tasks   *tasks.Service
	gateway *gateway.Gateway
	sched   *scheduler.Scheduler
}

// New creates a Server.
func New(s *store.Store, ts *tasks.Service, gw *gateway.Gateway, sched *scheduler.Scheduler) *Server {
	return &Server{store: s, tasks: ts, gateway: gw, sched: sched}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", s.listTasks)
		r.Post("/tasks", s.createTask)
		r.Get("/tasks/{taskID}", s.getTask)
		r.Post("/tasks/{taskID}/transition", s.transitionTask)
		r.Post("/tasks/{taskID}/assign", s.assignTask)
		r.Get("/tasks/{taskID}/comments", s.listComments)
		r.Post("/tasks/{taskID}/comments", s.postComment)

		r.Get("/activity", s.listActivity)

		r.Get("/agents", s.listAgents)
		r.Post("/agents", s.createAgent)
		r.Get("/agents/{actorID}/notifications", s.listNotifications)

		r.Post("/messages", s.postMessage)

		r.Get("/schedule", s.listJobs)
		r.Post("/schedule", s.addJob)
		r.Delete("/schedule/{jobID}", s.removeJob)
	})
	return r
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

// writeMapped translates service sentinels into HTTP statuses.
func writeMapped(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, store.ErrVersionConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, tasks.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, "invalid_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListTasks(store.TaskFilter{
		Status:   r.URL.Query().Get("status"),
		Assignee: r.URL.Query().Get("assignee"),
		Limit:    queryInt(r, "limit"),
		Offset:   queryInt(r, "offset"),
	})
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Assignees   []string `json:"assignees"`
		ActorID     string   `json:"actor_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Title == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "title is required")
		return
	}
	task, err := s.tasks.Create(body.Title, body.Description, body.Assignees, body.ActorID)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(chi.URLParam(r, "taskID"))
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) transitionTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status  string `json:"status"`
		ActorID string `json:"actor_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Status == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "status is required")
		return
	}
	task, err := s.tasks.Transition(chi.URLParam(r, "taskID"), body.Status, body.ActorID)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) assignTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Assignees []string `json:"assignees"`
		ActorID   string   `json:"actor_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	task, err := s.tasks.Assign(chi.URLParam(r, "taskID"), body.Assignees, body.ActorID)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.ListMessages(chi.URLParam(r, "taskID"), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) postComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AuthorID string `json:"author_id"`
		Body     string `json:"body"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Body == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "body is required")
		return
	}
	msg, err := s.tasks.Comment(chi.URLParam(r, "taskID"), body.AuthorID, body.Body, nil)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) listActivity(w http.ResponseWriter, r *http.Request) {
	acts, err := s.store.ListActivities(store.ActivityFilter{
		Type:    r.URL.Query().Get("type"),
		ActorID: r.URL.Query().Get("actor"),
		TaskID:  r.URL.Query().Get("task"),
		Limit:   queryInt(r, "limit"),
		Offset:  queryInt(r, "offset"),
	})
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acts)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	actors, err := s.store.ListActors(r.URL.Query().Get("archived") == "true")
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actors)
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		RouteKey string `json:"route_key"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}
	actor, err := s.store.CreateActor(body.Name, body.RouteKey)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, actor)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListNotifications(chi.URLParam(r, "actorID"), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActorID     string `json:"actor_id"`
		SessionKind string `json:"session_kind"`
		Text        string `json:"text"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ActorID == "" || body.Text == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "actor_id and text are required")
		return
	}
	res, err := s.gateway.Handle(r.Context(), gateway.Envelope{
		ActorID:     body.ActorID,
		SessionKind: body.SessionKind,
		Text:        body.Text,
	})
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_disabled", "wake scheduling is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.sched.Jobs())
}

func (s *Server) addJob(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_disabled", "wake scheduling is disabled")
		return
	}
	var body struct {
		Name        string `json:"name"`
		Cadence     string `json:"cadence"`
		ActorID     string `json:"actor_id"`
		WakeMessage string `json:"wake_message"`
		Isolated    bool   `json:"isolated"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Name == "" || body.Cadence == "" || body.ActorID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name, cadence, and actor_id are required")
		return
	}
	rec, err := s.sched.Add(body.Name, body.Cadence, body.ActorID, body.WakeMessage, body.Isolated)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) removeJob(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_disabled", "wake scheduling is disabled")
		return
	}
	if err := s.sched.Remove(chi.URLParam(r, "jobID")); err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
