// Package model holds the request, response and record types shared by the
// store, the assistant and the HTTP API.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidTask is returned when a task fails validation.
	ErrInvalidTask = errors.New("invalid task")
	// ErrInvalidToken is returned when a Google token cannot be interpreted.
	ErrInvalidToken = errors.New("invalid google token")
)

// ChatTaskType is the intent the classifier assigns to a chat message.
type ChatTaskType string

const (
	ChatCreateTask        ChatTaskType = "create_task"
	ChatRunTask           ChatTaskType = "run_task"
	ChatReshuffleCalendar ChatTaskType = "reshuffle_calendar"
	ChatNoTask            ChatTaskType = "no_task"
)

// ChatTaskTypes lists every intent in classifier order.
var ChatTaskTypes = []ChatTaskType{ChatCreateTask, ChatRunTask, ChatReshuffleCalendar, ChatNoTask}

// Valid reports whether t is a known intent.
func (t ChatTaskType) Valid() bool {
	for _, v := range ChatTaskTypes {
		if v == t {
			return true
		}
	}
	return false
}

// TaskType is the kind of work a stored task performs.
type TaskType string

const (
	TaskEmail TaskType = "EMAIL"
	TaskWeb   TaskType = "WEB"
	TaskTodo  TaskType = "TODO"
)

// TaskTypes lists every task type.
var TaskTypes = []TaskType{TaskEmail, TaskWeb, TaskTodo}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	for _, v := range TaskTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Priorities accepted in Context.Priority.
var Priorities = []string{"high", "medium", "low"}

// DefaultPriority is used when a task carries no priority.
const DefaultPriority = "medium"

// Context describes what a task does.
type Context struct {
	Prompt   string `json:"prompt"`
	Priority string `json:"priority"`
	URL      string `json:"url,omitempty"`
}

// PriorityOrDefault returns the priority, or DefaultPriority when unset.
func (c Context) PriorityOrDefault() string {
	if c.Priority == "" {
		return DefaultPriority
	}
	return c.Priority
}

// Task is a task as submitted by a user or produced by the classifier.
type Task struct {
	Context Context  `json:"context"`
	Period  string   `json:"period"`
	Type    TaskType `json:"type"`
	Title   string   `json:"title"`
}

// UnmarshalJSON accepts the task type under "type" or, as on responses,
// "type_".
func (t *Task) UnmarshalJSON(b []byte) error {
	type plain Task
	var v struct {
		plain
		AltType TaskType `json:"type_"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*t = Task(v.plain)
	if t.Type == "" {
		t.Type = v.AltType
	}
	return nil
}

// Validate checks the title, type, priority and period of the task.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTask, t.Type)
	}
	if p := t.Context.Priority; p != "" && !validPriority(p) {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidTask, p)
	}
	if _, err := ParsePeriod(t.Period); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	return nil
}

func validPriority(p string) bool {
	for _, v := range Priorities {
		if strings.EqualFold(v, p) {
			return true
		}
	}
	return false
}

// AgentResponse is the reply of the chat endpoint.
type AgentResponse struct {
	Type  ChatTaskType `json:"type_"`
	Text  string       `json:"text"`
	Tasks []Task       `json:"tasks"`
}

// StoredTask is a task row owned by a user.
type StoredTask struct {
	ID        int64
	UserID    string
	Title     string
	Type      TaskType
	Context   Context
	Period    time.Duration
	LastRunAt time.Time
}

// Task converts the stored row back into its submitted form.
func (t StoredTask) Task() Task {
	return Task{
		Context: t.Context,
		Period:  FormatPeriod(t.Period),
		Type:    t.Type,
		Title:   t.Title,
	}
}

// Response renders the row for the API.
func (t StoredTask) Response() TaskResponse {
	return TaskResponse{
		ID:        t.ID,
		Type:      t.Type,
		Title:     t.Title,
		Context:   t.Context,
		Period:    strconv.FormatInt(int64(t.Period/time.Second), 10),
		LastRunTS: t.LastRunAt.UTC().Format(time.RFC3339),
	}
}

// TaskResponse is a stored task as returned by the API. Period is in seconds.
type TaskResponse struct {
	ID        int64    `json:"id_"`
	Type      TaskType `json:"type_"`
	Title     string   `json:"title"`
	Context   Context  `json:"context"`
	Period    string   `json:"period"`
	LastRunTS string   `json:"last_run_ts"`
}

// UserContext is the per-user data fed into prompts.
type UserContext struct {
	Context     map[string]any `json:"context"`
	Preferences []string       `json:"preferences"`
	CalendarURL string         `json:"calendar_url"`
}

// UserOnboarding is the body of the onboarding endpoint.
type UserOnboarding struct {
	Context     map[string]any `json:"context"`
	Preferences []string       `json:"preferences"`
	CalendarURL string         `json:"calendar_url"`
	GoogleToken *UserToken     `json:"google_token,omitempty"`
}

// ChatRole is the author of a chat message.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is one entry of the compacted chat history.
type ChatMessage struct {
	ID        int64     `json:"id"`
	Role      ChatRole  `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskRef identifies a task handed to the cron endpoint.
type TaskRef struct {
	ID     int64  `json:"id"`
	UserID string `json:"user_id"`
}
