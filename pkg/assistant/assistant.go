// Package assistant classifies chat messages and dispatches them to task
// storage or the scheduling agent.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bttk/calendar-assistant/pkg/agent"
	"github.com/bttk/calendar-assistant/pkg/model"
	"github.com/bttk/calendar-assistant/pkg/store"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var (
	// ErrLoadContext is returned when the user context cannot be read.
	ErrLoadContext = errors.New("unable to load user context")
	// ErrToolbox is returned when the user's tools cannot be built.
	ErrToolbox = errors.New("unable to build tools")
)

// Task run outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Store is the persistence the assistant needs.
type Store interface {
	GetUserContext(ctx context.Context, userID string) (model.UserContext, error)
	GetChatMessages(ctx context.Context, userID string, limit int) ([]model.ChatMessage, error)
	AddChatMessage(ctx context.Context, userID string, role model.ChatRole, message string) (model.ChatMessage, error)
	AddTask(ctx context.Context, userID string, task model.Task) (model.StoredTask, error)
	GetTasks(ctx context.Context, userID string) ([]model.StoredTask, error)
	GetTasksByID(ctx context.Context, userID string, ids []int64) ([]model.StoredTask, error)
	MarkTasksRan(ctx context.Context, ids []int64) error
	AddTaskLog(ctx context.Context, taskID int64, logContext map[string]any) error
	DueTasks(ctx context.Context, now time.Time) ([]model.StoredTask, error)
}

// Toolbox builds the tools of one user.
type Toolbox interface {
	Build(ctx context.Context, userID string) ([]server.ServerTool, error)
}

// Runner runs the scheduling agent.
type Runner interface {
	Run(ctx context.Context, tools []server.ServerTool, userMessage, contextInjection string) (agent.Result, error)
}

// Classifier assigns an intent to a chat message.
type Classifier interface {
	Classify(ctx context.Context, message, userContext string) (model.AgentResponse, error)
}

// Observer receives classification and task run events.
type Observer interface {
	ObserveClassification(t model.ChatTaskType)
	ObserveTaskRun(outcome string, tasks int)
}

type nopObserver struct{}

func (nopObserver) ObserveClassification(model.ChatTaskType) {}
func (nopObserver) ObserveTaskRun(string, int)               {}

// Assistant ties the store, the classifier and the agent together.
type Assistant struct {
	store      Store
	tools      Toolbox
	classifier Classifier
	agent      Runner
	observer   Observer
	logger     zerolog.Logger
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithObserver reports events to o.
func WithObserver(o Observer) Option {
	return func(a *Assistant) {
		a.observer = o
	}
}

// New returns an Assistant.
func New(s Store, tools Toolbox, classifier Classifier, runner Runner, logger zerolog.Logger, opts ...Option) *Assistant {
	a := &Assistant{
		store:      s,
		tools:      tools,
		classifier: classifier,
		agent:      runner,
		observer:   nopObserver{},
		logger:     logger.With().Str("component", "assistant").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Chat classifies message and handles it according to its intent. The user
// message and the reply are appended to the chat history.
func (a *Assistant) Chat(ctx context.Context, userID, message string) (model.AgentResponse, error) {
	logger := a.logger.With().Str("user_id", userID).Logger()

	uc, history, err := a.loadContext(ctx, userID)
	if err != nil {
		return model.AgentResponse{}, err
	}
	injection := ContextInjection(uc, history)

	resp, err := a.classifier.Classify(ctx, message, injection)
	if err != nil {
		return model.AgentResponse{}, err
	}
	a.observer.ObserveClassification(resp.Type)
	logger.Info().Str("type", string(resp.Type)).Int("tasks", len(resp.Tasks)).Msg("message classified")

	switch resp.Type {
	case model.ChatCreateTask:
		for _, t := range resp.Tasks {
			if _, err := a.CreateTask(ctx, userID, t); err != nil {
				return model.AgentResponse{}, err
			}
		}

	case model.ChatRunTask:
		tasks, err := a.reconcile(ctx, userID, resp.Tasks)
		if err != nil {
			return model.AgentResponse{}, err
		}
		if len(tasks) > 0 {
			res, err := a.runTasks(ctx, userID, tasks, uc, history)
			if err != nil {
				return model.AgentResponse{}, err
			}
			resp.Text = res.Text
		}

	case model.ChatReshuffleCalendar:
		tools, err := a.buildTools(ctx, userID)
		if err != nil {
			return model.AgentResponse{}, err
		}
		res, err := a.agent.Run(ctx, tools, message, injection)
		if err != nil {
			return model.AgentResponse{}, err
		}
		resp.Text = res.Text

	case model.ChatNoTask:
	}

	a.remember(ctx, logger, userID, model.RoleUser, message)
	a.remember(ctx, logger, userID, model.RoleAssistant, resp.Text)
	return resp, nil
}

// CreateTask validates and stores a task. The store stamps it as ran now,
// so the first scheduled run happens one period later.
func (a *Assistant) CreateTask(ctx context.Context, userID string, task model.Task) (model.StoredTask, error) {
	if err := task.Validate(); err != nil {
		return model.StoredTask{}, err
	}
	task.Context.Priority = strings.ToLower(task.Context.PriorityOrDefault())
	stored, err := a.store.AddTask(ctx, userID, task)
	if err != nil {
		return model.StoredTask{}, err
	}
	a.logger.Info().Str("user_id", userID).Int64("task_id", stored.ID).Str("title", stored.Title).Msg("task created")
	return stored, nil
}

// RunTasks runs the agent over tasks of one user. Stored tasks (non-zero ID)
// get a task log entry and are marked as ran.
func (a *Assistant) RunTasks(ctx context.Context, userID string, tasks []model.StoredTask) (agent.Result, error) {
	uc, history, err := a.loadContext(ctx, userID)
	if err != nil {
		return agent.Result{}, err
	}
	return a.runTasks(ctx, userID, tasks, uc, history)
}

func (a *Assistant) runTasks(ctx context.Context, userID string, tasks []model.StoredTask, uc model.UserContext, history []model.ChatMessage) (agent.Result, error) {
	logger := a.logger.With().Str("user_id", userID).Int("tasks", len(tasks)).Logger()

	res, err := a.execute(ctx, userID, tasks, uc, history)
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	a.observer.ObserveTaskRun(outcome, len(tasks))

	ids := lo.FilterMap(tasks, func(t model.StoredTask, _ int) (int64, bool) {
		return t.ID, t.ID != 0
	})
	for _, id := range ids {
		if logErr := a.store.AddTaskLog(ctx, id, taskLog(res, err)); logErr != nil {
			logger.Error().Err(logErr).Int64("task_id", id).Msg("unable to write task log")
		}
	}
	// Failed runs are stamped as well so a broken task waits a full period.
	if markErr := a.store.MarkTasksRan(ctx, ids); markErr != nil {
		logger.Error().Err(markErr).Msg("unable to mark tasks ran")
		if err == nil {
			err = markErr
		}
	}

	if err != nil {
		logger.Error().Err(err).Msg("task run failed")
		return res, err
	}
	logger.Info().Int("steps", res.Steps).Int("tool_calls", len(res.ToolCalls)).Msg("tasks ran")
	return res, nil
}

func (a *Assistant) execute(ctx context.Context, userID string, tasks []model.StoredTask, uc model.UserContext, history []model.ChatMessage) (agent.Result, error) {
	tools, err := a.buildTools(ctx, userID)
	if err != nil {
		return agent.Result{}, err
	}
	return a.agent.Run(ctx, tools, TaskPrompt(tasks), ContextInjection(uc, history))
}

func taskLog(res agent.Result, err error) map[string]any {
	if err != nil {
		return map[string]any{"status": OutcomeError, "error": err.Error()}
	}
	return map[string]any{
		"status":     OutcomeOK,
		"text":       res.Text,
		"steps":      res.Steps,
		"tool_calls": lo.Map(res.ToolCalls, func(c agent.ToolCall, _ int) string { return c.Name }),
	}
}

// reconcile matches classified tasks with the user's stored tasks by title.
// Without classified tasks every stored task is returned. Classified tasks
// with no stored match are run without being persisted.
func (a *Assistant) reconcile(ctx context.Context, userID string, classified []model.Task) ([]model.StoredTask, error) {
	stored, err := a.store.GetTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(classified) == 0 {
		return stored, nil
	}

	byTitle := lo.KeyBy(stored, func(t model.StoredTask) string {
		return strings.ToLower(strings.TrimSpace(t.Title))
	})
	return lo.Map(classified, func(t model.Task, _ int) model.StoredTask {
		if s, ok := byTitle[strings.ToLower(strings.TrimSpace(t.Title))]; ok {
			return s
		}
		period, _ := model.ParsePeriod(t.Period)
		return model.StoredTask{
			UserID:  userID,
			Title:   t.Title,
			Type:    t.Type,
			Context: t.Context,
			Period:  period,
		}
	}), nil
}

func (a *Assistant) loadContext(ctx context.Context, userID string) (model.UserContext, []model.ChatMessage, error) {
	uc, err := a.store.GetUserContext(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		uc = model.UserContext{Context: map[string]any{}, Preferences: []string{}}
	} else if err != nil {
		return model.UserContext{}, nil, fmt.Errorf("%w: %w", ErrLoadContext, err)
	}
	history, err := a.store.GetChatMessages(ctx, userID, HistoryInPrompt)
	if err != nil {
		return model.UserContext{}, nil, fmt.Errorf("%w: %w", ErrLoadContext, err)
	}
	return uc, history, nil
}

func (a *Assistant) buildTools(ctx context.Context, userID string) ([]server.ServerTool, error) {
	tools, err := a.tools.Build(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrToolbox, err)
	}
	return tools, nil
}

func (a *Assistant) remember(ctx context.Context, logger zerolog.Logger, userID string, role model.ChatRole, message string) {
	if message == "" {
		return
	}
	if _, err := a.store.AddChatMessage(ctx, userID, role, message); err != nil {
		logger.Error().Err(err).Str("role", string(role)).Msg("unable to store chat message")
	}
}
