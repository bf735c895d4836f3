package assistant

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bttk/calendar-assistant/pkg/agent"
	"github.com/bttk/calendar-assistant/pkg/model"
	"github.com/bttk/calendar-assistant/pkg/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	contexts map[string]model.UserContext
	tasks    []model.StoredTask
	chats    map[string][]model.ChatMessage
	logs     map[int64][]map[string]any
	ran      []int64
	nextID   int64
	due      []model.StoredTask
}

func newMemStore() *memStore {
	return &memStore{
		contexts: map[string]model.UserContext{},
		chats:    map[string][]model.ChatMessage{},
		logs:     map[int64][]map[string]any{},
	}
}

func (m *memStore) GetUserContext(_ context.Context, userID string) (model.UserContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uc, ok := m.contexts[userID]
	if !ok {
		return model.UserContext{}, store.ErrNotFound
	}
	return uc, nil
}

func (m *memStore) GetChatMessages(_ context.Context, userID string, limit int) ([]model.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := slices.Clone(m.chats[userID])
	slices.Reverse(msgs)
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (m *memStore) AddChatMessage(_ context.Context, userID string, role model.ChatRole, message string) (model.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := model.ChatMessage{ID: int64(len(m.chats[userID]) + 1), Role: role, Message: message}
	m.chats[userID] = append(m.chats[userID], msg)
	return msg, nil
}

func (m *memStore) AddTask(_ context.Context, userID string, task model.Task) (model.StoredTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	period, err := model.ParsePeriod(task.Period)
	if err != nil {
		return model.StoredTask{}, err
	}
	m.nextID++
	st := model.StoredTask{ID: m.nextID, UserID: userID, Title: task.Title, Type: task.Type, Context: task.Context, Period: period}
	m.tasks = append(m.tasks, st)
	return st, nil
}

func (m *memStore) GetTasks(_ context.Context, userID string) ([]model.StoredTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StoredTask
	for _, t := range m.tasks {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) GetTasksByID(_ context.Context, userID string, ids []int64) ([]model.StoredTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StoredTask
	for _, t := range m.tasks {
		if t.UserID == userID && slices.Contains(ids, t.ID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) MarkTasksRan(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ran = append(m.ran, ids...)
	return nil
}

func (m *memStore) AddTaskLog(_ context.Context, taskID int64, logContext map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[taskID] = append(m.logs[taskID], logContext)
	return nil
}

func (m *memStore) DueTasks(context.Context, time.Time) ([]model.StoredTask, error) {
	return m.due, nil
}

type staticToolbox struct{ err error }

func (s staticToolbox) Build(context.Context, string) ([]server.ServerTool, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []server.ServerTool{{Tool: mcp.NewTool("get_all_calendar_events")}}, nil
}

type MockClassifier struct{ mock.Mock }

func (m *MockClassifier) Classify(ctx context.Context, message, userContext string) (model.AgentResponse, error) {
	args := m.Called(ctx, message, userContext)
	return args.Get(0).(model.AgentResponse), args.Error(1)
}

type MockRunner struct{ mock.Mock }

func (m *MockRunner) Run(ctx context.Context, tools []server.ServerTool, userMessage, contextInjection string) (agent.Result, error) {
	args := m.Called(ctx, tools, userMessage, contextInjection)
	return args.Get(0).(agent.Result), args.Error(1)
}

type countingObserver struct {
	mu       sync.Mutex
	types    []model.ChatTaskType
	outcomes []string
}

func (c *countingObserver) ObserveClassification(t model.ChatTaskType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types = append(c.types, t)
}

func (c *countingObserver) ObserveTaskRun(outcome string, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcome)
}

func newAssistant(s *memStore, c *MockClassifier, r *MockRunner, obs Observer) *Assistant {
	opts := []Option{}
	if obs != nil {
		opts = append(opts, WithObserver(obs))
	}
	return New(s, staticToolbox{}, c, r, zerolog.Nop(), opts...)
}

func inboxTask() model.Task {
	return model.Task{
		Title:   "Inbox",
		Type:    model.TaskEmail,
		Period:  "1 day",
		Context: model.Context{Prompt: "triage mail"},
	}
}

func TestChat_CreateTask(t *testing.T) {
	s := newMemStore()
	c := &MockClassifier{}
	r := &MockRunner{}
	obs := &countingObserver{}
	c.On("Classify", mock.Anything, "check mail daily", mock.Anything).Return(model.AgentResponse{
		Type:  model.ChatCreateTask,
		Text:  "I'll check your mail daily.",
		Tasks: []model.Task{inboxTask()},
	}, nil)

	resp, err := newAssistant(s, c, r, obs).Chat(context.Background(), "u1", "check mail daily")
	require.NoError(t, err)

	assert.Equal(t, model.ChatCreateTask, resp.Type)
	require.Len(t, s.tasks, 1)
	assert.Equal(t, "u1", s.tasks[0].UserID)
	assert.Equal(t, "medium", s.tasks[0].Context.Priority)
	assert.Equal(t, 24*time.Hour, s.tasks[0].Period)
	assert.Equal(t, []model.ChatTaskType{model.ChatCreateTask}, obs.types)
	r.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	require.Len(t, s.chats["u1"], 2)
	assert.Equal(t, model.RoleUser, s.chats["u1"][0].Role)
	assert.Equal(t, "I'll check your mail daily.", s.chats["u1"][1].Message)
}

func TestChat_NoTask(t *testing.T) {
	s := newMemStore()
	s.contexts["u1"] = model.UserContext{Preferences: []string{"mornings"}}
	s.chats["u1"] = []model.ChatMessage{{Message: "earlier"}}
	c := &MockClassifier{}
	c.On("Classify", mock.Anything, "hello", mock.MatchedBy(func(ctx string) bool {
		return strings.Contains(ctx, "- Preferences: [mornings]") && strings.Contains(ctx, "- earlier")
	})).Return(model.AgentResponse{Type: model.ChatNoTask, Text: "Hi!"}, nil)

	resp, err := newAssistant(s, c, &MockRunner{}, nil).Chat(context.Background(), "u1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi!", resp.Text)
	c.AssertExpectations(t)
}

func TestChat_Reshuffle(t *testing.T) {
	s := newMemStore()
	c := &MockClassifier{}
	r := &MockRunner{}
	c.On("Classify", mock.Anything, "move my gym", mock.Anything).
		Return(model.AgentResponse{Type: model.ChatReshuffleCalendar, Text: "Sure."}, nil)
	r.On("Run", mock.Anything, mock.Anything, "move my gym", mock.Anything).
		Return(agent.Result{Text: "✅ Actions: Updated 1"}, nil)

	resp, err := newAssistant(s, c, r, nil).Chat(context.Background(), "u1", "move my gym")
	require.NoError(t, err)
	assert.Equal(t, "✅ Actions: Updated 1", resp.Text)
	assert.Equal(t, "✅ Actions: Updated 1", s.chats["u1"][1].Message)
	r.AssertExpectations(t)
}

func TestChat_RunTask_StoredTasks(t *testing.T) {
	s := newMemStore()
	stored, err := s.AddTask(context.Background(), "u1", inboxTask())
	require.NoError(t, err)
	_, err = s.AddTask(context.Background(), "u2", inboxTask())
	require.NoError(t, err)

	c := &MockClassifier{}
	r := &MockRunner{}
	obs := &countingObserver{}
	c.On("Classify", mock.Anything, "run my tasks", mock.Anything).
		Return(model.AgentResponse{Type: model.ChatRunTask, Text: "Running."}, nil)
	r.On("Run", mock.Anything, mock.Anything, mock.MatchedBy(func(msg string) bool {
		return strings.HasPrefix(msg, "Schedule these tasks:") &&
			strings.Contains(msg, "- Inbox: triage mail (Priority: medium)")
	}), mock.Anything).Return(agent.Result{
		Text:      "✅ Actions: Created 1",
		Steps:     2,
		ToolCalls: []agent.ToolCall{{Name: "create_calendar_event"}},
	}, nil)

	resp, err := newAssistant(s, c, r, obs).Chat(context.Background(), "u1", "run my tasks")
	require.NoError(t, err)

	assert.Equal(t, "✅ Actions: Created 1", resp.Text)
	assert.Equal(t, []int64{stored.ID}, s.ran)
	require.Len(t, s.logs[stored.ID], 1)
	assert.Equal(t, OutcomeOK, s.logs[stored.ID][0]["status"])
	assert.Equal(t, []string{"create_calendar_event"}, s.logs[stored.ID][0]["tool_calls"])
	assert.Equal(t, []string{OutcomeOK}, obs.outcomes)
}

func TestChat_RunTask_ClassifiedReconciled(t *testing.T) {
	s := newMemStore()
	stored, err := s.AddTask(context.Background(), "u1", inboxTask())
	require.NoError(t, err)

	c := &MockClassifier{}
	r := &MockRunner{}
	adhoc := model.Task{Title: "Read blog", Type: model.TaskWeb, Period: "1 week", Context: model.Context{Prompt: "skim", Priority: "low"}}
	c.On("Classify", mock.Anything, mock.Anything, mock.Anything).Return(model.AgentResponse{
		Type:  model.ChatRunTask,
		Tasks: []model.Task{{Title: " inbox ", Type: model.TaskEmail, Period: "1 day"}, adhoc},
	}, nil)
	r.On("Run", mock.Anything, mock.Anything, mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "- Inbox: triage mail") && strings.Contains(msg, "- Read blog: skim (Priority: low)")
	}), mock.Anything).Return(agent.Result{Text: "done"}, nil)

	_, err = newAssistant(s, c, r, nil).Chat(context.Background(), "u1", "run inbox and read blog")
	require.NoError(t, err)

	assert.Equal(t, []int64{stored.ID}, s.ran)
	assert.Len(t, s.logs, 1)
	r.AssertExpectations(t)
}

func TestChat_ClassifyError(t *testing.T) {
	s := newMemStore()
	c := &MockClassifier{}
	c.On("Classify", mock.Anything, mock.Anything, mock.Anything).
		Return(model.AgentResponse{}, agent.ErrClassify)

	_, err := newAssistant(s, c, &MockRunner{}, nil).Chat(context.Background(), "u1", "hi")
	require.ErrorIs(t, err, agent.ErrClassify)
	assert.Empty(t, s.chats["u1"])
}

func TestCreateTask_Invalid(t *testing.T) {
	s := newMemStore()
	_, err := newAssistant(s, &MockClassifier{}, &MockRunner{}, nil).
		CreateTask(context.Background(), "u1", model.Task{Title: "x", Type: "NOPE", Period: "1 day"})
	require.ErrorIs(t, err, model.ErrInvalidTask)
	assert.Empty(t, s.tasks)
}

func TestRunTasks_FailureIsLogged(t *testing.T) {
	s := newMemStore()
	stored, err := s.AddTask(context.Background(), "u1", inboxTask())
	require.NoError(t, err)
	r := &MockRunner{}
	obs := &countingObserver{}
	r.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(agent.Result{}, errors.New("provider down"))

	_, err = newAssistant(s, &MockClassifier{}, r, obs).RunTasks(context.Background(), "u1", []model.StoredTask{stored})
	require.ErrorContains(t, err, "provider down")

	require.Len(t, s.logs[stored.ID], 1)
	assert.Equal(t, OutcomeError, s.logs[stored.ID][0]["status"])
	assert.Equal(t, []int64{stored.ID}, s.ran)
	assert.Equal(t, []string{OutcomeError}, obs.outcomes)
}

func TestRunTasks_ToolboxError(t *testing.T) {
	s := newMemStore()
	a := New(s, staticToolbox{err: errors.New("db down")}, &MockClassifier{}, &MockRunner{}, zerolog.Nop())

	_, err := a.RunTasks(context.Background(), "u1", []model.StoredTask{{ID: 9, UserID: "u1", Title: "t"}})
	require.ErrorIs(t, err, ErrToolbox)
}

func TestRunScheduled_IsolatesUsers(t *testing.T) {
	s := newMemStore()
	r := &MockRunner{}
	r.On("Run", mock.Anything, mock.Anything, mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "- Bad:")
	}), mock.Anything).Return(agent.Result{}, errors.New("boom"))
	r.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(agent.Result{Text: "ok"}, nil)

	tasks := []model.StoredTask{
		{ID: 3, UserID: "bob", Title: "Bad"},
		{ID: 1, UserID: "alice", Title: "Good"},
		{ID: 2, UserID: "alice", Title: "Also good"},
	}
	runs := newAssistant(s, &MockClassifier{}, r, nil).RunScheduled(context.Background(), tasks)

	require.Len(t, runs, 2)
	assert.Equal(t, UserRun{UserID: "alice", TaskIDs: []int64{1, 2}, Text: "ok"}, runs[0])
	assert.Equal(t, "bob", runs[1].UserID)
	assert.Contains(t, runs[1].Error, "boom")
	assert.ElementsMatch(t, []int64{1, 2, 3}, s.ran)
}

func TestRunDue(t *testing.T) {
	s := newMemStore()
	r := &MockRunner{}

	runs, err := newAssistant(s, &MockClassifier{}, r, nil).RunDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, runs)
	r.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	s.due = []model.StoredTask{{ID: 5, UserID: "u1", Title: "Inbox"}}
	r.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(agent.Result{Text: "ok"}, nil)
	runs, err = newAssistant(s, &MockClassifier{}, r, nil).RunDue(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, []int64{5}, runs[0].TaskIDs)
}

func TestRunRefs_ScopedToOwner(t *testing.T) {
	s := newMemStore()
	own, err := s.AddTask(context.Background(), "u1", inboxTask())
	require.NoError(t, err)
	other, err := s.AddTask(context.Background(), "u2", inboxTask())
	require.NoError(t, err)
	r := &MockRunner{}
	r.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(agent.Result{Text: "ok"}, nil)

	runs, err := newAssistant(s, &MockClassifier{}, r, nil).RunRefs(context.Background(), []model.TaskRef{
		{ID: own.ID, UserID: "u1"},
		{ID: other.ID, UserID: "u1"},
		{ID: own.ID, UserID: "u1"},
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, []int64{own.ID}, runs[0].TaskIDs)
	assert.Equal(t, []int64{own.ID}, s.ran)
}

func TestContextInjection(t *testing.T) {
	history := []model.ChatMessage{
		{Message: "m6"}, {Message: "m5"}, {Message: "m4"}, {Message: "m3"}, {Message: "m2"}, {Message: "m1"},
	}
	got := ContextInjection(model.UserContext{
		Preferences: []string{"no meetings before 10", "gym at 6pm"},
		Context:     map[string]any{"job": "engineer"},
	}, history)

	want := "\nUser Context:\n" +
		"- Preferences: [no meetings before 10, gym at 6pm]\n" +
		"- Context: {\"job\":\"engineer\"}\n" +
		"\nRecent Chat History:\n" +
		"- m2\n- m3\n- m4\n- m5\n- m6\n"
	assert.Equal(t, want, got)
}

func TestTaskPrompt(t *testing.T) {
	got := TaskPrompt([]model.StoredTask{
		{Title: "Inbox", Context: model.Context{Prompt: "triage", Priority: "high"}},
		{Title: "Gym", Context: model.Context{Prompt: "book slot"}},
	})
	assert.Equal(t, "Schedule these tasks:\n\n"+
		"- Inbox: triage (Priority: high)\n"+
		"- Gym: book slot (Priority: medium)\n"+
		"\nReview calendar, find optimal time slots, and create the events.", got)
}
