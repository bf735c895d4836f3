package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bttk/calendar-assistant/pkg/model"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres"), zerolog.Nop()), mock
}

var taskCols = []string{"id", "user_id", "title", "type", "context", "period_seconds", "last_run_ts"}

func TestAddTask(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users \(id\) VALUES \(\$1\) ON CONFLICT`).
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO tasks`).
		WithArgs("user-1", "Inbox", "EMAIL", `{"prompt":"triage","priority":"high"}`, 86400.0).
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow(11, "user-1", "Inbox", "EMAIL", []byte(`{"prompt":"triage","priority":"high"}`), 86400, now))
	mock.ExpectCommit()

	task, err := s.AddTask(context.Background(), "user-1", model.Task{
		Context: model.Context{Prompt: "triage", Priority: "high"},
		Period:  "1 day",
		Type:    model.TaskEmail,
		Title:   "Inbox",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), task.ID)
	assert.Equal(t, 24*time.Hour, task.Period)
	assert.Equal(t, "triage", task.Context.Prompt)
	assert.Equal(t, now, task.LastRunAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddTask_InvalidPeriod(t *testing.T) {
	s, mock := newMockStore(t)
	_, err := s.AddTask(context.Background(), "user-1", model.Task{Period: "later"})
	assert.ErrorIs(t, err, model.ErrInvalidPeriod)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddTask_RollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO tasks`).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := s.AddTask(context.Background(), "user-1", model.Task{Period: "1 hour", Type: model.TaskTodo, Title: "x"})
	assert.ErrorIs(t, err, ErrQuery)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTasks(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM tasks WHERE user_id = \$1 ORDER BY id`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow(1, "user-1", "A", "TODO", []byte(`{"prompt":"a"}`), 3600, now).
			AddRow(2, "user-1", "B", "WEB", []byte(`{"prompt":"b","url":"https://go.dev"}`), 604800, now))

	tasks, err := s.GetTasks(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, model.TaskWeb, tasks[1].Type)
	assert.Equal(t, "https://go.dev", tasks[1].Context.URL)
	assert.Equal(t, 7*24*time.Hour, tasks[1].Period)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTask_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM tasks WHERE id = \$1 AND user_id = \$2`).
		WithArgs(int64(5), "user-2").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetTask(context.Background(), "user-2", 5)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTask(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM tasks WHERE id = \$1 AND user_id = \$2`).
		WithArgs(int64(5), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM tasks`).
		WithArgs(int64(6), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.DeleteTask(context.Background(), "user-1", 5))
	assert.ErrorIs(t, s.DeleteTask(context.Background(), "user-1", 6), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTask_PeriodOnly(t *testing.T) {
	s, mock := newMockStore(t)
	period := 2 * time.Hour
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE tasks`).
		WithArgs(int64(3), "user-1", nil, 7200.0).
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow(3, "user-1", "A", "TODO", []byte(`{"prompt":"a"}`), 7200, now))

	task, err := s.UpdateTask(context.Background(), "user-1", 3, TaskUpdate{Period: &period})
	require.NoError(t, err)
	assert.Equal(t, period, task.Period)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTasksRan(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE tasks SET last_run_ts = now\(\) WHERE id = ANY\(\$1\)`).
		WithArgs("{1,2,3}").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, s.MarkTasksRan(context.Background(), []int64{1, 2, 3}))
	require.NoError(t, s.MarkTasksRan(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDueTasks(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`WHERE last_run_ts \+ period <= \$1`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow(1, "a", "A", "TODO", []byte(`{}`), 60, now.Add(-time.Hour)).
			AddRow(2, "b", "B", "EMAIL", []byte(`{}`), 60, now.Add(-time.Hour)))

	tasks, err := s.DueTasks(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "b", tasks[1].UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserContext(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT context, preferences, calendar_url FROM users WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"context", "preferences", "calendar_url"}).
			AddRow([]byte(`{"timezone":"Europe/Warsaw"}`), "{mornings,\"no meetings friday\"}", "https://cal"))

	uc, err := s.GetUserContext(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Warsaw", uc.Context["timezone"])
	assert.Equal(t, []string{"mornings", "no meetings friday"}, uc.Preferences)
	assert.Equal(t, "https://cal", uc.CalendarURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserContext_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM users`).WillReturnError(sql.ErrNoRows)

	_, err := s.GetUserContext(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIsOnboarded(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.IsOnboarded(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpsertUser(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`(?s)INSERT INTO users .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("user-1", `{"role":"student"}`, "{\"deep work\"}", "https://cal", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertUser(context.Background(), "user-1", model.UserOnboarding{
		Context:     map[string]any{"role": "student"},
		Preferences: []string{"deep work"},
		CalendarURL: "https://cal",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGoogleToken(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT google_token FROM users`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"google_token"}).
			AddRow([]byte(`{"access_token":"at","refresh_token":"rt","expiry_date":1735787045000}`)))
	mock.ExpectQuery(`SELECT google_token FROM users`).
		WithArgs("user-2").
		WillReturnRows(sqlmock.NewRows([]string{"google_token"}).AddRow(nil))
	mock.ExpectQuery(`SELECT google_token FROM users`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	tok, err := s.GetGoogleToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.Equal(t, int64(1735787045000), tok.ExpiryDate.UnixMilli())

	_, err = s.GetGoogleToken(context.Background(), "user-2")
	assert.ErrorIs(t, err, ErrNoGoogleToken)
	_, err = s.GetGoogleToken(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNoGoogleToken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChatMessages(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO compact_chat`).
		WithArgs("user-1", `{"role":"user","message":"plan my week"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "context", "timestamp"}).
			AddRow(1, []byte(`{"role":"user","message":"plan my week"}`), ts))
	mock.ExpectCommit()
	mock.ExpectQuery(`FROM compact_chat`).
		WithArgs("user-1", DefaultChatLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "context", "timestamp"}).
			AddRow(2, []byte(`{"role":"assistant","message":"done"}`), ts.Add(time.Second)).
			AddRow(1, []byte(`{"message":"plan my week"}`), ts))

	msg, err := s.AddChatMessage(context.Background(), "user-1", model.RoleUser, "plan my week")
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.ID)

	msgs, err := s.GetChatMessages(context.Background(), "user-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleAssistant, msgs[0].Role)
	assert.Equal(t, model.RoleUser, msgs[1].Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddTaskLog(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO task_logs`).
		WithArgs(int64(4), `{"status":"ok"}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.AddTaskLog(context.Background(), 4, map[string]any{"status": "ok"}))
	require.NoError(t, mock.ExpectationsWereMet())
}
