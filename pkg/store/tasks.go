package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bttk/calendar-assistant/pkg/model"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

const taskColumns = `id, user_id, title, type, context,
	EXTRACT(EPOCH FROM period)::bigint AS period_seconds, last_run_ts`

type taskRow struct {
	ID            int64                     `db:"id"`
	UserID        string                    `db:"user_id"`
	Title         string                    `db:"title"`
	Type          string                    `db:"type"`
	Context       jsonColumn[model.Context] `db:"context"`
	PeriodSeconds int64                     `db:"period_seconds"`
	LastRunTS     time.Time                 `db:"last_run_ts"`
}

func (r taskRow) toModel() model.StoredTask {
	return model.StoredTask{
		ID:        r.ID,
		UserID:    r.UserID,
		Title:     r.Title,
		Type:      model.TaskType(r.Type),
		Context:   r.Context.V,
		Period:    time.Duration(r.PeriodSeconds) * time.Second,
		LastRunAt: r.LastRunTS,
	}
}

func rowsToTasks(rows []taskRow) []model.StoredTask {
	return lo.Map(rows, func(r taskRow, _ int) model.StoredTask { return r.toModel() })
}

// AddTask stores a task for userID with last_run_ts set to now.
// The user row is created if it does not exist yet.
func (s *Store) AddTask(ctx context.Context, userID string, task model.Task) (model.StoredTask, error) {
	period, err := model.ParsePeriod(task.Period)
	if err != nil {
		return model.StoredTask{}, err
	}

	var row taskRow
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := ensureUser(ctx, tx, userID); err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &row, `
			INSERT INTO tasks (user_id, title, type, context, period, last_run_ts)
			VALUES ($1, $2, $3, $4, make_interval(secs => $5), now())
			RETURNING `+taskColumns,
			userID, task.Title, string(task.Type), jsonColumn[model.Context]{task.Context}, period.Seconds(),
		); err != nil {
			return fmt.Errorf("%w: %w", ErrQuery, err)
		}
		return nil
	})
	if err != nil {
		return model.StoredTask{}, err
	}
	s.logger.Debug().Str("user_id", userID).Int64("task_id", row.ID).Msg("task added")
	return row.toModel(), nil
}

// GetTasks returns every task owned by userID.
func (s *Store) GetTasks(ctx context.Context, userID string) ([]model.StoredTask, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 ORDER BY id`, userID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return rowsToTasks(rows), nil
}

// GetTask returns one task owned by userID.
func (s *Store) GetTask(ctx context.Context, userID string, id int64) (model.StoredTask, error) {
	var row taskRow
	if err := s.db.GetContext(ctx, &row,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`, id, userID); err != nil {
		return model.StoredTask{}, notFound(err)
	}
	return row.toModel(), nil
}

// GetTasksByID returns the tasks with the given ids owned by userID.
// Unknown ids and ids owned by other users are skipped.
func (s *Store) GetTasksByID(ctx context.Context, userID string, ids []int64) ([]model.StoredTask, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 AND id = ANY($2) ORDER BY id`,
		userID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return rowsToTasks(rows), nil
}

// DeleteTask removes a task owned by userID.
func (s *Store) DeleteTask(ctx context.Context, userID string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrQuery, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrQuery, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TaskUpdate holds the fields UpdateTask may change. Nil fields are kept.
type TaskUpdate struct {
	Context *model.Context
	Period  *time.Duration
}

// UpdateTask changes the context and/or period of a task owned by userID.
func (s *Store) UpdateTask(ctx context.Context, userID string, id int64, upd TaskUpdate) (model.StoredTask, error) {
	var taskCtx, secs any
	if upd.Context != nil {
		taskCtx = jsonColumn[model.Context]{*upd.Context}
	}
	if upd.Period != nil {
		secs = upd.Period.Seconds()
	}

	var row taskRow
	if err := s.db.GetContext(ctx, &row, `
		UPDATE tasks
		SET context = COALESCE($3::jsonb, context),
		    period = COALESCE(make_interval(secs => $4::double precision), period)
		WHERE id = $1 AND user_id = $2
		RETURNING `+taskColumns,
		id, userID, taskCtx, secs,
	); err != nil {
		return model.StoredTask{}, notFound(err)
	}
	return row.toModel(), nil
}

// MarkTasksRan sets last_run_ts to now for the given task ids.
func (s *Store) MarkTasksRan(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET last_run_ts = now() WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return nil
}

// DueTasks returns every task whose period has elapsed since its last run.
func (s *Store) DueTasks(ctx context.Context, now time.Time) ([]model.StoredTask, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+taskColumns+` FROM tasks WHERE last_run_ts + period <= $1 ORDER BY user_id, id`,
		now); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return rowsToTasks(rows), nil
}

// AddTaskLog records the outcome of a task run.
func (s *Store) AddTaskLog(ctx context.Context, taskID int64, logContext map[string]any) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO task_logs (task_id, context) VALUES ($1, $2)`,
		taskID, jsonColumn[map[string]any]{logContext}); err != nil {
		return fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return nil
}
