package assistant

import (
	"context"
	"sort"
	"time"

	"github.com/bttk/calendar-assistant/pkg/model"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// scheduledConcurrency bounds how many users run at the same time.
const scheduledConcurrency = 4

// UserRun is the outcome of the scheduled tasks of one user.
type UserRun struct {
	UserID  string  `json:"user_id"`
	TaskIDs []int64 `json:"task_ids"`
	Text    string  `json:"text,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// RunScheduled runs tasks grouped by user. A failing user does not stop the
// others; its error is reported in the result. Results are ordered by user.
func (a *Assistant) RunScheduled(ctx context.Context, tasks []model.StoredTask) []UserRun {
	byUser := lo.GroupBy(tasks, func(t model.StoredTask) string { return t.UserID })
	users := lo.Keys(byUser)
	sort.Strings(users)

	runs := make([]UserRun, len(users))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(scheduledConcurrency)
	for i, userID := range users {
		userTasks := byUser[userID]
		g.Go(func() error {
			run := UserRun{
				UserID:  userID,
				TaskIDs: lo.Map(userTasks, func(t model.StoredTask, _ int) int64 { return t.ID }),
			}
			res, err := a.RunTasks(ctx, userID, userTasks)
			if err != nil {
				run.Error = err.Error()
			} else {
				run.Text = res.Text
			}
			runs[i] = run
			return nil
		})
	}
	_ = g.Wait()

	a.logger.Info().Int("users", len(users)).Int("tasks", len(tasks)).Msg("scheduled run finished")
	return runs
}

// RunDue runs every task whose period has elapsed at now.
func (a *Assistant) RunDue(ctx context.Context, now time.Time) ([]UserRun, error) {
	tasks, err := a.store.DueTasks(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		a.logger.Debug().Msg("no due tasks")
		return []UserRun{}, nil
	}
	return a.RunScheduled(ctx, tasks), nil
}

// RunRefs loads the referenced tasks, scoped to their owners, and runs them.
// Unknown ids are ignored.
func (a *Assistant) RunRefs(ctx context.Context, refs []model.TaskRef) ([]UserRun, error) {
	byUser := lo.GroupBy(refs, func(r model.TaskRef) string { return r.UserID })
	users := lo.Keys(byUser)
	sort.Strings(users)

	var tasks []model.StoredTask
	for _, userID := range users {
		ids := lo.Uniq(lo.Map(byUser[userID], func(r model.TaskRef, _ int) int64 { return r.ID }))
		found, err := a.store.GetTasksByID(ctx, userID, ids)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, found...)
	}
	return a.RunScheduled(ctx, tasks), nil
}
