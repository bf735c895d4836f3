package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bttk/calendar-assistant/pkg/assistant"
	"github.com/bttk/calendar-assistant/pkg/auth"
	"github.com/bttk/calendar-assistant/pkg/model"
	"github.com/bttk/calendar-assistant/pkg/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

// TaskUpdateRequest is the body of PATCH /api/tasks/:id.
type TaskUpdateRequest struct {
	Context *model.Context `json:"context"`
	Period  *string        `json:"period"`
}

// ChatRequest is the body of POST /api/agent/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// CronRequest is the body of POST /api/cron/run-tasks. An empty body or an
// empty task list runs every due task.
type CronRequest struct {
	Tasks []model.TaskRef `json:"tasks"`
}

func fail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, errorResponse{Detail: detail})
}

func internalError(c *gin.Context, err error, msg string) {
	zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg(msg)
	_ = c.Error(err)
	fail(c, http.StatusInternalServerError, "Internal server error")
}

func taskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "Invalid task id")
		return 0, false
	}
	return id, true
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("database ping failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createTask(c *gin.Context) {
	var task model.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	stored, err := s.assistant.CreateTask(c.Request.Context(), auth.UserID(c), task)
	switch {
	case errors.Is(err, model.ErrInvalidTask):
		fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		internalError(c, err, "unable to create task")
		return
	}
	c.JSON(http.StatusCreated, stored.Response())
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.store.GetTasks(c.Request.Context(), auth.UserID(c))
	if err != nil {
		internalError(c, err, "unable to list tasks")
		return
	}
	c.JSON(http.StatusOK, lo.Map(tasks, func(t model.StoredTask, _ int) model.TaskResponse {
		return t.Response()
	}))
}

func (s *Server) getTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	task, err := s.store.GetTask(c.Request.Context(), auth.UserID(c), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, "Task not found")
		return
	case err != nil:
		internalError(c, err, "unable to load task")
		return
	}
	c.JSON(http.StatusOK, task.Response())
}

func (s *Server) updateTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	var req TaskUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if req.Context == nil && req.Period == nil {
		fail(c, http.StatusUnprocessableEntity, "Nothing to update")
		return
	}

	upd := store.TaskUpdate{Context: req.Context}
	if req.Period != nil {
		d, err := model.ParsePeriod(*req.Period)
		if err != nil {
			fail(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		upd.Period = &d
	}

	task, err := s.store.UpdateTask(c.Request.Context(), auth.UserID(c), id, upd)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, "Task not found")
		return
	case err != nil:
		internalError(c, err, "unable to update task")
		return
	}
	c.JSON(http.StatusOK, task.Response())
}

func (s *Server) deleteTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	err := s.store.DeleteTask(c.Request.Context(), auth.UserID(c), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, "Task not found")
		return
	case err != nil:
		internalError(c, err, "unable to delete task")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) runTasks(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, "Unable to read body")
		return
	}
	body = bytes.TrimSpace(body)
	ctx := c.Request.Context()

	var req CronRequest
	if len(body) > 0 {
		if err := decodeCron(body, &req); err != nil {
			fail(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	var runs []assistant.UserRun
	if len(req.Tasks) == 0 {
		runs, err = s.assistant.RunDue(ctx, s.now())
	} else {
		runs, err = s.assistant.RunRefs(ctx, req.Tasks)
	}
	if err != nil {
		internalError(c, err, "unable to run tasks")
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": runs})
}

// decodeCron accepts {"tasks":[...]} or a bare list of tasks.
func decodeCron(body []byte, req *CronRequest) error {
	if strings.HasPrefix(string(body), "[") {
		return json.Unmarshal(body, &req.Tasks)
	}
	return json.Unmarshal(body, req)
}

func (s *Server) isOnboarded(c *gin.Context) {
	ok, err := s.store.IsOnboarded(c.Request.Context(), auth.UserID(c))
	if err != nil {
		internalError(c, err, "unable to read onboarding state")
		return
	}
	c.JSON(http.StatusOK, ok)
}

func (s *Server) onboard(c *gin.Context) {
	var req model.UserOnboarding
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.store.UpsertUser(c.Request.Context(), auth.UserID(c), req); err != nil {
		internalError(c, err, "unable to onboard user")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setToken(c *gin.Context) {
	var tok model.UserToken
	if err := c.ShouldBindJSON(&tok); err != nil {
		fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		fail(c, http.StatusUnprocessableEntity, "access_token or refresh_token is required")
		return
	}
	if err := s.store.SetGoogleToken(c.Request.Context(), auth.UserID(c), tok); err != nil {
		internalError(c, err, "unable to store google token")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusUnprocessableEntity, "message is required")
		return
	}
	resp, err := s.assistant.Chat(c.Request.Context(), auth.UserID(c), req.Message)
	switch {
	case errors.Is(err, model.ErrInvalidTask):
		fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		internalError(c, err, "unable to handle chat message")
		return
	}
	if resp.Tasks == nil {
		resp.Tasks = []model.Task{}
	}
	c.JSON(http.StatusOK, resp)
}
