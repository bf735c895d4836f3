// Package api exposes the assistant over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bttk/calendar-assistant/pkg/assistant"
	"github.com/bttk/calendar-assistant/pkg/auth"
	"github.com/bttk/calendar-assistant/pkg/metrics"
	"github.com/bttk/calendar-assistant/pkg/model"
	"github.com/bttk/calendar-assistant/pkg/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// Store is the persistence used directly by the handlers.
type Store interface {
	GetTasks(ctx context.Context, userID string) ([]model.StoredTask, error)
	GetTask(ctx context.Context, userID string, id int64) (model.StoredTask, error)
	UpdateTask(ctx context.Context, userID string, id int64, upd store.TaskUpdate) (model.StoredTask, error)
	DeleteTask(ctx context.Context, userID string, id int64) error
	IsOnboarded(ctx context.Context, userID string) (bool, error)
	UpsertUser(ctx context.Context, userID string, o model.UserOnboarding) error
	SetGoogleToken(ctx context.Context, userID string, token model.UserToken) error
	Ping(ctx context.Context) error
}

// Assistant is the domain logic behind the task and chat endpoints.
type Assistant interface {
	CreateTask(ctx context.Context, userID string, task model.Task) (model.StoredTask, error)
	Chat(ctx context.Context, userID, message string) (model.AgentResponse, error)
	RunDue(ctx context.Context, now time.Time) ([]assistant.UserRun, error)
	RunRefs(ctx context.Context, refs []model.TaskRef) ([]assistant.UserRun, error)
}

// Options configures the HTTP surface.
type Options struct {
	// CronSecret, when set, must be sent in the X-Cron-Secret header.
	CronSecret     string
	AllowedOrigins []string
}

// Server holds the handler dependencies.
type Server struct {
	store     Store
	assistant Assistant
	auth      auth.Authenticator
	metrics   *metrics.Metrics
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

// NewServer returns a Server. m may be nil, which disables /metrics.
func NewServer(s Store, a Assistant, authenticator auth.Authenticator, m *metrics.Metrics, opts Options, logger zerolog.Logger) *Server {
	return &Server{
		store:     s,
		assistant: a,
		auth:      authenticator,
		metrics:   m,
		opts:      opts,
		logger:    logger.With().Str("component", "api").Logger(),
		now:       time.Now,
	}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestID(), accessLog(s.logger), gin.CustomRecovery(s.recovery))
	if s.metrics != nil {
		r.Use(s.metrics.Middleware())
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	r.GET("/health", s.health)
	r.POST("/api/cron/run-tasks", s.requireCronSecret, s.runTasks)

	authed := r.Group("/api", auth.Middleware(s.auth))
	authed.POST("/task/create", s.createTask)
	authed.GET("/tasks", s.listTasks)
	authed.GET("/tasks/:id", s.getTask)
	authed.PATCH("/tasks/:id", s.updateTask)
	authed.DELETE("/tasks/:id", s.deleteTask)
	authed.GET("/users/onboard", s.isOnboarded)
	authed.POST("/users/onboard", s.onboard)
	authed.POST("/users/token", s.setToken)
	authed.POST("/agent/chat", s.chat)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Detail: "Not Found"})
	})
	return r
}

// Handler wraps the router with CORS.
func (s *Server) Handler() http.Handler {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept", cronSecretHeader, requestIDHeader},
		AllowCredentials: true,
	}).Handler(s.Router())
}

func (s *Server) recovery(c *gin.Context, recovered any) {
	zerolog.Ctx(c.Request.Context()).Error().Interface("panic", recovered).Msg("handler panicked")
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Detail: "Internal server error"})
}
