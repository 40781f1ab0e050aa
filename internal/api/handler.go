// Package api is the HTTP trigger surface: it manages a user's projects,
// accepts their messages, meters them against the quota and queues a code
// generation job for each.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/quota"
)

// UserHeader carries the authenticated user id, set by the fronting proxy.
const UserHeader = "X-User-ID"

// Store is the persistence the API needs. vybe.Store implementations
// satisfy it.
type Store interface {
	CreateProject(ctx context.Context, p vybe.Project, first vybe.Message) error
	GetProject(ctx context.Context, userID, id string) (vybe.Project, error)
	ListProjects(ctx context.Context, userID string) ([]vybe.Project, error)
	CreateMessage(ctx context.Context, m vybe.Message) error
	ListMessages(ctx context.Context, projectID string) ([]vybe.Message, error)
	EnqueueJob(ctx context.Context, j vybe.Job) error
	GetJob(ctx context.Context, id string) (vybe.Job, error)
}

// Quota meters runs per user. *quota.Tracker implements it.
type Quota interface {
	Consume(ctx context.Context, key string) (quota.Status, error)
	Status(ctx context.Context, key string) (quota.Status, error)
}

var _ Quota = (*quota.Tracker)(nil)

// Handler handles HTTP requests.
type Handler struct {
	store  Store
	quota  Quota
	logger *slog.Logger
}

// NewHandler creates a new handler. A nil logger discards output.
func NewHandler(store Store, q Quota, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{store: store, quota: q, logger: logger}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/projects", h.CreateProject)
	e.GET("/v1/projects", h.ListProjects)
	e.GET("/v1/projects/:projectID", h.GetProject)
	e.POST("/v1/projects/:projectID/messages", h.CreateMessage)
	e.GET("/v1/projects/:projectID/messages", h.ListMessages)
	e.GET("/v1/jobs/:jobID", h.GetJob)
	e.GET("/v1/usage", h.GetUsage)

	e.GET("/healthz", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}
