package api

import (
	"math/rand/v2"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nevindra/vybe"
)

type createProjectResponse struct {
	Project vybe.Project `json:"project"`
	Message vybe.Message `json:"message"`
	JobID   string       `json:"job_id"`
	Usage   usageBody    `json:"usage"`
}

var (
	adjectives = []string{
		"amber", "brave", "calm", "clever", "crisp", "eager", "fancy", "gentle",
		"happy", "jolly", "kind", "lively", "lucky", "mellow", "nimble", "proud",
		"quiet", "rapid", "shiny", "silent", "swift", "tidy", "vivid", "witty",
	}
	nouns = []string{
		"anchor", "badger", "canyon", "comet", "falcon", "forest", "garden", "harbor",
		"island", "lantern", "meadow", "otter", "panda", "pebble", "planet", "river",
		"rocket", "sparrow", "summit", "tiger", "valley", "violet", "willow", "zephyr",
	}
)

// projectName returns a two-word kebab-case name such as "swift-otter".
func projectName() string {
	return adjectives[rand.IntN(len(adjectives))] + "-" + nouns[rand.IntN(len(nouns))]
}

// CreateProject opens a project for the caller with its first message and
// queues the code generation job for it.
// POST /v1/projects
func (h *Handler) CreateProject(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.Request().Header.Get(UserHeader)
	if userID == "" {
		return errorJSON(c, http.StatusUnauthorized, "missing "+UserHeader)
	}
	value, reason := bindValue(c)
	if reason != "" {
		return errorJSON(c, http.StatusBadRequest, reason)
	}
	status, ok, err := h.consume(c, userID)
	if !ok {
		return err
	}

	now := vybe.NowUnix()
	project := vybe.Project{
		ID:        vybe.NewID(),
		UserID:    userID,
		Name:      projectName(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	msg := userMessage(project.ID, value)
	if err := h.store.CreateProject(ctx, project, msg); err != nil {
		h.logger.Error("create project failed", "user_id", userID, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to create project")
	}
	job := newJob(project.ID, userID, value)
	if err := h.store.EnqueueJob(ctx, job); err != nil {
		h.logger.Error("enqueue job failed", "project_id", project.ID, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to queue job")
	}

	h.logger.Info("project created", "project_id", project.ID, "name", project.Name, "job_id", job.ID, "user_id", userID)
	return c.JSON(http.StatusCreated, createProjectResponse{
		Project: project,
		Message: msg,
		JobID:   job.ID,
		Usage:   toUsageBody(status),
	})
}

// GetProject returns one of the caller's projects.
// GET /v1/projects/:projectID
func (h *Handler) GetProject(c echo.Context) error {
	project, ok, err := h.project(c)
	if !ok {
		return err
	}
	return c.JSON(http.StatusOK, project)
}

// ListProjects returns the caller's projects, most recently updated first.
// GET /v1/projects
func (h *Handler) ListProjects(c echo.Context) error {
	userID := c.Request().Header.Get(UserHeader)
	if userID == "" {
		return errorJSON(c, http.StatusUnauthorized, "missing "+UserHeader)
	}
	projects, err := h.store.ListProjects(c.Request().Context(), userID)
	if err != nil {
		h.logger.Error("list projects failed", "user_id", userID, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to get projects")
	}
	if projects == nil {
		projects = []vybe.Project{}
	}
	return c.JSON(http.StatusOK, map[string]any{"projects": projects})
}
