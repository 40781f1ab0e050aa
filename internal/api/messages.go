package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/quota"
)

// MaxMessageLength bounds a user message in characters.
const MaxMessageLength = 10000

type createMessageRequest struct {
	Value string `json:"value"`
}

type createMessageResponse struct {
	Message vybe.Message `json:"message"`
	JobID   string       `json:"job_id"`
	Usage   usageBody    `json:"usage"`
}

type usageBody struct {
	Consumed  int   `json:"consumed"`
	Remaining int   `json:"remaining"`
	Limit     int   `json:"limit"`
	ResetInMS int64 `json:"reset_in_ms"`
}

func toUsageBody(s quota.Status) usageBody {
	return usageBody{
		Consumed:  s.Consumed,
		Remaining: s.Remaining,
		Limit:     s.Limit,
		ResetInMS: s.ResetIn.Milliseconds(),
	}
}

// bindValue decodes and validates the {"value": ...} body shared by project
// and message creation. A non-empty msg is the 400 reason.
func bindValue(c echo.Context) (value, msg string) {
	var req createMessageRequest
	if err := c.Bind(&req); err != nil {
		return "", "invalid request body"
	}
	switch n := utf8.RuneCountInString(req.Value); {
	case n == 0:
		return "", "value is required"
	case n > MaxMessageLength:
		return "", "value is too long"
	}
	return req.Value, ""
}

// consume charges one run to userID. When ok is false the response has been
// written.
func (h *Handler) consume(c echo.Context, userID string) (quota.Status, bool, error) {
	status, err := h.quota.Consume(c.Request().Context(), userID)
	if err == nil {
		return status, true, nil
	}
	var ex *quota.ExhaustedError
	if errors.As(err, &ex) {
		secs := int64(ex.ResetIn.Seconds())
		c.Response().Header().Set("Retry-After", strconv.FormatInt(max(secs, 1), 10))
		return status, false, c.JSON(http.StatusTooManyRequests, map[string]any{
			"error":       "you have run out of credits",
			"reset_in_ms": ex.ResetIn.Milliseconds(),
		})
	}
	h.logger.Error("consume quota failed", "user_id", userID, "error", err)
	return status, false, errorJSON(c, http.StatusInternalServerError, "failed to check usage")
}

// project loads the caller's project named by the path. When ok is false the
// response has been written.
func (h *Handler) project(c echo.Context) (vybe.Project, bool, error) {
	userID := c.Request().Header.Get(UserHeader)
	if userID == "" {
		return vybe.Project{}, false, errorJSON(c, http.StatusUnauthorized, "missing "+UserHeader)
	}
	projectID := strings.TrimSpace(c.Param("projectID"))
	if projectID == "" {
		return vybe.Project{}, false, errorJSON(c, http.StatusBadRequest, "project id is required")
	}
	p, err := h.store.GetProject(c.Request().Context(), userID, projectID)
	if errors.Is(err, vybe.ErrNotFound) {
		return vybe.Project{}, false, errorJSON(c, http.StatusNotFound, "project not found")
	}
	if err != nil {
		h.logger.Error("get project failed", "project_id", projectID, "error", err)
		return vybe.Project{}, false, errorJSON(c, http.StatusInternalServerError, "failed to get project")
	}
	return p, true, nil
}

func userMessage(projectID, value string) vybe.Message {
	return vybe.Message{
		ID:        vybe.NewID(),
		ProjectID: projectID,
		Role:      vybe.RoleUser,
		Kind:      vybe.KindResult,
		Content:   value,
		CreatedAt: vybe.NowUnix(),
	}
}

func newJob(projectID, userID, input string) vybe.Job {
	return vybe.Job{
		ID:        vybe.NewID(),
		ProjectID: projectID,
		UserID:    userID,
		Input:     input,
		Status:    vybe.JobPending,
	}
}

// CreateMessage stores a user message and queues its code generation job.
// POST /v1/projects/:projectID/messages
func (h *Handler) CreateMessage(c echo.Context) error {
	ctx := c.Request().Context()
	project, ok, err := h.project(c)
	if !ok {
		return err
	}
	value, reason := bindValue(c)
	if reason != "" {
		return errorJSON(c, http.StatusBadRequest, reason)
	}
	status, ok, err := h.consume(c, project.UserID)
	if !ok {
		return err
	}

	msg := userMessage(project.ID, value)
	if err := h.store.CreateMessage(ctx, msg); err != nil {
		h.logger.Error("create message failed", "project_id", project.ID, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to save message")
	}
	job := newJob(project.ID, project.UserID, value)
	if err := h.store.EnqueueJob(ctx, job); err != nil {
		h.logger.Error("enqueue job failed", "project_id", project.ID, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to queue job")
	}

	h.logger.Info("job queued", "job_id", job.ID, "project_id", project.ID, "user_id", project.UserID)
	return c.JSON(http.StatusAccepted, createMessageResponse{
		Message: msg,
		JobID:   job.ID,
		Usage:   toUsageBody(status),
	})
}

// ListMessages returns a project's messages oldest-first with fragments.
// GET /v1/projects/:projectID/messages
func (h *Handler) ListMessages(c echo.Context) error {
	project, ok, err := h.project(c)
	if !ok {
		return err
	}
	messages, err := h.store.ListMessages(c.Request().Context(), project.ID)
	if err != nil {
		h.logger.Error("list messages failed", "project_id", project.ID, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to get messages")
	}
	if messages == nil {
		messages = []vybe.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": messages})
}

// GetJob returns a job's status.
// GET /v1/jobs/:jobID
func (h *Handler) GetJob(c echo.Context) error {
	job, err := h.store.GetJob(c.Request().Context(), c.Param("jobID"))
	if errors.Is(err, vybe.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "job not found")
	}
	if err != nil {
		h.logger.Error("get job failed", "job_id", c.Param("jobID"), "error", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to get job")
	}
	return c.JSON(http.StatusOK, job)
}

// GetUsage returns the caller's remaining credits.
// GET /v1/usage
func (h *Handler) GetUsage(c echo.Context) error {
	userID := c.Request().Header.Get(UserHeader)
	if userID == "" {
		return errorJSON(c, http.StatusUnauthorized, "missing "+UserHeader)
	}
	status, err := h.quota.Status(c.Request().Context(), userID)
	if err != nil {
		h.logger.Error("get usage failed", "user_id", userID, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to get usage")
	}
	return c.JSON(http.StatusOK, toUsageBody(status))
}
