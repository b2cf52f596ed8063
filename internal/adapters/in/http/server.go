// Package http serves the operator API of the scheduler: health, metrics,
// queue inspection and manual triggers.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"authjobs/internal/core/application/executors"
	"authjobs/internal/core/application/scheduler"
	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/pkg/errs"
	"authjobs/internal/telemetry"

	"github.com/labstack/echo/v4"
)

const defaultDaysToKeep = 30

// Scheduler is the part of the job scheduler the admin API drives.
type Scheduler interface {
	ProcessAllJobs(ctx context.Context) scheduler.ProcessReport
	RetryFailedJobs(ctx context.Context) (scheduler.RetryReport, error)
	ValidateAllJobs(ctx context.Context) (executors.ValidationReport, error)
	CleanupAllOldJobs(ctx context.Context, daysToKeep int) (scheduler.CleanupReport, error)
	GetQueueStatus(ctx context.Context) (scheduler.QueueStatus, error)
	GetSystemStatistics(ctx context.Context) (scheduler.SystemStatistics, error)
	ScheduleAuthorization(ctx context.Context, authorizationID kernel.UUID) ([]*job.ScheduledJob, error)
	CancelAllJobsForAuthorization(ctx context.Context, authorizationID kernel.UUID, reason string) (int64, error)
	SendManualReminder(ctx context.Context, authorizationID kernel.UUID, rt job.ReminderType) (job.Result, error)
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JobView is the wire shape of a scheduled job.
type JobView struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Subtype         string    `json:"subtype,omitempty"`
	Status          string    `json:"status"`
	AuthorizationID string    `json:"authorization_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	Priority        int       `json:"priority"`
	Attempts        int       `json:"attempts"`
	MaxAttempts     int       `json:"max_attempts"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type CancelResponse struct {
	Cancelled int64 `json:"cancelled"`
}

type Server struct {
	scheduler Scheduler
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

func NewServer(s Scheduler, metrics *telemetry.Metrics, logger *slog.Logger) *Server {
	return &Server{
		scheduler: s,
		metrics:   metrics,
		logger:    logger.With("component", "admin_http"),
	}
}

// RegisterRoutes mounts the admin endpoints on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", s.Health)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	jobs := e.Group("/api/v1/jobs")
	jobs.GET("/queue", s.GetQueue)
	jobs.GET("/statistics", s.GetStatistics)
	jobs.POST("/process", s.Process)
	jobs.POST("/retry", s.Retry)
	jobs.POST("/validate", s.Validate)
	jobs.POST("/cleanup", s.Cleanup)

	auths := e.Group("/api/v1/authorizations/:id")
	auths.POST("/schedule", s.ScheduleAuthorization)
	auths.POST("/cancel", s.CancelAuthorizationJobs)
	auths.POST("/reminders/:type", s.SendReminder)
}

func (s *Server) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GetQueue handles GET /api/v1/jobs/queue.
func (s *Server) GetQueue(ctx echo.Context) error {
	status, err := s.scheduler.GetQueueStatus(ctx.Request().Context())
	if err != nil {
		return s.fail(ctx, err, "Failed to read queue status")
	}
	s.metrics.ObserveQueue(status)
	return ctx.JSON(http.StatusOK, status)
}

// GetStatistics handles GET /api/v1/jobs/statistics.
func (s *Server) GetStatistics(ctx echo.Context) error {
	stats, err := s.scheduler.GetSystemStatistics(ctx.Request().Context())
	if err != nil {
		return s.fail(ctx, err, "Failed to compute statistics")
	}
	s.metrics.ObserveQueue(stats.Queue)
	return ctx.JSON(http.StatusOK, stats)
}

// Process handles POST /api/v1/jobs/process.
func (s *Server) Process(ctx echo.Context) error {
	report := s.scheduler.ProcessAllJobs(ctx.Request().Context())
	s.metrics.ObserveProcess(report)
	return ctx.JSON(http.StatusOK, report)
}

// Retry handles POST /api/v1/jobs/retry.
func (s *Server) Retry(ctx echo.Context) error {
	report, err := s.scheduler.RetryFailedJobs(ctx.Request().Context())
	if err != nil {
		return s.fail(ctx, err, "Failed to retry jobs")
	}
	s.metrics.ObserveRetried(report.Retried)
	return ctx.JSON(http.StatusOK, report)
}

// Validate handles POST /api/v1/jobs/validate.
func (s *Server) Validate(ctx echo.Context) error {
	report, err := s.scheduler.ValidateAllJobs(ctx.Request().Context())
	if err != nil {
		return s.fail(ctx, err, "Failed to validate jobs")
	}
	s.metrics.ObserveValidationIssues(report.IssuesFound())
	return ctx.JSON(http.StatusOK, map[string]any{
		"issues_found": report.IssuesFound(),
		"issues":       report.Issues,
	})
}

// Cleanup handles POST /api/v1/jobs/cleanup?days=N.
func (s *Server) Cleanup(ctx echo.Context) error {
	days := defaultDaysToKeep
	if raw := ctx.QueryParam("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, ErrorResponse{
				Code:    http.StatusBadRequest,
				Message: "days must be an integer",
			})
		}
		days = parsed
	}

	report, err := s.scheduler.CleanupAllOldJobs(ctx.Request().Context(), days)
	if err != nil {
		return s.fail(ctx, err, "Failed to clean up jobs")
	}
	return ctx.JSON(http.StatusOK, report)
}

// ScheduleAuthorization handles POST /api/v1/authorizations/:id/schedule.
func (s *Server) ScheduleAuthorization(ctx echo.Context) error {
	id, err := kernel.UUIDFromString(ctx.Param("id"))
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Code: http.StatusBadRequest, Message: "Invalid authorization id"})
	}

	jobs, err := s.scheduler.ScheduleAuthorization(ctx.Request().Context(), id)
	if err != nil {
		return s.fail(ctx, err, "Failed to schedule jobs")
	}

	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, toView(j))
	}
	return ctx.JSON(http.StatusOK, views)
}

// CancelAuthorizationJobs handles POST /api/v1/authorizations/:id/cancel.
func (s *Server) CancelAuthorizationJobs(ctx echo.Context) error {
	id, err := kernel.UUIDFromString(ctx.Param("id"))
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Code: http.StatusBadRequest, Message: "Invalid authorization id"})
	}

	var req CancelRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Code: http.StatusBadRequest, Message: "Invalid request body"})
	}
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}

	cancelled, err := s.scheduler.CancelAllJobsForAuthorization(ctx.Request().Context(), id, req.Reason)
	if err != nil {
		return s.fail(ctx, err, "Failed to cancel jobs")
	}
	return ctx.JSON(http.StatusOK, CancelResponse{Cancelled: cancelled})
}

// SendReminder handles POST /api/v1/authorizations/:id/reminders/:type.
func (s *Server) SendReminder(ctx echo.Context) error {
	id, err := kernel.UUIDFromString(ctx.Param("id"))
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Code: http.StatusBadRequest, Message: "Invalid authorization id"})
	}
	rt, err := job.ParseReminderType(ctx.Param("type"))
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Code: http.StatusBadRequest, Message: err.Error()})
	}

	result, err := s.scheduler.SendManualReminder(ctx.Request().Context(), id, rt)
	if err != nil {
		return s.fail(ctx, err, "Failed to send reminder")
	}
	return ctx.JSON(http.StatusOK, result)
}

// fail maps domain errors onto status codes; anything unrecognised is a 500
// with a generic message.
func (s *Server) fail(ctx echo.Context, err error, message string) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrObjectNotFound):
		code = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, executors.ErrReminderNotApplicable):
		code = http.StatusConflict
		message = err.Error()
	case errors.Is(err, executors.ErrUnsupportedReminderType),
		errors.Is(err, errs.ErrValueIsInvalid),
		errors.Is(err, errs.ErrValueIsOutOfRange),
		errors.Is(err, errs.ErrValueIsRequired):
		code = http.StatusBadRequest
		message = err.Error()
	default:
		s.logger.ErrorContext(ctx.Request().Context(), message, "path", ctx.Path(), "error", err)
	}
	return ctx.JSON(code, ErrorResponse{Code: code, Message: message})
}

func toView(j *job.ScheduledJob) JobView {
	return JobView{
		ID:              j.ID().String(),
		Type:            j.Type().Code(),
		Subtype:         j.Subtype(),
		Status:          j.Status().String(),
		AuthorizationID: j.AuthorizationID().String(),
		ScheduledAt:     j.ScheduledAt(),
		Priority:        j.Priority(),
		Attempts:        j.Attempts(),
		MaxAttempts:     j.MaxAttempts(),
	}
}
