package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/phrazzld/conjure-api/internal/api/shared"
	"github.com/phrazzld/conjure-api/internal/domain"
	"github.com/phrazzld/conjure-api/internal/platform/logger"
	"github.com/phrazzld/conjure-api/internal/service"
	"github.com/phrazzld/conjure-api/internal/store"
)

// CreateTaskRequest represents the request body for creating a new task
type CreateTaskRequest struct {
	Name   string `json:"name"   validate:"required,max=200"`
	Prompt string `json:"prompt" validate:"required,min=1"`
	// ScheduledFor defers execution to a future UTC time. Absent or past
	// times make the task immediately ready.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	MaxAttempts  int        `json:"max_attempts,omitempty"  validate:"omitempty,gte=1,lte=20"`
}

// ChainTaskRequest represents the request body for chaining a task onto a
// completed parent
type ChainTaskRequest struct {
	Name         string     `json:"name"        validate:"required,max=200"`
	Instruction  string     `json:"instruction" validate:"required,min=1"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	MaxAttempts  int        `json:"max_attempts,omitempty" validate:"omitempty,gte=1,lte=20"`
}

// RetryTaskRequest represents the optional request body for retrying a failed
// task
type RetryTaskRequest struct {
	// MaxAttempts overrides the task's attempt budget for the new round.
	MaxAttempts *int `json:"max_attempts,omitempty" validate:"omitempty,gte=1,lte=20"`
}

// TaskResponse represents the response data for a task
type TaskResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Prompt          string     `json:"prompt"`
	Status          string     `json:"status"`
	ScheduledFor    *time.Time `json:"scheduled_for,omitempty"`
	Attempts        int        `json:"attempts"`
	MaxAttempts     int        `json:"max_attempts"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Output          *string    `json:"output,omitempty"`
	Error           *string    `json:"error,omitempty"`
	ParentTaskID    *string    `json:"parent_task_id,omitempty"`
	ModelProvider   *string    `json:"model_provider,omitempty"`
	ModelName       *string    `json:"model_name,omitempty"`
	LatencyMs       *int       `json:"latency_ms,omitempty"`
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	taskService service.TaskService
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(taskService service.TaskService, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}

	return &TaskHandler{
		taskService: taskService,
		validator:   validator.New(),
		logger:      logger.With(slog.String("component", "task_handler")),
	}
}

// CreateTask handles POST /api/tasks requests.
// It accepts the task for asynchronous execution, so the success status is
// 202 Accepted rather than 201.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	task, err := h.taskService.Create(r.Context(), service.CreateTaskParams{
		Name:         req.Name,
		Prompt:       req.Prompt,
		ScheduledFor: req.ScheduledFor,
		MaxAttempts:  req.MaxAttempts,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Debug("task accepted",
		slog.String("task_id", task.ID.String()),
		slog.String("status", string(task.Status)))
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(task))
}

// ListTasks handles GET /api/tasks requests with optional limit, offset and
// parent_task_id query parameters.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	params := service.ListTasksParams{}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		params.Limit = limit
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid offset parameter")
			return
		}
		params.Offset = offset
	}

	if raw := r.URL.Query().Get("parent_task_id"); raw != "" {
		parentID, err := uuid.Parse(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid parent_task_id parameter")
			return
		}
		params.ParentTaskID = &parentID
	}

	tasks, err := h.taskService.List(r.Context(), params)
	if err != nil {
		shared.RespondWithErrorAndLog(
			w, r, MapErrorToStatusCode(err), "Failed to list tasks", err)
		return
	}

	// Pre-sized so an empty result serializes as [] rather than null.
	response := make([]TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		response = append(response, taskToResponse(task))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// GetTask handles GET /api/tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	task, err := h.taskService.Get(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// ChainTask handles POST /api/tasks/{id}/chain requests.
// The new task's prompt is derived from the parent's output, so the parent
// must be completed; anything else is a 409.
func (h *TaskHandler) ChainTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	parentID, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	var req ChainTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	task, err := h.taskService.Chain(r.Context(), parentID, service.ChainTaskParams{
		Name:         req.Name,
		Instruction:  req.Instruction,
		ScheduledFor: req.ScheduledFor,
		MaxAttempts:  req.MaxAttempts,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Debug("chained task accepted",
		slog.String("task_id", task.ID.String()),
		slog.String("parent_task_id", parentID.String()))
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(task))
}

// RetryTask handles POST /api/tasks/{id}/retry requests.
// The request body is optional: when present it may override max_attempts.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	// An absent or empty body means "retry with the existing budget".
	var req RetryTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	task, err := h.taskService.Retry(r.Context(), id, req.MaxAttempts)
	if err != nil {
		message := GetSafeErrorMessage(err)
		if errors.Is(err, store.ErrPreconditionFailed) {
			message = "Only failed tasks can be retried"
		}
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), message, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(task))
}

// CancelTask handles POST /api/tasks/{id}/cancel requests.
// Cancelling is idempotent: cancelling a terminal task returns its current
// state, and cancelling an executing task returns it with cancel_requested
// set while the worker finishes observing the flag.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	task, err := h.taskService.Cancel(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// taskIDFromRequest extracts and parses the {id} path parameter, writing a
// 400 response when it is missing or malformed.
func (h *TaskHandler) taskIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	pathID := chi.URLParam(r, "id")
	if pathID == "" {
		log.Warn("task ID not found in URL path")
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(pathID)
	if err != nil {
		log.Warn("invalid task ID format", slog.String("task_id", pathID))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID format")
		return uuid.Nil, false
	}

	return id, true
}

// taskToResponse converts a domain.Task to a TaskResponse
func taskToResponse(task *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:              task.ID.String(),
		Name:            task.Name,
		Prompt:          task.Prompt,
		Status:          string(task.Status),
		ScheduledFor:    task.ScheduledFor,
		Attempts:        task.Attempts,
		MaxAttempts:     task.MaxAttempts,
		CancelRequested: task.CancelRequested,
		CreatedAt:       task.CreatedAt,
		UpdatedAt:       task.UpdatedAt,
		StartedAt:       task.StartedAt,
		FinishedAt:      task.FinishedAt,
		Output:          task.Output,
		Error:           task.Error,
		ModelProvider:   task.ModelProvider,
		ModelName:       task.ModelName,
		LatencyMs:       task.LatencyMs,
	}

	if task.ParentTaskID != nil {
		parent := task.ParentTaskID.String()
		resp.ParentTaskID = &parent
	}

	return resp
}
