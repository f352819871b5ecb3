package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/conjure-api/internal/domain"
	"github.com/phrazzld/conjure-api/internal/service"
	"github.com/phrazzld/conjure-api/internal/store"
)

// MockTaskService is a mock implementation of service.TaskService for testing
type MockTaskService struct {
	CreateFn func(ctx context.Context, params service.CreateTaskParams) (*domain.Task, error)
	ChainFn  func(ctx context.Context, parentID uuid.UUID, params service.ChainTaskParams) (*domain.Task, error)
	GetFn    func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	ListFn   func(ctx context.Context, params service.ListTasksParams) ([]*domain.Task, error)
	RetryFn  func(ctx context.Context, id uuid.UUID, newMaxAttempts *int) (*domain.Task, error)
	CancelFn func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

var _ service.TaskService = (*MockTaskService)(nil)

func (m *MockTaskService) Create(
	ctx context.Context,
	params service.CreateTaskParams,
) (*domain.Task, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, params)
	}
	return nil, nil
}

func (m *MockTaskService) Chain(
	ctx context.Context,
	parentID uuid.UUID,
	params service.ChainTaskParams,
) (*domain.Task, error) {
	if m.ChainFn != nil {
		return m.ChainFn(ctx, parentID, params)
	}
	return nil, nil
}

func (m *MockTaskService) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, id)
	}
	return nil, nil
}

func (m *MockTaskService) List(
	ctx context.Context,
	params service.ListTasksParams,
) ([]*domain.Task, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, params)
	}
	return nil, nil
}

func (m *MockTaskService) Retry(
	ctx context.Context,
	id uuid.UUID,
	newMaxAttempts *int,
) (*domain.Task, error) {
	if m.RetryFn != nil {
		return m.RetryFn(ctx, id, newMaxAttempts)
	}
	return nil, nil
}

func (m *MockTaskService) Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if m.CancelFn != nil {
		return m.CancelFn(ctx, id)
	}
	return nil, nil
}

// Fixed values for consistent testing
var (
	fixedTaskID   = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	fixedParentID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	fixedTime     = time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC)
)

func fixedTask(status domain.TaskStatus) *domain.Task {
	return &domain.Task{
		ID:          fixedTaskID,
		Name:        "summarize report",
		Prompt:      "Summarize the quarterly report",
		Status:      status,
		Attempts:    0,
		MaxAttempts: 3,
		CreatedAt:   fixedTime,
		UpdatedAt:   fixedTime,
	}
}

func newTestHandler(svc service.TaskService) *TaskHandler {
	return NewTaskHandler(svc, slog.Default())
}

// withRouteID attaches a chi route context carrying the {id} parameter.
func withRouteID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeTaskResponse(t *testing.T, w *httptest.ResponseRecorder) TaskResponse {
	t.Helper()

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestNewTaskHandler_RequiresLogger(t *testing.T) {
	assert.Panics(t, func() { NewTaskHandler(&MockTaskService{}, nil) })
}

func TestTaskHandler_CreateTask(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    string
		setupMock      func(*MockTaskService)
		expectedStatus int
		expectedErrMsg string
	}{
		{
			name:        "successful_creation",
			requestBody: `{"name": "summarize report", "prompt": "Summarize the quarterly report"}`,
			setupMock: func(ms *MockTaskService) {
				ms.CreateFn = func(ctx context.Context, params service.CreateTaskParams) (*domain.Task, error) {
					assert.Equal(t, "summarize report", params.Name)
					assert.Equal(t, "Summarize the quarterly report", params.Prompt)
					assert.Nil(t, params.ScheduledFor)
					assert.Zero(t, params.MaxAttempts)
					return fixedTask(domain.TaskStatusReady), nil
				}
			},
			expectedStatus: http.StatusAccepted,
		},
		{
			name: "scheduled_creation_forwards_schedule_and_budget",
			requestBody: `{"name": "later", "prompt": "run later",
				"scheduled_for": "2025-04-02T09:00:00Z", "max_attempts": 5}`,
			setupMock: func(ms *MockTaskService) {
				ms.CreateFn = func(ctx context.Context, params service.CreateTaskParams) (*domain.Task, error) {
					require.NotNil(t, params.ScheduledFor)
					assert.Equal(t, time.Date(2025, time.April, 2, 9, 0, 0, 0, time.UTC),
						params.ScheduledFor.UTC())
					assert.Equal(t, 5, params.MaxAttempts)
					return fixedTask(domain.TaskStatusDeferred), nil
				}
			},
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "malformed_json",
			requestBody:    `{"name": "x",`,
			setupMock:      func(ms *MockTaskService) {},
			expectedStatus: http.StatusBadRequest,
			expectedErrMsg: "Invalid request format",
		},
		{
			name:           "missing_prompt",
			requestBody:    `{"name": "x"}`,
			setupMock:      func(ms *MockTaskService) {},
			expectedStatus: http.StatusBadRequest,
			expectedErrMsg: "Invalid Prompt: required field",
		},
		{
			name:           "max_attempts_over_ceiling",
			requestBody:    `{"name": "x", "prompt": "y", "max_attempts": 99}`,
			setupMock:      func(ms *MockTaskService) {},
			expectedStatus: http.StatusBadRequest,
			expectedErrMsg: "Invalid MaxAttempts: too large",
		},
		{
			name:        "domain_validation_error_from_service",
			requestBody: `{"name": "x", "prompt": "   "}`,
			setupMock: func(ms *MockTaskService) {
				ms.CreateFn = func(ctx context.Context, params service.CreateTaskParams) (*domain.Task, error) {
					return nil, domain.ErrEmptyTaskPrompt
				}
			},
			expectedStatus: http.StatusBadRequest,
			expectedErrMsg: "task prompt cannot be empty",
		},
		{
			name:        "service_failure",
			requestBody: `{"name": "x", "prompt": "y"}`,
			setupMock: func(ms *MockTaskService) {
				ms.CreateFn = func(ctx context.Context, params service.CreateTaskParams) (*domain.Task, error) {
					return nil, errors.New("store unavailable")
				}
			},
			expectedStatus: http.StatusInternalServerError,
			expectedErrMsg: "An unexpected error occurred",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &MockTaskService{}
			tc.setupMock(svc)
			handler := newTestHandler(svc)

			req := httptest.NewRequest(
				http.MethodPost, "/api/tasks", bytes.NewBufferString(tc.requestBody))
			w := httptest.NewRecorder()

			handler.CreateTask(w, req)

			assert.Equal(t, tc.expectedStatus, w.Code)

			if tc.expectedErrMsg != "" {
				var errResp struct {
					Error string `json:"error"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
				assert.Contains(t, errResp.Error, tc.expectedErrMsg)
				return
			}

			resp := decodeTaskResponse(t, w)
			assert.Equal(t, fixedTaskID.String(), resp.ID)
			assert.NotEmpty(t, resp.Status)
		})
	}
}

func TestTaskHandler_GetTask(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		task := fixedTask(domain.TaskStatusCompleted)
		output := "the summary"
		task.Output = &output
		task.FinishedAt = &fixedTime

		svc := &MockTaskService{
			GetFn: func(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
				assert.Equal(t, fixedTaskID, id)
				return task, nil
			},
		}
		handler := newTestHandler(svc)

		req := withRouteID(
			httptest.NewRequest(http.MethodGet, "/api/tasks/"+fixedTaskID.String(), nil),
			fixedTaskID.String())
		w := httptest.NewRecorder()

		handler.GetTask(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeTaskResponse(t, w)
		assert.Equal(t, fixedTaskID.String(), resp.ID)
		assert.Equal(t, "completed", resp.Status)
		require.NotNil(t, resp.Output)
		assert.Equal(t, "the summary", *resp.Output)
	})

	t.Run("not_found", func(t *testing.T) {
		svc := &MockTaskService{
			GetFn: func(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
				return nil, service.ErrTaskNotFound
			},
		}
		handler := newTestHandler(svc)

		req := withRouteID(
			httptest.NewRequest(http.MethodGet, "/api/tasks/"+fixedTaskID.String(), nil),
			fixedTaskID.String())
		w := httptest.NewRecorder()

		handler.GetTask(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "Task not found")
	})

	t.Run("invalid_id", func(t *testing.T) {
		handler := newTestHandler(&MockTaskService{})

		req := withRouteID(
			httptest.NewRequest(http.MethodGet, "/api/tasks/not-a-uuid", nil), "not-a-uuid")
		w := httptest.NewRecorder()

		handler.GetTask(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid task ID format")
	})
}

func TestTaskHandler_ListTasks(t *testing.T) {
	t.Run("forwards_query_parameters", func(t *testing.T) {
		var captured service.ListTasksParams
		svc := &MockTaskService{
			ListFn: func(ctx context.Context, params service.ListTasksParams) ([]*domain.Task, error) {
				captured = params
				return []*domain.Task{fixedTask(domain.TaskStatusReady)}, nil
			},
		}
		handler := newTestHandler(svc)

		target := "/api/tasks?limit=10&offset=20&parent_task_id=" + fixedParentID.String()
		req := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()

		handler.ListTasks(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 10, captured.Limit)
		assert.Equal(t, 20, captured.Offset)
		require.NotNil(t, captured.ParentTaskID)
		assert.Equal(t, fixedParentID, *captured.ParentTaskID)

		var resp []TaskResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp, 1)
		assert.Equal(t, fixedTaskID.String(), resp[0].ID)
	})

	t.Run("empty_result_is_an_array", func(t *testing.T) {
		svc := &MockTaskService{
			ListFn: func(ctx context.Context, params service.ListTasksParams) ([]*domain.Task, error) {
				return []*domain.Task{}, nil
			},
		}
		handler := newTestHandler(svc)

		req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
		w := httptest.NewRecorder()

		handler.ListTasks(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "[]\n", w.Body.String())
	})

	t.Run("invalid_limit", func(t *testing.T) {
		handler := newTestHandler(&MockTaskService{})

		req := httptest.NewRequest(http.MethodGet, "/api/tasks?limit=abc", nil)
		w := httptest.NewRecorder()

		handler.ListTasks(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid limit parameter")
	})

	t.Run("invalid_parent_task_id", func(t *testing.T) {
		handler := newTestHandler(&MockTaskService{})

		req := httptest.NewRequest(http.MethodGet, "/api/tasks?parent_task_id=nope", nil)
		w := httptest.NewRecorder()

		handler.ListTasks(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid parent_task_id parameter")
	})

	t.Run("service_failure", func(t *testing.T) {
		svc := &MockTaskService{
			ListFn: func(ctx context.Context, params service.ListTasksParams) ([]*domain.Task, error) {
				return nil, errors.New("store unavailable")
			},
		}
		handler := newTestHandler(svc)

		req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
		w := httptest.NewRecorder()

		handler.ListTasks(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "Failed to list tasks")
	})
}

func TestTaskHandler_ChainTask(t *testing.T) {
	chainBody := `{"name": "translate summary", "instruction": "Translate to French"}`

	t.Run("successful_chain", func(t *testing.T) {
		child := fixedTask(domain.TaskStatusReady)
		child.ParentTaskID = &fixedParentID

		svc := &MockTaskService{
			ChainFn: func(ctx context.Context, parentID uuid.UUID, params service.ChainTaskParams) (*domain.Task, error) {
				assert.Equal(t, fixedParentID, parentID)
				assert.Equal(t, "translate summary", params.Name)
				assert.Equal(t, "Translate to French", params.Instruction)
				return child, nil
			},
		}
		handler := newTestHandler(svc)

		req := withRouteID(httptest.NewRequest(
			http.MethodPost,
			"/api/tasks/"+fixedParentID.String()+"/chain",
			bytes.NewBufferString(chainBody)), fixedParentID.String())
		w := httptest.NewRecorder()

		handler.ChainTask(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		resp := decodeTaskResponse(t, w)
		require.NotNil(t, resp.ParentTaskID)
		assert.Equal(t, fixedParentID.String(), *resp.ParentTaskID)
	})

	t.Run("parent_not_found", func(t *testing.T) {
		svc := &MockTaskService{
			ChainFn: func(ctx context.Context, parentID uuid.UUID, params service.ChainTaskParams) (*domain.Task, error) {
				return nil, service.ErrTaskNotFound
			},
		}
		handler := newTestHandler(svc)

		req := withRouteID(httptest.NewRequest(
			http.MethodPost,
			"/api/tasks/"+fixedParentID.String()+"/chain",
			bytes.NewBufferString(chainBody)), fixedParentID.String())
		w := httptest.NewRecorder()

		handler.ChainTask(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "Task not found")
	})

	t.Run("parent_not_chainable", func(t *testing.T) {
		svc := &MockTaskService{
			ChainFn: func(ctx context.Context, parentID uuid.UUID, params service.ChainTaskParams) (*domain.Task, error) {
				return nil, fmt.Errorf("%w: parent status is %q",
					domain.ErrParentNotChainable, domain.TaskStatusFailed)
			},
		}
		handler := newTestHandler(svc)

		req := withRouteID(httptest.NewRequest(
			http.MethodPost,
			"/api/tasks/"+fixedParentID.String()+"/chain",
			bytes.NewBufferString(chainBody)), fixedParentID.String())
		w := httptest.NewRecorder()

		handler.ChainTask(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "Parent task must be completed with output to chain")
	})

	t.Run("missing_instruction", func(t *testing.T) {
		handler := newTestHandler(&MockTaskService{})

		req := withRouteID(httptest.NewRequest(
			http.MethodPost,
			"/api/tasks/"+fixedParentID.String()+"/chain",
			bytes.NewBufferString(`{"name": "x"}`)), fixedParentID.String())
		w := httptest.NewRecorder()

		handler.ChainTask(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid Instruction: required field")
	})
}

func TestTaskHandler_RetryTask(t *testing.T) {
	t.Run("retry_without_body_keeps_budget", func(t *testing.T) {
		svc := &MockTaskService{
			RetryFn: func(ctx context.Context, id uuid.UUID, newMaxAttempts *int) (*domain.Task, error) {
				assert.Equal(t, fixedTaskID, id)
				assert.Nil(t, newMaxAttempts)
				return fixedTask(domain.TaskStatusReady), nil
			},
		}
		handler := newTestHandler(svc)

		req := withRouteID(httptest.NewRequest(
			http.MethodPost, "/api/tasks/"+fixedTaskID.String()+"/retry", nil),
			fixedTaskID.String())
		w := httptest.NewRecorder()

		handler.RetryTask(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		resp := decodeTaskResponse(t, w)
		assert.Equal(t, "ready", resp.Status)
	})

	t.Run("retry_with_budget_override", func(t *testing.T) {
		svc := &MockTaskService{
			RetryFn: func(ctx context.Context, id uuid.UUID, newMaxAttempts *int) (*domain.Task, error) {
				require.NotNil(t, newMaxAttempts)
				assert.Equal(t, 5, *newMaxAttempts)
				task := fixedTask(domain.TaskStatusReady)
				task.MaxAttempts = 5
				return task, nil
			},
		}
		handler := newTestHandler(svc)

		req := withRouteID(httptest.NewRequest(
			http.MethodPost,
			"/api/tasks/"+fixedTaskID.String()+"/retry",
			bytes.NewBufferString(`{"max_attempts": 5}`)), fixedTaskID.String())
		w := httptest.NewRecorder()

		handler.RetryTask(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		resp := decodeTaskResponse(t, w)
		assert.Equal(t, 5, resp.MaxAttempts)
	})

	t.Run("budget_below_floor", func(t *testing.T) {
		handler := newTestHandler(&MockTaskService{})

		req := withRouteID(httptest.NewRequest(
			http.MethodPost,
			"/api/tasks/"+fixedTaskID.String()+"/retry",
			bytes.NewBufferString(`{"max_attempts": 0}`)), fixedTaskID.String())
		w := httptest.NewRecorder()

		handler.RetryTask(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not_failed", func(t *testing.T) {
		svc := &MockTaskService{
			RetryFn: func(ctx context.Context, id uuid.UUID, newMaxAttempts *int) (*domain.Task, error) {
				return nil, fmt.Errorf("%w: cannot retry task in status %q",
					store.ErrPreconditionFailed, domain.TaskStatusCompleted)
			},
		}
		handler := newTestHandler(svc)

		req := withRouteID(httptest.NewRequest(
			http.MethodPost, "/api/tasks/"+fixedTaskID.String()+"/retry", nil),
			fixedTaskID.String())
		w := httptest.NewRecorder()

		handler.RetryTask(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "Only failed tasks can be retried")
	})

	t.Run("not_found", func(t *testing.T) {
		svc := &MockTaskService{
			RetryFn: func(ctx context.Context, id uuid.UUID, newMaxAttempts *int) (*domain.Task, error) {
				return nil, service.ErrTaskNotFound
			},
		}
		handler := newTestHandler(svc)

		req := withRouteID(httptest.NewRequest(
			http.MethodPost, "/api/tasks/"+fixedTaskID.String()+"/retry", nil),
			fixedTaskID.String())
		w := httptest.NewRecorder()

		handler.RetryTask(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTaskHandler_CancelTask(t *testing.T) {
	t.Run("cancel_executing_task_flags_it", func(t *testing.T) {
		task := fixedTask(domain.TaskStatusExecuting)
		task.CancelRequested = true

		svc := &MockTaskService{
			CancelFn: func(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
				assert.Equal(t, fixedTaskID, id)
				return task, nil
			},
		}
		handler := newTestHandler(svc)

		req := withRouteID(httptest.NewRequest(
			http.MethodPost, "/api/tasks/"+fixedTaskID.String()+"/cancel", nil),
			fixedTaskID.String())
		w := httptest.NewRecorder()

		handler.CancelTask(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeTaskResponse(t, w)
		assert.Equal(t, "executing", resp.Status)
		assert.True(t, resp.CancelRequested)
	})

	t.Run("not_found", func(t *testing.T) {
		svc := &MockTaskService{
			CancelFn: func(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
				return nil, service.ErrTaskNotFound
			},
		}
		handler := newTestHandler(svc)

		req := withRouteID(httptest.NewRequest(
			http.MethodPost, "/api/tasks/"+fixedTaskID.String()+"/cancel", nil),
			fixedTaskID.String())
		w := httptest.NewRecorder()

		handler.CancelTask(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "Task not found")
	})
}

func TestHandleHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	HandleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok": true}`, w.Body.String())
}
