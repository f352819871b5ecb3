package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/conjure-api/internal/domain"
	"github.com/phrazzld/conjure-api/internal/service"
	"github.com/phrazzld/conjure-api/internal/store"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "nil_error",
			err:      nil,
			expected: http.StatusInternalServerError,
		},
		{
			name:     "validation_sentinel",
			err:      domain.ErrEmptyTaskName,
			expected: http.StatusBadRequest,
		},
		{
			name:     "wrapped_validation_error",
			err:      fmt.Errorf("creating task: %w", domain.ErrInvalidMaxAttempts),
			expected: http.StatusBadRequest,
		},
		{
			name:     "service_not_found",
			err:      service.ErrTaskNotFound,
			expected: http.StatusNotFound,
		},
		{
			name:     "store_not_found",
			err:      fmt.Errorf("getting task: %w", store.ErrTaskNotFound),
			expected: http.StatusNotFound,
		},
		{
			name: "parent_not_chainable",
			err: fmt.Errorf("%w: parent status is %q",
				domain.ErrParentNotChainable, domain.TaskStatusExecuting),
			expected: http.StatusConflict,
		},
		{
			name:     "precondition_failed",
			err:      fmt.Errorf("retrying task: %w", store.ErrPreconditionFailed),
			expected: http.StatusConflict,
		},
		{
			name:     "unknown_error",
			err:      errors.New("connection refused"),
			expected: http.StatusInternalServerError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, MapErrorToStatusCode(tc.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "nil_error",
			err:      nil,
			expected: "An unexpected error occurred",
		},
		{
			// Validation messages are written for API consumers and pass
			// through unchanged.
			name:     "validation_error_passes_through",
			err:      domain.ErrEmptyTaskPrompt,
			expected: domain.ErrEmptyTaskPrompt.Error(),
		},
		{
			name:     "not_found",
			err:      service.ErrTaskNotFound,
			expected: "Task not found",
		},
		{
			name:     "store_not_found",
			err:      fmt.Errorf("getting task: %w", store.ErrTaskNotFound),
			expected: "Task not found",
		},
		{
			name: "parent_not_chainable",
			err: fmt.Errorf("%w: parent status is %q",
				domain.ErrParentNotChainable, domain.TaskStatusFailed),
			expected: "Parent task must be completed with output to chain",
		},
		{
			name:     "precondition_failed",
			err:      fmt.Errorf("cancelling task: %w", store.ErrPreconditionFailed),
			expected: "Task is not in a state that allows this operation",
		},
		{
			// Internal errors never leak their details to clients.
			name:     "unknown_error",
			err:      errors.New("pq: connection refused at 10.0.0.5:5432"),
			expected: "An unexpected error occurred",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, GetSafeErrorMessage(tc.err))
		})
	}
}

func TestSanitizeValidationError(t *testing.T) {
	validate := validator.New()

	t.Run("missing_required_field", func(t *testing.T) {
		err := validate.Struct(CreateTaskRequest{Name: "x"})
		assert.Equal(t, "Invalid Prompt: required field", SanitizeValidationError(err))
	})

	t.Run("value_over_ceiling", func(t *testing.T) {
		err := validate.Struct(CreateTaskRequest{Name: "x", Prompt: "y", MaxAttempts: 99})
		assert.Equal(t, "Invalid MaxAttempts: too large", SanitizeValidationError(err))
	})

	t.Run("name_too_long", func(t *testing.T) {
		long := make([]byte, 201)
		for i := range long {
			long[i] = 'a'
		}
		err := validate.Struct(CreateTaskRequest{Name: string(long), Prompt: "y"})
		assert.Equal(t, "Invalid Name: too long", SanitizeValidationError(err))
	})

	t.Run("multiple_failures_reports_first", func(t *testing.T) {
		err := validate.Struct(ChainTaskRequest{})
		assert.Equal(t, "Invalid Name: required field", SanitizeValidationError(err))
	})

	t.Run("non_validator_error", func(t *testing.T) {
		assert.Equal(t, "Validation error",
			SanitizeValidationError(errors.New("something else entirely")))
	})
}
