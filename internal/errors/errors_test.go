package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Pairing session not found")
		assert.Equal(t, "NOT_FOUND: Pairing session not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("redis: connection refused")
		err := CollaboratorUnavailable(cause)
		assert.Contains(t, err.Error(), "COLLABORATOR_UNAVAILABLE")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "phoneNumber", "reason": "too short"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})

	t.Run("NotReady carries the connection state", func(t *testing.T) {
		err := NotReady("disconnected")
		assert.Equal(t, map[string]string{"connectionState": "disconnected"}, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
		retryable    bool
	}{
		{"NotFound", func() *AppError { return NotFound("Pairing session") }, ErrCodeNotFound, false},
		{"Conflict", func() *AppError { return Conflict("already linked") }, ErrCodeConflict, false},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation, false},
		{"InvalidInput", func() *AppError { return InvalidInput("phoneNumber", "invalid") }, ErrCodeInvalidInput, false},
		{"MissingRequired", func() *AppError { return MissingRequired("phoneNumber") }, ErrCodeMissingRequired, false},
		{"NotReady", func() *AppError { return NotReady("connecting") }, ErrCodeNotReady, true},
		{"CollaboratorUnavailable", func() *AppError { return CollaboratorUnavailable(nil) }, ErrCodeCollaboratorUnavailable, true},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded, true},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
			assert.Equal(t, tc.retryable, err.Retryable())
		})
	}
}

func TestDatabase(t *testing.T) {
	t.Run("wraps database error", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Database(cause)
		assert.Equal(t, ErrCodeDatabase, err.Code)
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("finds wrapped AppError", func(t *testing.T) {
		wrapped := fmt.Errorf("request code: %w", NotReady("connecting"))

		appErr, ok := AsAppError(wrapped)
		assert.True(t, ok)
		assert.Equal(t, ErrCodeNotReady, appErr.Code)
		assert.True(t, IsAppError(wrapped))
	})

	t.Run("returns false for plain errors", func(t *testing.T) {
		_, ok := AsAppError(errors.New("plain"))
		assert.False(t, ok)
		assert.False(t, IsAppError(errors.New("plain")))
	})
}

func TestGetCode(t *testing.T) {
	t.Run("returns code for AppError", func(t *testing.T) {
		assert.Equal(t, ErrCodeNotFound, GetCode(NotFound("x")))
	})

	t.Run("returns internal for plain errors", func(t *testing.T) {
		assert.Equal(t, ErrCodeInternal, GetCode(errors.New("boom")))
	})

	t.Run("HasCode matches wrapped errors", func(t *testing.T) {
		err := fmt.Errorf("mark linked: %w", Conflict("not pending"))
		assert.True(t, HasCode(err, ErrCodeConflict))
		assert.False(t, HasCode(err, ErrCodeNotFound))
		assert.False(t, HasCode(nil, ErrCodeConflict))
	})
}
