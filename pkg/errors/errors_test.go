package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without detail",
			err: &AppError{
				Code:    ErrCodeUnauthorized,
				Message: "Authentication required",
			},
			expected: "unauthorized: Authentication required",
		},
		{
			name: "error with detail",
			err: &AppError{
				Code:    ErrCodeInvalidPermissions,
				Message: "Invalid permissions request",
				Detail:  "expiry must be at least 1",
			},
			expected: "invalid_permissions: Invalid permissions request (expiry must be at least 1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNew(t *testing.T) {
	err := New("test_code", "Test message", http.StatusTeapot)

	assert.Equal(t, "test_code", err.Code)
	assert.Equal(t, "Test message", err.Message)
	assert.Equal(t, http.StatusTeapot, err.StatusCode)
	assert.Empty(t, err.Detail)
}

func TestNewWithDetail(t *testing.T) {
	err := NewWithDetail("test_code", "Test message", "Additional details", http.StatusBadRequest)

	assert.Equal(t, "test_code", err.Code)
	assert.Equal(t, "Additional details", err.Detail)
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
}

func TestWithDetail(t *testing.T) {
	err := ErrNoAuthorizedKey.WithDetail("0xabc")

	assert.Equal(t, "0xabc", err.Detail)
	assert.Empty(t, ErrNoAuthorizedKey.Detail, "predefined error is not mutated")
	assert.Equal(t, ErrNoAuthorizedKey.StatusCode, err.StatusCode)
}

func TestIs(t *testing.T) {
	t.Run("detailed error matches predefined", func(t *testing.T) {
		err := fmt.Errorf("prepare calls: %w", InvalidPermissions("calls must not be empty"))
		assert.True(t, errors.Is(err, ErrInvalidPermissions))
		assert.False(t, errors.Is(err, ErrNoAdminKey))
	})

	t.Run("plain errors do not match", func(t *testing.T) {
		assert.False(t, errors.Is(errors.New("boom"), ErrLastAdminKey))
	})
}

func TestRelayError(t *testing.T) {
	err := RelayError("dial tcp: refused")

	assert.Equal(t, ErrCodeRelayError, err.Code)
	assert.Equal(t, http.StatusBadGateway, err.StatusCode)
}

func TestIsAppError(t *testing.T) {
	t.Run("returns true for AppError", func(t *testing.T) {
		appErr, ok := IsAppError(ErrLastAdminKey)
		require.True(t, ok)
		assert.Equal(t, ErrCodeLastAdminKey, appErr.Code)
	})

	t.Run("returns true for wrapped AppError", func(t *testing.T) {
		wrapped := fmt.Errorf("revoke admin: %w", ErrLastAdminKey)
		appErr, ok := IsAppError(wrapped)
		require.True(t, ok)
		assert.Equal(t, ErrCodeLastAdminKey, appErr.Code)
	})

	t.Run("returns false for regular error", func(t *testing.T) {
		appErr, ok := IsAppError(errors.New("regular error"))
		assert.False(t, ok)
		assert.Nil(t, appErr)
	})
}
