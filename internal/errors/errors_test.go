// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	tests := []struct {
		name string
		code ErrorCode
	}{
		{"internal", ErrInternal},
		{"invalid", ErrInvalid},
		{"not found", ErrNotFound},
		{"validation", ErrValidation},
		{"network", ErrNetwork},
		{"server", ErrServer},
		{"queue exhausted", ErrQueueExhausted},
		{"sync in progress", ErrSyncInProgress},
		{"dependency not synced", ErrDependencyNotSynced},
		{"server id conflict", ErrServerIDConflict},
		{"storage unavailable", ErrStorageUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEmpty(t, tt.code)
		})
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrNetwork, Message: "dial remote", Err: errors.New("connection refused")},
			want:     "[NETWORK_ERROR] dial remote: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.appError.Error())
		})
	}
}

func TestIs_walksWrapChain(t *testing.T) {
	base := New(ErrNotFound, "note missing")
	wrapped := fmt.Errorf("update note: %w", base)

	assert.True(t, Is(wrapped, ErrNotFound))
	assert.False(t, Is(wrapped, ErrNetwork))
	assert.False(t, Is(errors.New("plain"), ErrNotFound))
	assert.False(t, Is(nil, ErrNotFound))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrServer, CodeOf(Wrap(ErrServer, "boom", errors.New("500"))))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestWrap_unwrap(t *testing.T) {
	inner := errors.New("disk I/O error")
	err := Wrap(ErrStorageUnavailable, "open store", inner)

	assert.ErrorIs(t, err, inner)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", New(ErrNetwork, "timeout"), true},
		{"server", New(ErrServer, "502"), true},
		{"validation", New(ErrValidation, "title too long"), true},
		{"not found", New(ErrNotFound, "gone"), false},
		{"plain", errors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
