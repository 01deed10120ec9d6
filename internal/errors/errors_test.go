package errors

import (
	"context"
	"errors"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestAppError(t *testing.T) {
	cause := errors.New("underlying error")
	appErr := NewAppError(ErrorTypeNetwork, "connection failed", cause)

	if appErr.Type != ErrorTypeNetwork {
		t.Errorf("Expected type %v, got %v", ErrorTypeNetwork, appErr.Type)
	}

	if appErr.Message != "connection failed" {
		t.Errorf("Expected message 'connection failed', got %v", appErr.Message)
	}

	if appErr.Cause != cause {
		t.Errorf("Expected cause %v, got %v", cause, appErr.Cause)
	}

	if appErr.IsRecoverable() {
		t.Error("Expected non-recoverable error")
	}

	expectedError := "network: connection failed (caused by: underlying error)"
	if appErr.Error() != expectedError {
		t.Errorf("Expected error string %v, got %v", expectedError, appErr.Error())
	}
}

func TestAppErrorWithContext(t *testing.T) {
	appErr := NewAppError(ErrorTypeJobFailed, "job failed", nil)
	appErr.WithContext("object", "Account").WithContext("attempt", 3)

	if appErr.Context["object"] != "Account" {
		t.Errorf("Expected context object=Account, got %v", appErr.Context["object"])
	}

	if appErr.Context["attempt"] != 3 {
		t.Errorf("Expected context attempt=3, got %v", appErr.Context["attempt"])
	}
}

func TestNewRecoverableError(t *testing.T) {
	appErr := NewRecoverableError(ErrorTypeNetwork, "temporary failure", nil)

	if !appErr.IsRecoverable() {
		t.Error("Expected recoverable error")
	}
}

func TestNewObjectUnsupportedError(t *testing.T) {
	appErr := NewObjectUnsupportedError("CaseStatus", "Entity 'CaseStatus' is not supported by the Bulk API")

	if appErr.Type != ErrorTypeObjectUnsupported {
		t.Errorf("Expected type %v, got %v", ErrorTypeObjectUnsupported, appErr.Type)
	}
	if appErr.IsRecoverable() {
		t.Error("Expected non-recoverable error: skipped objects are never retried")
	}
	if appErr.Context["object"] != "CaseStatus" {
		t.Errorf("Expected context object=CaseStatus, got %v", appErr.Context["object"])
	}
}

func TestNewJobFailedError(t *testing.T) {
	tests := []struct {
		name          string
		serverMessage string
		recoverable   bool
	}{
		{
			name:          "internal error is transient",
			serverMessage: "InternalServerError : INTERNAL_ERROR: An internal server error has occurred",
			recoverable:   true,
		},
		{
			name:          "server unavailable is transient",
			serverMessage: "SERVER_UNAVAILABLE: please try again later",
			recoverable:   true,
		},
		{
			name:          "storage limit is transient",
			serverMessage: "Async storage limit reached for the org",
			recoverable:   true,
		},
		{
			name:          "malformed query is terminal",
			serverMessage: "InvalidBatch : field 'Foo__c' does not exist",
			recoverable:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := NewJobFailedError("Account", "750xx000000001", tt.serverMessage)

			if appErr.Type != ErrorTypeJobFailed {
				t.Errorf("Expected type %v, got %v", ErrorTypeJobFailed, appErr.Type)
			}
			if appErr.IsRecoverable() != tt.recoverable {
				t.Errorf("Expected recoverable=%v, got %v", tt.recoverable, appErr.IsRecoverable())
			}
			if appErr.Context["job_id"] != "750xx000000001" {
				t.Errorf("Expected context job_id, got %v", appErr.Context["job_id"])
			}
		})
	}
}

func TestNewJobTimedOutError(t *testing.T) {
	appErr := NewJobTimedOutError("Account", "750xx000000001", 300)

	if appErr.Type != ErrorTypeJobTimedOut {
		t.Errorf("Expected type %v, got %v", ErrorTypeJobTimedOut, appErr.Type)
	}
	if !appErr.IsRecoverable() {
		t.Error("Expected recoverable error: the job may still finish")
	}
	if appErr.Context["attempts"] != 300 {
		t.Errorf("Expected context attempts=300, got %v", appErr.Context["attempts"])
	}
}

func TestNewAuthExpiredError(t *testing.T) {
	appErr := NewAuthExpiredError(nil)

	if appErr.Type != ErrorTypeAuthExpired {
		t.Errorf("Expected type %v, got %v", ErrorTypeAuthExpired, appErr.Type)
	}
	if appErr.IsRecoverable() {
		t.Error("Expected non-recoverable error")
	}
	if !IsFatal(appErr) {
		t.Error("Expected auth expiry to be fatal for the run")
	}
	if appErr.GetUserMessage() == appErr.Message {
		t.Error("Expected a dedicated user message")
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "auth expired",
			err:  NewAuthExpiredError(nil),
			want: true,
		},
		{
			name: "job failed",
			err:  NewJobFailedError("Account", "750xx", "InvalidBatch"),
			want: false,
		},
		{
			name: "regular error",
			err:  errors.New("boom"),
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorClassifier_ClassifyHTTPStatus(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		statusCode   int
		body         string
		expectedType ErrorType
		recoverable  bool
	}{
		{
			name:         "unauthorized",
			statusCode:   http.StatusUnauthorized,
			body:         `[{"errorCode":"INVALID_SESSION_ID"}]`,
			expectedType: ErrorTypeAuthExpired,
			recoverable:  false,
		},
		{
			name:         "request limit exceeded",
			statusCode:   http.StatusForbidden,
			body:         `[{"errorCode":"REQUEST_LIMIT_EXCEEDED"}]`,
			expectedType: ErrorTypeRateLimit,
			recoverable:  true,
		},
		{
			name:         "forbidden",
			statusCode:   http.StatusForbidden,
			body:         `[{"errorCode":"API_DISABLED_FOR_ORG"}]`,
			expectedType: ErrorTypePermission,
			recoverable:  false,
		},
		{
			name:         "not found",
			statusCode:   http.StatusNotFound,
			body:         `[{"errorCode":"NOT_FOUND"}]`,
			expectedType: ErrorTypeValidation,
			recoverable:  false,
		},
		{
			name:         "too many requests",
			statusCode:   http.StatusTooManyRequests,
			expectedType: ErrorTypeRateLimit,
			recoverable:  true,
		},
		{
			name:         "server error",
			statusCode:   http.StatusServiceUnavailable,
			expectedType: ErrorTypeNetwork,
			recoverable:  true,
		},
		{
			name:         "bad request",
			statusCode:   http.StatusBadRequest,
			body:         `[{"errorCode":"INVALIDENTITY"}]`,
			expectedType: ErrorTypeValidation,
			recoverable:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyHTTPStatus(tt.statusCode, tt.body)

			if appErr == nil {
				t.Fatal("Expected an error, got nil")
			}
			if appErr.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, appErr.Type)
			}
			if appErr.IsRecoverable() != tt.recoverable {
				t.Errorf("Expected recoverable=%v, got %v", tt.recoverable, appErr.IsRecoverable())
			}
		})
	}

	if appErr := classifier.ClassifyHTTPStatus(http.StatusOK, ""); appErr != nil {
		t.Errorf("Expected nil for 200, got %v", appErr)
	}
	if appErr := classifier.ClassifyHTTPStatus(http.StatusNoContent, ""); appErr != nil {
		t.Errorf("Expected nil for 204, got %v", appErr)
	}
}

func TestErrorClassifier_ClassifyContextError(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		err          error
		expectedType ErrorType
		recoverable  bool
	}{
		{
			name:         "deadline exceeded",
			err:          context.DeadlineExceeded,
			expectedType: ErrorTypeTimeout,
			recoverable:  true,
		},
		{
			name:         "context canceled",
			err:          context.Canceled,
			expectedType: ErrorTypeInterruption,
			recoverable:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyError(tt.err)

			if appErr.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, appErr.Type)
			}

			if appErr.IsRecoverable() != tt.recoverable {
				t.Errorf("Expected recoverable=%v, got %v", tt.recoverable, appErr.IsRecoverable())
			}
		})
	}
}

func TestErrorClassifier_ClassifyFileSystemError(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		err          error
		expectedType ErrorType
	}{
		{
			name:         "file not found",
			err:          &os.PathError{Op: "open", Path: "/nonexistent", Err: syscall.ENOENT},
			expectedType: ErrorTypeValidation,
		},
		{
			name:         "permission denied",
			err:          &os.PathError{Op: "open", Path: "/restricted", Err: syscall.EACCES},
			expectedType: ErrorTypePermission,
		},
		{
			name:         "no space left",
			err:          &os.PathError{Op: "write", Path: "/full", Err: syscall.ENOSPC},
			expectedType: ErrorTypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyError(tt.err)

			if appErr.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, appErr.Type)
			}
		})
	}
}

func TestErrorClassifier_ClassifyNetworkError(t *testing.T) {
	classifier := NewErrorClassifier()

	// Create a mock network error
	mockNetErr := &mockNetError{timeout: true}
	appErr := classifier.ClassifyError(mockNetErr)

	if appErr.Type != ErrorTypeTimeout {
		t.Errorf("Expected type %v, got %v", ErrorTypeTimeout, appErr.Type)
	}

	if !appErr.IsRecoverable() {
		t.Error("Expected recoverable error for timeout")
	}
}

// Mock network error for testing
type mockNetError struct {
	timeout bool
}

func (e *mockNetError) Error() string   { return "mock network error" }
func (e *mockNetError) Timeout() bool   { return e.timeout }
func (e *mockNetError) Temporary() bool { return false }

func TestRetryHandler_Retry(t *testing.T) {
	config := RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		Multiplier:  2.0,
	}
	handler := NewRetryHandler(config)

	t.Run("success on first attempt", func(t *testing.T) {
		attempts := 0
		operation := func() error {
			attempts++
			return nil
		}

		ctx := context.Background()
		err := handler.Retry(ctx, operation)

		if err != nil {
			t.Errorf("Expected no error, got %v", err)
		}

		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("success after retries", func(t *testing.T) {
		attempts := 0
		operation := func() error {
			attempts++
			if attempts < 3 {
				return NewRecoverableError(ErrorTypeNetwork, "temporary failure", nil)
			}
			return nil
		}

		ctx := context.Background()
		err := handler.Retry(ctx, operation)

		if err != nil {
			t.Errorf("Expected no error, got %v", err)
		}

		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("non-recoverable error", func(t *testing.T) {
		attempts := 0
		operation := func() error {
			attempts++
			return NewAppError(ErrorTypeValidation, "validation failed", nil)
		}

		ctx := context.Background()
		err := handler.Retry(ctx, operation)

		if err == nil {
			t.Error("Expected error, got nil")
		}

		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}

		var appErr *AppError
		if !errors.As(err, &appErr) || appErr.Type != ErrorTypeValidation {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	t.Run("auth expiry is never retried", func(t *testing.T) {
		attempts := 0
		operation := func() error {
			attempts++
			return NewAuthExpiredError(nil)
		}

		ctx := context.Background()
		err := handler.Retry(ctx, operation)

		if err == nil {
			t.Error("Expected error, got nil")
		}

		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("max attempts exceeded", func(t *testing.T) {
		attempts := 0
		operation := func() error {
			attempts++
			return NewRecoverableError(ErrorTypeNetwork, "always fails", nil)
		}

		ctx := context.Background()
		err := handler.Retry(ctx, operation)

		if err == nil {
			t.Error("Expected error, got nil")
		}

		if attempts != config.MaxAttempts {
			t.Errorf("Expected %d attempts, got %d", config.MaxAttempts, attempts)
		}
	})

	t.Run("context canceled", func(t *testing.T) {
		attempts := 0
		operation := func() error {
			attempts++
			return NewRecoverableError(ErrorTypeNetwork, "temporary failure", nil)
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		err := handler.Retry(ctx, operation)

		if err == nil {
			t.Error("Expected error, got nil")
		}

		var appErr *AppError
		if !errors.As(err, &appErr) || appErr.Type != ErrorTypeInterruption {
			t.Errorf("Expected interruption error, got %v", err)
		}
	})
}

func TestRetryHandler_CalculateDelay(t *testing.T) {
	config := RetryConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}
	handler := NewRetryHandler(config)

	tests := []struct {
		attempt     int
		expectedMin time.Duration
		expectedMax time.Duration
	}{
		{1, 100 * time.Millisecond, 200 * time.Millisecond},
		{2, 200 * time.Millisecond, 400 * time.Millisecond},
		{3, 400 * time.Millisecond, 800 * time.Millisecond},
		{4, 800 * time.Millisecond, 1 * time.Second}, // Should be capped at MaxDelay
		{5, 1 * time.Second, 1 * time.Second},        // Should be capped at MaxDelay
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			delay := handler.calculateDelay(tt.attempt)

			if delay < tt.expectedMin || delay > tt.expectedMax {
				t.Errorf("Attempt %d: expected delay between %v and %v, got %v",
					tt.attempt, tt.expectedMin, tt.expectedMax, delay)
			}
		})
	}
}

func TestGracefulShutdownHandler(t *testing.T) {
	handler := NewGracefulShutdownHandler()

	shutdownCalled := false
	handler.RegisterShutdownFunc(func() error {
		shutdownCalled = true
		return nil
	})

	// Test that shutdown function is called
	handler.shutdown()

	if !shutdownCalled {
		t.Error("Expected shutdown function to be called")
	}
}

func TestIsRecoverableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "recoverable app error",
			err:  NewRecoverableError(ErrorTypeNetwork, "temp failure", nil),
			want: true,
		},
		{
			name: "non-recoverable app error",
			err:  NewAppError(ErrorTypeValidation, "validation failed", nil),
			want: false,
		},
		{
			name: "regular error",
			err:  errors.New("regular error"),
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverableError(tt.err); got != tt.want {
				t.Errorf("IsRecoverableError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{
			name: "app error",
			err:  NewAppError(ErrorTypeNetwork, "connection failed", nil),
			want: ErrorTypeNetwork,
		},
		{
			name: "regular error",
			err:  errors.New("regular error"),
			want: ErrorTypeUnknown,
		},
		{
			name: "nil error",
			err:  nil,
			want: ErrorTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorType(tt.err); got != tt.want {
				t.Errorf("GetErrorType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "app error with user message",
			err: &AppError{
				Type:        ErrorTypeNetwork,
				Message:     "technical message",
				UserMessage: "user-friendly message",
			},
			want: "user-friendly message",
		},
		{
			name: "app error without user message",
			err: &AppError{
				Type:    ErrorTypeNetwork,
				Message: "technical message",
			},
			want: "technical message",
		},
		{
			name: "regular error",
			err:  errors.New("regular error"),
			want: "An unexpected error occurred. Please check the logs for more details.",
		},
		{
			name: "nil error",
			err:  nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatUserError(tt.err); got != tt.want {
				t.Errorf("FormatUserError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapError(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := WrapError(originalErr, "wrapped message")

	var appErr *AppError
	if !errors.As(wrappedErr, &appErr) {
		t.Error("Expected wrapped error to be AppError")
	}

	if appErr.Message != "wrapped message" {
		t.Errorf("Expected message 'wrapped message', got %v", appErr.Message)
	}
}
