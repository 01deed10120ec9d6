package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeObjectUnsupported represents an object the Bulk API cannot query
	ErrorTypeObjectUnsupported ErrorType = "object_unsupported"
	// ErrorTypeJobFailed represents a bulk job that reached the Failed state
	ErrorTypeJobFailed ErrorType = "job_failed"
	// ErrorTypeJobAborted represents a bulk job aborted outside the tool
	ErrorTypeJobAborted ErrorType = "job_aborted"
	// ErrorTypeJobTimedOut represents a bulk job that exhausted the polling budget
	ErrorTypeJobTimedOut ErrorType = "job_timed_out"
	// ErrorTypeRecordValidation represents a record rejected before any write
	ErrorTypeRecordValidation ErrorType = "record_validation"
	// ErrorTypeRecordWrite represents a record rejected by the target during a write
	ErrorTypeRecordWrite ErrorType = "record_write"
	// ErrorTypeRelationshipUnresolved represents a reference that could not be remapped
	ErrorTypeRelationshipUnresolved ErrorType = "relationship_unresolved"
	// ErrorTypeAuthExpired represents expired or invalid credentials
	ErrorTypeAuthExpired ErrorType = "auth_expired"
	// ErrorTypeRateLimit represents API limit exhaustion
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeNetwork represents transport-level failures
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeValidation represents configuration or input validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeInterruption represents user interruption
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsRecoverable returns whether the error is recoverable
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: false,
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: true,
	}
}

// NewObjectUnsupportedError reports an object the Bulk API refuses to query.
// The object is skipped; the run continues.
func NewObjectUnsupportedError(object, reason string) *AppError {
	return NewAppError(ErrorTypeObjectUnsupported,
		fmt.Sprintf("object %s is not supported for bulk queries: %s", object, reason), nil).
		WithContext("object", object)
}

// NewJobFailedError reports a bulk job that ended in the Failed state.
// Infrastructure failures are retryable on a fresh job; query errors are not.
func NewJobFailedError(object, jobID, serverMessage string) *AppError {
	err := NewAppError(ErrorTypeJobFailed,
		fmt.Sprintf("bulk job for %s failed: %s", object, serverMessage), nil).
		WithContext("object", object).
		WithContext("job_id", jobID)
	if isTransientJobFailure(serverMessage) {
		err.Recoverable = true
	}
	return err
}

// NewJobAbortedError reports a bulk job aborted outside the tool.
func NewJobAbortedError(object, jobID string) *AppError {
	return NewAppError(ErrorTypeJobAborted,
		fmt.Sprintf("bulk job for %s was aborted", object), nil).
		WithContext("object", object).
		WithContext("job_id", jobID)
}

// NewJobTimedOutError reports a job that stayed non-terminal past the polling budget.
func NewJobTimedOutError(object, jobID string, attempts int) *AppError {
	return NewRecoverableError(ErrorTypeJobTimedOut,
		fmt.Sprintf("bulk job for %s did not complete after %d polls", object, attempts), nil).
		WithContext("object", object).
		WithContext("job_id", jobID).
		WithContext("attempts", attempts)
}

// NewRecordValidationError reports a record rejected before any write was attempted.
func NewRecordValidationError(object, recordID, reason string) *AppError {
	return NewAppError(ErrorTypeRecordValidation,
		fmt.Sprintf("record %s of %s failed validation: %s", recordID, object, reason), nil).
		WithContext("object", object).
		WithContext("record_id", recordID)
}

// NewRecordWriteError reports a record the target rejected during a write.
func NewRecordWriteError(object, recordID, serverMessage string) *AppError {
	return NewAppError(ErrorTypeRecordWrite,
		fmt.Sprintf("record %s of %s was rejected: %s", recordID, object, serverMessage), nil).
		WithContext("object", object).
		WithContext("record_id", recordID)
}

// NewRelationshipUnresolvedError reports a reference value that could not be
// remapped to a target-org ID. The field is nulled and the record proceeds.
func NewRelationshipUnresolvedError(object, field, value string) *AppError {
	return NewAppError(ErrorTypeRelationshipUnresolved,
		fmt.Sprintf("could not resolve %s.%s value %q in target org", object, field, value), nil).
		WithContext("object", object).
		WithContext("field", field).
		WithContext("value", value)
}

// NewAuthExpiredError reports invalid or expired credentials. Fatal for the run.
func NewAuthExpiredError(cause error) *AppError {
	return &AppError{
		Type:        ErrorTypeAuthExpired,
		Message:     "session expired or access token invalid",
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: false,
		UserMessage: "Authentication expired. Obtain a fresh access token and re-run; completed work is preserved.",
	}
}

// transient job failure markers seen in Bulk API error messages
var transientJobFailureMarkers = []string{
	"INTERNAL_ERROR",
	"SERVER_UNAVAILABLE",
	"UNKNOWN_EXCEPTION",
	"storage limit",
	"try again",
}

func isTransientJobFailure(serverMessage string) bool {
	msg := strings.ToLower(serverMessage)
	for _, marker := range transientJobFailureMarkers {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	// Check if it's already an AppError
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	// Classify network errors
	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}

	// Classify context errors
	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	// Classify file system errors
	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	// Default to unknown error
	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// ClassifyHTTPStatus maps an API response status onto the error taxonomy.
// Returns nil for successful statuses.
func (ec *ErrorClassifier) ClassifyHTTPStatus(statusCode int, body string) *AppError {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusUnauthorized:
		return NewAuthExpiredError(nil).WithContext("status_code", statusCode)
	case statusCode == http.StatusForbidden:
		if strings.Contains(body, "REQUEST_LIMIT_EXCEEDED") {
			return NewRecoverableError(ErrorTypeRateLimit,
				"API request limit exceeded", nil).
				WithContext("status_code", statusCode)
		}
		return NewAppError(ErrorTypePermission,
			"Insufficient permissions for the requested resource", nil).
			WithContext("status_code", statusCode).
			WithContext("body", body)
	case statusCode == http.StatusNotFound:
		return NewAppError(ErrorTypeValidation,
			"Requested resource does not exist", nil).
			WithContext("status_code", statusCode).
			WithContext("body", body)
	case statusCode == http.StatusTooManyRequests:
		return NewRecoverableError(ErrorTypeRateLimit,
			"API rate limit hit", nil).
			WithContext("status_code", statusCode)
	case statusCode >= 500:
		return NewRecoverableError(ErrorTypeNetwork,
			"Server error from API", nil).
			WithContext("status_code", statusCode).
			WithContext("body", body)
	default:
		return NewAppError(ErrorTypeValidation,
			fmt.Sprintf("API request rejected with status %d", statusCode), nil).
			WithContext("status_code", statusCode).
			WithContext("body", body)
	}
}

// classifyNetworkError classifies network-related errors
func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewRecoverableError(ErrorTypeTimeout,
				"Network operation timed out", err)
		}
	}

	// Check for specific network error types
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeNetwork,
				"Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeNetwork,
				"Network I/O error", err)
		}
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverableError(ErrorTypeTimeout,
			"Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption,
			"Operation was canceled", err)
	}

	return nil
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return NewAppError(ErrorTypeValidation,
				fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES:
			return NewAppError(ErrorTypePermission,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewAppError(ErrorTypeValidation,
				"No space left on device", err)
		}
	}

	return nil
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler provides retry functionality for operations
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
	}
}

// NewDefaultRetryHandler creates a retry handler with default configuration
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry executes a function with retry logic for recoverable errors
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		// Check if context is canceled
		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			return nil // Success
		}

		lastErr = err
		appErr := rh.classifier.ClassifyError(err)

		// If error is not recoverable, don't retry
		if !appErr.IsRecoverable() {
			return appErr
		}

		// Don't retry on the last attempt
		if attempt == rh.config.MaxAttempts {
			break
		}

		// Calculate delay with exponential backoff
		delay := rh.calculateDelay(attempt)

		// Wait before retrying
		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err())
		case <-time.After(delay):
			// Continue to next attempt
		}
	}

	// All attempts failed
	return rh.classifier.ClassifyError(lastErr).
		WithContext("attempts", rh.config.MaxAttempts)
}

// calculateDelay calculates the delay for a given attempt using exponential backoff
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)

	if delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}

	return delay
}

// GracefulShutdownHandler handles graceful shutdown on interruption signals
type GracefulShutdownHandler struct {
	shutdownFuncs []func() error
	signalChan    chan os.Signal
	done          chan bool
}

// NewGracefulShutdownHandler creates a new graceful shutdown handler
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		shutdownFuncs: make([]func() error, 0),
		signalChan:    make(chan os.Signal, 1),
		done:          make(chan bool, 1),
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.shutdownFuncs = append(gsh.shutdownFuncs, fn)
}

// Start starts listening for shutdown signals
func (gsh *GracefulShutdownHandler) Start() {
	signal.Notify(gsh.signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-gsh.signalChan
		gsh.shutdown()
	}()
}

// Stop stops the graceful shutdown handler
func (gsh *GracefulShutdownHandler) Stop() {
	signal.Stop(gsh.signalChan)
	close(gsh.signalChan)
}

// WaitForShutdown waits for shutdown to complete
func (gsh *GracefulShutdownHandler) WaitForShutdown() {
	<-gsh.done
}

// shutdown executes all registered shutdown functions
func (gsh *GracefulShutdownHandler) shutdown() {
	defer func() {
		gsh.done <- true
	}()

	for i := len(gsh.shutdownFuncs) - 1; i >= 0; i-- {
		if err := gsh.shutdownFuncs[i](); err != nil {
			// Log error but continue with shutdown
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
	}
}

// IsRecoverableError checks if an error is recoverable
func IsRecoverableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.IsRecoverable()
	}
	return false
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsFatal reports whether an error must end the whole run rather than a
// single object or record.
func IsFatal(err error) bool {
	return GetErrorType(err) == ErrorTypeAuthExpired
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}

	// For non-AppError types, provide generic message
	return "An unexpected error occurred. Please check the logs for more details."
}

// WrapError wraps an existing error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return NewAppError(appErr.Type, message, err)
	}

	classifier := NewErrorClassifier()
	classifiedErr := classifier.ClassifyError(err)
	classifiedErr.Message = message
	return classifiedErr
}
