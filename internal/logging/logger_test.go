package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{
			name: "default config",
			config: Config{
				Level:  LogLevelNormal,
				Format: "text",
			},
			want: LogLevelNormal,
		},
		{
			name: "verbose config",
			config: Config{
				Level:  LogLevelVerbose,
				Format: "json",
			},
			want: LogLevelVerbose,
		},
		{
			name: "quiet config",
			config: Config{
				Level:  LogLevelQuiet,
				Format: "text",
			},
			want: LogLevelQuiet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Errorf("NewLogger() error = %v", err)
				return
			}

			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestNewDefaultLogger(t *testing.T) {
	logger := NewDefaultLogger()
	if logger == nil {
		t.Error("NewDefaultLogger() returned nil")
	}

	if logger.GetLevel() != LogLevelNormal {
		t.Errorf("NewDefaultLogger() level = %v, want %v", logger.GetLevel(), LogLevelNormal)
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	config := Config{
		Level:  LogLevelVerbose,
		Output: &buf,
		Format: "text",
	}

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	fields := map[string]interface{}{
		"test_field": "test_value",
		"number":     42,
	}

	logger.WithFields(fields).Info("test message")

	output := buf.String()
	if !strings.Contains(output, "test_field=test_value") {
		t.Errorf("Expected output to contain test_field=test_value, got: %s", output)
	}
	if !strings.Contains(output, "number=42") {
		t.Errorf("Expected output to contain number=42, got: %s", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", output)
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	config := Config{
		Level:  LogLevelVerbose,
		Output: &buf,
		Format: "text",
	}

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	ctx := CreateContextWithRunID(context.Background(), "test-run-123")
	logger.WithContext(ctx).Info("test message with context")

	output := buf.String()
	if !strings.Contains(output, "run_id=test-run-123") {
		t.Errorf("Expected output to contain run_id=test-run-123, got: %s", output)
	}
}

func TestLogAPIRequest(t *testing.T) {
	var buf bytes.Buffer
	config := Config{
		Level:  LogLevelVerbose,
		Output: &buf,
		Format: "text",
	}

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	// Test successful request
	logger.LogAPIRequest("GET", "/services/data/v59.0/limits", 200, 100*time.Millisecond, nil)
	output := buf.String()
	if !strings.Contains(output, "API request completed") {
		t.Errorf("Expected success message, got: %s", output)
	}
	if !strings.Contains(output, "status=200") {
		t.Errorf("Expected status=200, got: %s", output)
	}

	// Reset buffer
	buf.Reset()

	// Test failed request
	testErr := errors.New("connection timeout")
	logger.LogAPIRequest("POST", "/services/data/v59.0/jobs/query", 0, 5*time.Second, testErr)
	output = buf.String()
	if !strings.Contains(output, "API request failed") {
		t.Errorf("Expected failure message, got: %s", output)
	}
	if !strings.Contains(output, "connection timeout") {
		t.Errorf("Expected error message, got: %s", output)
	}
}

func TestLogJobState(t *testing.T) {
	var buf bytes.Buffer
	config := Config{
		Level:  LogLevelVerbose,
		Output: &buf,
		Format: "text",
	}

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.LogJobState("Account", "750xx000000001", "InProgress", 1200, 3)
	output := buf.String()
	if !strings.Contains(output, "Job state checked") {
		t.Errorf("Expected poll message, got: %s", output)
	}
	if !strings.Contains(output, "state=InProgress") {
		t.Errorf("Expected state=InProgress, got: %s", output)
	}
	if !strings.Contains(output, "attempt=3") {
		t.Errorf("Expected attempt=3, got: %s", output)
	}
}

func TestLogObjectBackup(t *testing.T) {
	var buf bytes.Buffer
	config := Config{
		Level:  LogLevelNormal,
		Output: &buf,
		Format: "text",
	}

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.LogObjectBackup("Account", 1200, 0, 200*time.Millisecond, nil)
	output := buf.String()
	if !strings.Contains(output, "Object backup completed") {
		t.Errorf("Expected success message, got: %s", output)
	}
	if !strings.Contains(output, "records=1200") {
		t.Errorf("Expected records=1200, got: %s", output)
	}

	// Reset buffer
	buf.Reset()

	testErr := errors.New("job aborted")
	logger.LogObjectBackup("Contact", 0, 0, 50*time.Millisecond, testErr)
	output = buf.String()
	if !strings.Contains(output, "Object backup failed") {
		t.Errorf("Expected failure message, got: %s", output)
	}
	if !strings.Contains(output, "job aborted") {
		t.Errorf("Expected error message, got: %s", output)
	}
}

func TestLogRestoreBatch(t *testing.T) {
	var buf bytes.Buffer
	config := Config{
		Level:  LogLevelNormal,
		Output: &buf,
		Format: "text",
	}

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.LogRestoreBatch("Account", 1, 200, 0, 100*time.Millisecond)
	output := buf.String()
	if !strings.Contains(output, "Restore batch completed") {
		t.Errorf("Expected success message, got: %s", output)
	}
	if !strings.Contains(output, "succeeded=200") {
		t.Errorf("Expected succeeded=200, got: %s", output)
	}

	// Reset buffer
	buf.Reset()

	// Batches with failures log at warn level
	logger.LogRestoreBatch("Contact", 2, 195, 5, 100*time.Millisecond)
	output = buf.String()
	if !strings.Contains(output, "Restore batch completed with failures") {
		t.Errorf("Expected failure message, got: %s", output)
	}
	if !strings.Contains(output, "failed=5") {
		t.Errorf("Expected failed=5, got: %s", output)
	}
}

func TestSetLevel(t *testing.T) {
	logger := NewDefaultLogger()

	logger.SetLevel(LogLevelVerbose)
	if logger.GetLevel() != LogLevelVerbose {
		t.Errorf("SetLevel() failed, got %v, want %v", logger.GetLevel(), LogLevelVerbose)
	}

	logger.SetLevel(LogLevelQuiet)
	if logger.GetLevel() != LogLevelQuiet {
		t.Errorf("SetLevel() failed, got %v, want %v", logger.GetLevel(), LogLevelQuiet)
	}
}

func TestIsLevelEnabled(t *testing.T) {
	tests := []struct {
		name        string
		loggerLevel LogLevel
		testLevel   LogLevel
		want        bool
	}{
		{"quiet logger, error level", LogLevelQuiet, LogLevelQuiet, true},
		{"quiet logger, normal level", LogLevelQuiet, LogLevelNormal, false},
		{"normal logger, normal level", LogLevelNormal, LogLevelNormal, true},
		{"normal logger, verbose level", LogLevelNormal, LogLevelVerbose, false},
		{"verbose logger, verbose level", LogLevelVerbose, LogLevelVerbose, true},
		{"verbose logger, debug level", LogLevelVerbose, LogLevelDebug, false},
		{"debug logger, debug level", LogLevelDebug, LogLevelDebug, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			config := Config{
				Level:  tt.loggerLevel,
				Output: &buf,
				Format: "text",
			}

			logger, err := NewLogger(config)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}

			if got := logger.IsLevelEnabled(tt.testLevel); got != tt.want {
				t.Errorf("IsLevelEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogOperationStart(t *testing.T) {
	var buf bytes.Buffer
	config := Config{
		Level:  LogLevelVerbose,
		Output: &buf,
		Format: "text",
	}

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	fields := map[string]interface{}{
		"object": "Account",
		"count":  100,
	}

	finishFunc := logger.LogOperationStart("test_operation", fields)

	// Check start message
	output := buf.String()
	if !strings.Contains(output, "Operation started") {
		t.Errorf("Expected start message, got: %s", output)
	}
	if !strings.Contains(output, "object=Account") {
		t.Errorf("Expected object=Account, got: %s", output)
	}

	// Reset buffer
	buf.Reset()

	// Test successful completion
	finishFunc(nil)
	output = buf.String()
	if !strings.Contains(output, "Operation completed") {
		t.Errorf("Expected completion message, got: %s", output)
	}
	if !strings.Contains(output, "success=true") {
		t.Errorf("Expected success=true, got: %s", output)
	}

	// Reset buffer
	buf.Reset()

	// Test failed completion
	finishFunc2 := logger.LogOperationStart("test_operation_2", fields)
	buf.Reset() // Clear start message

	testErr := errors.New("operation failed")
	finishFunc2(testErr)
	output = buf.String()
	if !strings.Contains(output, "Operation failed") {
		t.Errorf("Expected failure message, got: %s", output)
	}
	if !strings.Contains(output, "success=false") {
		t.Errorf("Expected success=false, got: %s", output)
	}
	if !strings.Contains(output, "operation failed") {
		t.Errorf("Expected error message, got: %s", output)
	}
}

func TestCreateContextWithRunID(t *testing.T) {
	ctx := context.Background()
	runID := "test-123"

	newCtx := CreateContextWithRunID(ctx, runID)

	retrievedID := GetRunIDFromContext(newCtx)
	if retrievedID != runID {
		t.Errorf("GetRunIDFromContext() = %v, want %v", retrievedID, runID)
	}
}

func TestGetRunIDFromContext(t *testing.T) {
	// Test with no run ID
	ctx := context.Background()
	id := GetRunIDFromContext(ctx)
	if id != "" {
		t.Errorf("GetRunIDFromContext() = %v, want empty string", id)
	}

	// Test with run ID
	runID := "test-456"
	ctx = CreateContextWithRunID(ctx, runID)
	id = GetRunIDFromContext(ctx)
	if id != runID {
		t.Errorf("GetRunIDFromContext() = %v, want %v", id, runID)
	}
}

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain URL",
			input: "/services/data/v59.0/sobjects/Account/describe",
			want:  "/services/data/v59.0/sobjects/Account/describe",
		},
		{
			name:  "URL with access token",
			input: "https://example.my.salesforce.com/cometd?access_token=00Dsecret&replay=-1",
			want:  "https://example.my.salesforce.com/cometd?access_token=***&replay=-1",
		},
		{
			name:  "trailing access token",
			input: "https://example.my.salesforce.com/cometd?access_token=00Dsecret",
			want:  "https://example.my.salesforce.com/cometd?access_token=***",
		},
		{
			name:  "very long URL",
			input: strings.Repeat("/services/data/v59.0/query?q=SELECT+Id+", 20),
			want:  strings.Repeat("/services/data/v59.0/query?q=SELECT+Id+", 20)[:500] + "... [truncated]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeURL(tt.input); got != tt.want {
				t.Errorf("SanitizeURL() = %v, want %v", got, tt.want)
			}
		})
	}
}
