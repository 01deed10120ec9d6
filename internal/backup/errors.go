package backup

import (
	"fmt"
)

// BackupError is the error type for archive, storage and retention
// operations. Extraction errors use the shared application error type; this
// one stays local because storage backends classify differently.
type BackupError struct {
	Type    BackupErrorType        `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *BackupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair to the error.
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// BackupErrorType classifies backup errors.
type BackupErrorType string

const (
	BackupErrorTypeStorage       BackupErrorType = "STORAGE_ERROR"
	BackupErrorTypeValidation    BackupErrorType = "VALIDATION_ERROR"
	BackupErrorTypeCompression   BackupErrorType = "COMPRESSION_ERROR"
	BackupErrorTypeEncryption    BackupErrorType = "ENCRYPTION_ERROR"
	BackupErrorTypeCorruption    BackupErrorType = "CORRUPTION_ERROR"
	BackupErrorTypeArchive       BackupErrorType = "ARCHIVE_ERROR"
	BackupErrorTypeConfiguration BackupErrorType = "CONFIGURATION_ERROR"
	BackupErrorTypeNotFound      BackupErrorType = "NOT_FOUND_ERROR"
	BackupErrorTypeNetwork       BackupErrorType = "NETWORK_ERROR"
)

// NewBackupError creates a BackupError of the given type.
func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

func NewStorageError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeStorage, message, cause)
}

func NewValidationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeValidation, message, cause)
}

func NewCompressionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCompression, message, cause)
}

func NewEncryptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeEncryption, message, cause)
}

func NewCorruptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCorruption, message, cause)
}

func NewArchiveError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeArchive, message, cause)
}

func NewConfigurationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConfiguration, message, cause)
}

func NewNotFoundError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeNotFound, message, cause)
}

func NewNetworkError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeNetwork, message, cause)
}

// IsRetryable reports whether the operation may succeed on retry.
func IsRetryable(err error) bool {
	if backupErr, ok := err.(*BackupError); ok {
		switch backupErr.Type {
		case BackupErrorTypeNetwork, BackupErrorTypeStorage:
			return true
		}
	}
	return false
}

// IsPermanent reports whether retrying is pointless.
func IsPermanent(err error) bool {
	if backupErr, ok := err.(*BackupError); ok {
		switch backupErr.Type {
		case BackupErrorTypeValidation, BackupErrorTypeCorruption, BackupErrorTypeConfiguration:
			return true
		}
	}
	return false
}
