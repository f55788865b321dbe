package service

import "fmt"

// QueueServiceError wraps failures from queue service operations with the
// operation name, so handlers can log a useful message without inspecting
// the cause chain.
type QueueServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *QueueServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("queue service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("queue service %s failed: %s", e.Operation, e.Message)
}

// Unwrap supports errors.Is and errors.As on the cause.
func (e *QueueServiceError) Unwrap() error {
	return e.Err
}

// NewQueueServiceError creates a QueueServiceError.
func NewQueueServiceError(operation, message string, err error) *QueueServiceError {
	return &QueueServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
