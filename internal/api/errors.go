package api

import (
	"errors"
	"net/http"

	"github.com/contractwatch/contract-indexer/internal/domain"
	"github.com/contractwatch/contract-indexer/internal/queue"
	"github.com/contractwatch/contract-indexer/internal/store"
)

// statusForError maps known error values to HTTP status codes. Unknown
// errors are internal server errors.
func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrNotProcessing),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, queue.ErrAlreadyRunning),
		errors.Is(err, queue.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptyContractID),
		errors.Is(err, domain.ErrInvalidDocURL),
		errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// userMessageForError returns the sanitized client-facing message.
func userMessageForError(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "Record not found"
	case errors.Is(err, store.ErrNotProcessing):
		return "Record is not in processing state"
	case errors.Is(err, queue.ErrAlreadyRunning):
		return "Queue processing already running"
	case errors.Is(err, queue.ErrNotRunning):
		return "Queue processing is not running"
	case statusForError(err) == http.StatusBadRequest:
		return err.Error()
	default:
		return "Internal server error"
	}
}
