package domain

import (
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus represents the lifecycle state of a queue record.
type ProcessingStatus string

// Possible queue record status values.
const (
	StatusQueued     ProcessingStatus = "queued"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// IsValid reports whether the status is one of the defined states.
func (s ProcessingStatus) IsValid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// DefaultMaxRetries bounds automatic retries; exceeding it makes a record
// ineligible for automatic re-queueing until an operator intervenes.
const DefaultMaxRetries = 3

// Common validation errors for QueueRecord
var (
	ErrEmptyRecordID    = errors.New("queue record ID cannot be empty")
	ErrEmptyContractID  = errors.New("queue record contract ID cannot be empty")
	ErrInvalidDocURL    = errors.New("queue record document URL is not a valid absolute URL")
	ErrInvalidStatus    = errors.New("invalid queue record status")
	ErrInvalidMaxRetry  = errors.New("queue record max retries cannot be negative")
)

// QueueRecord is the durable unit of work representing one document of a
// contract notice awaiting or undergoing extraction. There is at most one
// record per (contract, document URL) pair.
//
// LocalFilePath, once set, is owned exclusively by this record; the file is
// kept for the lifetime of the record and only removed by an administrative
// purge. ProcessedData holds the serialized extraction result after
// completion and SavedResultPath points at the raw result persisted for
// audit.
type QueueRecord struct {
	ID              uuid.UUID        `json:"id"`
	ContractID      string           `json:"contract_id"`
	DocumentURL     string           `json:"document_url"`
	LocalFilePath   string           `json:"local_file_path,omitempty"`
	Filename        string           `json:"filename,omitempty"`
	Description     string           `json:"description,omitempty"`
	Status          ProcessingStatus `json:"status"`
	Priority        int              `json:"priority"`
	FileSize        int64            `json:"file_size,omitempty"`
	RetryCount      int              `json:"retry_count"`
	MaxRetries      int              `json:"max_retries"`
	QueuedAt        time.Time        `json:"queued_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	FailedAt        *time.Time       `json:"failed_at,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	ProcessedData   []byte           `json:"-"`
	SavedResultPath string           `json:"saved_result_path,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewQueueRecord creates a queued record for the given contract and document
// URL. The local file path and size are filled in after the document store
// downloads the file. Returns an error if validation fails.
func NewQueueRecord(contractID, documentURL, description string) (*QueueRecord, error) {
	now := time.Now().UTC()
	rec := &QueueRecord{
		ID:          uuid.New(),
		ContractID:  contractID,
		DocumentURL: documentURL,
		Description: description,
		Status:      StatusQueued,
		MaxRetries:  DefaultMaxRetries,
		QueuedAt:    now,
		UpdatedAt:   now,
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	return rec, nil
}

// Validate checks if the QueueRecord has valid data.
// Returns an error if any field fails validation.
func (r *QueueRecord) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyRecordID
	}

	if r.ContractID == "" {
		return ErrEmptyContractID
	}

	u, err := url.Parse(r.DocumentURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrInvalidDocURL
	}

	if !r.Status.IsValid() {
		return ErrInvalidStatus
	}

	if r.MaxRetries < 0 {
		return ErrInvalidMaxRetry
	}

	return nil
}

// Terminal reports whether the record reached a final state.
func (r *QueueRecord) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// CanRetry reports whether the record is still eligible for automatic
// retry. The retry budget is advisory: stores never enforce it, they only
// consult it when re-queueing failed records.
func (r *QueueRecord) CanRetry() bool {
	return r.RetryCount < r.MaxRetries
}

// ProcessingDuration returns how long the record spent in processing, or
// zero if it has not both started and finished.
func (r *QueueRecord) ProcessingDuration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}
