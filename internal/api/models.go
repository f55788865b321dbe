// Package api implements the admin HTTP surface of the document queue:
// enqueueing, controller lifecycle and maintenance actions.
package api

import (
	"time"

	"github.com/contractwatch/contract-indexer/internal/domain"
)

// RecordResponse is the JSON shape of a queue record. ProcessedData is
// deliberately omitted; clients fetch the saved result file instead.
type RecordResponse struct {
	ID              string     `json:"id"`
	ContractID      string     `json:"contract_id"`
	DocumentURL     string     `json:"document_url"`
	Filename        string     `json:"filename,omitempty"`
	Description     string     `json:"description,omitempty"`
	Status          string     `json:"status"`
	Priority        int        `json:"priority"`
	FileSize        int64      `json:"file_size,omitempty"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	SavedResultPath string     `json:"saved_result_path,omitempty"`
	QueuedAt        time.Time  `json:"queued_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	FailedAt        *time.Time `json:"failed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
}

// NewRecordResponse converts a domain record for the wire.
func NewRecordResponse(rec *domain.QueueRecord) RecordResponse {
	resp := RecordResponse{
		ID:              rec.ID.String(),
		ContractID:      rec.ContractID,
		DocumentURL:     rec.DocumentURL,
		Filename:        rec.Filename,
		Description:     rec.Description,
		Status:          string(rec.Status),
		Priority:        rec.Priority,
		FileSize:        rec.FileSize,
		RetryCount:      rec.RetryCount,
		MaxRetries:      rec.MaxRetries,
		ErrorMessage:    rec.ErrorMessage,
		SavedResultPath: rec.SavedResultPath,
		QueuedAt:        rec.QueuedAt,
		StartedAt:       rec.StartedAt,
		CompletedAt:     rec.CompletedAt,
		FailedAt:        rec.FailedAt,
	}
	if d := rec.ProcessingDuration(); d > 0 {
		resp.DurationSeconds = d.Seconds()
	}
	return resp
}

// CountResponse reports how many records an admin action affected.
type CountResponse struct {
	Count int64 `json:"count"`
}

// MessageResponse acknowledges actions with no payload.
type MessageResponse struct {
	Message string `json:"message"`
}
