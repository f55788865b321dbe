package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/contractwatch/contract-indexer/internal/domain"
	"github.com/google/uuid"
)

// StatusCounts aggregates record counts per lifecycle state.
type StatusCounts struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// QueueStore is the single source of truth for document processing state.
// All status transitions go through it; drivers coordinate exclusively via
// the atomic claim operation, never via in-memory structures.
//
// Implementations must be safe for concurrent use.
type QueueStore interface {
	// Create persists a new queue record.
	// Returns ErrDuplicate if a record for the same (contract, URL) pair exists.
	Create(ctx context.Context, rec *domain.QueueRecord) error

	// GetByID retrieves a record by its unique ID.
	// Returns ErrRecordNotFound if the record does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.QueueRecord, error)

	// FindByContractAndURL retrieves the record for a (contract, URL) pair,
	// or ErrRecordNotFound if none exists. Used by enqueue deduplication.
	FindByContractAndURL(ctx context.Context, contractID, documentURL string) (*domain.QueueRecord, error)

	// ClaimQueued atomically transitions queued records to processing,
	// stamping started_at, and returns them. Candidates are ordered by
	// ascending local file size (unknown sizes last), then descending
	// priority, then enqueue time, so small documents surface results
	// first. A limit <= 0 claims every queued record.
	//
	// The claim is a compare-and-swap on status: a record claimed by one
	// caller is never returned to a concurrent caller.
	ClaimQueued(ctx context.Context, limit int) ([]*domain.QueueRecord, error)

	// MarkCompleted sets the record to completed, stamps completed_at and
	// stores the serialized result plus the path of the persisted raw
	// result. Calling it again overwrites the previous result.
	MarkCompleted(ctx context.Context, id uuid.UUID, processedData []byte, savedResultPath string) error

	// MarkFailed sets the record to failed, stamps failed_at, records the
	// message and increments retry_count.
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error

	// UpdateLocalFile records the downloaded file's path and size on the
	// record, used by lazy re-downloads at processing time.
	UpdateLocalFile(ctx context.Context, id uuid.UUID, path, filename string, size int64) error

	// StuckRecords returns processing records whose started_at is older
	// than the threshold. Detection only; resetting is a separate,
	// operator-triggered action.
	StuckRecords(ctx context.Context, olderThan time.Duration) ([]*domain.QueueRecord, error)

	// ResetRecord transitions one processing record back to queued,
	// clearing started_at and incrementing retry_count.
	// Returns ErrNotProcessing if the record is not currently processing.
	ResetRecord(ctx context.Context, id uuid.UUID) error

	// ResetAllStuck applies ResetRecord semantics to every processing
	// record older than the threshold and returns how many were reset.
	ResetAllStuck(ctx context.Context, olderThan time.Duration) (int64, error)

	// RequeueProcessing returns every processing record to queued without
	// touching retry_count. Used on controller stop, where the run was
	// interrupted rather than failed.
	RequeueProcessing(ctx context.Context) (int64, error)

	// Requeue returns a single processing record to queued without
	// incrementing retry_count. Used when a driver halts on a
	// configuration-level error that is not the document's fault.
	Requeue(ctx context.Context, id uuid.UUID) error

	// RetryFailed re-queues failed records that still have retry budget
	// and returns how many were re-queued.
	RetryFailed(ctx context.Context) (int64, error)

	// ListByStatus returns up to limit records in the given state, oldest
	// first. A limit <= 0 returns all.
	ListByStatus(ctx context.Context, status domain.ProcessingStatus, limit int) ([]*domain.QueueRecord, error)

	// CountsByStatus returns aggregate counts per state.
	CountsByStatus(ctx context.Context) (StatusCounts, error)

	// PurgeAll deletes every record and returns the paths of their local
	// and saved result files so the caller can remove them. Must not run
	// concurrently with an active driver.
	PurgeAll(ctx context.Context) (deleted int64, filePaths []string, err error)

	// WithTx returns a QueueStore bound to the provided transaction.
	// The transaction is created and managed by the caller.
	WithTx(tx *sql.Tx) QueueStore
}
