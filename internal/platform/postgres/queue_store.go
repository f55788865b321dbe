package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/contractwatch/contract-indexer/internal/domain"
	"github.com/contractwatch/contract-indexer/internal/platform/logger"
	"github.com/contractwatch/contract-indexer/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes
const pgUniqueViolationCode = "23505"

// recordColumns is the canonical column list scanned by scanRecord.
const recordColumns = `id, contract_id, document_url, local_file_path, filename, description,
	status, priority, file_size, retry_count, max_retries,
	queued_at, started_at, completed_at, failed_at,
	error_message, processed_data, saved_result_path, updated_at`

// PostgresQueueStore implements the store.QueueStore interface
// using a PostgreSQL database as the storage backend.
//
// Status transitions are single conditional UPDATE statements so that two
// concurrent drivers can never both observe a record as queued after one
// of them claimed it.
type PostgresQueueStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresQueueStore creates a new PostgreSQL implementation of the
// QueueStore interface. It accepts a database connection or transaction
// that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresQueueStore(db store.DBTX, logger *slog.Logger) *PostgresQueueStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresQueueStore{
		db:     db,
		logger: logger.With(slog.String("component", "queue_store")),
	}
}

// Ensure PostgresQueueStore implements store.QueueStore interface
var _ store.QueueStore = (*PostgresQueueStore)(nil)

// WithTx returns a QueueStore bound to the provided transaction.
func (s *PostgresQueueStore) WithTx(tx *sql.Tx) store.QueueStore {
	return &PostgresQueueStore{db: tx, logger: s.logger}
}

// Create implements store.QueueStore.Create.
// Returns store.ErrDuplicate if a record for the same (contract, URL) pair
// already exists.
func (s *PostgresQueueStore) Create(ctx context.Context, rec *domain.QueueRecord) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO document_processing_queue
			(id, contract_id, document_url, local_file_path, filename, description,
			 status, priority, file_size, retry_count, max_retries, queued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.ContractID,
		rec.DocumentURL,
		nullString(rec.LocalFilePath),
		nullString(rec.Filename),
		nullString(rec.Description),
		rec.Status,
		rec.Priority,
		nullInt64(rec.FileSize),
		rec.RetryCount,
		rec.MaxRetries,
		rec.QueuedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			log.Debug("duplicate queue record",
				slog.String("contract_id", rec.ContractID),
				slog.String("document_url", rec.DocumentURL))
			return store.ErrDuplicate
		}
		log.Error("failed to create queue record",
			slog.String("error", err.Error()),
			slog.String("record_id", rec.ID.String()))
		return err
	}

	log.Info("queue record created",
		slog.String("record_id", rec.ID.String()),
		slog.String("contract_id", rec.ContractID))
	return nil
}

// GetByID implements store.QueueStore.GetByID.
func (s *PostgresQueueStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.QueueRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM document_processing_queue WHERE id = $1`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

// FindByContractAndURL implements store.QueueStore.FindByContractAndURL.
func (s *PostgresQueueStore) FindByContractAndURL(ctx context.Context, contractID, documentURL string) (*domain.QueueRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM document_processing_queue
		WHERE contract_id = $1 AND md5(document_url) = md5($2) AND document_url = $2`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, contractID, documentURL))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ClaimQueued implements store.QueueStore.ClaimQueued.
//
// The inner SELECT takes row locks with SKIP LOCKED so concurrent claims
// partition the queue instead of blocking or double-claiming; the outer
// UPDATE re-checks status as the compare-and-swap.
func (s *PostgresQueueStore) ClaimQueued(ctx context.Context, limit int) ([]*domain.QueueRecord, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var limitArg any // NULL means no limit
	if limit > 0 {
		limitArg = limit
	}

	now := time.Now().UTC()
	query := `
		UPDATE document_processing_queue q
		SET status = $1, started_at = $2, updated_at = $2
		FROM (
			SELECT id
			FROM document_processing_queue
			WHERE status = $3
			ORDER BY file_size ASC NULLS LAST, priority DESC, queued_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		) candidate
		WHERE q.id = candidate.id AND q.status = $3
		RETURNING ` + qualifiedRecordColumns("q")

	rows, err := s.db.QueryContext(ctx, query,
		domain.StatusProcessing, now, domain.StatusQueued, limitArg)
	if err != nil {
		log.Error("failed to claim queued records", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to claim queued records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	claimed, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}

	// UPDATE ... RETURNING does not preserve the candidate ordering, so
	// restore the claim order here.
	sort.SliceStable(claimed, func(i, j int) bool {
		a, b := claimed[i], claimed[j]
		if a.FileSize != b.FileSize {
			// Unknown sizes (zero) sort last.
			if a.FileSize == 0 {
				return false
			}
			if b.FileSize == 0 {
				return true
			}
			return a.FileSize < b.FileSize
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.QueuedAt.Before(b.QueuedAt)
	})

	log.Info("claimed queued records", slog.Int("count", len(claimed)))
	return claimed, nil
}

// MarkCompleted implements store.QueueStore.MarkCompleted.
// Safe to call more than once; the later call overwrites the result.
func (s *PostgresQueueStore) MarkCompleted(ctx context.Context, id uuid.UUID, processedData []byte, savedResultPath string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var payload any // NULL when no data
	if len(processedData) > 0 {
		payload = string(processedData)
	}

	now := time.Now().UTC()
	query := `
		UPDATE document_processing_queue
		SET status = $2, completed_at = $3, processed_data = CAST($4 AS jsonb),
		    saved_result_path = $5, error_message = NULL, updated_at = $3
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		id, domain.StatusCompleted, now, payload, nullString(savedResultPath))
	if err != nil {
		log.Error("failed to mark record completed",
			slog.String("error", err.Error()),
			slog.String("record_id", id.String()))
		return fmt.Errorf("failed to mark record completed: %w", err)
	}

	return requireRowsAffected(result, id)
}

// MarkFailed implements store.QueueStore.MarkFailed.
func (s *PostgresQueueStore) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	now := time.Now().UTC()
	query := `
		UPDATE document_processing_queue
		SET status = $2, failed_at = $3, error_message = $4,
		    retry_count = retry_count + 1, updated_at = $3
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id, domain.StatusFailed, now, message)
	if err != nil {
		log.Error("failed to mark record failed",
			slog.String("error", err.Error()),
			slog.String("record_id", id.String()))
		return fmt.Errorf("failed to mark record failed: %w", err)
	}

	return requireRowsAffected(result, id)
}

// UpdateLocalFile implements store.QueueStore.UpdateLocalFile.
func (s *PostgresQueueStore) UpdateLocalFile(ctx context.Context, id uuid.UUID, path, filename string, size int64) error {
	now := time.Now().UTC()
	query := `
		UPDATE document_processing_queue
		SET local_file_path = $2, filename = $3, file_size = $4, updated_at = $5
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id, path, filename, nullInt64(size), now)
	if err != nil {
		return fmt.Errorf("failed to update local file: %w", err)
	}

	return requireRowsAffected(result, id)
}

// StuckRecords implements store.QueueStore.StuckRecords.
func (s *PostgresQueueStore) StuckRecords(ctx context.Context, olderThan time.Duration) ([]*domain.QueueRecord, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	query := `SELECT ` + recordColumns + `
		FROM document_processing_queue
		WHERE status = $1 AND started_at < $2
		ORDER BY started_at ASC`

	rows, err := s.db.QueryContext(ctx, query, domain.StatusProcessing, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRecords(rows)
}

// ResetRecord implements store.QueueStore.ResetRecord.
func (s *PostgresQueueStore) ResetRecord(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	now := time.Now().UTC()
	query := `
		UPDATE document_processing_queue
		SET status = $2, started_at = NULL, retry_count = retry_count + 1, updated_at = $3
		WHERE id = $1 AND status = $4
	`
	result, err := s.db.ExecContext(ctx, query,
		id, domain.StatusQueued, now, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to reset record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing record from one in the wrong state.
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return store.ErrNotProcessing
	}

	log.Info("reset record to queued", slog.String("record_id", id.String()))
	return nil
}

// ResetAllStuck implements store.QueueStore.ResetAllStuck.
func (s *PostgresQueueStore) ResetAllStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)
	query := `
		UPDATE document_processing_queue
		SET status = $1, started_at = NULL, retry_count = retry_count + 1, updated_at = $2
		WHERE status = $3 AND started_at < $4
	`
	result, err := s.db.ExecContext(ctx, query,
		domain.StatusQueued, now, domain.StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck records: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if count > 0 {
		log.Info("reset stuck records to queued", slog.Int64("count", count))
	}
	return count, nil
}

// RequeueProcessing implements store.QueueStore.RequeueProcessing.
func (s *PostgresQueueStore) RequeueProcessing(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	query := `
		UPDATE document_processing_queue
		SET status = $1, started_at = NULL, updated_at = $2
		WHERE status = $3
	`
	result, err := s.db.ExecContext(ctx, query,
		domain.StatusQueued, now, domain.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue processing records: %w", err)
	}

	return result.RowsAffected()
}

// Requeue implements store.QueueStore.Requeue.
func (s *PostgresQueueStore) Requeue(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	query := `
		UPDATE document_processing_queue
		SET status = $2, started_at = NULL, updated_at = $3
		WHERE id = $1 AND status = $4
	`
	result, err := s.db.ExecContext(ctx, query,
		id, domain.StatusQueued, now, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to requeue record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return store.ErrNotProcessing
	}
	return nil
}

// RetryFailed implements store.QueueStore.RetryFailed.
func (s *PostgresQueueStore) RetryFailed(ctx context.Context) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	now := time.Now().UTC()
	query := `
		UPDATE document_processing_queue
		SET status = $1, started_at = NULL, failed_at = NULL, updated_at = $2
		WHERE status = $3 AND retry_count < max_retries
	`
	result, err := s.db.ExecContext(ctx, query,
		domain.StatusQueued, now, domain.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed records: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if count > 0 {
		log.Info("re-queued failed records", slog.Int64("count", count))
	}
	return count, nil
}

// ListByStatus implements store.QueueStore.ListByStatus.
func (s *PostgresQueueStore) ListByStatus(ctx context.Context, status domain.ProcessingStatus, limit int) ([]*domain.QueueRecord, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	query := `SELECT ` + recordColumns + `
		FROM document_processing_queue
		WHERE status = $1
		ORDER BY queued_at ASC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, status, limitArg)
	if err != nil {
		return nil, fmt.Errorf("failed to list records by status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRecords(rows)
}

// CountsByStatus implements store.QueueStore.CountsByStatus.
func (s *PostgresQueueStore) CountsByStatus(ctx context.Context) (store.StatusCounts, error) {
	query := `SELECT status, COUNT(*) FROM document_processing_queue GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return store.StatusCounts{}, fmt.Errorf("failed to count records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts store.StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return store.StatusCounts{}, fmt.Errorf("failed to scan status count: %w", err)
		}
		switch domain.ProcessingStatus(status) {
		case domain.StatusQueued:
			counts.Queued = n
		case domain.StatusProcessing:
			counts.Processing = n
		case domain.StatusCompleted:
			counts.Completed = n
		case domain.StatusFailed:
			counts.Failed = n
		}
		counts.Total += n
	}
	if err := rows.Err(); err != nil {
		return store.StatusCounts{}, fmt.Errorf("failed to iterate status counts: %w", err)
	}

	return counts, nil
}

// PurgeAll implements store.QueueStore.PurgeAll.
func (s *PostgresQueueStore) PurgeAll(ctx context.Context) (int64, []string, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	pathQuery := `
		SELECT local_file_path, saved_result_path
		FROM document_processing_queue
		WHERE local_file_path IS NOT NULL OR saved_result_path IS NOT NULL
	`
	rows, err := s.db.QueryContext(ctx, pathQuery)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to collect file paths for purge: %w", err)
	}

	var paths []string
	for rows.Next() {
		var local, saved sql.NullString
		if err := rows.Scan(&local, &saved); err != nil {
			_ = rows.Close()
			return 0, nil, fmt.Errorf("failed to scan file paths: %w", err)
		}
		if local.Valid && local.String != "" {
			paths = append(paths, local.String)
		}
		if saved.Valid && saved.String != "" {
			paths = append(paths, saved.String)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, nil, fmt.Errorf("failed to iterate file paths: %w", err)
	}
	_ = rows.Close()

	result, err := s.db.ExecContext(ctx, `DELETE FROM document_processing_queue`)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to purge queue: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	log.Warn("purged all queue records",
		slog.Int64("deleted", deleted),
		slog.Int("file_paths", len(paths)))
	return deleted, paths, nil
}

// rowScanner matches both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans one record from the canonical column list.
func scanRecord(row rowScanner) (*domain.QueueRecord, error) {
	var rec domain.QueueRecord
	var status string
	var localPath, filename, description, errMsg, processedData, savedPath sql.NullString
	var fileSize sql.NullInt64
	var startedAt, completedAt, failedAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.ContractID,
		&rec.DocumentURL,
		&localPath,
		&filename,
		&description,
		&status,
		&rec.Priority,
		&fileSize,
		&rec.RetryCount,
		&rec.MaxRetries,
		&rec.QueuedAt,
		&startedAt,
		&completedAt,
		&failedAt,
		&errMsg,
		&processedData,
		&savedPath,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = domain.ProcessingStatus(status)
	rec.LocalFilePath = localPath.String
	rec.Filename = filename.String
	rec.Description = description.String
	rec.ErrorMessage = errMsg.String
	rec.SavedResultPath = savedPath.String
	if fileSize.Valid {
		rec.FileSize = fileSize.Int64
	}
	if processedData.Valid {
		rec.ProcessedData = []byte(processedData.String)
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	if failedAt.Valid {
		t := failedAt.Time
		rec.FailedAt = &t
	}

	return &rec, nil
}

// collectRecords drains rows into a slice of records.
func collectRecords(rows *sql.Rows) ([]*domain.QueueRecord, error) {
	var records []*domain.QueueRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue records: %w", err)
	}
	return records, nil
}

// requireRowsAffected converts a zero-row update into ErrRecordNotFound.
func requireRowsAffected(result sql.Result, id uuid.UUID) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", store.ErrRecordNotFound, id)
	}
	return nil
}

// qualifiedRecordColumns prefixes the canonical column list with a table
// alias for use in UPDATE ... RETURNING.
func qualifiedRecordColumns(alias string) string {
	return alias + `.id, ` + alias + `.contract_id, ` + alias + `.document_url, ` +
		alias + `.local_file_path, ` + alias + `.filename, ` + alias + `.description, ` +
		alias + `.status, ` + alias + `.priority, ` + alias + `.file_size, ` +
		alias + `.retry_count, ` + alias + `.max_retries, ` + alias + `.queued_at, ` +
		alias + `.started_at, ` + alias + `.completed_at, ` + alias + `.failed_at, ` +
		alias + `.error_message, ` + alias + `.processed_data, ` + alias + `.saved_result_path, ` +
		alias + `.updated_at`
}

// nullString maps an empty string to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullInt64 maps zero to SQL NULL; a zero size means "unknown" and must
// sort after known sizes in the claim ordering.
func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n > 0}
}
