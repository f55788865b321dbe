// Package service implements application-level operations on the document
// queue: enqueueing, admin maintenance actions and statistics. It sits
// between the HTTP handlers and the store, and owns side effects like
// downloads, file cleanup and event emission.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/contractwatch/contract-indexer/internal/docstore"
	"github.com/contractwatch/contract-indexer/internal/domain"
	"github.com/contractwatch/contract-indexer/internal/events"
	"github.com/contractwatch/contract-indexer/internal/store"
)

// Documents is the slice of the docstore the service needs.
type Documents interface {
	Download(ctx context.Context, contractID, documentURL string) (*docstore.Document, error)
	Remove(path string) error
}

// EnqueueRequest describes one document to add to the queue.
type EnqueueRequest struct {
	ContractID  string `json:"contract_id"  validate:"required"`
	DocumentURL string `json:"document_url" validate:"required,url"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// EnqueueReport summarizes an enqueue batch.
type EnqueueReport struct {
	Enqueued   int      `json:"enqueued"`
	Duplicates int      `json:"duplicates"`
	Invalid    int      `json:"invalid"`
	Errors     []string `json:"errors,omitempty"`
}

// QueueService implements queue operations on top of the store and the
// document store.
type QueueService struct {
	store   store.QueueStore
	docs    Documents
	emitter events.EventEmitter
	logger  *slog.Logger
}

// NewQueueService wires a QueueService. emitter may be nil when nothing
// reacts to enqueues.
func NewQueueService(qs store.QueueStore, docs Documents, emitter events.EventEmitter, logger *slog.Logger) *QueueService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueService{
		store:   qs,
		docs:    docs,
		emitter: emitter,
		logger:  logger.With(slog.String("component", "queue_service")),
	}
}

// EnqueueDocuments adds a batch of documents to the queue. Each document
// is downloaded eagerly so its file size can drive claim ordering; a
// failed download is not fatal, the record is still enqueued and the
// download retried at processing time. Documents already queued for the
// same contract are counted as duplicates and skipped.
func (s *QueueService) EnqueueDocuments(ctx context.Context, requests []EnqueueRequest) (*EnqueueReport, error) {
	report := &EnqueueReport{}

	for _, req := range requests {
		rec, err := domain.NewQueueRecord(req.ContractID, req.DocumentURL, req.Description)
		if err != nil {
			report.Invalid++
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		rec.Priority = req.Priority

		if _, err := s.store.FindByContractAndURL(ctx, req.ContractID, req.DocumentURL); err == nil {
			report.Duplicates++
			continue
		} else if !errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewQueueServiceError("enqueue", "duplicate lookup failed", err)
		}

		doc, downloadErr := s.docs.Download(ctx, req.ContractID, req.DocumentURL)
		if downloadErr != nil {
			// Enqueue anyway; the processor re-attempts the download.
			s.logger.Warn("download failed at enqueue, deferring to processing",
				slog.String("contract_id", req.ContractID),
				slog.String("document_url", req.DocumentURL),
				slog.String("error", downloadErr.Error()))
		} else {
			rec.LocalFilePath = doc.Path
			rec.Filename = doc.Filename
			rec.FileSize = doc.Size
		}

		if err := s.store.Create(ctx, rec); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				report.Duplicates++
				continue
			}
			return nil, NewQueueServiceError("enqueue", "failed to persist record", err)
		}
		report.Enqueued++
	}

	if report.Enqueued > 0 && s.emitter != nil {
		s.emitEnqueued(ctx, requests, report.Enqueued)
	}

	s.logger.Info("enqueue batch finished",
		slog.Int("enqueued", report.Enqueued),
		slog.Int("duplicates", report.Duplicates),
		slog.Int("invalid", report.Invalid))
	return report, nil
}

func (s *QueueService) emitEnqueued(ctx context.Context, requests []EnqueueRequest, count int) {
	contractID := ""
	if len(requests) > 0 {
		contractID = requests[0].ContractID
	}
	event, err := events.NewQueueEvent(events.TypeDocumentsEnqueued, events.DocumentsEnqueuedPayload{
		ContractID: contractID,
		Count:      count,
	})
	if err != nil {
		s.logger.Error("failed to build enqueue event", slog.String("error", err.Error()))
		return
	}
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		s.logger.Error("failed to emit enqueue event", slog.String("error", err.Error()))
	}
}

// GetRecord returns a single record.
func (s *QueueService) GetRecord(ctx context.Context, id uuid.UUID) (*domain.QueueRecord, error) {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, NewQueueServiceError("get_record", "lookup failed", err)
	}
	return rec, nil
}

// ListRecords returns records in a given state.
func (s *QueueService) ListRecords(ctx context.Context, status domain.ProcessingStatus, limit int) ([]*domain.QueueRecord, error) {
	records, err := s.store.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, NewQueueServiceError("list_records", "listing failed", err)
	}
	return records, nil
}

// StuckRecords reports processing records older than the threshold.
func (s *QueueService) StuckRecords(ctx context.Context, olderThan time.Duration) ([]*domain.QueueRecord, error) {
	records, err := s.store.StuckRecords(ctx, olderThan)
	if err != nil {
		return nil, NewQueueServiceError("stuck_records", "detection failed", err)
	}
	return records, nil
}

// ResetRecord puts one stuck record back in the queue, consuming one
// retry.
func (s *QueueService) ResetRecord(ctx context.Context, id uuid.UUID) error {
	if err := s.store.ResetRecord(ctx, id); err != nil {
		return NewQueueServiceError("reset_record", "reset failed", err)
	}
	s.logger.Info("record reset to queued", slog.String("record_id", id.String()))
	return nil
}

// ResetAllStuck resets every stuck record and returns how many.
func (s *QueueService) ResetAllStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.store.ResetAllStuck(ctx, olderThan)
	if err != nil {
		return 0, NewQueueServiceError("reset_all_stuck", "bulk reset failed", err)
	}
	if n > 0 {
		s.logger.Info("stuck records reset", slog.Int64("count", n))
	}
	return n, nil
}

// RetryFailed requeues failed records that still have retry budget.
func (s *QueueService) RetryFailed(ctx context.Context) (int64, error) {
	n, err := s.store.RetryFailed(ctx)
	if err != nil {
		return 0, NewQueueServiceError("retry_failed", "requeue failed", err)
	}
	s.logger.Info("failed records requeued", slog.Int64("count", n))
	return n, nil
}

// Stats returns aggregate queue counts.
func (s *QueueService) Stats(ctx context.Context) (store.StatusCounts, error) {
	counts, err := s.store.CountsByStatus(ctx)
	if err != nil {
		return store.StatusCounts{}, NewQueueServiceError("stats", "count query failed", err)
	}
	return counts, nil
}

// Purge deletes every record and its files. Callers must make sure no
// driver is running.
func (s *QueueService) Purge(ctx context.Context) (int64, error) {
	deleted, paths, err := s.store.PurgeAll(ctx)
	if err != nil {
		return 0, NewQueueServiceError("purge", "database purge failed", err)
	}

	removed := 0
	for _, path := range paths {
		if err := s.docs.Remove(path); err != nil {
			s.logger.Warn("failed to remove file during purge",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		removed++
	}

	s.logger.Info("queue purged",
		slog.Int64("records_deleted", deleted),
		slog.Int("files_removed", removed))
	return deleted, nil
}
