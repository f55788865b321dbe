// Package queue processes the durable document queue. Drivers claim
// batches of queued records from the store and run each one through the
// shared Processor; the Controller supervises drivers and exposes
// pause/resume/stop.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/contractwatch/contract-indexer/internal/docstore"
	"github.com/contractwatch/contract-indexer/internal/domain"
	"github.com/contractwatch/contract-indexer/internal/events"
	"github.com/contractwatch/contract-indexer/internal/extraction"
	"github.com/contractwatch/contract-indexer/internal/store"
)

// Documents is the slice of the docstore the processor needs.
type Documents interface {
	EnsureLocal(ctx context.Context, contractID, documentURL, localPath string) (*docstore.Document, error)
}

// Processor runs one record end to end: make sure the document exists
// locally, extract it, persist the result and notify.
type Processor struct {
	store     store.QueueStore
	docs      Documents
	extractor extraction.Extractor
	results   *ResultWriter
	emitter   events.EventEmitter
	logger    *slog.Logger
}

// NewProcessor wires the per-record pipeline. emitter may be nil, in which
// case completion events are not published.
func NewProcessor(qs store.QueueStore, docs Documents, extractor extraction.Extractor, results *ResultWriter, emitter events.EventEmitter, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:     qs,
		docs:      docs,
		extractor: extractor,
		results:   results,
		emitter:   emitter,
		logger:    logger.With(slog.String("component", "queue_processor")),
	}
}

// ProcessRecord processes a single claimed record. Per-record failures are
// written to the store and returned; only errors for which
// extraction.IsFatal holds should make the caller halt. On a fatal error
// the record is requeued untouched so another run can pick it up.
func (p *Processor) ProcessRecord(ctx context.Context, rec *domain.QueueRecord) error {
	logger := p.logger.With(
		slog.String("record_id", rec.ID.String()),
		slog.String("contract_id", rec.ContractID))

	doc, err := p.docs.EnsureLocal(ctx, rec.ContractID, rec.DocumentURL, rec.LocalFilePath)
	if err != nil {
		if ctx.Err() != nil {
			return p.requeueInterrupted(ctx, rec, logger)
		}
		return p.failRecord(ctx, rec, logger, fmt.Errorf("document unavailable: %w", err))
	}

	if doc.Path != rec.LocalFilePath || doc.Size != rec.FileSize {
		if err := p.store.UpdateLocalFile(ctx, rec.ID, doc.Path, doc.Filename, doc.Size); err != nil {
			logger.Warn("failed to record local file details", slog.String("error", err.Error()))
		}
		rec.LocalFilePath = doc.Path
		rec.Filename = doc.Filename
		rec.FileSize = doc.Size
	}

	result, err := p.extractor.Extract(ctx, doc.Path, doc.Size)
	if err != nil {
		if extraction.IsFatal(err) {
			// Credentials are broken for every record, not this one.
			// Put it back untouched and let the caller halt.
			if requeueErr := p.store.Requeue(context.WithoutCancel(ctx), rec.ID); requeueErr != nil {
				logger.Error("failed to requeue record after fatal error",
					slog.String("error", requeueErr.Error()))
			}
			return err
		}
		if ctx.Err() != nil {
			// The pass was cancelled (stop or pause), not the record's own
			// request deadline. An interrupted attempt is not a failed one.
			return p.requeueInterrupted(ctx, rec, logger)
		}
		if extraction.IsAmbiguous(err) {
			// 504: the service may still finish server-side. Flag the
			// record distinctly so operators review before retrying.
			return p.failRecord(ctx, rec, logger,
				fmt.Errorf("gateway timeout, server-side outcome unknown: %w", err))
		}
		return p.failRecord(ctx, rec, logger, err)
	}

	// Extraction succeeded; the write-back must land even if the pass was
	// cancelled while it ran, or finished work would be thrown away.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}

	data, err := result.Marshal()
	if err != nil {
		return p.failRecord(ctx, rec, logger, fmt.Errorf("failed to encode result: %w", err))
	}

	savedPath, err := p.results.WriteResult(rec, data)
	if err != nil {
		return p.failRecord(ctx, rec, logger, fmt.Errorf("failed to save result: %w", err))
	}

	if err := p.store.MarkCompleted(ctx, rec.ID, data, savedPath); err != nil {
		return p.failRecord(ctx, rec, logger, fmt.Errorf("failed to mark record completed: %w", err))
	}

	// The record is durably completed; a notification failure must not
	// undo that.
	if err := p.results.WriteNotification(rec, savedPath, result); err != nil {
		logger.Warn("failed to write completion notification", slog.String("error", err.Error()))
	}
	p.emitCompleted(ctx, rec, result, logger)

	logger.Info("record processed",
		slog.Int("pages", result.PageCount),
		slog.Int("chars", result.CharCount))
	return nil
}

// emitCompleted publishes a completion event. Like notifications, a
// delivery failure must not undo a durably completed record.
func (p *Processor) emitCompleted(ctx context.Context, rec *domain.QueueRecord, result *domain.ExtractionResult, logger *slog.Logger) {
	if p.emitter == nil {
		return
	}
	event, err := events.NewQueueEvent(events.TypeRecordCompleted, events.RecordCompletedPayload{
		RecordID:   rec.ID.String(),
		ContractID: rec.ContractID,
		PageCount:  result.PageCount,
	})
	if err != nil {
		logger.Warn("failed to build completion event", slog.String("error", err.Error()))
		return
	}
	if err := p.emitter.EmitEvent(ctx, event); err != nil {
		logger.Warn("completion event delivery failed", slog.String("error", err.Error()))
	}
}

// requeueInterrupted puts a record whose pass was cancelled mid-flight
// back in the queue without consuming retry budget. The store write runs
// on a detached context so it survives the cancellation that caused it.
func (p *Processor) requeueInterrupted(ctx context.Context, rec *domain.QueueRecord, logger *slog.Logger) error {
	logger.Info("pass cancelled mid-record, requeueing")
	requeueCtx := context.WithoutCancel(ctx)
	if err := p.store.Requeue(requeueCtx, rec.ID); err != nil && !errors.Is(err, store.ErrNotProcessing) {
		logger.Error("failed to requeue interrupted record", slog.String("error", err.Error()))
	}
	return ctx.Err()
}

// failRecord marks the record failed and passes the error back for the
// driver's log. Store failures while failing are logged, not returned;
// the original error is the one worth surfacing.
func (p *Processor) failRecord(ctx context.Context, rec *domain.QueueRecord, logger *slog.Logger, cause error) error {
	logger.Error("record failed", slog.String("error", cause.Error()))
	if err := p.store.MarkFailed(ctx, rec.ID, cause.Error()); err != nil {
		logger.Error("failed to mark record failed", slog.String("error", err.Error()))
	}
	return cause
}

// requeueRemaining puts claimed-but-unprocessed records back in the queue.
// Used when a pass is interrupted; it never consumes retry budget.
func requeueRemaining(ctx context.Context, qs store.QueueStore, logger *slog.Logger, records []*domain.QueueRecord) {
	// The interrupting context is often already cancelled; requeueing
	// must still go through.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	for _, rec := range records {
		if err := qs.Requeue(ctx, rec.ID); err != nil && !errors.Is(err, store.ErrNotProcessing) {
			logger.Error("failed to requeue record",
				slog.String("record_id", rec.ID.String()),
				slog.String("error", err.Error()))
		}
	}
}
