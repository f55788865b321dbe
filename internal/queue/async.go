package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/contractwatch/contract-indexer/internal/config"
	"github.com/contractwatch/contract-indexer/internal/domain"
	"github.com/contractwatch/contract-indexer/internal/extraction"
	"github.com/contractwatch/contract-indexer/internal/store"
)

// AsyncDriver launches one goroutine per record, gated by a semaphore so
// no more than MaxConcurrent extractions are in flight at once. Results
// are written back the moment each record finishes rather than at batch
// boundaries.
type AsyncDriver struct {
	proc          *Processor
	store         store.QueueStore
	maxConcurrent int64
	batch         int
	logger        *slog.Logger
}

// NewAsyncDriver builds the async strategy from configuration.
func NewAsyncDriver(proc *Processor, qs store.QueueStore, cfg config.QueueConfig, logger *slog.Logger) *AsyncDriver {
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrent := int64(cfg.MaxConcurrent)
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &AsyncDriver{
		proc:          proc,
		store:         qs,
		maxConcurrent: maxConcurrent,
		batch:         cfg.ClaimBatchSize,
		logger:        logger.With(slog.String("component", "async_driver")),
	}
}

// Name identifies the strategy in status output.
func (d *AsyncDriver) Name() string { return DriverAsync }

// Run drains the queue with bounded concurrency.
func (d *AsyncDriver) Run(ctx context.Context) error {
	for {
		records, err := d.store.ClaimQueued(ctx, d.batch)
		if err != nil {
			return fmt.Errorf("failed to claim queued records: %w", err)
		}
		if len(records) == 0 {
			return nil
		}

		d.logger.Info("claimed batch",
			slog.Int("count", len(records)),
			slog.Int64("max_concurrent", d.maxConcurrent))

		if err := d.runBatch(ctx, records); err != nil {
			return err
		}
	}
}

func (d *AsyncDriver) runBatch(ctx context.Context, records []*domain.QueueRecord) error {
	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(d.maxConcurrent)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fatalErr error
	)

	for i, rec := range records {
		if err := sem.Acquire(passCtx, 1); err != nil {
			// Pass cancelled while waiting for a slot.
			requeueRemaining(ctx, d.store, d.logger, records[i:])
			break
		}

		wg.Add(1)
		go func(rec *domain.QueueRecord) {
			defer wg.Done()
			defer sem.Release(1)

			// A cancelled pass must not burn the record's retry budget.
			if passCtx.Err() != nil {
				requeueRemaining(passCtx, d.store, d.logger, []*domain.QueueRecord{rec})
				return
			}
			err := d.proc.ProcessRecord(passCtx, rec)
			if err != nil && extraction.IsFatal(err) {
				mu.Lock()
				if fatalErr == nil {
					fatalErr = err
				}
				mu.Unlock()
				cancel()
			}
		}(rec)
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if fatalErr != nil {
		return fatalErr
	}
	return ctx.Err()
}
