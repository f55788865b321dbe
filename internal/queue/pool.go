package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/contractwatch/contract-indexer/internal/config"
	"github.com/contractwatch/contract-indexer/internal/domain"
	"github.com/contractwatch/contract-indexer/internal/extraction"
	"github.com/contractwatch/contract-indexer/internal/store"
)

// PoolDriver spreads each claimed batch over a fixed set of workers.
type PoolDriver struct {
	proc    *Processor
	store   store.QueueStore
	workers int
	batch   int
	logger  *slog.Logger
}

// NewPoolDriver builds the worker-pool strategy from configuration.
func NewPoolDriver(proc *Processor, qs store.QueueStore, cfg config.QueueConfig, logger *slog.Logger) *PoolDriver {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 5
	}
	return &PoolDriver{
		proc:    proc,
		store:   qs,
		workers: workers,
		batch:   cfg.ClaimBatchSize,
		logger:  logger.With(slog.String("component", "pool_driver")),
	}
}

// Name identifies the strategy in status output.
func (d *PoolDriver) Name() string { return DriverPool }

// Run drains the queue batch by batch, each batch fanned out over the
// worker pool. A fatal extraction error cancels the pass; records that
// never reached a worker are requeued.
func (d *PoolDriver) Run(ctx context.Context) error {
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
			slog.Int("workers", d.workers))

		if err := d.runBatch(ctx, records); err != nil {
			return err
		}
	}
}

func (d *PoolDriver) runBatch(ctx context.Context, records []*domain.QueueRecord) error {
	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan *domain.QueueRecord)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fatalErr error
	)

	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for rec := range jobs {
				// A cancelled pass must not burn the record's retry
				// budget on a doomed attempt.
				if passCtx.Err() != nil {
					requeueRemaining(passCtx, d.store, d.logger, []*domain.QueueRecord{rec})
					continue
				}
				err := d.proc.ProcessRecord(passCtx, rec)
				if err != nil && extraction.IsFatal(err) {
					mu.Lock()
					if fatalErr == nil {
						fatalErr = err
					}
					mu.Unlock()
					cancel()
					return
				}
			}
		}(i)
	}

	// Feed the batch; stop feeding as soon as the pass is cancelled and
	// requeue what never reached a worker.
	var unfed []*domain.QueueRecord
feed:
	for i, rec := range records {
		select {
		case jobs <- rec:
		case <-passCtx.Done():
			unfed = records[i:]
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if len(unfed) > 0 {
		requeueRemaining(ctx, d.store, d.logger, unfed)
	}

	mu.Lock()
	defer mu.Unlock()
	if fatalErr != nil {
		return fatalErr
	}
	return ctx.Err()
}
