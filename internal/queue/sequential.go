package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/contractwatch/contract-indexer/internal/config"
	"github.com/contractwatch/contract-indexer/internal/extraction"
	"github.com/contractwatch/contract-indexer/internal/store"
)

// SequentialDriver processes one record at a time with a fixed delay
// between records. It is the gentlest strategy towards the extraction
// service and the default for unattended runs.
type SequentialDriver struct {
	proc   *Processor
	store  store.QueueStore
	delay  time.Duration
	batch  int
	logger *slog.Logger
}

// NewSequentialDriver builds the sequential strategy from configuration.
func NewSequentialDriver(proc *Processor, qs store.QueueStore, cfg config.QueueConfig, logger *slog.Logger) *SequentialDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SequentialDriver{
		proc:   proc,
		store:  qs,
		delay:  time.Duration(cfg.RequestDelaySeconds) * time.Second,
		batch:  cfg.ClaimBatchSize,
		logger: logger.With(slog.String("component", "sequential_driver")),
	}
}

// Name identifies the strategy in status output.
func (d *SequentialDriver) Name() string { return DriverSequential }

// Run drains the queue one record at a time.
func (d *SequentialDriver) Run(ctx context.Context) error {
	for {
		records, err := d.store.ClaimQueued(ctx, d.batch)
		if err != nil {
			return fmt.Errorf("failed to claim queued records: %w", err)
		}
		if len(records) == 0 {
			return nil
		}

		d.logger.Info("claimed batch", slog.Int("count", len(records)))

		for i, rec := range records {
			if ctx.Err() != nil {
				requeueRemaining(ctx, d.store, d.logger, records[i:])
				return ctx.Err()
			}

			if err := d.proc.ProcessRecord(ctx, rec); err != nil && extraction.IsFatal(err) {
				requeueRemaining(ctx, d.store, d.logger, records[i+1:])
				return err
			}

			if d.delay > 0 && i < len(records)-1 {
				if err := sleepCtx(ctx, d.delay); err != nil {
					requeueRemaining(ctx, d.store, d.logger, records[i+1:])
					return err
				}
			}
		}
	}
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
