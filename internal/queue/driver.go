package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/contractwatch/contract-indexer/internal/config"
	"github.com/contractwatch/contract-indexer/internal/store"
)

// Driver strategy names accepted in configuration.
const (
	DriverSequential = "sequential"
	DriverPool       = "pool"
	DriverAsync      = "async"
)

// Driver drains the queue using one concurrency strategy. Run claims and
// processes records until the queue is empty or the context is cancelled;
// on cancellation it requeues whatever it had claimed but not finished.
// The returned error is nil on a drained queue, the context error on
// cancellation, or the fatal extraction error that halted the pass.
type Driver interface {
	Run(ctx context.Context) error
	Name() string
}

// NewDriver builds the driver selected in configuration.
func NewDriver(cfg config.QueueConfig, proc *Processor, qs store.QueueStore, logger *slog.Logger) (Driver, error) {
	switch cfg.Driver {
	case DriverSequential:
		return NewSequentialDriver(proc, qs, cfg, logger), nil
	case DriverPool:
		return NewPoolDriver(proc, qs, cfg, logger), nil
	case DriverAsync:
		return NewAsyncDriver(proc, qs, cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}
