package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/contractwatch/contract-indexer/internal/store"
)

// Controller states reported in Status.
const (
	StateStopped = "stopped"
	StateRunning = "running"
	StatePaused  = "paused"
	StateHalted  = "halted"
)

// Sentinel errors for controller lifecycle misuse.
var (
	ErrAlreadyRunning = errors.New("queue controller already running")
	ErrNotRunning     = errors.New("queue controller not running")
)

// defaultPollInterval is how often an idle controller looks for newly
// queued records between explicit kicks.
const defaultPollInterval = 10 * time.Second

// Status is a point-in-time snapshot of the controller and the queue.
// Counts always come from the store, never from controller-internal
// bookkeeping, so they stay correct across restarts and multiple
// processes.
type Status struct {
	State     string             `json:"state"`
	Driver    string             `json:"driver"`
	Counts    store.StatusCounts `json:"counts"`
	LastError string             `json:"last_error,omitempty"`
}

// Controller supervises a driver: it runs passes until the queue drains,
// wakes on demand or on a poll interval, and implements pause, resume and
// stop on top of the driver's context handling.
type Controller struct {
	driver       Driver
	store        store.QueueStore
	pollInterval time.Duration
	logger       *slog.Logger

	mu         sync.Mutex
	running    bool
	paused     bool
	halted     bool
	lastError  string
	cancel     context.CancelFunc
	passCancel context.CancelFunc
	done       chan struct{}
	wake       chan struct{}
}

// NewController wires a controller around the given driver.
func NewController(driver Driver, qs store.QueueStore, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		driver:       driver,
		store:        qs,
		pollInterval: defaultPollInterval,
		logger:       logger.With(slog.String("component", "queue_controller")),
	}
}

// Start launches the processing loop. Records left in processing by a
// previous crashed run are requeued first so nothing is stranded.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyRunning
	}

	requeued, err := c.store.RequeueProcessing(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted records: %w", err)
	}
	if requeued > 0 {
		c.logger.Info("recovered interrupted records", slog.Int64("count", requeued))
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.running = true
	c.paused = false
	c.halted = false
	c.lastError = ""
	c.done = make(chan struct{})
	c.wake = make(chan struct{}, 1)

	go c.loop(loopCtx)

	// Process whatever is already queued without waiting for the first tick.
	c.kickLocked()

	c.logger.Info("queue controller started", slog.String("driver", c.driver.Name()))
	return nil
}

// Stop cancels processing, waits for the driver to wind down, and
// requeues any records still marked processing so the next start picks
// them up.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for driver to stop: %w", ctx.Err())
	}

	c.mu.Lock()
	c.running = false
	c.paused = false
	c.mu.Unlock()

	requeued, err := c.store.RequeueProcessing(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("failed to requeue in-flight records: %w", err)
	}
	if requeued > 0 {
		c.logger.Info("requeued in-flight records on stop", slog.Int64("count", requeued))
	}

	c.logger.Info("queue controller stopped")
	return nil
}

// Pause cancels the current pass and stops claiming new work. Claimed
// records go back to queued via the drivers' requeue path.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}
	if c.paused {
		return nil
	}
	c.paused = true
	if c.passCancel != nil {
		c.passCancel()
	}
	c.logger.Info("queue controller paused")
	return nil
}

// Resume clears a pause and immediately looks for work.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}
	if !c.paused {
		return nil
	}
	c.paused = false
	c.kickLocked()
	c.logger.Info("queue controller resumed")
	return nil
}

// Kick asks the controller to look for work now instead of at the next
// poll. Called after new records are enqueued.
func (c *Controller) Kick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running && !c.paused {
		c.kickLocked()
	}
}

func (c *Controller) kickLocked() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Status reports controller state plus live counts from the store.
func (c *Controller) Status(ctx context.Context) (*Status, error) {
	counts, err := c.store.CountsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue counts: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state := StateStopped
	switch {
	case c.halted:
		state = StateHalted
	case c.running && c.paused:
		state = StatePaused
	case c.running:
		state = StateRunning
	}

	return &Status{
		State:     state,
		Driver:    c.driver.Name(),
		Counts:    counts,
		LastError: c.lastError,
	}, nil
}

// loop runs driver passes until the controller is stopped or halted.
func (c *Controller) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.paused {
			c.mu.Unlock()
			continue
		}
		passCtx, passCancel := context.WithCancel(ctx)
		c.passCancel = passCancel
		c.mu.Unlock()

		err := c.driver.Run(passCtx)
		passCancel()

		c.mu.Lock()
		c.passCancel = nil
		c.mu.Unlock()

		switch {
		case err == nil:
			// Queue drained; wait for the next kick or tick.
		case errors.Is(err, context.Canceled):
			// Paused or stopped mid-pass; the select above decides what
			// happens next.
		default:
			// Fatal driver error. Everything claimed has been requeued
			// by the driver; stop claiming until an operator intervenes.
			c.logger.Error("driver halted", slog.String("error", err.Error()))
			c.mu.Lock()
			c.halted = true
			c.running = false
			c.lastError = err.Error()
			c.mu.Unlock()
			return
		}
	}
}
