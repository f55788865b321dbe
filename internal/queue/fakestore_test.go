package queue

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/contractwatch/contract-indexer/internal/domain"
	"github.com/contractwatch/contract-indexer/internal/store"
	"github.com/google/uuid"
)

// fakeQueueStore is an in-memory store.QueueStore for driver and
// controller tests. It mirrors the Postgres implementation's transition
// rules, including claim ordering and retry accounting.
type fakeQueueStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.QueueRecord
	order   []uuid.UUID
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{records: make(map[uuid.UUID]*domain.QueueRecord)}
}

func (f *fakeQueueStore) Create(_ context.Context, rec *domain.QueueRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.records {
		if existing.ContractID == rec.ContractID && existing.DocumentURL == rec.DocumentURL {
			return store.ErrDuplicate
		}
	}
	clone := *rec
	f.records[rec.ID] = &clone
	f.order = append(f.order, rec.ID)
	return nil
}

func (f *fakeQueueStore) GetByID(_ context.Context, id uuid.UUID) (*domain.QueueRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	clone := *rec
	return &clone, nil
}

func (f *fakeQueueStore) FindByContractAndURL(_ context.Context, contractID, documentURL string) (*domain.QueueRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, rec := range f.records {
		if rec.ContractID == contractID && rec.DocumentURL == documentURL {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, store.ErrRecordNotFound
}

func (f *fakeQueueStore) ClaimQueued(_ context.Context, limit int) ([]*domain.QueueRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var candidates []*domain.QueueRecord
	for _, id := range f.order {
		if rec := f.records[id]; rec.Status == domain.StatusQueued {
			candidates = append(candidates, rec)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if (a.FileSize > 0) != (b.FileSize > 0) {
			return a.FileSize > 0
		}
		if a.FileSize != b.FileSize {
			return a.FileSize < b.FileSize
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.QueuedAt.Before(b.QueuedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	now := time.Now().UTC()
	claimed := make([]*domain.QueueRecord, 0, len(candidates))
	for _, rec := range candidates {
		rec.Status = domain.StatusProcessing
		started := now
		rec.StartedAt = &started
		clone := *rec
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

func (f *fakeQueueStore) MarkCompleted(_ context.Context, id uuid.UUID, processedData []byte, savedResultPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id]
	if !ok {
		return store.ErrRecordNotFound
	}
	now := time.Now().UTC()
	rec.Status = domain.StatusCompleted
	rec.CompletedAt = &now
	rec.ProcessedData = processedData
	rec.SavedResultPath = savedResultPath
	rec.ErrorMessage = ""
	return nil
}

func (f *fakeQueueStore) MarkFailed(_ context.Context, id uuid.UUID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id]
	if !ok {
		return store.ErrRecordNotFound
	}
	now := time.Now().UTC()
	rec.Status = domain.StatusFailed
	rec.FailedAt = &now
	rec.ErrorMessage = message
	rec.RetryCount++
	return nil
}

func (f *fakeQueueStore) UpdateLocalFile(_ context.Context, id uuid.UUID, path, filename string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id]
	if !ok {
		return store.ErrRecordNotFound
	}
	rec.LocalFilePath = path
	rec.Filename = filename
	rec.FileSize = size
	return nil
}

func (f *fakeQueueStore) StuckRecords(_ context.Context, olderThan time.Duration) ([]*domain.QueueRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var stuck []*domain.QueueRecord
	for _, id := range f.order {
		rec := f.records[id]
		if rec.Status == domain.StatusProcessing && rec.StartedAt != nil && rec.StartedAt.Before(cutoff) {
			clone := *rec
			stuck = append(stuck, &clone)
		}
	}
	return stuck, nil
}

func (f *fakeQueueStore) ResetRecord(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id]
	if !ok {
		return store.ErrRecordNotFound
	}
	if rec.Status != domain.StatusProcessing {
		return store.ErrNotProcessing
	}
	rec.Status = domain.StatusQueued
	rec.StartedAt = nil
	rec.RetryCount++
	return nil
}

func (f *fakeQueueStore) ResetAllStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	stuck, err := f.StuckRecords(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, rec := range stuck {
		if err := f.ResetRecord(ctx, rec.ID); err == nil {
			n++
		}
	}
	return n, nil
}

func (f *fakeQueueStore) RequeueProcessing(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, rec := range f.records {
		if rec.Status == domain.StatusProcessing {
			rec.Status = domain.StatusQueued
			rec.StartedAt = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeQueueStore) Requeue(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id]
	if !ok {
		return store.ErrRecordNotFound
	}
	if rec.Status != domain.StatusProcessing {
		return store.ErrNotProcessing
	}
	rec.Status = domain.StatusQueued
	rec.StartedAt = nil
	return nil
}

func (f *fakeQueueStore) RetryFailed(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, rec := range f.records {
		if rec.Status == domain.StatusFailed && rec.RetryCount < rec.MaxRetries {
			rec.Status = domain.StatusQueued
			rec.StartedAt = nil
			rec.FailedAt = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeQueueStore) ListByStatus(_ context.Context, status domain.ProcessingStatus, limit int) ([]*domain.QueueRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*domain.QueueRecord
	for _, id := range f.order {
		rec := f.records[id]
		if rec.Status == status {
			clone := *rec
			out = append(out, &clone)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeQueueStore) CountsByStatus(_ context.Context) (store.StatusCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var counts store.StatusCounts
	for _, rec := range f.records {
		switch rec.Status {
		case domain.StatusQueued:
			counts.Queued++
		case domain.StatusProcessing:
			counts.Processing++
		case domain.StatusCompleted:
			counts.Completed++
		case domain.StatusFailed:
			counts.Failed++
		}
		counts.Total++
	}
	return counts, nil
}

func (f *fakeQueueStore) PurgeAll(_ context.Context) (int64, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var paths []string
	var n int64
	for _, rec := range f.records {
		if rec.LocalFilePath != "" {
			paths = append(paths, rec.LocalFilePath)
		}
		if rec.SavedResultPath != "" {
			paths = append(paths, rec.SavedResultPath)
		}
		n++
	}
	f.records = make(map[uuid.UUID]*domain.QueueRecord)
	f.order = nil
	return n, paths, nil
}

func (f *fakeQueueStore) WithTx(_ *sql.Tx) store.QueueStore { return f }

var _ store.QueueStore = (*fakeQueueStore)(nil)
