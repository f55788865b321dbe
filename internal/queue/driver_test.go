package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/contractwatch/contract-indexer/internal/config"
	"github.com/contractwatch/contract-indexer/internal/docstore"
	"github.com/contractwatch/contract-indexer/internal/domain"
	"github.com/contractwatch/contract-indexer/internal/events"
	"github.com/contractwatch/contract-indexer/internal/extraction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDocs serves pre-registered documents without touching the network.
type fakeDocs struct {
	mu    sync.Mutex
	dir   string
	sizes map[string]int64
}

func newFakeDocs(t *testing.T) *fakeDocs {
	t.Helper()
	return &fakeDocs{dir: t.TempDir(), sizes: make(map[string]int64)}
}

func (f *fakeDocs) register(documentURL string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes[documentURL] = size
}

func (f *fakeDocs) EnsureLocal(_ context.Context, contractID, documentURL, _ string) (*docstore.Document, error) {
	f.mu.Lock()
	size, ok := f.sizes[documentURL]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("download failed for %s", documentURL)
	}

	filename := contractID + "_" + filepath.Base(documentURL)
	path := filepath.Join(f.dir, filename)
	if err := os.WriteFile(path, []byte("%PDF stub"), 0o644); err != nil {
		return nil, err
	}
	return &docstore.Document{Path: path, Filename: filename, Size: size}, nil
}

// scriptedExtractor returns a fixed result, with optional per-call
// failures and concurrency tracking.
type scriptedExtractor struct {
	mu          sync.Mutex
	calls       int
	sizesSeen   []int64
	errFor      func(call int, size int64) error
	inFlight    int
	maxInFlight int
	delay       time.Duration
}

func (s *scriptedExtractor) Extract(ctx context.Context, _ string, fileSize int64) (*domain.ExtractionResult, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.sizesSeen = append(s.sizesSeen, fileSize)
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	delay := s.delay
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.errFor != nil {
		if err := s.errFor(call, fileSize); err != nil {
			return nil, err
		}
	}
	return &domain.ExtractionResult{
		Pages:     []domain.ExtractedPage{{Number: 1, Text: "extracted"}},
		PageCount: 1,
		CharCount: 9,
	}, nil
}

type harness struct {
	store     *fakeQueueStore
	docs      *fakeDocs
	extractor *scriptedExtractor
	proc      *Processor
	docsCfg   config.DocumentsConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	base := t.TempDir()
	docsCfg := config.DocumentsConfig{
		QueueDir:               filepath.Join(base, "queue"),
		ResultsDir:             filepath.Join(base, "results"),
		NotificationsDir:       filepath.Join(base, "notifications"),
		MaxFileSizeMB:          100,
		DownloadTimeoutSeconds: 5,
	}
	writer, err := NewResultWriter(docsCfg, nil)
	require.NoError(t, err)

	qs := newFakeQueueStore()
	docs := newFakeDocs(t)
	extractor := &scriptedExtractor{}
	return &harness{
		store:     qs,
		docs:      docs,
		extractor: extractor,
		proc:      NewProcessor(qs, docs, extractor, writer, nil, nil),
		docsCfg:   docsCfg,
	}
}

func (h *harness) enqueue(t *testing.T, contractID, url string, size int64) *domain.QueueRecord {
	t.Helper()

	rec, err := domain.NewQueueRecord(contractID, url, "attachment")
	require.NoError(t, err)
	rec.FileSize = size
	require.NoError(t, h.store.Create(context.Background(), rec))
	h.docs.register(url, size)
	return rec
}

func TestSequentialDriver_ProcessesSmallestFirst(t *testing.T) {
	h := newHarness(t)
	for i, size := range []int64{500, 100, 300, 50, 200} {
		h.enqueue(t, "N-1", fmt.Sprintf("https://example.com/doc-%d.pdf", i), size)
	}

	d := NewSequentialDriver(h.proc, h.store, config.QueueConfig{Driver: DriverSequential}, nil)
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, []int64{50, 100, 200, 300, 500}, h.extractor.sizesSeen)

	counts, err := h.store.CountsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, counts.Completed)
	assert.Zero(t, counts.Failed)
}

func TestSequentialDriver_DelayBetweenRecords(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "N-1", "https://example.com/a.pdf", 10)
	h.enqueue(t, "N-1", "https://example.com/b.pdf", 20)

	d := NewSequentialDriver(h.proc, h.store, config.QueueConfig{
		Driver:              DriverSequential,
		RequestDelaySeconds: 1,
	}, nil)
	d.delay = 50 * time.Millisecond

	start := time.Now()
	require.NoError(t, d.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSequentialDriver_GatewayTimeoutFailsOnlyThatRecord(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "N-1", "https://example.com/a.pdf", 10)
	second := h.enqueue(t, "N-1", "https://example.com/b.pdf", 20)
	h.enqueue(t, "N-1", "https://example.com/c.pdf", 30)

	h.extractor.errFor = func(call int, _ int64) error {
		if call == 2 {
			return extraction.ErrAmbiguousTimeout
		}
		return nil
	}

	d := NewSequentialDriver(h.proc, h.store, config.QueueConfig{Driver: DriverSequential}, nil)
	require.NoError(t, d.Run(context.Background()))

	counts, err := h.store.CountsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Completed)
	assert.Equal(t, 1, counts.Failed)

	got, err := h.store.GetByID(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "outcome unknown")
	assert.Equal(t, 1, got.RetryCount)
}

func TestSequentialDriver_AuthErrorHaltsAndRequeues(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.enqueue(t, "N-1", fmt.Sprintf("https://example.com/doc-%d.pdf", i), int64(10*(i+1)))
	}
	h.extractor.errFor = func(int, int64) error { return extraction.ErrUnauthorized }

	d := NewSequentialDriver(h.proc, h.store, config.QueueConfig{Driver: DriverSequential}, nil)
	err := d.Run(context.Background())
	assert.ErrorIs(t, err, extraction.ErrUnauthorized)

	// Exactly one extraction attempt; nothing marked failed, everything
	// back in the queue with retry budget intact.
	assert.Equal(t, 1, h.extractor.calls)
	counts, countErr := h.store.CountsByStatus(context.Background())
	require.NoError(t, countErr)
	assert.Equal(t, 3, counts.Queued)
	assert.Zero(t, counts.Failed)

	queued, listErr := h.store.ListByStatus(context.Background(), domain.StatusQueued, 0)
	require.NoError(t, listErr)
	for _, rec := range queued {
		assert.Zero(t, rec.RetryCount)
	}
}

func TestSequentialDriver_DownloadFailureIsPerRecord(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "N-1", "https://example.com/a.pdf", 10)

	// Second record's URL is never registered, so its download fails.
	rec, err := domain.NewQueueRecord("N-1", "https://example.com/broken.pdf", "attachment")
	require.NoError(t, err)
	rec.FileSize = 5
	require.NoError(t, h.store.Create(context.Background(), rec))

	d := NewSequentialDriver(h.proc, h.store, config.QueueConfig{Driver: DriverSequential}, nil)
	require.NoError(t, d.Run(context.Background()))

	counts, err := h.store.CountsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Completed)
	assert.Equal(t, 1, counts.Failed)

	got, err := h.store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ErrorMessage, "document unavailable")
}

func TestPoolDriver_BoundsConcurrency(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 12; i++ {
		h.enqueue(t, "N-1", fmt.Sprintf("https://example.com/doc-%d.pdf", i), int64(i+1))
	}
	h.extractor.delay = 10 * time.Millisecond

	d := NewPoolDriver(h.proc, h.store, config.QueueConfig{Driver: DriverPool, Workers: 3}, nil)
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, 12, h.extractor.calls)
	assert.LessOrEqual(t, h.extractor.maxInFlight, 3)

	counts, err := h.store.CountsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, counts.Completed)
}

func TestPoolDriver_AuthErrorHalts(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 8; i++ {
		h.enqueue(t, "N-1", fmt.Sprintf("https://example.com/doc-%d.pdf", i), int64(i+1))
	}
	h.extractor.errFor = func(int, int64) error { return extraction.ErrUnauthorized }

	d := NewPoolDriver(h.proc, h.store, config.QueueConfig{Driver: DriverPool, Workers: 2}, nil)
	err := d.Run(context.Background())
	assert.ErrorIs(t, err, extraction.ErrUnauthorized)

	counts, countErr := h.store.CountsByStatus(context.Background())
	require.NoError(t, countErr)
	assert.Zero(t, counts.Failed, "auth errors must not consume retry budget")
	assert.Zero(t, counts.Completed)
	assert.Equal(t, 8, counts.Queued+counts.Processing)
}

func TestAsyncDriver_BoundsConcurrency(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 20; i++ {
		h.enqueue(t, "N-1", fmt.Sprintf("https://example.com/doc-%d.pdf", i), int64(i+1))
	}
	h.extractor.delay = 5 * time.Millisecond

	d := NewAsyncDriver(h.proc, h.store, config.QueueConfig{Driver: DriverAsync, MaxConcurrent: 4}, nil)
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, 20, h.extractor.calls)
	assert.LessOrEqual(t, h.extractor.maxInFlight, 4)

	counts, err := h.store.CountsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, counts.Completed)
}

func TestNewDriver(t *testing.T) {
	h := newHarness(t)

	for _, name := range []string{DriverSequential, DriverPool, DriverAsync} {
		d, err := NewDriver(config.QueueConfig{Driver: name, Workers: 2, MaxConcurrent: 2}, h.proc, h.store, nil)
		require.NoError(t, err)
		assert.Equal(t, name, d.Name())
	}

	_, err := NewDriver(config.QueueConfig{Driver: "threads"}, h.proc, h.store, nil)
	assert.Error(t, err)
}

func TestProcessor_WritesResultAndNotification(t *testing.T) {
	h := newHarness(t)
	rec := h.enqueue(t, "N-2", "https://example.com/sow.pdf", 10)

	d := NewSequentialDriver(h.proc, h.store, config.QueueConfig{Driver: DriverSequential}, nil)
	require.NoError(t, d.Run(context.Background()))

	got, err := h.store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Status)
	require.NotEmpty(t, got.SavedResultPath)
	assert.FileExists(t, got.SavedResultPath)

	result, err := domain.UnmarshalExtractionResult(got.ProcessedData)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PageCount)

	notifications, err := filepath.Glob(filepath.Join(h.docsCfg.NotificationsDir, "*_notification.json"))
	require.NoError(t, err)
	assert.Len(t, notifications, 1)
}

type recordingHandler struct {
	mu     sync.Mutex
	events []*events.QueueEvent
}

func (h *recordingHandler) HandleEvent(_ context.Context, event *events.QueueEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func TestProcessor_EmitsCompletionEvent(t *testing.T) {
	h := newHarness(t)
	rec := h.enqueue(t, "N-2", "https://example.com/sow.pdf", 10)

	emitter := events.NewInMemoryEventEmitter(nil)
	handler := &recordingHandler{}
	emitter.RegisterHandler(handler)

	writer, err := NewResultWriter(h.docsCfg, nil)
	require.NoError(t, err)
	proc := NewProcessor(h.store, h.docs, h.extractor, writer, emitter, nil)

	claimed, err := h.store.ClaimQueued(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, proc.ProcessRecord(context.Background(), claimed[0]))

	require.Len(t, handler.events, 1)
	assert.Equal(t, events.TypeRecordCompleted, handler.events[0].Type)

	var payload events.RecordCompletedPayload
	require.NoError(t, handler.events[0].UnmarshalPayload(&payload))
	assert.Equal(t, rec.ID.String(), payload.RecordID)
	assert.Equal(t, "N-2", payload.ContractID)
	assert.Equal(t, 1, payload.PageCount)
}

func TestRequeueRemaining_WorksWithCancelledContext(t *testing.T) {
	h := newHarness(t)
	rec := h.enqueue(t, "N-3", "https://example.com/x.pdf", 10)
	claimed, err := h.store.ClaimQueued(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	requeueRemaining(ctx, h.store, h.proc.logger, claimed)

	got, err := h.store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)
}

func TestSequentialDriver_CancelledMidExtractionRequeues(t *testing.T) {
	h := newHarness(t)
	rec := h.enqueue(t, "N-4", "https://example.com/slow.pdf", 10)
	h.extractor.delay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	d := NewSequentialDriver(h.proc, h.store, config.QueueConfig{Driver: DriverSequential}, nil)
	go func() { done <- d.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool {
		h.extractor.mu.Lock()
		defer h.extractor.mu.Unlock()
		return h.extractor.inFlight > 0
	})
	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))

	// The interrupted record goes back to queued untouched: no failure
	// recorded, no retry budget consumed.
	got, getErr := h.store.GetByID(context.Background(), rec.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Empty(t, got.ErrorMessage)

	counts, countErr := h.store.CountsByStatus(context.Background())
	require.NoError(t, countErr)
	assert.Zero(t, counts.Failed)
	assert.Zero(t, counts.Processing)
}

func TestSequentialDriver_CancelledMidBatchRequeuesRest(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.enqueue(t, "N-4", fmt.Sprintf("https://example.com/doc-%d.pdf", i), int64(i+1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.extractor.errFor = func(call int, _ int64) error {
		if call == 1 {
			cancel()
		}
		return nil
	}

	d := NewSequentialDriver(h.proc, h.store, config.QueueConfig{Driver: DriverSequential}, nil)
	err := d.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))

	counts, countErr := h.store.CountsByStatus(context.Background())
	require.NoError(t, countErr)
	assert.Equal(t, 1, counts.Completed)
	assert.Equal(t, 2, counts.Queued)
}
