package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/contractwatch/contract-indexer/internal/domain"
	"github.com/contractwatch/contract-indexer/internal/queue"
)

// defaultScanInterval is how often the scanner polls the notifications
// directory.
const defaultScanInterval = 15 * time.Second

// indexedSubdir is where handled notifications are moved so a restart
// does not re-index them.
const indexedSubdir = "indexed"

// Scanner watches the notifications directory and indexes each completed
// result exactly once.
type Scanner struct {
	notificationsDir string
	embedder         Embedder
	chunks           ChunkStore
	interval         time.Duration
	logger           *slog.Logger
}

// NewScanner builds a scanner over the queue's notifications directory.
func NewScanner(notificationsDir string, embedder Embedder, chunks ChunkStore, logger *slog.Logger) (*Scanner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(notificationsDir, indexedSubdir), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create indexed directory: %w", err)
	}
	return &Scanner{
		notificationsDir: notificationsDir,
		embedder:         embedder,
		chunks:           chunks,
		interval:         defaultScanInterval,
		logger:           logger.With(slog.String("component", "indexer_scanner")),
	}, nil
}

// Run polls until ctx is cancelled. Per-notification failures are logged
// and the file left in place for the next sweep.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("indexer scanner started", slog.String("dir", s.notificationsDir))
	for {
		if n, err := s.Sweep(ctx); err != nil {
			s.logger.Error("sweep failed", slog.String("error", err.Error()))
		} else if n > 0 {
			s.logger.Info("indexed results", slog.Int("count", n))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("indexer scanner stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep indexes every pending notification once and returns how many
// succeeded.
func (s *Scanner) Sweep(ctx context.Context) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.notificationsDir, "*_notification.json"))
	if err != nil {
		return 0, fmt.Errorf("failed to list notifications: %w", err)
	}

	indexed := 0
	for _, path := range matches {
		if ctx.Err() != nil {
			return indexed, ctx.Err()
		}
		if err := s.indexNotification(ctx, path); err != nil {
			s.logger.Warn("failed to index notification",
				slog.String("path", filepath.Base(path)),
				slog.String("error", err.Error()))
			continue
		}
		indexed++
	}
	return indexed, nil
}

func (s *Scanner) indexNotification(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read notification: %w", err)
	}

	var notification queue.CompletionNotification
	if err := json.Unmarshal(data, &notification); err != nil {
		return fmt.Errorf("failed to decode notification: %w", err)
	}

	resultData, err := os.ReadFile(notification.ResultPath)
	if err != nil {
		return fmt.Errorf("failed to read result file: %w", err)
	}
	result, err := domain.UnmarshalExtractionResult(resultData)
	if err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}

	chunks := chunkText(result.FullText())
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, chunk := range chunks {
			texts[i] = chunk.Content
		}

		embeddings, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed chunks: %w", err)
		}
		if err := s.chunks.ReplaceChunks(ctx, notification.RecordID, notification.ContractID, chunks, embeddings); err != nil {
			return fmt.Errorf("failed to store chunks: %w", err)
		}
	}

	// Move the notification out of the way only after the chunks are
	// durably stored.
	done := filepath.Join(s.notificationsDir, indexedSubdir, filepath.Base(path))
	if err := os.Rename(path, done); err != nil {
		return fmt.Errorf("failed to archive notification: %w", err)
	}
	return nil
}
