package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/contractwatch/contract-indexer/internal/config"
	"github.com/contractwatch/contract-indexer/internal/domain"
)

// CompletionNotification is the file dropped in the notifications
// directory when a record completes. Downstream consumers (the indexer
// among them) watch that directory instead of polling the database.
type CompletionNotification struct {
	RecordID    string    `json:"record_id"`
	ContractID  string    `json:"contract_id"`
	DocumentURL string    `json:"document_url"`
	Filename    string    `json:"filename"`
	ResultPath  string    `json:"result_path"`
	PageCount   int       `json:"page_count"`
	CharCount   int       `json:"char_count"`
	CompletedAt time.Time `json:"completed_at"`
}

// ResultWriter persists raw extraction results and completion
// notifications to the local filesystem.
type ResultWriter struct {
	resultsDir       string
	notificationsDir string
	logger           *slog.Logger
}

// NewResultWriter creates the results and notifications directories.
func NewResultWriter(cfg config.DocumentsConfig, logger *slog.Logger) (*ResultWriter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{cfg.ResultsDir, cfg.NotificationsDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &ResultWriter{
		resultsDir:       cfg.ResultsDir,
		notificationsDir: cfg.NotificationsDir,
		logger:           logger.With(slog.String("component", "result_writer")),
	}, nil
}

// WriteResult stores the raw result payload and returns its path.
func (w *ResultWriter) WriteResult(rec *domain.QueueRecord, data []byte) (string, error) {
	path := filepath.Join(w.resultsDir, resultStem(rec)+"_result.json")
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("failed to write result file: %w", err)
	}
	return path, nil
}

// WriteNotification drops a completion notification for downstream
// consumers.
func (w *ResultWriter) WriteNotification(rec *domain.QueueRecord, resultPath string, result *domain.ExtractionResult) error {
	notification := CompletionNotification{
		RecordID:    rec.ID.String(),
		ContractID:  rec.ContractID,
		DocumentURL: rec.DocumentURL,
		Filename:    rec.Filename,
		ResultPath:  resultPath,
		PageCount:   result.PageCount,
		CharCount:   result.CharCount,
		CompletedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(notification, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	path := filepath.Join(w.notificationsDir, resultStem(rec)+"_notification.json")
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("failed to write notification file: %w", err)
	}
	return nil
}

// resultStem names result artifacts after the stored document where
// possible and falls back to the record ID.
func resultStem(rec *domain.QueueRecord) string {
	if rec.Filename != "" {
		return strings.TrimSuffix(rec.Filename, filepath.Ext(rec.Filename))
	}
	return rec.ID.String()
}
