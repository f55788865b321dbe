// Package docstore manages the local copy of each queued document. Documents
// are downloaded once into the queue directory under a content-addressed
// name derived from the contract ID and document URL, so repeated enqueues
// and crash-recovery re-runs never duplicate a download.
package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/contractwatch/contract-indexer/internal/config"
)

// Document describes a file held in the local store.
type Document struct {
	// Path is the absolute path of the stored file.
	Path string
	// Filename is the base name, contractID_hash.ext.
	Filename string
	// Size is the stored file size in bytes.
	Size int64
}

// ErrTooLarge is returned when a download exceeds the configured size limit.
type ErrTooLarge struct {
	URL   string
	Limit int64
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("document %s exceeds size limit of %d bytes", e.URL, e.Limit)
}

// Store downloads documents and keeps them on the local filesystem.
type Store struct {
	dir      string
	maxBytes int64
	client   *http.Client
	logger   *slog.Logger
}

// NewStore creates the queue directory if needed and returns a store
// writing into it.
func NewStore(cfg config.DocumentsConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.QueueDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	return &Store{
		dir:      cfg.QueueDir,
		maxBytes: int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		client: &http.Client{
			Timeout: time.Duration(cfg.DownloadTimeoutSeconds) * time.Second,
		},
		logger: logger.With(slog.String("component", "docstore")),
	}, nil
}

// Dir returns the directory documents are stored in.
func (s *Store) Dir() string {
	return s.dir
}

// Download fetches the document at documentURL and stores it under a
// content-addressed name. If a file for this contract/URL pair already
// exists the download is skipped and the existing file is returned, which
// makes the operation safe to repeat after a crash.
func (s *Store) Download(ctx context.Context, contractID, documentURL string) (*Document, error) {
	stem := s.fileStem(contractID, documentURL)

	if doc := s.findExisting(stem); doc != nil {
		s.logger.Debug("document already downloaded, skipping",
			slog.String("contract_id", contractID),
			slog.String("filename", doc.Filename))
		return doc, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, documentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download document: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d for %s", resp.StatusCode, documentURL)
	}

	limit := s.maxBytes
	if limit <= 0 {
		limit = 500 * 1024 * 1024
	}
	content, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read document body: %w", err)
	}
	if int64(len(content)) > limit {
		return nil, &ErrTooLarge{URL: documentURL, Limit: limit}
	}

	ext := inferExtension(content,
		strings.ToLower(resp.Header.Get("Content-Type")),
		resp.Header.Get("Content-Disposition"),
		documentURL)

	filename := stem + ext
	path := filepath.Join(s.dir, filename)

	// Write via a temp file so a crash mid-write never leaves a truncated
	// document that a later run would mistake for a complete one.
	tmp, err := os.CreateTemp(s.dir, stem+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to move document into place: %w", err)
	}

	s.logger.Info("document downloaded",
		slog.String("contract_id", contractID),
		slog.String("filename", filename),
		slog.Int("size_bytes", len(content)))

	return &Document{Path: path, Filename: filename, Size: int64(len(content))}, nil
}

// EnsureLocal returns the stored document for the contract/URL pair,
// downloading it again if the local file went missing. Drivers call this
// before extraction so records enqueued before a disk wipe still process.
func (s *Store) EnsureLocal(ctx context.Context, contractID, documentURL, localPath string) (*Document, error) {
	if localPath != "" {
		if info, err := os.Stat(localPath); err == nil && info.Size() > 0 {
			return &Document{
				Path:     localPath,
				Filename: filepath.Base(localPath),
				Size:     info.Size(),
			}, nil
		}
	}
	return s.Download(ctx, contractID, documentURL)
}

// Remove deletes a stored file, ignoring files that are already gone.
func (s *Store) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove document %s: %w", path, err)
	}
	return nil
}

// fileStem builds the extension-less content address for a contract/URL pair.
func (s *Store) fileStem(contractID, documentURL string) string {
	sum := sha256.Sum256([]byte(contractID + "|" + documentURL))
	return sanitizeContractID(contractID) + "_" + hex.EncodeToString(sum[:])[:12]
}

// findExisting looks for a previously stored file with any extension.
func (s *Store) findExisting(stem string) *Document {
	matches, err := filepath.Glob(filepath.Join(s.dir, stem+".*"))
	if err != nil {
		return nil
	}
	for _, match := range matches {
		if strings.Contains(filepath.Base(match), ".tmp-") {
			continue
		}
		info, err := os.Stat(match)
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}
		return &Document{Path: match, Filename: filepath.Base(match), Size: info.Size()}
	}
	return nil
}

func sanitizeContractID(contractID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, contractID)
}

// inferExtension picks a file extension using layered evidence, most
// reliable first: the Content-Disposition filename, then file magic
// numbers, then the Content-Type header, then the URL path, and finally
// a .pdf default since that is what these documents overwhelmingly are.
func inferExtension(content []byte, contentType, contentDisposition, rawURL string) string {
	if ext := extensionFromDisposition(contentDisposition); ext != "" {
		return ext
	}
	if ext := extensionFromMagic(content, contentType); ext != "" {
		return ext
	}
	if ext := extensionFromContentType(contentType); ext != "" {
		return ext
	}
	if ext := extensionFromURL(rawURL); ext != "" {
		return ext
	}
	return ".pdf"
}

func extensionFromDisposition(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	if filename := params["filename"]; filename != "" {
		if ext := filepath.Ext(filename); ext != "" && ext != "." {
			return strings.ToLower(ext)
		}
	}
	return ""
}

func extensionFromMagic(content []byte, contentType string) string {
	switch {
	case len(content) >= 4 && string(content[:4]) == "%PDF":
		return ".pdf"
	case len(content) >= 4 && string(content[:4]) == "PK\x03\x04":
		// OOXML documents are zip containers; the package type shows up
		// in the member paths near the start of the archive.
		head := content
		if len(head) > 2000 {
			head = head[:2000]
		}
		switch {
		case containsBytes(head, "word/"):
			return ".docx"
		case containsBytes(head, "xl/"):
			return ".xlsx"
		case containsBytes(head, "ppt/"):
			return ".pptx"
		default:
			return ".zip"
		}
	case len(content) >= 4 && string(content[:4]) == "\xd0\xcf\x11\xe0":
		// Legacy OLE compound file; disambiguate with the content type.
		switch {
		case strings.Contains(contentType, "excel"), strings.Contains(contentType, "sheet"):
			return ".xls"
		default:
			return ".doc"
		}
	}
	return ""
}

func extensionFromContentType(contentType string) string {
	switch {
	case strings.Contains(contentType, "pdf"):
		return ".pdf"
	case strings.Contains(contentType, "officedocument.wordprocessingml"), strings.Contains(contentType, "word"):
		return ".docx"
	case strings.Contains(contentType, "officedocument.spreadsheetml"), strings.Contains(contentType, "excel"):
		return ".xlsx"
	case strings.Contains(contentType, "officedocument.presentationml"), strings.Contains(contentType, "powerpoint"):
		return ".pptx"
	case strings.Contains(contentType, "text/plain"):
		return ".txt"
	}
	return ""
}

func extensionFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if ext := filepath.Ext(parsed.Path); ext != "" && ext != "." {
		return strings.ToLower(ext)
	}
	return ""
}

func containsBytes(b []byte, sub string) bool {
	return strings.Contains(string(b), sub)
}
