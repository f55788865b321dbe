// Package extraction turns downloaded documents into structured text. Two
// extractors implement the same interface: Client posts the file to the
// remote extraction service, DirectExtractor converts it locally and runs
// the analysis model itself.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/contractwatch/contract-indexer/internal/config"
	"github.com/contractwatch/contract-indexer/internal/domain"
)

// Extractor is implemented by anything that can produce an
// ExtractionResult for a local document file.
type Extractor interface {
	// Extract processes the document at filePath. fileSize is used to
	// scale the request timeout; pass 0 when unknown.
	Extract(ctx context.Context, filePath string, fileSize int64) (*domain.ExtractionResult, error)
}

// Client calls the remote extraction service over HTTP.
type Client struct {
	apiURL     string
	apiKey     string
	baseWait   time.Duration
	per10MB    time.Duration
	maxWait    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a remote extraction client from configuration.
func NewClient(cfg config.ExtractionConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiURL:   cfg.APIURL,
		apiKey:   cfg.APIKey,
		baseWait: time.Duration(cfg.BaseTimeoutSeconds) * time.Second,
		per10MB:  time.Duration(cfg.TimeoutPer10MBSeconds) * time.Second,
		maxWait:  time.Duration(cfg.MaxTimeoutSeconds) * time.Second,
		// Per-request deadlines come from the context; the client itself
		// must not impose a second, fixed timeout.
		httpClient: &http.Client{},
		logger:     logger.With(slog.String("component", "extraction_client")),
	}
}

// requestTimeout scales the wait with document size: large PDFs routinely
// take several minutes server-side.
func (c *Client) requestTimeout(fileSize int64) time.Duration {
	wait := c.baseWait
	if fileSize > 0 && c.per10MB > 0 {
		wait += time.Duration(fileSize/(10*1024*1024)) * c.per10MB
	}
	if c.maxWait > 0 && wait > c.maxWait {
		wait = c.maxWait
	}
	return wait
}

// Extract uploads the document and parses the page payload the service
// returns.
func (c *Client) Extract(ctx context.Context, filePath string, fileSize int64) (*domain.ExtractionResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileMissing, filePath)
		}
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer func() { _ = file.Close() }()

	body, contentType, err := buildMultipartBody(file, filepath.Base(filePath))
	if err != nil {
		return nil, err
	}

	timeout := c.requestTimeout(fileSize)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("sending extraction request",
		slog.String("file", filepath.Base(filePath)),
		slog.Int64("size_bytes", fileSize),
		slog.Duration("timeout", timeout))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return parseResponse(resp.Body)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, ErrAmbiguousTimeout
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
}

// buildMultipartBody reads the whole file into the form up front so the
// request body has a fixed length and can carry a Content-Type boundary.
func buildMultipartBody(file *os.File, filename string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("document", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("failed to copy document into form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize form: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// responseEnvelope mirrors the service's JSON reply.
type responseEnvelope struct {
	Pages []domain.ExtractedPage `json:"pages"`
}

func parseResponse(r io.Reader) (*domain.ExtractionResult, error) {
	var envelope responseEnvelope
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode extraction response: %w", err)
	}

	result := &domain.ExtractionResult{
		Pages:     envelope.Pages,
		PageCount: len(envelope.Pages),
	}
	for _, page := range envelope.Pages {
		result.CharCount += len(page.Text)
	}
	return result, nil
}
