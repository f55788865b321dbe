package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"
	"github.com/contractwatch/contract-indexer/internal/domain"
)

// pageSplitChars approximates one rendered page of contract text. Local
// conversion loses page boundaries, so the text is re-chunked for parity
// with the remote service's per-page payload.
const pageSplitChars = 3000

// Analyzer produces a structured analysis for extracted document text.
// The Gemini-backed implementation lives in analyzer.go; tests substitute
// their own.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (json.RawMessage, error)
}

// DirectExtractor converts documents locally instead of calling the
// remote extraction service. It handles the formats docconv understands
// (PDF, Office documents, plain text) and optionally attaches a model
// analysis of the extracted text.
type DirectExtractor struct {
	analyzer Analyzer
	logger   *slog.Logger
}

// NewDirectExtractor returns a local extractor. analyzer may be nil, in
// which case results carry text only.
func NewDirectExtractor(analyzer Analyzer, logger *slog.Logger) *DirectExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectExtractor{
		analyzer: analyzer,
		logger:   logger.With(slog.String("component", "direct_extractor")),
	}
}

// Extract converts the file to text and chunks it into pseudo-pages.
func (d *DirectExtractor) Extract(ctx context.Context, filePath string, fileSize int64) (*domain.ExtractionResult, error) {
	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileMissing, filePath)
		}
		return nil, fmt.Errorf("failed to stat document: %w", err)
	}

	res, err := docconv.ConvertPath(filePath)
	if err != nil {
		return nil, fmt.Errorf("local conversion failed for %s: %w", filepath.Base(filePath), err)
	}

	text := strings.TrimSpace(res.Body)
	if text == "" {
		return nil, fmt.Errorf("local conversion produced no text for %s", filepath.Base(filePath))
	}

	result := &domain.ExtractionResult{
		Pages:     splitPages(text),
		CharCount: len(text),
	}
	result.PageCount = len(result.Pages)

	if d.analyzer != nil {
		analysis, err := d.analyzer.Analyze(ctx, text)
		if err != nil {
			// Text extraction succeeded; a failed analysis degrades the
			// result rather than failing the record.
			d.logger.Warn("analysis failed, keeping text-only result",
				slog.String("file", filepath.Base(filePath)),
				slog.String("error", err.Error()))
		} else {
			result.Analysis = analysis
		}
	}

	d.logger.Debug("document extracted locally",
		slog.String("file", filepath.Base(filePath)),
		slog.Int("pages", result.PageCount),
		slog.Int("chars", result.CharCount))

	return result, nil
}

// splitPages chunks text on paragraph boundaries into page-sized pieces.
func splitPages(text string) []domain.ExtractedPage {
	paragraphs := strings.Split(text, "\n\n")

	var pages []domain.ExtractedPage
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		pages = append(pages, domain.ExtractedPage{
			Number: len(pages) + 1,
			Text:   strings.TrimSpace(current.String()),
		})
		current.Reset()
	}

	for _, para := range paragraphs {
		if current.Len() > 0 && current.Len()+len(para) > pageSplitChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return pages
}
