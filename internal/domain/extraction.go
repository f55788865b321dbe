package domain

import (
	"encoding/json"
	"fmt"
)

// ExtractedSection is one heading-delimited block within a page.
type ExtractedSection struct {
	Heading string `json:"heading,omitempty"`
	Text    string `json:"text"`
}

// ExtractedPage holds the structured content of a single document page as
// returned by the extraction service.
type ExtractedPage struct {
	Number   int                `json:"page"`
	Text     string             `json:"text"`
	Sections []ExtractedSection `json:"sections,omitempty"`
}

// ExtractionResult is the stable, parseable payload produced for every
// completed record. The result indexer consumes it to build searchable
// text; the queue only guarantees its shape, not its contents.
type ExtractionResult struct {
	Pages     []ExtractedPage `json:"pages"`
	PageCount int             `json:"page_count"`
	CharCount int             `json:"char_count"`
	// Analysis carries optional LLM-generated output attached by the
	// direct processor; absent for remote extraction results.
	Analysis json.RawMessage `json:"analysis,omitempty"`
}

// FullText concatenates the text of all pages in order.
func (r *ExtractionResult) FullText() string {
	var out string
	for i, p := range r.Pages {
		if i > 0 {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// Marshal serializes the result for storage in a record's ProcessedData.
func (r *ExtractionResult) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extraction result: %w", err)
	}
	return data, nil
}

// UnmarshalExtractionResult parses a record's ProcessedData back into a
// structured result.
func UnmarshalExtractionResult(data []byte) (*ExtractionResult, error) {
	var res ExtractionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extraction result: %w", err)
	}
	return &res, nil
}
