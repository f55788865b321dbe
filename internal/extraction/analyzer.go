package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// DefaultAnalysisModel is used when no model is configured.
const DefaultAnalysisModel = "gemini-2.0-flash"

// analysisPromptMaxChars bounds how much document text goes into a single
// analysis request.
const analysisPromptMaxChars = 100_000

const analysisPrompt = `You are reviewing a government contract document.
Summarize it as JSON with these fields:
  "document_type": one of "solicitation", "amendment", "statement_of_work", "pricing", "attachment", "other"
  "summary": 2-3 sentence plain-language summary
  "key_dates": list of {"label", "date"} objects for any deadlines or period-of-performance dates
  "topics": list of short topic strings

Respond with the JSON object only, no markdown fences.

Document text:
`

// GeminiAnalyzer asks a Gemini model for a structured summary of extracted
// contract text.
type GeminiAnalyzer struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiAnalyzer creates an analyzer backed by the Gemini API.
func NewGeminiAnalyzer(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = DefaultAnalysisModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiAnalyzer{
		client: client,
		model:  model,
		logger: logger.With(slog.String("component", "gemini_analyzer")),
	}, nil
}

// Analyze sends the document text to the model and returns the JSON
// analysis it produced.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, text string) (json.RawMessage, error) {
	if len(text) > analysisPromptMaxChars {
		text = text[:analysisPromptMaxChars]
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(analysisPrompt+text), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini generation failed: %w", err)
	}

	raw := stripCodeFences(resp.Text())
	if raw == "" {
		return nil, fmt.Errorf("gemini returned an empty analysis")
	}
	if !json.Valid([]byte(raw)) {
		g.logger.Warn("gemini analysis was not valid JSON, wrapping as text")
		wrapped, err := json.Marshal(map[string]string{"summary": raw})
		if err != nil {
			return nil, fmt.Errorf("failed to wrap analysis text: %w", err)
		}
		return wrapped, nil
	}
	return json.RawMessage(raw), nil
}

// stripCodeFences removes the ```json fences models add despite being told
// not to.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
