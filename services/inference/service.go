package inference

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Sentinel errors shared by all backends.
var (
	// ErrEmptyResponse is returned when a provider answers with no text.
	ErrEmptyResponse = errors.New("provider returned an empty response")

	// ErrAllProvidersFailed is returned by a fallback chain when every
	// backend errored.
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// Tool names a provider-side capability the model may draw on during one
// generation.
type Tool string

// ToolGroundedSearch asks the provider to ground the reply in a live web
// search.
const ToolGroundedSearch Tool = "web_search"

// Request is one generation call. Model overrides the backend default when
// set. Tools, ThinkingLevel, and ThinkingBudget pass through to providers
// that support them and are ignored elsewhere.
type Request struct {
	Model          string
	System         string
	Prompt         string
	Temperature    float64
	MaxTokens      int
	Tools          []Tool
	ThinkingLevel  string
	ThinkingBudget int
}

// Response carries both views of a reply. Parsed is nil when no JSON could
// be recovered; Raw always holds the provider text.
type Response struct {
	Parsed json.RawMessage
	Raw    string
}

// Service is the interface every inference backend implements.
type Service interface {
	// GenerateJSON runs one completion and extracts JSON from the reply.
	// A reply without recoverable JSON is not an error: Parsed is nil and
	// the caller decides how to degrade.
	GenerateJSON(ctx context.Context, req Request) (*Response, error)

	// Embed returns the embedding vector for one text. An empty vector and
	// an error both mean failure.
	Embed(ctx context.Context, text string) ([]float64, error)
}

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON recovers a JSON value from model output. It tries the whole
// reply first, then each fenced code block in order. Returns nil when
// nothing parses.
func ExtractJSON(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	for _, m := range fencePattern.FindAllStringSubmatch(trimmed, -1) {
		candidate := strings.TrimSpace(m[1])
		if candidate != "" && json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate)
		}
	}
	return nil
}

// newResponse builds a Response from raw provider text.
func newResponse(raw string) (*Response, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Parsed: ExtractJSON(raw),
		Raw:    raw,
	}, nil
}
