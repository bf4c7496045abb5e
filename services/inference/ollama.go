package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.inference.ollama")

// OllamaConfig configures a local Ollama backend.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	EmbedModel string
	NumCtx     int
}

type OllamaService struct {
	httpClient *http.Client
	baseURL    string
	model      string
	embedModel string
	numCtx     int
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func NewOllamaService(cfg OllamaConfig) (*OllamaService, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ollama base URL not set")
	}
	model := cfg.Model
	if model == "" {
		slog.Warn("Ollama model not set, defaulting to gpt-oss")
		model = "gpt-oss"
	}
	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", model, "embed_model", embedModel)
	return &OllamaService{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		model:      model,
		embedModel: embedModel,
		numCtx:     cfg.NumCtx,
	}, nil
}

// GenerateJSON implements the Service interface.
func (o *OllamaService) GenerateJSON(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "OllamaService.GenerateJSON")
	defer span.End()

	model := req.Model
	if model == "" {
		model = o.model
	}
	span.SetAttributes(attribute.String("llm.model", model))
	slog.Debug("Generating via Ollama", "model", model)

	if len(req.Tools) > 0 {
		slog.Debug("Ollama generate endpoint has no tool support, ignoring requested tools", "tools", req.Tools)
	}

	options := map[string]any{
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if o.numCtx > 0 {
		options["num_ctx"] = o.numCtx
	}

	payload := ollamaGenerateRequest{
		Model:   model,
		System:  req.System,
		Prompt:  req.Prompt,
		Stream:  false,
		Options: options,
	}

	body, err := o.post(ctx, span, "/api/generate", payload)
	if err != nil {
		return nil, err
	}

	var genResp ollamaGenerateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Failed to parse JSON response from Ollama", "error", err, "response", string(body))
		return nil, fmt.Errorf("failed to parse Ollama response: %w", err)
	}
	return newResponse(genResp.Response)
}

// Embed implements the Service interface.
func (o *OllamaService) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, span := tracer.Start(ctx, "OllamaService.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.embedModel))

	body, err := o.post(ctx, span, "/api/embed", ollamaEmbedRequest{
		Model: o.embedModel,
		Input: text,
	})
	if err != nil {
		return nil, err
	}

	var embedResp ollamaEmbedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to parse Ollama embed response: %w", err)
	}
	if len(embedResp.Embeddings) == 0 || len(embedResp.Embeddings[0]) == 0 {
		return nil, ErrEmptyResponse
	}
	return embedResp.Embeddings[0], nil
}

// post sends one JSON request and returns the response body.
func (o *OllamaService) post(ctx context.Context, span trace.Span, path string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request to Ollama: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Ollama API call failed", "path", path, "error", err)
		return nil, fmt.Errorf("Ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from Ollama: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			var errResp struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(body, &errResp); err == nil &&
				strings.Contains(errResp.Error, "model") && strings.Contains(errResp.Error, "not found") {
				slog.Warn("Ollama model not found", "model", o.model)
				return nil, fmt.Errorf("model '%s' not found. Please run: 'ollama pull %s'", o.model, o.model)
			}
		}
		slog.Error("Ollama returned an error", "status_code", resp.StatusCode, "response", string(body))
		return nil, fmt.Errorf("Ollama failed with status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
