package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible backend. BaseURL may point
// at any server speaking the OpenAI API (vLLM, LiteLLM, the real thing).
type OpenAIConfig struct {
	BaseURL    string
	Model      string
	EmbedModel string
	Vault      *KeyVault
}

type OpenAIService struct {
	client     *openai.Client
	model      string
	embedModel string
}

// NewOpenAIService builds the backend. The API key never enters the client
// config: a vault-backed transport injects the Authorization header per
// request.
func NewOpenAIService(cfg OpenAIConfig) (*OpenAIService, error) {
	if cfg.Vault == nil {
		return nil, fmt.Errorf("OpenAI backend requires a key vault")
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OpenAI model not set, defaulting to gpt-4o-mini")
	}
	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = string(openai.SmallEmbedding3)
	}

	clientCfg := openai.DefaultConfig("")
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &vaultTransport{
			vault: cfg.Vault,
			base:  http.DefaultTransport,
		},
	}

	slog.Info("Initializing OpenAI-compatible client", "model", model, "embed_model", embedModel)
	return &OpenAIService{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		embedModel: embedModel,
	}, nil
}

// GenerateJSON implements the Service interface.
func (o *OpenAIService) GenerateJSON(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	slog.Debug("Generating via OpenAI API", "model", model)

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.MaxTokens
	}
	if req.ThinkingLevel != "" {
		chatReq.ReasoningEffort = strings.ToLower(req.ThinkingLevel)
	}
	// Grounded search rides as a function tool. Gateways that execute
	// tools server-side return grounded text in the normal reply; a
	// provider that hands the call back instead yields an empty reply and
	// the caller's retry budget applies.
	for _, tool := range req.Tools {
		if tool != ToolGroundedSearch {
			continue
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        string(ToolGroundedSearch),
				Description: "Search the web and ground the answer in current sources.",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"the search query"}},"required":["query"]}`),
			},
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return nil, ErrEmptyResponse
	}
	return newResponse(resp.Choices[0].Message.Content)
}

// Embed implements the Service interface.
func (o *OpenAIService) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.embedModel),
	})
	if err != nil {
		slog.Error("OpenAI embedding call failed", "error", err)
		return nil, fmt.Errorf("OpenAI embedding call failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyResponse
	}
	out := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		out[i] = float64(v)
	}
	return out, nil
}

// vaultTransport injects the Authorization header from the vault on every
// request so the key is only in plain memory while the call is in flight.
type vaultTransport struct {
	vault *KeyVault
	base  http.RoundTripper
}

func (t *vaultTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := t.vault.Use(func(secret string) error {
		req.Header.Set("Authorization", "Bearer "+secret)
		var rtErr error
		resp, rtErr = t.base.RoundTrip(req)
		return rtErr
	})
	return resp, err
}
