package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/querylens/querylens/internal/model"
)

const (
	defaultMaxTokens = 2048
	defaultTimeout   = 30 * time.Second
)

// RemoteConfig configures the remote completion client.
type RemoteConfig struct {
	Endpoint  string // full URL of the chat-completions endpoint
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Remote generates explanations through an OpenAI-compatible
// chat-completions endpoint with a bounded token budget.
type Remote struct {
	cfg    RemoteConfig
	client *http.Client
	logger *slog.Logger
}

// NewRemote creates a Remote client. Zero values in cfg fall back to
// defaults (2048 max tokens, 30s timeout).
func NewRemote(cfg RemoteConfig, logger *slog.Logger) *Remote {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Remote{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Name implements Explainer.
func (r *Remote) Name() string { return "remote" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Explain implements Explainer. The reply is parsed strictly: invalid JSON,
// a missing summary, or an unknown confidence level all reject the reply.
func (r *Remote) Explain(ctx context.Context, req Request) (*model.ExplanationResult, Usage, error) {
	body := chatRequest{
		Model:       r.cfg.Model,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: 0.2,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(req)},
		},
	}
	body.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, Usage{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("call backend: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, Usage{}, fmt.Errorf("read backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, Usage{}, fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	var reply chatResponse
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, Usage{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(reply.Choices) == 0 {
		return nil, Usage{}, fmt.Errorf("%w: no choices", ErrInvalidResponse)
	}

	usage := Usage{
		PromptTokens:     reply.Usage.PromptTokens,
		CompletionTokens: reply.Usage.CompletionTokens,
	}
	if r.logger != nil {
		r.logger.Debug("backend reply received",
			"model", r.cfg.Model,
			"prompt_tokens", usage.PromptTokens,
			"completion_tokens", usage.CompletionTokens,
		)
	}

	var result model.ExplanationResult
	if err := json.Unmarshal([]byte(reply.Choices[0].Message.Content), &result); err != nil {
		return nil, usage, fmt.Errorf("%w: reply content is not valid JSON: %v", ErrInvalidResponse, err)
	}
	if result.Summary == "" {
		return nil, usage, fmt.Errorf("%w: missing summary", ErrInvalidResponse)
	}
	if !result.Confidence.Valid() {
		return nil, usage, fmt.Errorf("%w: unknown confidence %q", ErrInvalidResponse, result.Confidence)
	}
	return &result, usage, nil
}
