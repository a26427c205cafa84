// Package llm provides a client for an Ollama-compatible chat backend.
//
// Three endpoints are used: /api/chat for conversations, /api/tags for
// listing installed models, and /api/generate for one-shot prompts.
// Streaming is disabled on every call; callers get the full response.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrNoBaseURL is returned when the backend URL is missing.
var ErrNoBaseURL = errors.New("llm: base URL required")

// ErrNoModel is returned when a request names no model.
var ErrNoModel = errors.New("llm: model required")

// ErrEmptyResponse is returned when the backend answers with no content.
var ErrEmptyResponse = errors.New("llm: backend returned empty response")

// BackendError is a non-success response from the LLM backend.
type BackendError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("llm: backend returned %d: %s", e.StatusCode, e.Body)
}

// NetworkError is a transport-level failure reaching the backend.
type NetworkError struct {
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("llm: network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a conversation sent to the backend.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Model describes an installed model.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Provider is the LLM capability consumed by the web layer and exporter.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
	Models(ctx context.Context) ([]Model, error)
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Client talks to an Ollama-compatible backend.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// NewClient creates an LLM client for the given backend base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "llm")
	return c, nil
}

// Chat sends a full conversation and returns the assistant's reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if req.Model == "" {
		return "", ErrNoModel
	}

	payload := struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
		Stream   bool      `json:"stream"`
		Options  *struct {
			Temperature float64 `json:"temperature"`
		} `json:"options,omitempty"`
	}{
		Model:    req.Model,
		Messages: req.Messages,
	}
	if req.Temperature > 0 {
		payload.Options = &struct {
			Temperature float64 `json:"temperature"`
		}{Temperature: req.Temperature}
	}

	start := time.Now()
	var result struct {
		Message Message `json:"message"`
	}
	if err := c.post(ctx, "/api/chat", payload, &result); err != nil {
		return "", err
	}
	if result.Message.Content == "" {
		return "", ErrEmptyResponse
	}

	c.logger.Debug("chat completed",
		"model", req.Model,
		"turns", len(req.Messages),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return result.Message.Content, nil
}

// Generate sends a one-shot prompt and returns the completion.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		return "", ErrNoModel
	}

	payload := struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		Stream bool   `json:"stream"`
	}{Model: model, Prompt: prompt}

	var result struct {
		Response string `json:"response"`
	}
	if err := c.post(ctx, "/api/generate", payload, &result); err != nil {
		return "", err
	}
	if result.Response == "" {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(result.Response), nil
}

// Models lists the models installed on the backend.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, &BackendError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		Models []Model `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	return result.Models, nil
}

func (c *Client) post(ctx context.Context, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("llm: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return &BackendError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("llm: decode response: %w", err)
	}
	return nil
}

// Verify Client implements Provider at compile time.
var _ Provider = (*Client)(nil)
