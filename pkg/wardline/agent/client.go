// Package agent implements the language-model dialogue agent that plans
// what the reassurance caller says next. Uses the OpenAI-compatible chat
// completions format, which works with OpenAI, proxies, and any compatible
// endpoint.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ---------- Client ----------

// Client handles communication with the chat completions API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Config configures the dialogue agent backend.
type Config struct {
	// APIKey authenticates against the endpoint. Usually resolved from the
	// keyring or environment rather than written here.
	APIKey string `yaml:"api_key"`

	// BaseURL is the API root (default "https://api.openai.com/v1").
	BaseURL string `yaml:"base_url"`

	// Model is the chat model used for turn planning.
	Model string `yaml:"model"`
}

// DefaultConfig returns agent defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	}
}

// NewClient creates a dialogue agent client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultConfig().BaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	model := cfg.Model
	if model == "" {
		model = DefaultConfig().Model
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   model,
		httpClient: &http.Client{
			// No global timeout; every call carries a context deadline from
			// the turn pipeline.
			Transport: &http.Transport{
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       120 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 60 * time.Second,
			},
		},
		logger: logger.With("component", "agent"),
	}
}

// ---------- Wire Types (OpenAI-compatible) ----------

// chatMessage is a message in the OpenAI chat format.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat forces structured JSON output.
type responseFormat struct {
	Type string `json:"type"` // "json_object"
}

// chatRequest is the OpenAI-compatible chat completions request.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// chatResponse is the OpenAI-compatible chat completions response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ---------- Error Classification ----------

// ErrorKind classifies API errors for retry/fallback decisions.
type ErrorKind int

const (
	ErrorRetryable ErrorKind = iota // transient 5xx
	ErrorRateLimit                  // 429, should respect Retry-After
	ErrorTimeout                    // request timeout / deadline exceeded
	ErrorAuth                       // 401, 403
	ErrorBilling                    // 402 or quota exhausted
	ErrorBadRequest                 // 400
	ErrorFatal                      // everything else
)

// String returns a human-readable label for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorRetryable:
		return "retryable"
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorTimeout:
		return "timeout"
	case ErrorAuth:
		return "auth"
	case ErrorBilling:
		return "billing"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// IsRetryable reports whether the error kind warrants retrying.
func (k ErrorKind) IsRetryable() bool {
	return k == ErrorRetryable || k == ErrorRateLimit || k == ErrorTimeout
}

// apiError captures HTTP status, body, and optional Retry-After for 429.
type apiError struct {
	statusCode    int
	body          string
	retryAfterSec int
}

func (e *apiError) Error() string {
	return fmt.Sprintf("agent: API returned %d: %s", e.statusCode, truncate(e.body, 200))
}

// Kind classifies the API error from status code and response body.
func (e *apiError) Kind() ErrorKind {
	return classifyAPIError(e.statusCode, e.body)
}

// ClassifyError returns the error kind for any error from this package.
// Non-API errors (network, context) classify as timeout or retryable.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorFatal
	}
	var apierr *apiError
	if errors.As(err, &apierr) {
		return apierr.Kind()
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "deadline") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "canceled") {
		return ErrorTimeout
	}
	return ErrorRetryable
}

// classifyAPIError determines the error kind from status code and body.
func classifyAPIError(statusCode int, body string) ErrorKind {
	bodyLower := strings.ToLower(body)

	if statusCode == 402 ||
		strings.Contains(bodyLower, "billing") ||
		strings.Contains(bodyLower, "insufficient_quota") ||
		strings.Contains(bodyLower, "quota") {
		return ErrorBilling
	}

	if statusCode == 429 ||
		strings.Contains(bodyLower, "rate_limit") ||
		strings.Contains(bodyLower, "rate limit") ||
		strings.Contains(bodyLower, "too many requests") {
		return ErrorRateLimit
	}

	if strings.Contains(bodyLower, "timeout") ||
		strings.Contains(bodyLower, "deadline") ||
		strings.Contains(bodyLower, "timed out") {
		return ErrorTimeout
	}

	switch statusCode {
	case 400:
		return ErrorBadRequest
	case 401, 403:
		return ErrorAuth
	case 500, 502, 503, 521, 522, 523, 524, 529:
		return ErrorRetryable
	default:
		if statusCode >= 500 {
			return ErrorRetryable
		}
		return ErrorFatal
	}
}

// ---------- Completion ----------

// complete performs one chat completion request and returns the raw content.
// Returns *apiError on HTTP errors so callers can classify.
func (c *Client) complete(ctx context.Context, messages []chatMessage, jsonOutput bool) (string, error) {
	temp := 0.7
	maxTok := 1024
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   &maxTok,
	}
	if jsonOutput {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("agent: marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("agent: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent: API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("agent: reading response: %w", err)
	}
	bodyStr := string(respBody)

	if resp.StatusCode != http.StatusOK {
		apierr := &apiError{statusCode: resp.StatusCode, body: bodyStr}
		if resp.StatusCode == 429 {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if sec, err := strconv.Atoi(ra); err == nil && sec > 0 {
					apierr.retryAfterSec = sec
				}
			}
		}
		c.logger.Error("API error",
			"model", c.model,
			"status", resp.StatusCode,
			"body", truncate(bodyStr, 500),
		)
		return "", apierr
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("agent: parsing response: %w (body: %s)", err, truncate(bodyStr, 200))
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("agent: API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("agent: empty response (no choices)")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	c.logger.Debug("chat completion done",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", parsed.Usage.PromptTokens,
		"completion_tokens", parsed.Usage.CompletionTokens,
	)
	if content == "" {
		return "", fmt.Errorf("agent: empty completion content")
	}
	return content, nil
}

// truncate shortens s to max bytes for log output.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
