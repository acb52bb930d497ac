// Package telephony – client.go implements the outbound-call provider
// client. Uses the form-encoded REST API shape shared by the major CPaaS
// providers: basic auth with account SID + token, voice URL for call
// instructions, status callback URL for terminal call events.
package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Provider creates outbound calls.
type Provider interface {
	// CreateCall places an outbound call and returns the provider call SID.
	CreateCall(ctx context.Context, req CallRequest) (string, error)
}

// CallRequest describes one outbound call.
type CallRequest struct {
	From string
	To   string

	// VoiceURL is fetched by the provider when the call connects; it returns
	// the stream-connect instruction document (ConnectStreamXML).
	VoiceURL string

	// StatusCallbackURL receives terminal call events.
	StatusCallbackURL string

	// StatusEvents selects which events the callback is subscribed to.
	StatusEvents []string
}

// Config configures the REST client.
type Config struct {
	// AccountSID is the provider account identifier.
	AccountSID string `yaml:"account_sid"`

	// AuthToken is the provider API token.
	AuthToken string `yaml:"auth_token"`

	// BaseURL is the API root (default: https://api.twilio.com/2010-04-01).
	BaseURL string `yaml:"base_url"`
}

// RestClient is the HTTP implementation of Provider.
type RestClient struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewRestClient creates a provider client from config.
func NewRestClient(cfg Config, logger *slog.Logger) *RestClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com/2010-04-01"
	}
	return &RestClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger.With("component", "telephony"),
	}
}

// createCallResponse is the subset of the provider response we read.
type createCallResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// CreateCall places an outbound call via the provider REST API.
func (c *RestClient) CreateCall(ctx context.Context, req CallRequest) (string, error) {
	form := url.Values{}
	form.Set("From", req.From)
	form.Set("To", req.To)
	form.Set("Url", req.VoiceURL)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		events := req.StatusEvents
		if len(events) == 0 {
			events = []string{"completed", "busy", "no-answer", "failed"}
		}
		for _, ev := range events {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.AccountSID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("telephony: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("telephony: call API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("telephony: read response: %w", err)
	}

	var parsed createCallResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("telephony: parse response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("telephony: call API returned %d (code %d): %s",
			resp.StatusCode, parsed.Code, parsed.Message)
	}
	if parsed.SID == "" {
		return "", fmt.Errorf("telephony: call API returned no call SID")
	}

	c.logger.Info("outbound call created",
		"call_sid", parsed.SID,
		"to", req.To,
		"status", parsed.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return parsed.SID, nil
}
