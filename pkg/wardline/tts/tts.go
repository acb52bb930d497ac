// Package tts provides text-to-speech synthesis for Wardline call audio.
// Providers return raw 24 kHz 16-bit little-endian mono PCM so the call
// pipeline can downsample and compand it for the telephone leg without
// decoding a container format first.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// SampleRate is the PCM sample rate every provider must emit.
const SampleRate = 24000

// Provider is the interface for TTS backends.
type Provider interface {
	// Synthesize converts text to 24 kHz 16-bit LE mono PCM.
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Config configures the speech synthesis backends.
type Config struct {
	// Provider selects the backend: "openai", or "auto" for primary with
	// fallback.
	Provider string `yaml:"provider"`

	// APIKey authenticates against the primary backend.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the primary API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model is the synthesis model (default "tts-1").
	Model string `yaml:"model"`

	// Voice is the default voice when a turn segment carries no tone hint.
	Voice string `yaml:"voice"`

	// FallbackVoice is used when the fallback backend takes over.
	FallbackVoice string `yaml:"fallback_voice"`
}

// DefaultConfig returns synthesis defaults.
func DefaultConfig() Config {
	return Config{
		Provider: "openai",
		Model:    "tts-1",
		Voice:    "nova",
	}
}

// OpenAIProvider implements TTS via the OpenAI speech API, requesting the
// raw PCM response format.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenAIProvider creates an OpenAI TTS provider.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "tts-1"
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Synthesize converts text to 24 kHz PCM using the OpenAI speech API.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = "nova"
	}

	// The speech API caps input at 4096 characters.
	if len(text) > 4096 {
		text = text[:4093] + "..."
	}

	payload := map[string]any{
		"model":           p.model,
		"input":           text,
		"voice":           voice,
		"response_format": "pcm",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}

	url := p.baseURL + "/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tts: API returned %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts: empty audio response")
	}

	return audio, nil
}

// ============================================================
// Fallback Provider (tries primary, falls back to secondary)
// ============================================================

// FallbackProvider tries the primary provider and falls back to the
// secondary if the primary fails. A failed segment on both backends is the
// caller's problem; the call pipeline skips it and keeps the turn going.
type FallbackProvider struct {
	primary        Provider
	secondary      Provider
	primaryVoice   string
	secondaryVoice string
	logger         *slog.Logger
}

// NewFallbackProvider creates a provider that tries primary first, then secondary.
func NewFallbackProvider(primary, secondary Provider, primaryVoice, secondaryVoice string, logger *slog.Logger) *FallbackProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackProvider{
		primary:        primary,
		secondary:      secondary,
		primaryVoice:   primaryVoice,
		secondaryVoice: secondaryVoice,
		logger:         logger.With("component", "tts-fallback"),
	}
}

// Synthesize tries the primary provider, falling back to secondary on failure.
func (p *FallbackProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	primaryV := voice
	if primaryV == "" {
		primaryV = p.primaryVoice
	}
	audio, err := p.primary.Synthesize(ctx, text, primaryV)
	if err == nil {
		return audio, nil
	}

	p.logger.Warn("primary TTS failed, trying fallback", "error", err)

	secondaryV := p.secondaryVoice
	if secondaryV == "" {
		secondaryV = voice
	}
	return p.secondary.Synthesize(ctx, text, secondaryV)
}
