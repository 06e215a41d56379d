// Package translate turns subtitle files into another language through a
// LibreTranslate-compatible HTTP endpoint.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"reel/internal/config"
	"reel/internal/services"
)

const defaultHTTPTimeout = 30 * time.Second

// Client calls the translation endpoint.
type Client struct {
	endpoint   string
	targetLang string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a translation client from configuration.
func NewClient(cfg config.Translate, opts ...Option) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("translate endpoint required")
	}
	timeout := defaultHTTPTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	target := strings.TrimSpace(cfg.TargetLang)
	if target == "" {
		target = "en"
	}
	client := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		targetLang: target,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// TargetLang returns the configured output language.
func (c *Client) TargetLang() string { return c.targetLang }

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

// Translate converts a single text fragment to the target language.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	encoded, err := json.Marshal(translateRequest{Q: text, Source: "auto", Target: c.targetLang, Format: "text"})
	if err != nil {
		return "", fmt.Errorf("translate: encode request: %w", err)
	}
	endpoint, err := url.JoinPath(c.endpoint, "/translate")
	if err != nil {
		return "", fmt.Errorf("translate: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("translate: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", services.Wrap(services.ErrCancelled, "translate", "http", "", ctx.Err())
		}
		return "", services.Wrap(services.ErrTransient, "translate", "http", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "translate", "http", "read body", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &services.RateLimitError{
			Service:    "translate",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Detail:     strings.TrimSpace(string(body)),
		}
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", services.Wrap(services.ErrTransient, "translate", "http",
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var parsed translateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", services.Wrap(services.ErrTransient, "translate", "http", "decode response", err)
	}
	if parsed.Error != "" {
		return "", services.Wrap(services.ErrTransient, "translate", "http", parsed.Error, nil)
	}
	return parsed.TranslatedText, nil
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}
