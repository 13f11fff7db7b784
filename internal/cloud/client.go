// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/retry"
)

// Configuration constants for the gateway API.
const (
	// DefaultOpenRouterURL is the base URL for OpenRouter API.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// UserAgent identifies this client to the gateway.
	UserAgent = "sous/0.1.0"

	chatCompletionsPath = "/chat/completions"
)

// sharedHTTPClient pools connections across dispatches. It has no client
// timeout; each attempt is bounded by the tier timeout through its context.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatMessage is a single message in the chat-completions wire format.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body for the chat completions endpoint.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// ChatResponse is the response from the chat completions endpoint. Fields the
// gateway may omit are pointers so their absence can be detected.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     *int `json:"prompt_tokens"`
		CompletionTokens *int `json:"completion_tokens"`
		TotalTokens      int  `json:"total_tokens"`
	} `json:"usage"`
}

// GetContent returns the first choice's content, or "" if absent.
func (r *ChatResponse) GetContent() string {
	if r == nil || len(r.Choices) == 0 || r.Choices[0].Message.Content == nil {
		return ""
	}
	return *r.Choices[0].Message.Content
}

// usage returns the reported token counts, zero for any count the gateway
// left out, and whether both were present.
func (r *ChatResponse) usage() (prompt, completion int, complete bool) {
	if r == nil || r.Usage == nil {
		return 0, 0, false
	}
	complete = true
	if r.Usage.PromptTokens != nil {
		prompt = *r.Usage.PromptTokens
	} else {
		complete = false
	}
	if r.Usage.CompletionTokens != nil {
		completion = *r.Usage.CompletionTokens
	} else {
		complete = false
	}
	return prompt, completion, complete
}

// toWire converts domain messages to the wire format.
func toWire(msgs []model.Message) []ChatMessage {
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ChatMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// =============================================================================
// CLIENT
// =============================================================================

// Client dispatches requests to an OpenRouter-compatible gateway.
type Client struct {
	registry   *model.Registry
	baseURL    string
	httpClient *http.Client
	siteURL    string
	siteName   string
	policy     retry.Policy
	limiter    *rate.Limiter
}

// NewClient creates a dispatch client that resolves tiers through registry.
func NewClient(registry *model.Registry) *Client {
	return &Client{
		registry:   registry,
		baseURL:    DefaultOpenRouterURL,
		httpClient: sharedHTTPClient,
		policy:     retry.DefaultPolicy(IsRetryable),
	}
}

// WithBaseURL sets a custom base URL.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimRight(url, "/")
	return c
}

// WithHTTPClient replaces the HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// WithSiteURL sets the HTTP-Referer header for gateway rankings.
func (c *Client) WithSiteURL(url string) *Client {
	c.siteURL = url
	return c
}

// WithSiteName sets the X-Title header for gateway rankings.
func (c *Client) WithSiteName(name string) *Client {
	c.siteName = name
	return c
}

// WithRetryPolicy overrides attempt count, backoff and sleep. The retryable
// classification always comes from IsRetryable.
func (c *Client) WithRetryPolicy(p retry.Policy) *Client {
	p.IsRetryable = IsRetryable
	c.policy = p
	return c
}

// WithRateLimit caps outbound attempts at rps per second with the given
// burst. A non-positive rps disables limiting.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// DISPATCH
// =============================================================================

// Dispatch sends req to the model mapped to req.Tier and returns the reply
// with realized cost and latency.
//
// Each attempt is bounded by the tier's timeout. Retryable failures are
// retried per the client's policy; the returned DispatchError reports the
// total attempt count. A 2xx reply missing content or usage is returned with
// Degraded set rather than as an error; each missing field defaults on its
// own (empty text, zero tokens) and reported tokens are still costed.
func (c *Client) Dispatch(ctx context.Context, req model.DispatchRequest, credential string) (*model.DispatchResult, error) {
	cfg, err := c.registry.Lookup(req.Tier)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, &DispatchError{
			Message: ErrNotConfigured.Error(),
			Code:    CodeNotConfigured,
			Err:     ErrNotConfigured,
		}
	}

	payload, err := json.Marshal(ChatRequest{
		Model:       cfg.ModelID,
		Messages:    toWire(req.Messages()),
		MaxTokens:   cfg.MaxOutputTokens,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal request: %w", err)
	}

	logger := log.With().
		Str("tier", cfg.Tier.String()).
		Str("model", cfg.ModelID).
		Str("key", KeyFingerprint(credential)).
		Logger()

	policy := c.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying dispatch")
	}

	start := time.Now()
	var resp *ChatResponse
	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		r, err := c.attempt(ctx, cfg, payload, credential)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	latency := time.Since(start)

	if err != nil {
		dErr := finalError(ctx, err, attempts)
		logger.Error().Err(dErr).Int("attempts", attempts).Dur("latency", latency).Msg("dispatch failed")
		return nil, dErr
	}

	result := &model.DispatchResult{
		Tier:       cfg.Tier,
		ProviderID: cfg.ModelID,
		LatencyMs:  latency.Milliseconds(),
		Attempts:   attempts,
	}
	if resp.Model != "" {
		result.ProviderID = resp.Model
	}

	content := resp.GetContent()
	promptTokens, completionTokens, usageOK := resp.usage()
	result.ResponseText = content
	result.PromptTokens = promptTokens
	result.CompletionTokens = completionTokens
	result.CostUSD = cfg.Cost(promptTokens, completionTokens)
	if content == "" || !usageOK {
		result.Degraded = true
		logger.Warn().
			Bool("has_content", content != "").
			Bool("has_usage", usageOK).
			Msg("gateway reply missing fields")
	}

	logger.Debug().
		Int("attempts", attempts).
		Int("prompt_tokens", result.PromptTokens).
		Int("completion_tokens", result.CompletionTokens).
		Float64("cost_usd", result.CostUSD).
		Int64("latency_ms", result.LatencyMs).
		Msg("dispatch complete")

	return result, nil
}

// attempt performs a single HTTP round trip bounded by the tier timeout.
func (c *Client) attempt(ctx context.Context, cfg model.ModelTierConfig, payload []byte, credential string) (*ChatResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+chatCompletionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq, credential)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, attemptCtx, err, cfg.Timeout)
	}
	defer httpResp.Body.Close()

	body, err := readResponse(httpResp)
	if err != nil {
		return nil, transportError(ctx, attemptCtx, err, cfg.Timeout)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, handleErrorResponse(httpResp.StatusCode, body)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		log.Warn().Err(err).Msg("undecodable gateway reply")
		return &ChatResponse{}, nil
	}
	return &chatResp, nil
}

// transportError classifies a failure that produced no usable response. A
// per-attempt deadline is a retryable timeout; a caller cancellation is
// returned as is so the retry loop stops.
func transportError(parent, attemptCtx context.Context, err error, timeout time.Duration) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &DispatchError{
			Message:   fmt.Sprintf("no reply within %s", timeout),
			Code:      CodeTimeout,
			Retryable: true,
			Err:       ErrTimeout,
		}
	}
	return &DispatchError{
		Message:   err.Error(),
		Code:      CodeNetwork,
		Retryable: true,
		Err:       err,
	}
}

// finalError stamps the attempt count on the last failure.
func finalError(ctx context.Context, err error, attempts int) *DispatchError {
	var dErr *DispatchError
	if errors.As(err, &dErr) {
		out := *dErr
		out.Attempts = attempts
		return &out
	}
	if isCancellation(ctx, err) {
		return cancelledError(err, attempts)
	}
	return &DispatchError{Message: err.Error(), Attempts: attempts, Err: err}
}

// setHeaders sets the required headers for gateway requests.
func (c *Client) setHeaders(req *http.Request, credential string) {
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// readResponse reads the response body with size limits to prevent memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// =============================================================================
// CREDENTIALS
// =============================================================================

// KeyFingerprint returns a short SHA-256 fingerprint of a credential for
// logging. It never exposes key material.
func KeyFingerprint(credential string) string {
	if credential == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(h[:4])
}

// ValidateAPIKey performs basic format validation of an OpenRouter API key.
// It does not contact the gateway.
func ValidateAPIKey(apiKey string) bool {
	apiKey = strings.TrimSpace(apiKey)

	// OpenRouter keys typically start with "sk-or-"
	if !strings.HasPrefix(apiKey, "sk-or-") {
		return false
	}
	if len(apiKey) < 38 {
		return false
	}

	// Reject obvious test keys like "sk-or-aaaaaaaaaa".
	uniqueChars := make(map[rune]bool)
	for _, char := range apiKey[6:] {
		uniqueChars[char] = true
	}
	return len(uniqueChars) >= 10
}
