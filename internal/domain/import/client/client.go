// Package client talks to the Tenoris360 backend: bulk import endpoints for
// every entity type and the property list used to resolve property names.
package client

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

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/normalizer"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
)

const (
	// DefaultTimeout bounds a single request
	DefaultTimeout = 30 * time.Second

	maxErrorBody = 512
)

var ErrUnauthorized = errors.New("backend rejected credentials")

// APIError is a non-2xx response from the backend
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// Fatal reports whether retrying the request, or any later one, is pointless
func (e *APIError) Fatal() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Fatal()
}

func (e *APIError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Config configures the backend client
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64 // 0 disables rate limiting
	Burst         int
	MaxRetries    uint64
	RetryBase     time.Duration
}

// DefaultConfig returns the client defaults for baseURL
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		Timeout:       DefaultTimeout,
		RatePerSecond: 10,
		Burst:         3,
		MaxRetries:    3,
		RetryBase:     200 * time.Millisecond,
	}
}

// Client is the backend REST client
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	backoff func() retry.Backoff
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a backend client
func New(cfg Config, tokens TokenSource, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(cfg.Burst, 1))
	}

	maxRetries, base := cfg.MaxRetries, cfg.RetryBase
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  tokens,
		limiter: limiter,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(maxRetries, retry.NewExponential(base))
		},
		logger: logger,
		tracer: otel.Tracer("tenoris360/import/client"),
	}
}

// WithHTTPClient replaces the underlying HTTP client
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// ImportPath returns the bulk import route of entity
func ImportPath(entity schema.EntityType) string {
	if entity == schema.EntityTransaction {
		return "/api/transactions/import"
	}
	return "/api/" + entity.Plural() + "/import/chunk"
}

type importRequest struct {
	Data []json.RawMessage `json:"data"`
}

type importResponse struct {
	ImportedCount *int `json:"importedCount"`
}

// ImportChunk posts one chunk of encoded rows and returns how many the backend
// imported. A response without a count means the whole chunk was imported; a
// count larger than the chunk is clamped to it.
func (c *Client) ImportChunk(ctx context.Context, entity schema.EntityType, rows []json.RawMessage) (int, error) {
	ctx, span := c.tracer.Start(ctx, "client.ImportChunk", trace.WithAttributes(
		attribute.String("entity", string(entity)),
		attribute.Int("rows", len(rows)),
	))
	defer span.End()

	payload, err := json.Marshal(importRequest{Data: rows})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal import chunk: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, ImportPath(entity), payload)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	var resp importResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			c.logger.Warn("unreadable import response, assuming full chunk", slog.String("body", truncate(body)))
		}
	}

	imported := len(rows)
	if resp.ImportedCount != nil {
		imported = min(max(*resp.ImportedCount, 0), len(rows))
	}
	return imported, nil
}

// ListProperties fetches the properties visible to the token
func (c *Client) ListProperties(ctx context.Context) ([]normalizer.Property, error) {
	ctx, span := c.tracer.Start(ctx, "client.ListProperties")
	defer span.End()

	body, err := c.do(ctx, http.MethodGet, "/api/properties", nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var properties []normalizer.Property
	if err := json.Unmarshal(body, &properties); err != nil {
		return nil, fmt.Errorf("failed to parse properties response: %w", err)
	}
	return properties, nil
}

// do sends a request with rate limiting and retries, returning the response body
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body []byte
	attempt := 0

	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		respBody, err := c.send(ctx, method, path, payload)
		if err == nil {
			body = respBody
			return nil
		}

		var apiErr *APIError
		switch {
		case errors.As(err, &apiErr):
			if !apiErr.retryable() {
				return err
			}
		case ctx.Err() != nil:
			return err
		}

		c.logger.Warn("backend request failed, retrying",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

// errorMessage extracts {"error": ...} or {"message": ...}, else the raw body
func errorMessage(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return truncate(body)
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
