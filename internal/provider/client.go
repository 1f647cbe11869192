// Package provider is the anti-corruption layer between the engagement
// pipeline and the upstream social platform API. All outbound calls are
// routed through the Client, which enforces circuit breaking, trace
// propagation, and mapping of every failure into the execution error
// taxonomy.
//
// The Client performs no internal retries. Retry ownership lives in the
// executor, which decides from the mapped error code whether an attempt is
// worth repeating.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"podflow/internal/config"
	"podflow/internal/types"
)

// userAgent identifies the pipeline on outbound provider calls.
const userAgent = "Podflow-Engagement/1.0"

// Client performs like and comment actions against the provider API.
type Client struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	baseURL string
	token   types.SecretString
}

// NewClient creates a provider Client from configuration. The HTTP client
// timeout bounds each request; a hung provider surfaces as a timeout error
// well inside the worker's message lock window.
func NewClient(cfg config.ProviderConfig) *Client {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "engagement-provider",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &Client{
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: cb,
		baseURL: cfg.BaseURL,
		token:   cfg.APIToken,
	}
}

// NewClientWithBreaker creates a Client with a caller-provided circuit
// breaker and HTTP client. Useful for testing or sharing a breaker.
func NewClientWithBreaker(httpClient *http.Client, breaker *gobreaker.CircuitBreaker[*http.Response], baseURL string, token types.SecretString) *Client {
	return &Client{
		client:  httpClient,
		breaker: breaker,
		baseURL: baseURL,
		token:   token,
	}
}

// Like performs a like action on a post using the given account credential.
func (c *Client) Like(ctx context.Context, postID, accountID string) error {
	return c.do(ctx, fmt.Sprintf("%s/v1/posts/%s/likes", c.baseURL, postID), map[string]string{
		"account_id": accountID,
	})
}

// Comment posts a comment on a post using the given account credential.
// The text must already have voice transforms applied.
func (c *Client) Comment(ctx context.Context, postID, accountID, text string) error {
	return c.do(ctx, fmt.Sprintf("%s/v1/posts/%s/comments", c.baseURL, postID), map[string]string{
		"account_id": accountID,
		"text":       text,
	})
}

// do issues one POST request through the circuit breaker and maps the outcome
// into the execution error taxonomy. A nil return means the provider accepted
// the action.
func (c *Client) do(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal provider payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build provider request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token.Unmask())
	req.Header.Set("User-Agent", userAgent)
	if traceID := types.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-B3-TraceId", traceID)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		// 429 and 5xx count as failures toward tripping the breaker.
		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
			return r, fmt.Errorf("provider returned %d", r.StatusCode)
		}
		return r, nil
	})

	if resp != nil {
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
	}

	if err != nil {
		if resp != nil {
			return c.mapStatus(resp)
		}
		return c.mapTransportError(ctx, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return c.mapStatus(resp)
}

// mapStatus translates a provider HTTP status into an AppError from the
// execution taxonomy.
func (c *Client) mapStatus(resp *http.Response) *types.AppError {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		msg := "provider rate limit exceeded"
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			msg = fmt.Sprintf("provider rate limit exceeded, retry after %s", ra)
		}
		return types.NewAppError(types.ErrCodeRateLimit, msg, nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.NewAppError(types.ErrCodeAuthError,
			fmt.Sprintf("provider rejected credential (%d)", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusNotFound:
		return types.NewAppError(types.ErrCodeNotFound, "target post not found", nil)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return types.NewAppError(types.ErrCodeValidation,
			fmt.Sprintf("provider rejected request payload (%d)", resp.StatusCode), nil)
	case resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeNetworkError,
			fmt.Sprintf("provider returned %d", resp.StatusCode), nil)
	default:
		return types.NewAppError(types.ErrCodeUnknown,
			fmt.Sprintf("unexpected provider status %d", resp.StatusCode), nil)
	}
}

// mapTransportError classifies request-level failures: context deadlines and
// client timeouts become timeout errors, a tripped breaker and everything
// else on the wire becomes a network error.
func (c *Client) mapTransportError(ctx context.Context, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeNetworkError, "provider circuit breaker is open", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.NewAppError(types.ErrCodeTimeout, "provider request timed out", err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NewAppError(types.ErrCodeTimeout, "provider request timed out", err)
	}
	return types.NewAppError(types.ErrCodeNetworkError, "provider request failed", err)
}
