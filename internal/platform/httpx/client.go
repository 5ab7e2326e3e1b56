package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"catalogsync/internal/platform/logger"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// StatusError wraps non-2xx responses.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (%s)", e.StatusCode, e.Status, e.URL)
}

// Retryable reports whether another attempt can succeed.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// Client issues GET requests with bounded retry and exponential backoff.
type Client struct {
	HTTP           *http.Client
	UserAgent      string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxBodyBytes   int64
	Log            *logger.Logger
}

func New(timeout time.Duration, maxAttempts int, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Client{
		HTTP:           &http.Client{Timeout: timeout},
		UserAgent:      defaultUserAgent,
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		MaxBodyBytes:   32 << 20,
		Log:            log,
	}
}

// Get returns the body of rawURL. Transport errors, 408/429/5xx and truncated bodies are retried.
func (c *Client) Get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	return c.retry(ctx, rawURL, func() ([]byte, error) {
		return c.once(ctx, rawURL, accept)
	})
}

// GetJSON fetches rawURL and decodes it into out. A body that fails to decode counts as a failed attempt.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	_, err := c.retry(ctx, rawURL, func() ([]byte, error) {
		body, err := c.once(ctx, rawURL, "application/json")
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rawURL, err)
		}
		return body, nil
	})
	return err
}

func (c *Client) retry(ctx context.Context, rawURL string, op func() ([]byte, error)) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	attempt := 0
	return backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		body, err := op()
		if err == nil {
			return body, nil
		}
		var pe *backoff.PermanentError
		if errors.As(err, &pe) {
			return nil, err
		}
		if !isRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.Log.Warn("request failed, retrying",
				"url", rawURL,
				"attempt", attempt,
				"max_attempts", c.MaxAttempts,
				"wait", wait,
				"error", err,
			)
		}),
	)
}

func (c *Client) once(ctx context.Context, rawURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return body, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) && !isNetTimeout(err) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
