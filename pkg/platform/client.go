package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClient is a GET client with retries and exponential backoff.
type HTTPClient struct {
	Client  *http.Client
	Retries int
	Backoff time.Duration
	Logger  zerolog.Logger
}

func NewHTTPClient(retries int, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		Client: &http.Client{
			Timeout: timeout,
		},
		Retries: retries,
		Backoff: 200 * time.Millisecond,
		Logger:  zerolog.Nop(),
	}
}

// Get fetches url and returns the body. Transport errors and 5xx responses are
// retried; any other non-2xx status fails immediately.
func (c *HTTPClient) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for i := 0; i <= c.Retries; i++ {
		body, retry, err := c.get(ctx, url)
		if err == nil {
			return body, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err

		if i < c.Retries {
			c.Logger.Warn().Err(err).Str("url", url).Int("attempt", i+1).Msg("HTTP request failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<i) * c.Backoff):
			}
		}
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", c.Retries, lastErr)
}

func (c *HTTPClient) get(ctx context.Context, url string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("server error: %s", resp.Status)
	}
	if resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return body, false, nil
}
