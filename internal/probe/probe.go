// Package probe is the HTTP probe client used by case bodies to poke the
// systems under test. Retries and backoff follow the owning case's
// configuration; an exhausted probe surfaces as a TransportError, which the
// case body converts into a TestFailure.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"resty.dev/v3"

	"github.com/vk/signalcheck/internal/check"
)

// Client wraps a resty client configured from one case's ProbeConfig.
type Client struct {
	rc  *resty.Client
	cfg check.ProbeConfig
}

// New builds a probe client for the given configuration.
func New(cfg check.ProbeConfig) *Client {
	rc := resty.New().
		SetTimeout(cfg.TimeoutTotal).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.DelayMin).
		SetRetryMaxWaitTime(cfg.DelayMax)

	if cfg.Backoff > 0 {
		rc.SetRetryStrategy(backoffStrategy(cfg))
	}
	if cfg.TimeoutConnect > 0 {
		rc.SetTransport(&http.Transport{
			DialContext: (&net.Dialer{Timeout: cfg.TimeoutConnect}).DialContext,
		})
	}
	return &Client{rc: rc, cfg: cfg}
}

// backoffStrategy grows the retry delay by the configured multiplier,
// clamped between DelayMin and DelayMax.
func backoffStrategy(cfg check.ProbeConfig) resty.RetryStrategyFunc {
	return func(resp *resty.Response, _ error) (time.Duration, error) {
		attempt := 1
		if resp != nil && resp.Request != nil {
			attempt = resp.Request.Attempt
		}
		delay := cfg.DelayMin
		for i := 1; i < attempt; i++ {
			delay = time.Duration(float64(delay) * cfg.Backoff)
			if delay >= cfg.DelayMax {
				return cfg.DelayMax, nil
			}
		}
		return delay, nil
	}
}

// Get probes url and returns the response body. Non-2xx status after all
// retries is a TransportError, as is a connection-level failure.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

// Post probes url with a body.
func (c *Client) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, url, body)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	req := c.rc.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, &check.TransportError{URL: url, Cause: err}
	}
	if resp.IsError() {
		return nil, &check.TransportError{URL: url, Status: resp.StatusCode()}
	}
	return resp.Bytes(), nil
}

// Close releases the underlying client's idle connections.
func (c *Client) Close() error {
	if err := c.rc.Close(); err != nil {
		return fmt.Errorf("probe client close: %w", err)
	}
	return nil
}
