// Package restclient is the JSON transport used by the measurement services.
//
// It POSTs JSON bodies to paths resolved against the configured backend URL.
// Connection-level failures are retried with exponential backoff through
// ybbus/httpretry; any HTTP response, including 4xx/5xx, is returned to the
// caller as-is so it can decide whether the event stays queued.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/ybbus/httpretry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/tbourn/go-outcomes/internal/config"
	"github.com/tbourn/go-outcomes/internal/sysutil"
)

// maxBodyBytes bounds how much of a response body is kept.
const maxBodyBytes = 64 << 10

// Response is a completed HTTP exchange.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Poster is the transport contract of the measurement services.
type Poster interface {
	Post(ctx context.Context, path string, body any) (Response, error)
}

// Client posts JSON to the measurement backend.
type Client struct {
	base *url.URL
	http *http.Client
	log  zerolog.Logger
}

// New builds a Client for cfg.
func New(cfg config.BackendConfig) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, eris.Wrapf(err, "parse backend url %q", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		base: base,
		http: httpretry.NewCustomClient(hc,
			httpretry.WithMaxRetryCount(cfg.MaxRetries),
			httpretry.WithRetryPolicy(func(statusCode int, err error) bool {
				return err != nil
			}),
			httpretry.WithBackoffPolicy(httpretry.ExponentialBackoff(100*time.Millisecond, 2*time.Second, 100*time.Millisecond)),
		),
		log: sysutil.Component("restclient"),
	}, nil
}

// Resolve returns the absolute URL of path.
func (c *Client) Resolve(path string) string {
	return c.base.ResolveReference(&url.URL{Path: strings.TrimPrefix(path, "/")}).String()
}

// Post sends body as JSON to path. A non-nil error means no response was
// received; HTTP error statuses are reported through Response.
func (c *Client) Post(ctx context.Context, path string, body any) (Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, eris.Wrap(err, "encode request body")
	}
	target := c.Resolve(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return Response{}, eris.Wrapf(err, "build request %s", target)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("url", target).Msg("request failed")
		return Response{}, eris.Wrapf(err, "post %s", target)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{StatusCode: resp.StatusCode}, eris.Wrapf(err, "read response %s", target)
	}
	c.log.Debug().
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("request completed")
	return Response{StatusCode: resp.StatusCode, Body: b}, nil
}
