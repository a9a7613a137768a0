// Package client provides the HTTP client used to reach the upstream server.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"shelf-proxy-go/internal/config"
	"shelf-proxy-go/internal/metrics"
	"shelf-proxy-go/internal/model"
)

// UpstreamClient sends requests to the configured upstream server.
//
// Redirect responses from the upstream are returned as-is: the proxy relays
// redirects to its caller, it never follows them itself.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New creates an UpstreamClient with connection pooling and timeouts from
// config. The metrics parameter is optional; pass nil to disable upstream
// metrics recording.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport:     transport,
			Timeout:       time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: relayRedirects,
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// NewDefault creates an UpstreamClient on the default transport with no
// timeout. It backs proxy services constructed without an explicit client;
// the service owns it for the process lifetime.
func NewDefault(logger *slog.Logger) *UpstreamClient {
	return &UpstreamClient{
		httpClient: &http.Client{
			CheckRedirect: relayRedirects,
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: nil,
	}
}

// relayRedirects disables automatic redirect following: the first response
// is handed back untouched for the proxy to relay.
func relayRedirects(_ *http.Request, _ []*http.Request) error {
	return http.ErrUseLastResponse
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream executes a request and returns the response body as a stream.
// The caller is responsible for closing the returned ReadCloser.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request is also canceled.
func (c *UpstreamClient) DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	return c.Do(req)
}
