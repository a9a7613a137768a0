// Package service implements the core proxy forwarding logic: upstream URL
// composition, the index.html fallback rule, and request/response header
// rewriting.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"shelf-proxy-go/internal/client"
	"shelf-proxy-go/internal/config"
	"shelf-proxy-go/internal/metrics"
	"shelf-proxy-go/internal/model"
	"shelf-proxy-go/internal/stream"
)

// DefaultViaName is the proxy identity recorded in Via and Warning headers
// when no explicit name is configured.
const DefaultViaName = "shelf_proxy"

// ErrInvalidConfiguration is returned when the upstream location is neither
// a URL value nor a string that parses to an absolute URL.
var ErrInvalidConfiguration = errors.New("upstream location must be a *url.URL, url.URL, or absolute URL string")

// Options configures optional collaborators of a ProxyService. The zero
// value is valid: a default client is constructed and owned by the service,
// the via name falls back to DefaultViaName, and logs are discarded.
type Options struct {
	// Client sends the outbound requests. When nil the service constructs
	// a client.NewDefault and owns it for the process lifetime; when set,
	// the caller retains ownership.
	Client *client.UpstreamClient

	// ViaName identifies this proxy in Via and Warning headers.
	// Defaults to DefaultViaName.
	ViaName string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// ProxyService forwards each inbound request to a single upstream base URL.
// It carries no mutable state; a single instance serves concurrent requests.
type ProxyService struct {
	client     *client.UpstreamClient
	ownsClient bool
	logger     *slog.Logger
	metrics    *metrics.Metrics

	base    *url.URL
	baseRaw string // original string form, used verbatim by the fallback rule
	viaName string
}

// New creates a ProxyService for the given upstream location. The location
// may be a *url.URL, a url.URL, or an absolute URL string; anything else
// fails with ErrInvalidConfiguration. This is the only point at which the
// location is validated; per-request forwarding never re-checks it.
func New(upstream any, opts Options) (*ProxyService, error) {
	base, raw, err := resolveUpstream(upstream)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "proxy_service")

	c := opts.Client
	owns := false
	if c == nil {
		c = client.NewDefault(logger)
		owns = true
	}

	viaName := opts.ViaName
	if viaName == "" {
		viaName = DefaultViaName
	}

	return &ProxyService{
		client:     c,
		ownsClient: owns,
		logger:     logger,
		metrics:    opts.Metrics,
		base:       base,
		baseRaw:    raw,
		viaName:    viaName,
	}, nil
}

// NewProxy creates a ProxyService with default options.
//
// Deprecated: use New, which makes the client and via-name defaults explicit.
func NewProxy(upstream any) (*ProxyService, error) {
	return New(upstream, Options{})
}

// NewFromConfig creates a ProxyService from the loaded application config.
// It is the constructor wired into the fx application.
func NewFromConfig(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	svc, err := New(cfg.Upstream.BaseURL, Options{
		Client:  c,
		ViaName: cfg.Proxy.ViaName,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return nil, fmt.Errorf("proxy service: %w", err)
	}
	return svc, nil
}

// resolveUpstream normalizes the accepted upstream location forms into a
// parsed base URL plus its original string form.
func resolveUpstream(upstream any) (*url.URL, string, error) {
	switch v := upstream.(type) {
	case *url.URL:
		if v == nil || !v.IsAbs() || v.Host == "" {
			return nil, "", ErrInvalidConfiguration
		}
		u := *v
		return &u, v.String(), nil
	case url.URL:
		if !v.IsAbs() || v.Host == "" {
			return nil, "", ErrInvalidConfiguration
		}
		return &v, v.String(), nil
	case string:
		u, err := url.Parse(v)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return nil, "", fmt.Errorf("%w: %q", ErrInvalidConfiguration, v)
		}
		return u, v, nil
	default:
		return nil, "", fmt.Errorf("%w: got %T", ErrInvalidConfiguration, upstream)
	}
}

// ViaName returns the identity this proxy records in Via headers.
func (s *ProxyService) ViaName() string { return s.viaName }

// OwnsClient reports whether the service constructed (and therefore owns)
// its upstream client.
func (s *ProxyService) OwnsClient() bool { return s.ownsClient }

// Forward sends a ProxyRequest to the upstream and returns the rewritten
// response. The caller is responsible for closing the response body.
//
// Send failures propagate unchanged; no retry or fallback response is
// synthesized here. A read error on the inbound body does not fail the
// dispatch: it is relayed into the outbound body per stream.Store.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target, err := s.targetURL(pr.Path, pr.Query)
	if err != nil {
		return nil, err
	}

	header := cloneHeader(pr.Header)
	appendHeader(header, "Via", pr.Proto+" "+s.viaName)

	// The outbound Host derives from the target URL, which always carries
	// the upstream authority.
	var body io.Reader
	if pr.Body != nil {
		r, w := io.Pipe()
		go stream.Store(pr.Body, w, true, true)
		body = r
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"target", target.String(),
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target.String(), header, body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	s.rewriteResponseHeaders(resp.Header, resp.StatusCode, target)
	return resp, nil
}

// targetURL computes the outbound URL for an inbound path and query.
// Extension-less single-segment paths are rerouted to the upstream's
// index.html by plain string concatenation on the original base string;
// that branch deliberately discards the inbound path and query.
func (s *ProxyService) targetURL(reqPath string, query url.Values) (*url.URL, error) {
	if needsRedirection(reqPath) {
		if s.metrics != nil {
			s.metrics.IndexFallbacks.Inc()
		}
		u, err := url.Parse(s.baseRaw + "/index.html")
		if err != nil {
			return nil, fmt.Errorf("index fallback URL: %w", err)
		}
		return u, nil
	}

	u := *s.base
	u.Path = joinURLPath(s.base.Path, reqPath)
	u.RawQuery = query.Encode()
	return &u, nil
}

// joinURLPath merges the base path with the request path, collapsing the
// slash at the seam.
func joinURLPath(base, req string) string {
	aslash := strings.HasSuffix(base, "/")
	bslash := strings.HasPrefix(req, "/")
	switch {
	case aslash && bslash:
		return base + req[1:]
	case !aslash && !bslash:
		return base + "/" + req
	}
	return base + req
}

// needsRedirection reports whether an inbound path looks like a client-side
// route rather than a static asset: a rooted path with exactly one non-empty
// segment containing no dot. The root path has zero non-empty segments and
// never matches.
func needsRedirection(p string) bool {
	if !strings.HasPrefix(p, "/") {
		return false
	}
	var segments []string
	for _, seg := range strings.Split(p[1:], "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return len(segments) == 1 && !strings.Contains(segments[0], ".")
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return make(http.Header)
	}
	return h.Clone()
}
