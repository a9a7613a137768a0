package service

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// appendHeader sets name to value, comma-joining onto any existing value so
// that chained proxies accumulate entries instead of overwriting them.
func appendHeader(h http.Header, name, value string) {
	if existing := h.Get(name); existing != "" {
		h.Set(name, existing+", "+value)
		return
	}
	h.Set(name, value)
}

// rewriteResponseHeaders applies the proxy's response header fixups in place.
// outbound is the URL the request was actually sent to; it anchors the
// resolution of relative Location values.
func (s *ProxyService) rewriteResponseHeaders(h http.Header, status int, outbound *url.URL) {
	appendHeader(h, "Via", "1.1 "+s.viaName)

	// The client already decoded chunked transfer; forwarding the header
	// would mislead the caller about the actual body framing.
	h.Del("Transfer-Encoding")

	if h.Get("Content-Encoding") == "gzip" {
		// If the client transparently decompressed the body this header
		// is stale, and the decoded length is unknown either way.
		h.Del("Content-Encoding")
		h.Del("Content-Length")
		appendHeader(h, "Warning", `214 `+s.viaName+` "GZIP decoded"`)
	}

	if status >= 300 && status < 400 {
		if loc := h.Get("Location"); loc != "" {
			s.rewriteLocation(h, loc, outbound)
		}
	}
}

// rewriteLocation resolves a redirect target against the outbound URL.
// Targets under the upstream base become root-relative paths so the redirect
// stays on the proxy; everything else becomes the absolute resolved URL so
// relative upstream redirects remain resolvable from the caller's side.
func (s *ProxyService) rewriteLocation(h http.Header, loc string, outbound *url.URL) {
	ref, err := url.Parse(loc)
	if err != nil {
		// Unparseable target: pass it through untouched.
		return
	}
	abs := outbound.ResolveReference(ref)

	basePath := strings.TrimSuffix(s.base.Path, "/")
	target := abs.Path
	if target == "" {
		target = "/"
	}
	target = path.Clean(target)

	within := abs.Scheme == s.base.Scheme && abs.Host == s.base.Host &&
		(target == basePath || strings.HasPrefix(target, basePath+"/"))
	if !within {
		h.Set("Location", abs.String())
		return
	}

	rel := strings.TrimPrefix(target, basePath)
	if rel == "" {
		rel = "/"
	}
	if abs.RawQuery != "" {
		rel += "?" + abs.RawQuery
	}
	h.Set("Location", rel)
}
