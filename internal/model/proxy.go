// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	Path   string
	Query  url.Values
	Proto  string // HTTP version as "major.minor", e.g. "1.1"
	Header http.Header
	Body   io.ReadCloser
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
