package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"shelf-proxy-go/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, upstream any) *ProxyService {
	t.Helper()
	svc, err := New(upstream, Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New(%v): %v", upstream, err)
	}
	return svc
}

func TestNew_UpstreamForms(t *testing.T) {
	parsed, _ := url.Parse("http://example.com/docs")

	tests := []struct {
		name     string
		upstream any
		wantErr  bool
	}{
		{"absolute string", "http://example.com/docs", false},
		{"pointer URL value", parsed, false},
		{"URL value", *parsed, false},
		{"relative string", "/just/a/path", true},
		{"scheme-less string", "example.com/docs", true},
		{"unparseable string", "://missing-scheme", true},
		{"nil pointer", (*url.URL)(nil), true},
		{"wrong type int", 42, true},
		{"wrong type nil", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.upstream, Options{})
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfiguration) {
					t.Errorf("New() error = %v, want ErrInvalidConfiguration", err)
				}
				return
			}
			if err != nil {
				t.Errorf("New() error = %v, want nil", err)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	svc := newTestService(t, "http://example.com")

	if svc.ViaName() != DefaultViaName {
		t.Errorf("ViaName() = %q, want %q", svc.ViaName(), DefaultViaName)
	}
	if !svc.OwnsClient() {
		t.Error("OwnsClient() = false, want true for a default-constructed client")
	}
}

func TestNewProxy_DeprecatedAlias(t *testing.T) {
	svc, err := NewProxy("http://example.com")
	if err != nil {
		t.Fatalf("NewProxy() error = %v", err)
	}
	if svc.ViaName() != DefaultViaName {
		t.Errorf("ViaName() = %q, want %q", svc.ViaName(), DefaultViaName)
	}
}

func TestNeedsRedirection(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/tutorials", true},
		{"/dashboard", true},
		{"/foo/", true}, // trailing slash leaves one non-empty segment
		{"/", false},
		{"/a.b", false},
		{"/a/b", false},
		{"/index.html", false},
		{"/assets/app.js", false},
		{"tutorials", false}, // no leading slash
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := needsRedirection(tt.path)
			if got != tt.want {
				t.Errorf("needsRedirection(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestTargetURL_ComposesAgainstBase(t *testing.T) {
	svc := newTestService(t, "http://example.com/docs")

	tests := []struct {
		name  string
		path  string
		query url.Values
		want  string
	}{
		{
			name: "single segment with extension",
			path: "/tutorials.html",
			want: "http://example.com/docs/tutorials.html",
		},
		{
			name: "nested path",
			path: "/tutorials/intro",
			want: "http://example.com/docs/tutorials/intro",
		},
		{
			name:  "query carried over",
			path:  "/search.json",
			query: url.Values{"q": {"go"}},
			want:  "http://example.com/docs/search.json?q=go",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.targetURL(tt.path, tt.query)
			if err != nil {
				t.Fatalf("targetURL() error = %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("targetURL(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestTargetURL_IndexFallback(t *testing.T) {
	tests := []struct {
		name string
		base string
		path string
		want string
	}{
		{
			name: "single extension-less segment",
			base: "http://example.com/docs",
			path: "/tutorials",
			want: "http://example.com/docs/index.html",
		},
		{
			name: "segment value is irrelevant",
			base: "http://example.com/docs",
			path: "/anything",
			want: "http://example.com/docs/index.html",
		},
		{
			// The fallback concatenates the raw base string; a trailing
			// slash on the base is kept as-is.
			name: "trailing slash base is not normalized",
			base: "http://example.com/docs/",
			path: "/tutorials",
			want: "http://example.com/docs//index.html",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, tt.base)
			got, err := svc.targetURL(tt.path, url.Values{"ignored": {"yes"}})
			if err != nil {
				t.Fatalf("targetURL() error = %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("targetURL(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestForward_HappyPath(t *testing.T) {
	var gotVia, gotHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVia = r.Header.Get("Via")
		gotHost = r.Host
		if r.URL.Path != "/assets/app.js" {
			t.Errorf("upstream path = %q, want %q", r.URL.Path, "/assets/app.js")
		}
		w.Header().Set("Content-Type", "text/javascript")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("console.log('ok')"))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)

	pr := &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/assets/app.js",
		Query:  url.Values{},
		Proto:  "1.1",
		Header: http.Header{},
	}

	resp, err := svc.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if gotVia != "1.1 shelf_proxy" {
		t.Errorf("upstream Via = %q, want %q", gotVia, "1.1 shelf_proxy")
	}
	if wantHost := strings.TrimPrefix(upstream.URL, "http://"); gotHost != wantHost {
		t.Errorf("upstream Host = %q, want %q", gotHost, wantHost)
	}
	if via := resp.Header.Get("Via"); via != "1.1 shelf_proxy" {
		t.Errorf("response Via = %q, want %q", via, "1.1 shelf_proxy")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "console.log('ok')" {
		t.Errorf("body = %q, want %q", string(body), "console.log('ok')")
	}
}

func TestForward_AccumulatesViaHops(t *testing.T) {
	var gotVia string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVia = r.Header.Get("Via")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)

	header := http.Header{}
	header.Set("Via", "1.0 edge")
	pr := &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/page.html",
		Proto:  "1.1",
		Header: header,
	}

	resp, err := svc.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if gotVia != "1.0 edge, 1.1 shelf_proxy" {
		t.Errorf("upstream Via = %q, want %q", gotVia, "1.0 edge, 1.1 shelf_proxy")
	}
}

func TestForward_StreamsRequestBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)

	pr := &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodPost,
		Path:   "/submit.json",
		Proto:  "1.1",
		Header: http.Header{},
		Body:   io.NopCloser(strings.NewReader(`{"name":"go"}`)),
	}

	resp, err := svc.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"name":"go"}` {
		t.Errorf("echoed body = %q, want %q", string(body), `{"name":"go"}`)
	}
}

func TestForward_IndexFallback(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/index.html" {
			t.Errorf("upstream path = %q, want %q", r.URL.Path, "/index.html")
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>app</html>"))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)

	pr := &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/dashboard",
		Query:  url.Values{"tab": {"settings"}}, // discarded by the fallback
		Proto:  "1.1",
		Header: http.Header{},
	}

	resp, err := svc.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "<html>app</html>" {
		t.Errorf("body = %q, want index.html content", string(body))
	}
}

func TestForward_RelaysRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old.html" {
			http.Redirect(w, r, "/new.html", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)

	pr := &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/old.html",
		Proto:  "1.1",
		Header: http.Header{},
	}

	resp, err := svc.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d (redirect relayed, not followed)", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/new.html" {
		t.Errorf("Location = %q, want %q", loc, "/new.html")
	}
}

func TestForward_DispatchErrorPropagates(t *testing.T) {
	svc := newTestService(t, "http://127.0.0.1:1")

	pr := &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/page.html",
		Proto:  "1.1",
		Header: http.Header{},
	}

	_, err := svc.Forward(pr)
	if err == nil {
		t.Fatal("Forward() expected error for unreachable upstream, got nil")
	}
}
