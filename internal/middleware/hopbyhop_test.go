package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestStripHopByHop(t *testing.T) {
	e := echo.New()
	e.Use(StripHopByHop())

	var gotConnection, gotUpgrade, gotAccept string
	e.GET("/test", func(c echo.Context) error {
		gotConnection = c.Request().Header.Get("Connection")
		gotUpgrade = c.Request().Header.Get("Upgrade")
		gotAccept = c.Request().Header.Get("Accept")
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Proxy-Authorization", "Basic abc")
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if gotConnection != "" {
		t.Errorf("Connection header should be stripped, got %q", gotConnection)
	}
	if gotUpgrade != "" {
		t.Errorf("Upgrade header should be stripped, got %q", gotUpgrade)
	}
	if gotAccept != "text/html" {
		t.Errorf("Accept = %q, want %q (end-to-end headers pass through)", gotAccept, "text/html")
	}
}
