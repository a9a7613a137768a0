package middleware

import (
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are connection-level headers that must not travel past a
// single hop. The proxy core handles response Transfer-Encoding itself; this
// middleware keeps the request side clean before it reaches the forwarder.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopByHop returns an Echo middleware that removes hop-by-hop headers
// from incoming requests.
func StripHopByHop() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}
			return next(c)
		}
	}
}
