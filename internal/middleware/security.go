package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// hopByHopHeaders apply to a single connection and are never relayed
// between the client and the origin.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from requests and adds security headers to responses. The response headers
// are set before the handler runs, since streamed bodies commit them early.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			stripHopByHop(c.Request().Header)

			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")

			return next(c)
		}
	}
}

func stripHopByHop(h http.Header) {
	for _, key := range hopByHopHeaders {
		h.Del(key)
	}
}
