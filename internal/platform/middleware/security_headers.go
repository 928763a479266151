package middleware

import (
	"github.com/labstack/echo/v4"
)

// recordResponseHeaders go out with every response. Record bodies carry
// patient measurements and must never be cached or framed. The Vary header
// added below keys any intermediary on the caller and practice.
var recordResponseHeaders = []struct{ name, value string }{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
}

func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, rh := range recordResponseHeaders {
				h.Set(rh.name, rh.value)
			}
			h.Add(echo.HeaderVary, "Authorization, X-Tenant-ID")
			return next(c)
		}
	}
}
