package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
}

// SecurityHeaders hardens every response of the JSON-only API. Responses
// under noStorePrefix carry claim data and are additionally marked
// Cache-Control: no-store; an empty prefix applies it everywhere.
func SecurityHeaders(noStorePrefix string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range apiHeaders {
				h.Set(kv[0], kv[1])
			}
			if strings.HasPrefix(c.Request().URL.Path, noStorePrefix) {
				h.Set("Cache-Control", "no-store")
			}
			return next(c)
		}
	}
}
