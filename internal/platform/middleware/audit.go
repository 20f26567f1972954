package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vaxtrack/vaxtrack/internal/platform/auth"
)

// Audit logs every state-changing API call with the acting staff member, so
// each appointment transition can be traced to a person and a request.
// Reads are not audited.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditable(req) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			ctx := req.Context()
			rid, _ := c.Get("request_id").(string)

			evt := logger.Info()
			if status >= http.StatusBadRequest {
				evt = logger.Warn()
			}
			evt.
				Str("audit", "staff_action").
				Str("request_id", rid).
				Str("actor_id", auth.UserIDFromContext(ctx)).
				Strs("roles", auth.RolesFromContext(ctx)).
				Str("method", req.Method).
				Str("route", c.Path()).
				Str("resource_id", c.Param("id")).
				Int("status", status).
				Msg("audit")
			return err
		}
	}
}

func isAuditable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return strings.HasPrefix(req.URL.Path, "/api/")
}
