package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// bodyLimit returns middleware that caps request body size. Reads past
// the cap fail inside the handler's Bind.
func (s *Server) bodyLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			maxBytes := s.deps.Config.Server.MaxBodyBytes
			if maxBytes > 0 && c.Request().Body != nil {
				c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, maxBytes)
			}
			return next(c)
		}
	}
}

// rateLimited returns middleware that admits requests under the named
// rule, keyed by client IP. Denied requests get a structured 429.
func (s *Server) rateLimited(rule string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if s.deps.Limiter == nil {
				return next(c)
			}
			info := s.deps.Limiter.IsAllowed(c.RealIP(), rule)
			if !info.Allowed {
				return c.JSON(http.StatusTooManyRequests, RateLimitedResponse{
					Status:     "error",
					Message:    "rate limit exceeded",
					Rule:       info.Rule,
					RetryAfter: info.RetryAfter,
				})
			}
			return next(c)
		}
	}
}

// corsMiddleware evaluates the Origin header against the CORS manager
// and applies its decision headers. Preflight requests short-circuit.
func (s *Server) corsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			origin := c.Request().Header.Get("Origin")
			if origin == "" || s.deps.CORS == nil {
				return next(c)
			}

			// Preflights describe the request they are asking about.
			method := c.Request().Method
			if method == http.MethodOptions {
				if rm := c.Request().Header.Get("Access-Control-Request-Method"); rm != "" {
					method = rm
				}
			}
			var reqHeaders []string
			if raw := c.Request().Header.Get("Access-Control-Request-Headers"); raw != "" {
				for _, h := range strings.Split(raw, ",") {
					if h = strings.TrimSpace(h); h != "" {
						reqHeaders = append(reqHeaders, h)
					}
				}
			}

			decision := s.deps.CORS.Evaluate(origin, method, reqHeaders)
			for key, value := range decision.Headers {
				c.Response().Header().Set(key, value)
			}
			if c.Request().Method == http.MethodOptions {
				if !decision.Allowed {
					return c.NoContent(http.StatusForbidden)
				}
				return c.NoContent(http.StatusNoContent)
			}
			if !decision.Allowed {
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Status:  "error",
					Message: "origin not allowed",
				})
			}
			return next(c)
		}
	}
}
