package auth

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Additional-Code/bono/internal/presentation/http/response"
	"github.com/Additional-Code/bono/pkg/errorbank"
)

// tokenQueryParam lets EventSource clients, which cannot set headers, authenticate.
const tokenQueryParam = "access_token"

// Middleware rejects requests without a valid bearer token and stores the
// resolved caller on the request context.
func Middleware(r *Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				token = c.QueryParam(tokenQueryParam)
			}

			caller, err := r.Resolve(c.Request().Context(), token)
			if err != nil {
				if errors.Is(err, ErrUnauthenticated) {
					return response.New(c).WithError(errorbank.Unauthorized("missing or invalid token", errorbank.WithCode("unauthorized"))).Build()
				}
				r.logger.Error("resolve caller", zap.Error(err))
				return response.New(c).WithError(errorbank.Unavailable("identity lookup failed", errorbank.WithCause(err))).Build()
			}

			req := c.Request()
			c.SetRequest(req.WithContext(WithCaller(req.Context(), caller)))
			return next(c)
		}
	}
}

// BearerToken extracts the token of an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// CallerFrom returns the caller of an authenticated echo request.
func CallerFrom(c echo.Context) (Caller, bool) {
	return FromContext(c.Request().Context())
}
