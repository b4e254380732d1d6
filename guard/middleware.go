package guard

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// principalContextKey is the echo context key the middleware stores the
// validated principal under.
const principalContextKey = "guard.principal"

// Middleware returns echo middleware that authenticates every request with
// the given authenticator. Missing or invalid tokens produce 401; the
// failure reason is logged for audit, never the token itself.
func Middleware(a *Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, err := a.Authenticate(c.Request().Context(), c.Request().Header.Get("Authorization"))
			if err != nil {
				log.Info().
					Str("endpoint", c.Path()).
					Str("reason", err.Error()).
					Msg("bearer authentication failed")
				c.Response().Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}

			c.Set(principalContextKey, principal)
			return next(c)
		}
	}
}

// RequirePolicy returns echo middleware enforcing a policy over the
// authenticated principal. It must run after Middleware.
func RequirePolicy(policy Policy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, ok := PrincipalFrom(c)
			if !ok {
				// Policy without authentication is a wiring bug; deny.
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			if err := policy(principal); err != nil {
				if errors.Is(err, ErrForbidden) {
					log.Info().
						Str("endpoint", c.Path()).
						Str("sub", principal.Subject).
						Msg("policy check denied")
					return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
				}
				return err
			}
			return next(c)
		}
	}
}

// PrincipalFrom retrieves the validated principal stored by Middleware.
func PrincipalFrom(c echo.Context) (*Principal, bool) {
	principal, ok := c.Get(principalContextKey).(*Principal)
	return principal, ok
}
