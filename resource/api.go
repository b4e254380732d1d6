// Package resource implements the protected API sitting behind the
// resource guard: every endpoint requires a valid bearer access token.
package resource

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"go.oidclab.dev/implicit/guard"
)

// API holds the protected endpoints.
type API struct {
	authenticator *guard.Authenticator
	corsOrigins   []string
}

// NewAPI creates the protected API. corsOrigins is the browser client's
// registered origin list.
func NewAPI(authenticator *guard.Authenticator, corsOrigins []string) *API {
	return &API{
		authenticator: authenticator,
		corsOrigins:   corsOrigins,
	}
}

// RegisterRoutes registers the protected routes with their guard chain.
func (a *API) RegisterRoutes(e *echo.Echo) {
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: a.corsOrigins,
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
		AllowMethods: []string{http.MethodGet},
	}))

	authenticated := e.Group("", guard.Middleware(a.authenticator))
	authenticated.GET("/identity", a.IdentityHandler)
	authenticated.GET("/superpowers", a.SuperpowersHandler,
		guard.RequirePolicy(guard.RequireClaim("role", "admin")))
}

// IdentityHandler returns every claim of the calling principal as
// {type, value} pairs.
func (a *API) IdentityHandler(c echo.Context) error {
	principal, ok := guard.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	claims := principal.Claims
	if claims == nil {
		claims = []guard.ClaimPair{}
	}
	return c.JSON(http.StatusOK, claims)
}

// SuperpowersHandler is gated on role=admin by the policy middleware.
func (a *API) SuperpowersHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, "Superpowers!")
}
