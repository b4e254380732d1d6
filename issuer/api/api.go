// Package api exposes the token issuer over HTTP with echo. Routes follow
// the conventional provider layout: /connect/* for protocol endpoints and
// /.well-known/* for metadata.
package api

import (
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.oidclab.dev/implicit/domain"
	"go.oidclab.dev/implicit/issuer"
	"go.oidclab.dev/implicit/oauth"
)

// SessionCookieName is the provider session cookie. It is only ever
// exchanged between the user agent and the issuer, never with the API.
const SessionCookieName = "idp.session"

// IssuerAPI holds the handler dependencies.
type IssuerAPI struct {
	service *issuer.Service
}

// NewIssuerAPI initializes the issuer HTTP API.
func NewIssuerAPI(service *issuer.Service) *IssuerAPI {
	return &IssuerAPI{service: service}
}

// RegisterRoutes registers the provider routes.
func (a *IssuerAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/connect/authorize", a.AuthorizeHandler)
	e.GET("/connect/checksession", a.CheckSessionHandler)
	e.GET("/connect/endsession", a.EndSessionHandler)
	e.GET("/connect/userinfo", a.UserInfoHandler)

	e.GET("/account/login", a.LoginPageHandler)
	e.POST("/account/login", a.LoginHandler)

	e.GET("/.well-known/openid-configuration", a.DiscoveryHandler)
	e.GET("/.well-known/jwks.json", a.JWKSHandler)
}

// AuthorizeHandler handles authorization requests. Without an active
// session the request is parked and the user agent is sent to the login
// page; with one, tokens come back in the redirect fragment.
func (a *IssuerAPI) AuthorizeHandler(c echo.Context) error {
	req := issuer.AuthorizeRequest{
		ClientID:     c.QueryParam("client_id"),
		RedirectURI:  c.QueryParam("redirect_uri"),
		ResponseType: c.QueryParam("response_type"),
		Scope:        c.QueryParam("scope"),
		State:        c.QueryParam("state"),
		Nonce:        c.QueryParam("nonce"),
	}

	result, err := a.service.Authorize(c.Request().Context(), req, sessionID(c))
	if err != nil {
		return writeOAuthError(c, err)
	}

	if result.RequiresLogin {
		return c.Redirect(http.StatusFound, "/account/login?flow="+result.FlowID)
	}
	return c.Redirect(http.StatusFound, result.RedirectURL)
}

// LoginPageHandler serves a minimal login form carrying the flow id through
// the challenge.
func (a *IssuerAPI) LoginPageHandler(c echo.Context) error {
	flowID := c.QueryParam("flow")
	return c.HTML(http.StatusOK, loginPage(flowID))
}

// LoginHandler verifies credentials, sets the session cookie and resumes
// the parked authorization flow when one is present.
func (a *IssuerAPI) LoginHandler(c echo.Context) error {
	username := c.FormValue("username")
	password := c.FormValue("password")
	flowID := c.FormValue("flow")

	sess, err := a.service.Login(c.Request().Context(), username, password)
	if err != nil {
		return writeOAuthError(c, err)
	}

	setSessionCookie(c, sess)

	if flowID == "" {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	result, err := a.service.ResumeFlow(c.Request().Context(), flowID, sess.ID)
	if err != nil {
		return writeOAuthError(c, err)
	}
	return c.Redirect(http.StatusFound, result.RedirectURL)
}

// CheckSessionHandler reports session liveness for the client agent's poll.
func (a *IssuerAPI) CheckSessionHandler(c echo.Context) error {
	active := a.service.CheckSession(c.Request().Context(), sessionID(c))
	return c.JSON(http.StatusOK, map[string]bool{"active": active})
}

// EndSessionHandler destroys the session and redirects to the registered
// post-logout target.
func (a *IssuerAPI) EndSessionHandler(c echo.Context) error {
	target, err := a.service.EndSession(
		c.Request().Context(),
		sessionID(c),
		c.QueryParam("client_id"),
		c.QueryParam("post_logout_redirect_uri"),
	)
	if err != nil {
		return writeOAuthError(c, err)
	}

	clearSessionCookie(c)
	return c.Redirect(http.StatusFound, target)
}

// UserInfoHandler returns the subject's identity claims for a valid bearer
// access token.
func (a *IssuerAPI) UserInfoHandler(c echo.Context) error {
	rawToken, ok := bearerToken(c.Request().Header.Get("Authorization"))
	if !ok {
		c.Response().Header().Set("WWW-Authenticate", `Bearer error="invalid_request"`)
		return c.JSON(http.StatusUnauthorized, oauth.NewInvalidRequest("missing bearer token"))
	}

	info, err := a.service.UserInfo(c.Request().Context(), rawToken)
	if err != nil {
		c.Response().Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		return c.JSON(http.StatusUnauthorized, err)
	}
	return c.JSON(http.StatusOK, info)
}

// DiscoveryHandler serves the provider metadata. Always unauthenticated.
func (a *IssuerAPI) DiscoveryHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, a.service.Discovery())
}

// JWKSHandler serves the public signing keys.
func (a *IssuerAPI) JWKSHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, a.service.KeySet().JWKS())
}

func sessionID(c echo.Context) string {
	cookie, err := c.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func setSessionCookie(c echo.Context, sess *domain.Session) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func writeOAuthError(c echo.Context, err error) error {
	if oauthErr, ok := err.(*oauth.Error); ok {
		return c.JSON(oauthErr.HTTPStatus(), oauthErr)
	}
	log.Error().Err(err).Msg("unexpected error in issuer handler")
	return c.JSON(http.StatusInternalServerError, oauth.NewServerError("internal error"))
}

func loginPage(flowID string) string {
	return `<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
  <h1>Sign in</h1>
  <form method="post" action="/account/login">
    <input type="hidden" name="flow" value="` + html.EscapeString(flowID) + `">
    <label>Username <input type="text" name="username" autofocus></label>
    <label>Password <input type="password" name="password"></label>
    <button type="submit">Sign in</button>
  </form>
</body>
</html>`
}
