// Package agent implements the relying-party side of the implicit flow: it
// builds the authorization request, consumes the token fragment from the
// callback, attaches the bearer token to API calls and watches session
// liveness at the provider.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.oidclab.dev/implicit/jwks"
)

// State is the agent's position in the login lifecycle.
type State string

const (
	StateUnauthenticated  State = "unauthenticated"
	StateAwaitingRedirect State = "awaiting_redirect"
	StateAuthenticated    State = "authenticated"
	StateSessionExpired   State = "session_expired"
	StateLoggedOut        State = "logged_out"
)

var (
	// ErrNotAuthenticated is returned by operations that need tokens while
	// the agent has none.
	ErrNotAuthenticated = errors.New("agent is not authenticated")
	// ErrStateMismatch means the callback's state parameter did not match
	// the value sent with the authorization request.
	ErrStateMismatch = errors.New("state parameter mismatch")
	// ErrUnauthorized is returned when the API rejects the bearer token;
	// the agent treats its session as invalid and does not retry.
	ErrUnauthorized = errors.New("api rejected the access token")
	// ErrForbidden is returned on a policy denial; the session stays valid.
	ErrForbidden = errors.New("api denied access for this principal")
)

// Config describes the agent's client registration and provider location.
type Config struct {
	IssuerURL             string
	ClientID              string
	RedirectURI           string
	Scope                 string // e.g. "openid profile api1"
	PostLogoutRedirectURI string
	// ClockSkew is the tolerance applied when validating the id_token
	// locally. Defaults to 5 minutes.
	ClockSkew time.Duration
	// HTTPClient, when nil, is replaced by a cookie-jar client so the
	// provider session cookie survives the login redirects.
	HTTPClient *http.Client
}

// Agent drives the implicit flow for a single user agent.
type Agent struct {
	cfg        Config
	httpClient *http.Client
	keys       *jwks.Cache

	mu            sync.Mutex
	state         State
	pendingState  string
	pendingNonce  string
	idToken       string
	accessToken   string
	profile       map[string]string
}

// New creates an agent in the Unauthenticated state.
func New(cfg Config) (*Agent, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" || cfg.RedirectURI == "" {
		return nil, fmt.Errorf("issuer URL, client id and redirect URI are required")
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 5 * time.Minute
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}
	return &Agent{
		cfg:        cfg,
		httpClient: httpClient,
		keys:       jwks.NewCache(cfg.IssuerURL+"/.well-known/jwks.json", 5*time.Minute, httpClient),
		state:      StateUnauthenticated,
	}, nil
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Profile returns the subject profile extracted from the id_token.
func (a *Agent) Profile() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	profile := make(map[string]string, len(a.profile))
	for k, v := range a.profile {
		profile[k] = v
	}
	return profile
}

// HTTPClient exposes the cookie-jar client so a driver can navigate the
// login challenge with the same session the agent will poll with.
func (a *Agent) HTTPClient() *http.Client { return a.httpClient }

// Login builds the authorization URL for this client's registration and
// transitions to AwaitingRedirect. Fresh state and nonce values are bound
// to the pending request.
func (a *Agent) Login() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pendingState = uuid.NewString()
	a.pendingNonce = uuid.NewString()
	a.state = StateAwaitingRedirect

	values := url.Values{}
	values.Set("client_id", a.cfg.ClientID)
	values.Set("redirect_uri", a.cfg.RedirectURI)
	values.Set("response_type", "id_token token")
	values.Set("scope", a.cfg.Scope)
	values.Set("state", a.pendingState)
	values.Set("nonce", a.pendingNonce)

	return a.cfg.IssuerURL + "/connect/authorize?" + values.Encode()
}

// HandleCallback consumes the fragment of the redirect back from the
// provider. The fragment never reaches any server; it is handed to the
// agent verbatim. The id_token is validated locally: signature against the
// issuer's published keys, audience, nonce and expiry.
func (a *Agent) HandleCallback(ctx context.Context, fragment string) error {
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return fmt.Errorf("parsing callback fragment: %w", err)
	}

	a.mu.Lock()
	expectedState := a.pendingState
	expectedNonce := a.pendingNonce
	a.mu.Unlock()

	if values.Get("state") != expectedState || expectedState == "" {
		return ErrStateMismatch
	}

	idToken := values.Get("id_token")
	if idToken == "" {
		return fmt.Errorf("callback fragment carries no id_token")
	}

	claims, err := a.validateIDToken(ctx, idToken, expectedNonce)
	if err != nil {
		return fmt.Errorf("id_token validation failed: %w", err)
	}

	a.mu.Lock()
	a.idToken = idToken
	a.accessToken = values.Get("access_token")
	a.profile = profileFromClaims(claims)
	a.pendingState = ""
	a.pendingNonce = ""
	a.state = StateAuthenticated
	a.mu.Unlock()

	log.Info().Str("sub", claims["sub"].(string)).Msg("agent authenticated")
	return nil
}

// CallAPI performs a GET with the bearer access token attached. A 401 means
// the token is no longer good; the agent transitions out of Authenticated
// instead of retrying. A 403 is a policy denial and leaves state untouched.
func (a *Agent) CallAPI(ctx context.Context, apiURL string) ([]byte, error) {
	a.mu.Lock()
	token := a.accessToken
	authenticated := a.state == StateAuthenticated
	a.mu.Unlock()

	if !authenticated || token == "" {
		return nil, ErrNotAuthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building api request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling api: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusUnauthorized:
		a.invalidate(StateUnauthenticated)
		return nil, ErrUnauthorized
	case http.StatusForbidden:
		return nil, ErrForbidden
	default:
		return nil, fmt.Errorf("api returned status %d", resp.StatusCode)
	}
}

// Logout calls the end-session endpoint, clears local tokens and returns to
// Unauthenticated.
func (a *Agent) Logout(ctx context.Context) error {
	values := url.Values{}
	values.Set("client_id", a.cfg.ClientID)
	values.Set("post_logout_redirect_uri", a.cfg.PostLogoutRedirectURI)

	endSessionURL := a.cfg.IssuerURL + "/connect/endsession?" + values.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endSessionURL, nil)
	if err != nil {
		return fmt.Errorf("building end-session request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling end-session endpoint: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	a.invalidate(StateLoggedOut)
	a.mu.Lock()
	a.state = StateUnauthenticated
	a.mu.Unlock()

	log.Info().Msg("agent logged out")
	return nil
}

// invalidate clears stored tokens and moves to the given terminal state.
func (a *Agent) invalidate(to State) {
	a.mu.Lock()
	a.idToken = ""
	a.accessToken = ""
	a.profile = nil
	a.state = to
	a.mu.Unlock()
}

func (a *Agent) validateIDToken(ctx context.Context, rawToken, expectedNonce string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return a.keys.Key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(a.cfg.IssuerURL),
		jwt.WithAudience(a.cfg.ClientID),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	if nonce, _ := claims["nonce"].(string); nonce != expectedNonce {
		return nil, fmt.Errorf("nonce mismatch")
	}
	if _, ok := claims["sub"].(string); !ok {
		return nil, fmt.Errorf("id_token carries no subject")
	}
	return claims, nil
}

// profileFromClaims keeps the string-valued identity claims, dropping the
// structural ones.
func profileFromClaims(claims jwt.MapClaims) map[string]string {
	skip := map[string]bool{"iss": true, "aud": true, "exp": true, "iat": true, "nbf": true, "nonce": true}
	profile := make(map[string]string)
	for name, value := range claims {
		if skip[name] {
			continue
		}
		if s, ok := value.(string); ok {
			profile[name] = s
		}
	}
	return profile
}
