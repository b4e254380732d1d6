// Package issuer implements the OpenID Connect provider for the implicit
// flow: it authenticates end users, issues signed identity and access
// tokens, and tracks the cookie-backed provider session.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"go.oidclab.dev/implicit/cache"
	"go.oidclab.dev/implicit/domain"
	"go.oidclab.dev/implicit/internal/session"
	"go.oidclab.dev/implicit/oauth"
)

// dummyHash absorbs a bcrypt comparison for unknown usernames so login
// latency does not reveal whether an account exists.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("login-timing-equalizer"), bcrypt.DefaultCost)

// Options configures a Service.
type Options struct {
	Issuer     string
	SessionTTL time.Duration // absolute session lifetime
	FlowTTL    time.Duration // how long a parked login challenge stays valid
	ClockSkew  time.Duration // leeway applied when validating tokens at UserInfo
}

// Service implements the provider operations: Authorize, Login,
// CheckSession, EndSession and UserInfo.
type Service struct {
	registry *domain.Registry
	tokens   *TokenService
	keySet   *KeySet
	sessions session.Store
	flows    session.FlowStore
	denylist cache.DenyList
	opts     Options
}

// NewService wires the provider together. All stores must be non-nil.
func NewService(registry *domain.Registry, keySet *KeySet, sessions session.Store, flows session.FlowStore, denylist cache.DenyList, opts Options) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.FlowTTL <= 0 {
		opts.FlowTTL = 10 * time.Minute
	}
	if opts.ClockSkew <= 0 {
		opts.ClockSkew = 5 * time.Minute
	}
	return &Service{
		registry: registry,
		tokens:   NewTokenService(keySet, registry, opts.Issuer),
		keySet:   keySet,
		sessions: sessions,
		flows:    flows,
		denylist: denylist,
		opts:     opts,
	}
}

// KeySet exposes the signing key set for the JWKS endpoint.
func (s *Service) KeySet() *KeySet { return s.keySet }

// Issuer returns the issuer identifier.
func (s *Service) Issuer() string { return s.opts.Issuer }

// AuthorizeRequest carries the query parameters of an authorization
// endpoint request.
type AuthorizeRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string
	State        string
	Nonce        string
}

// AuthorizeResult is the outcome of a valid authorization request: either a
// fragment redirect carrying tokens, or a parked flow awaiting login.
type AuthorizeResult struct {
	// RedirectURL is the client's redirect_uri with tokens in the fragment.
	// Empty when RequiresLogin is set.
	RedirectURL string
	// RequiresLogin indicates the caller had no active session; FlowID
	// identifies the parked request to resume after login.
	RequiresLogin bool
	FlowID        string
}

// Authorize validates an authorization request and, given an active
// session, issues tokens embedded in the redirect fragment. Validation
// failures are returned to the caller and never redirected: until the
// redirect_uri has been proven registered, it must not receive anything.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest, sessionID string) (*AuthorizeResult, error) {
	client, ok := s.registry.LookupClient(req.ClientID)
	if !ok {
		s.audit("authorize", req.ClientID, "unknown client")
		return nil, oauth.NewInvalidClient("Unknown client_id")
	}

	if !client.AllowsRedirectURI(req.RedirectURI) {
		s.audit("authorize", req.ClientID, "redirect_uri not in allow-list")
		return nil, oauth.NewInvalidRedirectURI("redirect_uri is not registered for this client")
	}

	if !validImplicitResponseType(req.ResponseType) || !client.AllowsGrantType(domain.GrantTypeImplicit) {
		s.audit("authorize", req.ClientID, "response_type not allowed")
		return nil, oauth.NewUnsupportedGrantType()
	}

	scopes := strings.Fields(req.Scope)
	if len(scopes) == 0 || !containsScope(scopes, domain.ScopeOpenID) {
		s.audit("authorize", req.ClientID, "missing openid scope")
		return nil, oauth.NewInvalidScope("scope must include openid")
	}
	if !client.AllowsScopes(scopes) {
		s.audit("authorize", req.ClientID, "scope not allowed")
		return nil, oauth.NewInvalidScope("requested scope exceeds the client's allowed scopes")
	}

	sess, err := s.activeSession(ctx, sessionID)
	if err != nil {
		if !IsSessionMissing(err) {
			log.Error().Err(err).Str("client_id", req.ClientID).Msg("session lookup failed")
			return nil, oauth.NewServerError("session lookup failed")
		}
		flow := &session.Flow{
			ID:           uuid.NewString(),
			ClientID:     req.ClientID,
			RedirectURI:  req.RedirectURI,
			ResponseType: req.ResponseType,
			Scope:        req.Scope,
			State:        req.State,
			Nonce:        req.Nonce,
			ExpiresAt:    time.Now().Add(s.opts.FlowTTL),
		}
		if err := s.flows.StoreFlow(ctx, flow); err != nil {
			return nil, oauth.NewServerError("failed to persist login flow")
		}
		return &AuthorizeResult{RequiresLogin: true, FlowID: flow.ID}, nil
	}

	return s.issueForSession(ctx, client, req, sess)
}

// ResumeFlow replays a parked authorization request once the user has
// logged in. The flow is consumed regardless of outcome.
func (s *Service) ResumeFlow(ctx context.Context, flowID, sessionID string) (*AuthorizeResult, error) {
	flow, err := s.flows.GetFlow(ctx, flowID)
	if err != nil {
		return nil, oauth.NewInvalidRequest("login flow is unknown or expired")
	}
	defer func() {
		if err := s.flows.DeleteFlow(ctx, flowID); err != nil {
			log.Warn().Err(err).Str("flow_id", flowID).Msg("failed to delete consumed login flow")
		}
	}()

	result, err := s.Authorize(ctx, AuthorizeRequest{
		ClientID:     flow.ClientID,
		RedirectURI:  flow.RedirectURI,
		ResponseType: flow.ResponseType,
		Scope:        flow.Scope,
		State:        flow.State,
		Nonce:        flow.Nonce,
	}, sessionID)
	if err != nil {
		return nil, err
	}
	if result.RequiresLogin {
		return nil, oauth.NewLoginRequired()
	}
	return result, nil
}

func (s *Service) issueForSession(ctx context.Context, client *domain.ClientRegistration, req AuthorizeRequest, sess *domain.Session) (*AuthorizeResult, error) {
	user, ok := s.registry.LookupSubject(sess.SubjectID)
	if !ok {
		// A session for a subject that no longer exists is poison; drop it.
		_ = s.sessions.DeleteSession(ctx, sess.ID)
		return nil, oauth.NewLoginRequired()
	}

	scopes := strings.Fields(req.Scope)
	issued, err := s.tokens.Issue(client, user, scopes, req.Nonce)
	if err != nil {
		log.Error().Err(err).Str("client_id", client.ID).Msg("token issuance failed")
		return nil, oauth.NewServerError("failed to issue tokens")
	}

	if issued.AccessTokenID != "" {
		sess.AccessTokenID = issued.AccessTokenID
		if err := s.sessions.UpdateSession(ctx, sess); err != nil {
			log.Warn().Err(err).Str("client_id", client.ID).Msg("failed to record issued token on session")
		}
	}

	s.audit("authorize", client.ID, "tokens issued")

	return &AuthorizeResult{
		RedirectURL: fragmentRedirect(req.RedirectURI, issued, req.State),
	}, nil
}

// Login verifies the user's credentials and establishes a provider session
// with a fixed absolute lifetime. Unknown usernames burn a bcrypt
// comparison against a dummy hash so the check is constant time with
// respect to account existence.
func (s *Service) Login(ctx context.Context, username, password string) (*domain.Session, error) {
	user, ok := s.registry.LookupUser(username)
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		s.audit("login", "", "unknown username")
		return nil, oauth.NewInvalidCredentials()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.audit("login", "", "password mismatch")
		return nil, oauth.NewInvalidCredentials()
	}

	now := time.Now()
	sess := &domain.Session{
		ID:              uuid.NewString(),
		SubjectID:       user.SubjectID,
		Username:        user.Username,
		AuthenticatedAt: now,
		ExpiresAt:       now.Add(s.opts.SessionTTL),
	}
	if err := s.sessions.StoreSession(ctx, sess); err != nil {
		return nil, oauth.NewServerError("failed to persist session")
	}

	log.Info().Str("endpoint", "login").Str("sub", user.SubjectID).Msg("session established")
	return sess, nil
}

// CheckSession reports whether the session cookie still refers to an active
// session. It is intentionally cheap: the client agent polls it.
func (s *Service) CheckSession(ctx context.Context, sessionID string) bool {
	_, err := s.activeSession(ctx, sessionID)
	return err == nil
}

// EndSession validates the post-logout target against the client's
// registration, destroys the session and denylists the access token issued
// under it when the client is configured for revocation on logout. It
// returns the redirect target.
func (s *Service) EndSession(ctx context.Context, sessionID, clientID, postLogoutURI string) (string, error) {
	client, ok := s.registry.LookupClient(clientID)
	if !ok {
		s.audit("endsession", clientID, "unknown client")
		return "", oauth.NewInvalidClient("Unknown client_id")
	}
	if !client.AllowsPostLogoutURI(postLogoutURI) {
		s.audit("endsession", clientID, "post_logout_redirect_uri not in allow-list")
		return "", oauth.NewInvalidPostLogoutURI("post_logout_redirect_uri is not registered for this client")
	}

	sess, err := s.activeSession(ctx, sessionID)
	if err == nil {
		if client.RevokeAccessTokenOnLogout && sess.AccessTokenID != "" {
			until := time.Now().Add(time.Duration(client.AccessTokenLifetime) * time.Second)
			if err := s.denylist.Revoke(ctx, sess.AccessTokenID, until); err != nil {
				log.Error().Err(err).Str("client_id", clientID).Msg("failed to denylist access token at logout")
			}
		}
		if err := s.sessions.DeleteSession(ctx, sess.ID); err != nil {
			log.Warn().Err(err).Str("client_id", clientID).Msg("failed to delete session at logout")
		}
	}

	s.audit("endsession", clientID, "session ended")
	return postLogoutURI, nil
}

// UserInfo validates a bearer access token and returns the subject's
// identity claims authorized by the token's scopes.
func (s *Service) UserInfo(ctx context.Context, rawToken string) (map[string]any, error) {
	claims, err := s.validateAccessToken(ctx, rawToken)
	if err != nil {
		s.audit("userinfo", "", "token rejected")
		return nil, err
	}

	sub, _ := claims["sub"].(string)
	user, ok := s.registry.LookupSubject(sub)
	if !ok {
		return nil, oauth.NewInvalidRequest("token subject is unknown")
	}

	info := map[string]any{"sub": user.SubjectID}
	types := s.registry.ClaimTypesForScopes(scopesFromClaims(claims), domain.ResourceKindIdentity)
	for _, c := range user.ClaimsOfTypes(types) {
		info[c.Type] = c.Value
	}
	return info, nil
}

func (s *Service) validateAccessToken(ctx context.Context, rawToken string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := s.keySet.PublicKey(kid)
		if !ok {
			return nil, fmt.Errorf("signing key %q not in published key set", kid)
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.opts.Issuer),
		jwt.WithLeeway(s.opts.ClockSkew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, oauth.NewInvalidRequest("access token is invalid or expired")
	}

	if jti, _ := claims["jti"].(string); jti != "" {
		revoked, err := s.denylist.IsRevoked(ctx, jti)
		if err != nil {
			// Revocation state unknown: fail closed.
			return nil, oauth.NewServerError("revocation check unavailable")
		}
		if revoked {
			return nil, oauth.NewInvalidRequest("access token has been revoked")
		}
	}
	return claims, nil
}

func (s *Service) activeSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, session.ErrSessionNotFound
	}
	return s.sessions.GetSession(ctx, sessionID)
}

func (s *Service) audit(endpoint, clientID, reason string) {
	log.Info().Str("endpoint", endpoint).Str("client_id", clientID).Str("reason", reason).Msg("audit")
}

// fragmentRedirect embeds the issued tokens in the fragment portion of the
// redirect URI. Fragments are never transmitted in HTTP requests, so the
// tokens stay out of server logs on the client side.
func fragmentRedirect(redirectURI string, issued *IssuedTokens, state string) string {
	values := url.Values{}
	values.Set("id_token", issued.IDToken)
	if issued.AccessToken != "" {
		values.Set("access_token", issued.AccessToken)
		values.Set("token_type", issued.TokenType)
		values.Set("expires_in", strconv.Itoa(issued.ExpiresIn))
	}
	if state != "" {
		values.Set("state", state)
	}
	return redirectURI + "#" + values.Encode()
}

func validImplicitResponseType(rt string) bool {
	switch rt {
	case "id_token", "id_token token", "token id_token":
		return true
	}
	return false
}

func containsScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// IsSessionMissing reports whether err indicates an absent or expired
// session rather than a protocol failure.
func IsSessionMissing(err error) bool {
	return errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionExpired)
}
