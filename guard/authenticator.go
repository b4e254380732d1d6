package guard

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeyProvider resolves a signing key id to the issuer's published public
// key. An error means the key could not be established; the authenticator
// fails closed in that case.
type KeyProvider interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// Config configures an Authenticator.
type Config struct {
	// TrustedIssuer must match the iss claim exactly.
	TrustedIssuer string
	// Audience is this API's registered resource identifier; it must appear
	// in the token's aud claim.
	Audience string
	// ClockSkew bounds acceptable clock drift for expiry checks. Defaults
	// to 5 minutes.
	ClockSkew time.Duration
}

// Authenticator validates bearer access tokens. It holds no per-request
// state, so repeated validation of the same token is idempotent.
type Authenticator struct {
	keys KeyProvider
	cfg  Config
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(keys KeyProvider, cfg Config) *Authenticator {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 5 * time.Minute
	}
	return &Authenticator{keys: keys, cfg: cfg}
}

// Authenticate extracts the bearer token from an Authorization header value
// and validates signature, expiry, audience and issuer. On success it
// materializes the claims principal.
func (a *Authenticator) Authenticate(ctx context.Context, authorizationHeader string) (*Principal, error) {
	rawToken, ok := parseBearer(authorizationHeader)
	if !ok {
		return nil, ErrMissingToken
	}
	return a.ValidateToken(ctx, rawToken)
}

// ValidateToken validates a raw access token.
func (a *Authenticator) ValidateToken(ctx context.Context, rawToken string) (*Principal, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := a.keys.Key(ctx, kid)
		if err != nil {
			// Unknown kid or unreachable key set: deny, never guess.
			return nil, fmt.Errorf("resolving signing key: %w", err)
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(a.cfg.TrustedIssuer),
		jwt.WithAudience(a.cfg.Audience),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classifyValidationError(err)
	}

	return principalFromClaims(claims), nil
}

func classifyValidationError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrWrongAudience
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrUntrustedIssuer
	default:
		// Signature failures, malformed tokens and key-resolution errors
		// all land here. They are security events, not soft failures.
		return ErrInvalidSignature
	}
}

// principalFromClaims flattens the token claims into the principal's claim
// list. Structural claims that only exist for validation purposes are
// omitted; everything else, registered or custom, is surfaced.
func principalFromClaims(claims jwt.MapClaims) *Principal {
	sub, _ := claims["sub"].(string)
	p := &Principal{Subject: sub}

	skip := map[string]bool{"aud": true, "exp": true, "iat": true, "nbf": true, "jti": true}
	for name, value := range claims {
		if skip[name] {
			continue
		}
		switch v := value.(type) {
		case string:
			p.Claims = append(p.Claims, ClaimPair{Type: name, Value: v})
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					p.Claims = append(p.Claims, ClaimPair{Type: name, Value: s})
				}
			}
		}
	}

	// Map iteration order is random; keep the claim list stable for
	// callers that render it.
	sort.Slice(p.Claims, func(i, j int) bool {
		if p.Claims[i].Type != p.Claims[j].Type {
			return p.Claims[i].Type < p.Claims[j].Type
		}
		return p.Claims[i].Value < p.Claims[j].Value
	})

	return p
}

func parseBearer(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
