package guard

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	trustedIssuer = "http://localhost:5000"
	apiAudience   = "api1"
)

type staticKeys map[string]*rsa.PublicKey

func (s staticKeys) Key(_ context.Context, kid string) (*rsa.PublicKey, error) {
	key, ok := s[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return key, nil
}

type tokenOverrides struct {
	issuer   string
	audience string
	expiry   time.Time
	kid      string
}

func signToken(t *testing.T, key *rsa.PrivateKey, o tokenOverrides) string {
	t.Helper()
	if o.issuer == "" {
		o.issuer = trustedIssuer
	}
	if o.audience == "" {
		o.audience = apiAudience
	}
	if o.expiry.IsZero() {
		o.expiry = time.Now().Add(5 * time.Minute)
	}
	if o.kid == "" {
		o.kid = "kid-1"
	}

	claims := jwt.MapClaims{
		"iss":  o.issuer,
		"sub":  "1",
		"aud":  o.audience,
		"iat":  time.Now().Unix(),
		"exp":  o.expiry.Unix(),
		"name": "Alice",
		"role": "user",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = o.kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	a := NewAuthenticator(staticKeys{"kid-1": &key.PublicKey}, Config{
		TrustedIssuer: trustedIssuer,
		Audience:      apiAudience,
		ClockSkew:     time.Second,
	})
	return a, key
}

func TestAuthenticateValidToken(t *testing.T) {
	a, key := newTestAuthenticator(t)
	token := signToken(t, key, tokenOverrides{})

	principal, err := a.Authenticate(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, "1", principal.Subject)
	assert.True(t, principal.HasClaim("role", "user"))
	assert.True(t, principal.HasClaim("name", "Alice"))
}

func TestAuthenticateMissingToken(t *testing.T) {
	a, _ := newTestAuthenticator(t)

	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer "} {
		_, err := a.Authenticate(context.Background(), header)
		assert.ErrorIs(t, err, ErrMissingToken, "header %q", header)
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	a, key := newTestAuthenticator(t)
	token := signToken(t, key, tokenOverrides{expiry: time.Now().Add(-time.Minute)})

	_, err := a.Authenticate(context.Background(), "Bearer "+token)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestAuthenticateExpiryWithinLeeway(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	a := NewAuthenticator(staticKeys{"kid-1": &key.PublicKey}, Config{
		TrustedIssuer: trustedIssuer,
		Audience:      apiAudience,
		ClockSkew:     5 * time.Minute,
	})

	// Nominally expired, but inside the configured skew bound.
	token := signToken(t, key, tokenOverrides{expiry: time.Now().Add(-time.Minute)})
	_, err = a.Authenticate(context.Background(), "Bearer "+token)
	assert.NoError(t, err)
}

func TestAuthenticateWrongAudience(t *testing.T) {
	a, key := newTestAuthenticator(t)
	token := signToken(t, key, tokenOverrides{audience: "api2"})

	_, err := a.Authenticate(context.Background(), "Bearer "+token)
	assert.ErrorIs(t, err, ErrWrongAudience)
}

func TestAuthenticateUntrustedIssuer(t *testing.T) {
	a, key := newTestAuthenticator(t)
	token := signToken(t, key, tokenOverrides{issuer: "http://rogue.example"})

	_, err := a.Authenticate(context.Background(), "Bearer "+token)
	assert.ErrorIs(t, err, ErrUntrustedIssuer)
}

func TestAuthenticateForeignKeyFailsSignature(t *testing.T) {
	a, _ := newTestAuthenticator(t)

	// Signed with a key that is not in the published set, under a known kid.
	foreign, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	token := signToken(t, foreign, tokenOverrides{})

	_, err = a.Authenticate(context.Background(), "Bearer "+token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestAuthenticateUnknownKidFailsClosed(t *testing.T) {
	a, key := newTestAuthenticator(t)
	token := signToken(t, key, tokenOverrides{kid: "mystery"})

	_, err := a.Authenticate(context.Background(), "Bearer "+token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestAuthenticateIsIdempotent(t *testing.T) {
	a, key := newTestAuthenticator(t)
	token := signToken(t, key, tokenOverrides{})

	first, err := a.Authenticate(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	second, err := a.Authenticate(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRequireClaimPolicy(t *testing.T) {
	admin := &Principal{Subject: "2", Claims: []ClaimPair{{Type: "role", Value: "admin"}}}
	user := &Principal{Subject: "1", Claims: []ClaimPair{{Type: "role", Value: "user"}}}

	policy := RequireClaim("role", "admin")
	assert.NoError(t, policy(admin))
	assert.ErrorIs(t, policy(user), ErrForbidden)
}
