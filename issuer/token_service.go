package issuer

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go.oidclab.dev/implicit/domain"
)

// TokenService packages and signs identity and access tokens. Tokens are
// signed, never encrypted, and never stored server-side: validity is
// determined purely by signature and expiry at verification time.
type TokenService struct {
	keySet   *KeySet
	registry *domain.Registry
	issuer   string
}

// NewTokenService creates a TokenService signing for the given issuer
// identifier.
func NewTokenService(keySet *KeySet, registry *domain.Registry, issuer string) *TokenService {
	return &TokenService{
		keySet:   keySet,
		registry: registry,
		issuer:   issuer,
	}
}

// IssuedTokens is the result of a successful implicit-grant authorization.
type IssuedTokens struct {
	IDToken       string
	AccessToken   string
	AccessTokenID string
	TokenType     string
	ExpiresIn     int // access token lifetime in seconds
}

// Issue builds the token set for a granted authorization: an id_token
// always, an access token only when the granted scopes include an API
// resource. Each token carries only the claims authorized by the scopes
// feeding it.
func (ts *TokenService) Issue(client *domain.ClientRegistration, user *domain.User, scopes []string, nonce string) (*IssuedTokens, error) {
	now := time.Now()

	idToken, err := ts.signIDToken(client, user, scopes, nonce, now)
	if err != nil {
		return nil, fmt.Errorf("signing id_token: %w", err)
	}

	issued := &IssuedTokens{
		IDToken:   idToken,
		TokenType: "Bearer",
	}

	audiences := ts.registry.APIResourcesForScopes(scopes)
	if len(audiences) == 0 {
		return issued, nil
	}

	accessToken, jti, err := ts.signAccessToken(client, user, scopes, audiences, now)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}
	issued.AccessToken = accessToken
	issued.AccessTokenID = jti
	issued.ExpiresIn = client.AccessTokenLifetime

	return issued, nil
}

func (ts *TokenService) signIDToken(client *domain.ClientRegistration, user *domain.User, scopes []string, nonce string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": ts.issuer,
		"sub": user.SubjectID,
		"aud": client.ID,
		"iat": now.Unix(),
		"exp": now.Add(time.Duration(client.IdentityTokenLifetime) * time.Second).Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	// Profile claims go straight into the id_token only when the client is
	// registered for it; otherwise the client fetches them from UserInfo.
	if client.IncludeUserClaimsInIDToken {
		types := ts.registry.ClaimTypesForScopes(scopes, domain.ResourceKindIdentity)
		for _, c := range user.ClaimsOfTypes(types) {
			if _, reserved := claims[c.Type]; !reserved {
				claims[c.Type] = c.Value
			}
		}
	}

	return ts.sign(claims)
}

func (ts *TokenService) signAccessToken(client *domain.ClientRegistration, user *domain.User, scopes, audiences []string, now time.Time) (string, string, error) {
	jti := uuid.NewString()
	claims := jwt.MapClaims{
		"iss":       ts.issuer,
		"sub":       user.SubjectID,
		"aud":       audienceClaim(audiences),
		"iat":       now.Unix(),
		"exp":       now.Add(time.Duration(client.AccessTokenLifetime) * time.Second).Unix(),
		"jti":       jti,
		"client_id": client.ID,
		"scope":     scopes,
	}

	types := ts.registry.ClaimTypesForScopes(scopes, domain.ResourceKindAPI)
	for _, c := range user.ClaimsOfTypes(types) {
		if _, reserved := claims[c.Type]; !reserved {
			claims[c.Type] = c.Value
		}
	}

	token, err := ts.sign(claims)
	return token, jti, err
}

func (ts *TokenService) sign(claims jwt.MapClaims) (string, error) {
	kid, key := ts.keySet.SigningKey()
	if key == nil {
		return "", fmt.Errorf("no signing key available")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

// audienceClaim keeps the common single-audience case a plain string,
// matching what most verifiers expect.
func audienceClaim(audiences []string) any {
	if len(audiences) == 1 {
		return audiences[0]
	}
	return audiences
}
