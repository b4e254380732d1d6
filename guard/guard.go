// Package guard validates bearer access tokens for the resource API and
// evaluates claims-based policies. The guard is stateless: every request is
// validated independently against the issuer's published keys, and there is
// no server-side session for API calls.
package guard

import "errors"

// Authentication and authorization failures. The middleware maps the first
// five to 401 and ErrForbidden to 403.
var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token is expired")
	ErrWrongAudience    = errors.New("token audience does not match this resource")
	ErrUntrustedIssuer  = errors.New("token issuer is not trusted")
	ErrForbidden        = errors.New("required claim not present")
)

// Principal is the claims identity materialized from a validated token.
type Principal struct {
	Subject string
	Claims  []ClaimPair
}

// ClaimPair is a single claim carried by the principal.
type ClaimPair struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// HasClaim reports whether the principal carries claimType=value. This is
// pure claims matching; there is no role hierarchy or inheritance.
func (p *Principal) HasClaim(claimType, value string) bool {
	for _, c := range p.Claims {
		if c.Type == claimType && c.Value == value {
			return true
		}
	}
	return false
}

// Policy is a declarative authorization check over a principal.
type Policy func(p *Principal) error

// RequireClaim builds a policy requiring claimType=value.
func RequireClaim(claimType, value string) Policy {
	return func(p *Principal) error {
		if !p.HasClaim(claimType, value) {
			return ErrForbidden
		}
		return nil
	}
}
