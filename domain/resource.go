package domain

// ResourceKind distinguishes identity resources (claims destined for the
// id_token) from API resources (claims destined for the access token).
type ResourceKind string

const (
	ResourceKindIdentity ResourceKind = "identity"
	ResourceKindAPI      ResourceKind = "api"
)

// ScopeResource maps a named scope to the claim types it authorizes.
// A token only ever carries claims belonging to scopes the client was
// granted and the user consented to.
type ScopeResource struct {
	Name        string
	DisplayName string
	Kind        ResourceKind
	ClaimTypes  []string
}

// Standard OpenID Connect scope names.
const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
)
