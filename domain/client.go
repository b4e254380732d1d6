package domain

// GrantType enumerates the OAuth2 grant types a client may be allowed to use.
type GrantType string

const (
	// GrantTypeImplicit returns tokens directly from the authorization
	// endpoint in the redirect fragment. It is the only grant type this
	// provider issues tokens for.
	GrantTypeImplicit GrantType = "implicit"
)

// ClientRegistration describes a relying party registered with the provider.
// Registrations are immutable after startup; handing out copies is cheap and
// keeps request handling lock-free.
type ClientRegistration struct {
	ID                string
	Name              string
	AllowedGrantTypes []GrantType
	// RedirectURIs is an exact-match allow-list. A token request whose
	// redirect_uri is not listed here is rejected before any token is issued.
	RedirectURIs           []string
	PostLogoutRedirectURIs []string
	AllowedCORSOrigins     []string
	AllowedScopes          []string
	AccessTokenLifetime    int // seconds
	IdentityTokenLifetime  int // seconds
	// IncludeUserClaimsInIDToken controls id_token size: when false the
	// client is expected to fetch profile claims from the UserInfo endpoint.
	IncludeUserClaimsInIDToken bool
	// RevokeAccessTokenOnLogout adds the access token issued in this session
	// to the issuer-side denylist when the session ends.
	RevokeAccessTokenOnLogout bool
}

// AllowsGrantType reports whether the client may use the given grant type.
func (c *ClientRegistration) AllowsGrantType(gt GrantType) bool {
	for _, allowed := range c.AllowedGrantTypes {
		if allowed == gt {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether uri exactly matches a registered
// redirect URI. Prefix or wildcard matching is deliberately not supported.
func (c *ClientRegistration) AllowsRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AllowsPostLogoutURI reports whether uri is a registered post-logout target.
func (c *ClientRegistration) AllowsPostLogoutURI(uri string) bool {
	for _, registered := range c.PostLogoutRedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AllowsScopes reports whether every requested scope is in the client's
// allow-list.
func (c *ClientRegistration) AllowsScopes(requested []string) bool {
	allowed := make(map[string]bool, len(c.AllowedScopes))
	for _, s := range c.AllowedScopes {
		allowed[s] = true
	}
	for _, s := range requested {
		if !allowed[s] {
			return false
		}
	}
	return true
}
