package domain

import (
	"golang.org/x/crypto/bcrypt"
)

// Registry holds the immutable registration tables the provider is
// configured with: clients, scope resources and user accounts. It is built
// once at startup and only ever read afterwards, so no locking is needed.
//
// A production deployment would back these lookups with a proper store; the
// protocol logic only depends on the lookup capability, not the mechanism.
type Registry struct {
	clients map[string]*ClientRegistration
	scopes  map[string]*ScopeResource
	users   map[string]*User // keyed by username
	bySub   map[string]*User // keyed by subject id
}

// NewRegistry builds a registry from the given tables. Later entries with
// duplicate identifiers overwrite earlier ones.
func NewRegistry(clients []*ClientRegistration, scopes []*ScopeResource, users []*User) *Registry {
	r := &Registry{
		clients: make(map[string]*ClientRegistration, len(clients)),
		scopes:  make(map[string]*ScopeResource, len(scopes)),
		users:   make(map[string]*User, len(users)),
		bySub:   make(map[string]*User, len(users)),
	}
	for _, c := range clients {
		r.clients[c.ID] = c
	}
	for _, s := range scopes {
		r.scopes[s.Name] = s
	}
	for _, u := range users {
		r.users[u.Username] = u
		r.bySub[u.SubjectID] = u
	}
	return r
}

// LookupClient returns the registration for clientID, or false.
func (r *Registry) LookupClient(clientID string) (*ClientRegistration, bool) {
	c, ok := r.clients[clientID]
	return c, ok
}

// LookupScope returns the scope resource for name, or false.
func (r *Registry) LookupScope(name string) (*ScopeResource, bool) {
	s, ok := r.scopes[name]
	return s, ok
}

// LookupUser returns the user registered under username, or false.
func (r *Registry) LookupUser(username string) (*User, bool) {
	u, ok := r.users[username]
	return u, ok
}

// LookupSubject returns the user with the given subject identifier, or false.
func (r *Registry) LookupSubject(subjectID string) (*User, bool) {
	u, ok := r.bySub[subjectID]
	return u, ok
}

// ClaimTypesForScopes collects the claim types authorized by the given
// scopes, restricted to resources of the given kind. Unknown scopes
// contribute nothing.
func (r *Registry) ClaimTypesForScopes(scopes []string, kind ResourceKind) []string {
	var types []string
	seen := make(map[string]bool)
	for _, name := range scopes {
		res, ok := r.scopes[name]
		if !ok || res.Kind != kind {
			continue
		}
		for _, t := range res.ClaimTypes {
			if !seen[t] {
				seen[t] = true
				types = append(types, t)
			}
		}
	}
	return types
}

// APIResourcesForScopes returns the names of API resources among the given
// scopes, in request order. These become the audience of the access token.
func (r *Registry) APIResourcesForScopes(scopes []string) []string {
	var out []string
	for _, name := range scopes {
		if res, ok := r.scopes[name]; ok && res.Kind == ResourceKindAPI {
			out = append(out, res.Name)
		}
	}
	return out
}

// SeedRegistry builds the demo registration tables: the "js" browser client,
// the openid/profile identity resources, the "api1" API resource and the
// alice/bob test accounts. Passwords are bcrypt-hashed at startup.
func SeedRegistry() (*Registry, error) {
	hash := func(password string) (string, error) {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		return string(h), nil
	}

	alicePwd, err := hash("password")
	if err != nil {
		return nil, err
	}
	bobPwd, err := hash("password")
	if err != nil {
		return nil, err
	}

	clients := []*ClientRegistration{
		{
			ID:                "js",
			Name:              "JavaScript Client",
			AllowedGrantTypes: []GrantType{GrantTypeImplicit},
			RedirectURIs: []string{
				"http://localhost:5003/callback.html",
				"http://localhost:5003/callback-silent.html",
			},
			PostLogoutRedirectURIs:     []string{"http://localhost:5003/index.html"},
			AllowedCORSOrigins:         []string{"http://localhost:5003"},
			AllowedScopes:              []string{ScopeOpenID, ScopeProfile, "api1"},
			AccessTokenLifetime:        300,
			IdentityTokenLifetime:      3600,
			IncludeUserClaimsInIDToken: true,
			RevokeAccessTokenOnLogout:  true,
		},
	}

	scopes := []*ScopeResource{
		{
			Name:       ScopeOpenID,
			Kind:       ResourceKindIdentity,
			ClaimTypes: []string{"sub"},
		},
		{
			Name:       ScopeProfile,
			Kind:       ResourceKindIdentity,
			ClaimTypes: []string{"name", "website"},
		},
		{
			Name:        "api1",
			DisplayName: "API 1",
			Kind:        ResourceKindAPI,
			ClaimTypes:  []string{"name", "role"},
		},
	}

	users := []*User{
		{
			SubjectID:    "1",
			Username:     "alice",
			PasswordHash: alicePwd,
			Claims: []Claim{
				{Type: "name", Value: "Alice"},
				{Type: "website", Value: "https://alice.com"},
				{Type: "role", Value: "user"},
			},
		},
		{
			SubjectID:    "2",
			Username:     "bob",
			PasswordHash: bobPwd,
			Claims: []Claim{
				{Type: "name", Value: "Bob"},
				{Type: "website", Value: "https://bob.com"},
				{Type: "role", Value: "admin"},
			},
		},
	}

	return NewRegistry(clients, scopes, users), nil
}
