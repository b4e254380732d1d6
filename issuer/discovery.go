package issuer

import "go.oidclab.dev/implicit/domain"

// DiscoveryDocument is the provider metadata served unauthenticated at
// /.well-known/openid-configuration.
type DiscoveryDocument struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	UserInfoEndpoint                 string   `json:"userinfo_endpoint"`
	EndSessionEndpoint               string   `json:"end_session_endpoint"`
	CheckSessionEndpoint             string   `json:"check_session_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	ScopesSupported                  []string `json:"scopes_supported"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	ResponseModesSupported           []string `json:"response_modes_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

// Discovery builds the provider metadata document.
func (s *Service) Discovery() DiscoveryDocument {
	return DiscoveryDocument{
		Issuer:                s.opts.Issuer,
		AuthorizationEndpoint: s.opts.Issuer + "/connect/authorize",
		UserInfoEndpoint:      s.opts.Issuer + "/connect/userinfo",
		EndSessionEndpoint:    s.opts.Issuer + "/connect/endsession",
		CheckSessionEndpoint:  s.opts.Issuer + "/connect/checksession",
		JWKSURI:               s.opts.Issuer + "/.well-known/jwks.json",
		ScopesSupported:       []string{domain.ScopeOpenID, domain.ScopeProfile, "api1"},
		ResponseTypesSupported: []string{
			"id_token", "id_token token",
		},
		ResponseModesSupported:           []string{"fragment"},
		GrantTypesSupported:              []string{string(domain.GrantTypeImplicit)},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		ClaimsSupported: []string{
			"sub", "name", "website", "role",
		},
	}
}

// scopesFromClaims reads the scope claim, which the token service writes as
// a string list.
func scopesFromClaims(claims map[string]any) []string {
	raw, ok := claims["scope"].([]any)
	if !ok {
		return nil
	}
	scopes := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			scopes = append(scopes, s)
		}
	}
	return scopes
}
