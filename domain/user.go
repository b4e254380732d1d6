package domain

// Claim is a named attribute about a subject, carried inside signed tokens.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// User is a preloaded demo account. The subject identifier is stable and
// opaque; the password is stored as a bcrypt hash, never in the clear.
type User struct {
	SubjectID    string
	Username     string
	PasswordHash string
	Claims       []Claim
}

// ClaimValue returns the first claim of the given type, or "" when absent.
func (u *User) ClaimValue(claimType string) string {
	for _, c := range u.Claims {
		if c.Type == claimType {
			return c.Value
		}
	}
	return ""
}

// ClaimsOfTypes filters the user's claims down to the given claim types,
// preserving declaration order. Used to restrict token contents to the
// claims authorized by the granted scopes.
func (u *User) ClaimsOfTypes(types []string) []Claim {
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	var out []Claim
	for _, c := range u.Claims {
		if wanted[c.Type] {
			out = append(out, c)
		}
	}
	return out
}
