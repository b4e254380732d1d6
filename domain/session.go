package domain

import "time"

// Session is the provider-side authentication state backed by the session
// cookie. It carries an absolute lifetime: once ExpiresAt passes the user
// must re-authenticate, regardless of activity.
type Session struct {
	ID              string
	SubjectID       string
	Username        string
	AuthenticatedAt time.Time
	ExpiresAt       time.Time
	// AccessTokenID holds the jti of the access token most recently issued
	// under this session, so it can be denylisted on logout.
	AccessTokenID string
}

// Active reports whether the session is still within its absolute lifetime.
func (s *Session) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
