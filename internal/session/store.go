// Package session provides the issuer-side stores for login flows and
// cookie-backed user sessions. Both are TTL-bound: flows live for the few
// minutes a login challenge may take, sessions for their absolute lifetime.
package session

import (
	"context"
	"errors"
	"time"

	"go.oidclab.dev/implicit/domain"
)

var (
	ErrFlowNotFound    = errors.New("login flow not found")
	ErrFlowExpired     = errors.New("login flow expired")
	ErrSessionNotFound = errors.New("user session not found")
	ErrSessionExpired  = errors.New("user session expired")
)

// Flow holds the parameters of an authorization request that is parked
// while the user completes the interactive login challenge.
type Flow struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	RedirectURI  string    `json:"redirect_uri"`
	ResponseType string    `json:"response_type"`
	Scope        string    `json:"scope"`
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// FlowStore parks pending authorization requests across the login redirect.
type FlowStore interface {
	StoreFlow(ctx context.Context, flow *Flow) error
	// GetFlow returns ErrFlowExpired for a flow past its deadline and
	// ErrFlowNotFound for an unknown id.
	GetFlow(ctx context.Context, flowID string) (*Flow, error)
	DeleteFlow(ctx context.Context, flowID string) error
}

// Store keeps active user sessions keyed by session id. Implementations
// must support concurrent access without cross-session locking.
type Store interface {
	StoreSession(ctx context.Context, s *domain.Session) error
	// GetSession returns ErrSessionExpired for a session past its absolute
	// lifetime and ErrSessionNotFound for an unknown id.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	UpdateSession(ctx context.Context, s *domain.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}
