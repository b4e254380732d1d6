package oauth

import (
	"fmt"
	"net/http"
)

// Error represents a standardized OAuth 2.0 / OpenID Connect error response.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	State       string `json:"state,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Standard OAuth2 / OIDC error codes used by the implicit flow.
const (
	InvalidRequest       = "invalid_request"
	InvalidClient        = "invalid_client"
	InvalidRedirectURI   = "invalid_redirect_uri"
	InvalidScope         = "invalid_scope"
	UnauthorizedClient   = "unauthorized_client"
	UnsupportedGrantType = "unsupported_grant_type"
	ConsentRequired      = "consent_required"
	LoginRequired        = "login_required"
	InvalidCredentials   = "invalid_credentials"
	InvalidPostLogoutURI = "invalid_post_logout_uri"
	AccessDenied         = "access_denied"
	ServerError          = "server_error"
)

// HTTPStatus maps the error taxonomy onto response codes: client mistakes
// are 400, failed authentication 401, insufficient claims 403, everything
// else 500.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case InvalidRequest, InvalidClient, InvalidRedirectURI, InvalidScope,
		UnauthorizedClient, UnsupportedGrantType, InvalidPostLogoutURI:
		return http.StatusBadRequest
	case InvalidCredentials, LoginRequired, ConsentRequired:
		return http.StatusUnauthorized
	case AccessDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func NewInvalidRequest(description string) *Error {
	return &Error{Code: InvalidRequest, Description: description}
}

func NewInvalidClient(description string) *Error {
	return &Error{Code: InvalidClient, Description: description}
}

func NewInvalidRedirectURI(description string) *Error {
	return &Error{Code: InvalidRedirectURI, Description: description}
}

func NewInvalidScope(description string) *Error {
	return &Error{Code: InvalidScope, Description: description}
}

func NewUnauthorizedClient(description string) *Error {
	return &Error{Code: UnauthorizedClient, Description: description}
}

func NewUnsupportedGrantType() *Error {
	return &Error{Code: UnsupportedGrantType, Description: "The authorization grant type is not supported"}
}

func NewLoginRequired() *Error {
	return &Error{Code: LoginRequired, Description: "User authentication is required"}
}

func NewInvalidCredentials() *Error {
	return &Error{Code: InvalidCredentials, Description: "Invalid username or password"}
}

func NewInvalidPostLogoutURI(description string) *Error {
	return &Error{Code: InvalidPostLogoutURI, Description: description}
}

func NewServerError(description string) *Error {
	return &Error{Code: ServerError, Description: description}
}
