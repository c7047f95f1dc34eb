package identity

import (
	"strings"
	"time"
)

// Metadata keys attached to a Principal at sign-up.
const (
	MetaFullName = "full_name"
	MetaRole     = "role"
)

// AuthEvent is the kind of auth-state-change pushed by the Identity Service.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// Principal is the authenticated identity returned by the Identity Service.
type Principal struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

func (p Principal) metaString(key string) string {
	if p.UserMetadata == nil {
		return ""
	}
	s, _ := p.UserMetadata[key].(string)
	return strings.TrimSpace(s)
}

// FullName is the display name hint supplied at sign-up, if any.
func (p Principal) FullName() string {
	return p.metaString(MetaFullName)
}

// Session is the token bundle issued by the Identity Service.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Principal `json:"user"`
}

// Expired reports whether the access token is expired at `now`.
// A session without expiry never expires.
func (s Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// AuthResponse is what sign-in and sign-up return. Session is nil when the service requires
// the email to be confirmed first.
type AuthResponse struct {
	User    *Principal `json:"user"`
	Session *Session   `json:"session"`
}

// Credentials are used to sign in with a password.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignUpRequest contains information needed to register a new Principal.
type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	FullName string `json:"full_name" validate:"required"`
	Role     string `json:"role" validate:"required,signuprole"`
}

// Clean normalizes the request before validation.
func (r *SignUpRequest) Clean() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.FullName = strings.TrimSpace(r.FullName)
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))
}

// Metadata is the sign-up metadata stored on the Principal.
func (r SignUpRequest) Metadata() map[string]interface{} {
	return map[string]interface{}{
		MetaFullName: r.FullName,
		MetaRole:     r.Role,
	}
}

// SignUpParams mirrors the Identity Service sign-up call.
type SignUpParams struct {
	Email    string                 `json:"email"`
	Password string                 `json:"password"`
	Data     map[string]interface{} `json:"data,omitempty"`
}
