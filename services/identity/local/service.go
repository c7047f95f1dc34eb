// Package local is an in-process Identity Service for development and tests.
package local

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/homework/core"
	"github.com/trezcool/homework/core/identity"
)

const (
	defaultTokenTTL   = time.Hour
	minPasswordLength = 6
)

var (
	errInvalidCredentials = core.NewServiceError(http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
	errUserExists         = core.NewServiceError(http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
	errWeakPassword       = core.NewServiceError(http.StatusUnprocessableEntity, "weak_password", "Password should be at least 6 characters")

	// ErrInvalidToken is returned by ParseAccessToken.
	ErrInvalidToken = errors.New("invalid access token")
)

type account struct {
	principal    identity.Principal
	passwordHash []byte
}

type claims struct {
	Email string `json:"email"`
	jwt.StandardClaims
}

// Service keeps principals in memory and signs HS256 access tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock

	mu       sync.RWMutex
	accounts map[string]*account // by email
	current  *identity.Session
	refresh  map[string]string // refresh token -> email

	events identity.Broadcaster
}

var _ identity.Client = (*Service)(nil)

type Option func(*Service)

func WithClock(clk clock.Clock) Option {
	return func(s *Service) { s.clock = clk }
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

func NewService(secret string, opts ...Option) *Service {
	s := &Service{
		secret:   []byte(secret),
		ttl:      defaultTokenTTL,
		clock:    clock.New(),
		accounts: make(map[string]*account),
		refresh:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetSession returns the current session, renewing it once expired.
func (s *Service) GetSession(ctx context.Context) (*identity.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil, nil
	}
	if !s.current.Expired(s.clock.Now()) {
		sess := *s.current
		s.mu.Unlock()
		return &sess, nil
	}

	acc, ok := s.accounts[s.refresh[s.current.RefreshToken]]
	delete(s.refresh, s.current.RefreshToken)
	if !ok {
		s.current = nil
		s.mu.Unlock()
		s.events.Publish(identity.EventSignedOut, nil)
		return nil, nil
	}
	sess, err := s.issue(acc)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.events.Publish(identity.EventTokenRefreshed, sess)
	return sess, nil
}

func (s *Service) SignInWithPassword(ctx context.Context, creds identity.Credentials) (*identity.AuthResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	email := core.CleanString(creds.Email, true /* lower */)
	s.mu.Lock()
	acc, ok := s.accounts[email]
	if !ok || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(creds.Password)) != nil {
		s.mu.Unlock()
		return nil, errInvalidCredentials
	}
	sess, err := s.issue(acc)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.events.Publish(identity.EventSignedIn, sess)
	usr := sess.User
	return &identity.AuthResponse{User: &usr, Session: sess}, nil
}

// SignUp registers and signs in a principal: there is no confirmation step.
func (s *Service) SignUp(ctx context.Context, params identity.SignUpParams) (*identity.AuthResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(params.Password) < minPasswordLength {
		return nil, errWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hashing password")
	}

	email := core.CleanString(params.Email, true /* lower */)
	meta := make(map[string]interface{}, len(params.Data))
	for k, v := range params.Data {
		meta[k] = v
	}

	s.mu.Lock()
	if _, ok := s.accounts[email]; ok {
		s.mu.Unlock()
		return nil, errUserExists
	}
	acc := &account{
		principal: identity.Principal{
			ID:           uuid.New().String(),
			Email:        email,
			UserMetadata: meta,
			CreatedAt:    s.clock.Now().UTC(),
		},
		passwordHash: hash,
	}
	s.accounts[email] = acc
	sess, err := s.issue(acc)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.events.Publish(identity.EventSignedIn, sess)
	usr := sess.User
	return &identity.AuthResponse{User: &usr, Session: sess}, nil
}

func (s *Service) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.current != nil {
		delete(s.refresh, s.current.RefreshToken)
		s.current = nil
	}
	s.mu.Unlock()

	s.events.Publish(identity.EventSignedOut, nil)
	return nil
}

func (s *Service) OnAuthStateChange(fn identity.AuthStateFunc) identity.Subscription {
	return s.events.Subscribe(fn)
}

// ParseAccessToken verifies an access token issued by s and returns its principal id and email.
func (s *Service) ParseAccessToken(token string) (id, email string, err error) {
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}, SkipClaimsValidation: true}
	var c claims
	if _, err = parser.ParseWithClaims(token, &c, func(*jwt.Token) (interface{}, error) { return s.secret, nil }); err != nil {
		return "", "", errors.Wrap(ErrInvalidToken, err.Error())
	}
	if c.ExpiresAt <= s.clock.Now().Unix() {
		return "", "", errors.Wrap(ErrInvalidToken, "token is expired")
	}
	return c.Subject, c.Email, nil
}

// issue makes a new current session for acc. s.mu must be held.
func (s *Service) issue(acc *account) (*identity.Session, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.ttl)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: acc.principal.Email,
		StandardClaims: jwt.StandardClaims{
			Subject:   acc.principal.ID,
			IssuedAt:  now.Unix(),
			ExpiresAt: expiresAt.Unix(),
		},
	}).SignedString(s.secret)
	if err != nil {
		return nil, errors.Wrap(err, "signing access token")
	}

	if s.current != nil {
		delete(s.refresh, s.current.RefreshToken)
	}
	refreshToken := strings.ReplaceAll(uuid.New().String(), "-", "")
	s.refresh[refreshToken] = acc.principal.Email

	sess := &identity.Session{
		AccessToken:  token,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.ttl / time.Second),
		ExpiresAt:    time.Unix(expiresAt.Unix(), 0).UTC(),
		User:         acc.principal,
	}
	s.current = sess
	cp := *sess
	return &cp, nil
}
