package local

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/homework/core"
	"github.com/trezcool/homework/core/identity"
)

const secret = "test-secret"

func signUp(t *testing.T, s *Service, email, pwd, name string) *identity.AuthResponse {
	t.Helper()
	resp, err := s.SignUp(context.Background(), identity.SignUpParams{
		Email:    email,
		Password: pwd,
		Data:     map[string]interface{}{identity.MetaFullName: name, identity.MetaRole: "student"},
	})
	require.NoError(t, err)
	return resp
}

func TestService_SignUp(t *testing.T) {
	s := NewService(secret, WithClock(clock.NewMock()))
	var events []identity.AuthEvent
	sub := s.OnAuthStateChange(func(e identity.AuthEvent, _ *identity.Session) { events = append(events, e) })
	defer sub.Unsubscribe()

	resp := signUp(t, s, " Ana@Uni.BG", "secret1", "Ana")
	require.NotNil(t, resp.Session)
	assert.Equal(t, "ana@uni.bg", resp.User.Email)
	assert.Equal(t, "Ana", resp.User.FullName())
	assert.NotEmpty(t, resp.User.ID)
	assert.Equal(t, []identity.AuthEvent{identity.EventSignedIn}, events)

	tests := []struct {
		name     string
		email    string
		password string
		wantCode string
	}{
		{name: "already registered", email: "ana@uni.bg", password: "secret1", wantCode: "user_already_exists"},
		{name: "already registered, other case", email: "ANA@uni.bg", password: "secret1", wantCode: "user_already_exists"},
		{name: "weak password", email: "ivan@uni.bg", password: "12345", wantCode: "weak_password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SignUp(context.Background(), identity.SignUpParams{Email: tt.email, Password: tt.password})
			svcErr, ok := core.AsServiceError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.wantCode, svcErr.Code)
		})
	}
}

func TestService_SignInWithPassword(t *testing.T) {
	s := NewService(secret, WithClock(clock.NewMock()))
	created := signUp(t, s, "ana@uni.bg", "secret1", "Ana")
	require.NoError(t, s.SignOut(context.Background()))

	tests := []struct {
		name    string
		creds   identity.Credentials
		wantErr bool
	}{
		{name: "valid", creds: identity.Credentials{Email: "ana@uni.bg", Password: "secret1"}},
		{name: "email is case insensitive", creds: identity.Credentials{Email: "ANA@uni.bg ", Password: "secret1"}},
		{name: "wrong password", creds: identity.Credentials{Email: "ana@uni.bg", Password: "secret2"}, wantErr: true},
		{name: "unknown email", creds: identity.Credentials{Email: "ivan@uni.bg", Password: "secret1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := s.SignInWithPassword(context.Background(), tt.creds)
			if (err != nil) != tt.wantErr {
				t.Errorf("SignInWithPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				assert.Equal(t, "Invalid login credentials", err.Error())
				return
			}
			assert.Equal(t, created.User.ID, resp.User.ID)

			id, email, err := s.ParseAccessToken(resp.Session.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, created.User.ID, id)
			assert.Equal(t, "ana@uni.bg", email)
		})
	}
}

func TestService_GetSession(t *testing.T) {
	mock := clock.NewMock()
	s := NewService(secret, WithClock(mock), WithTokenTTL(time.Minute))
	ctx := context.Background()

	sess, err := s.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)

	first := signUp(t, s, "ana@uni.bg", "secret1", "Ana").Session
	sess, err = s.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.AccessToken, sess.AccessToken)

	var events []identity.AuthEvent
	sub := s.OnAuthStateChange(func(e identity.AuthEvent, _ *identity.Session) { events = append(events, e) })
	defer sub.Unsubscribe()

	mock.Add(time.Minute)
	_, _, err = s.ParseAccessToken(first.AccessToken)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	sess, err = s.GetSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, sess.RefreshToken)
	assert.Equal(t, first.User.ID, sess.User.ID)
	assert.False(t, sess.Expired(mock.Now()))
	assert.Equal(t, []identity.AuthEvent{identity.EventTokenRefreshed}, events)

	require.NoError(t, s.SignOut(ctx))
	sess, err = s.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Equal(t, []identity.AuthEvent{identity.EventTokenRefreshed, identity.EventSignedOut}, events)
}

func TestService_ParseAccessToken(t *testing.T) {
	s := NewService(secret, WithClock(clock.NewMock()))
	resp := signUp(t, s, "ana@uni.bg", "secret1", "Ana")

	other := NewService("other-secret", WithClock(clock.NewMock()))
	_, _, err := other.ParseAccessToken(resp.Session.AccessToken)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	_, _, err = s.ParseAccessToken("not.a.token")
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestService_CancelledContext(t *testing.T) {
	s := NewService(secret)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetSession(ctx)
	assert.Equal(t, context.Canceled, err)
	_, err = s.SignInWithPassword(ctx, identity.Credentials{Email: "ana@uni.bg", Password: "secret1"})
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, context.Canceled, s.SignOut(ctx))
}
