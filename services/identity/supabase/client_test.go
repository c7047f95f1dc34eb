package supabase

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/homework/core"
	"github.com/trezcool/homework/core/identity"
	"github.com/trezcool/homework/core/profile"
)

const anonKey = "anon-key"

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type recorded struct {
	method string
	path   string
	query  string
	header http.Header
	body   map[string]interface{}
}

type fakeService struct {
	mu       sync.Mutex
	requests []recorded
	mux      *http.ServeMux
}

func newFakeService(t *testing.T) (*fakeService, *httptest.Server) {
	svc := &fakeService{mux: http.NewServeMux()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, header: r.Header.Clone()}
		if data, _ := ioutil.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		svc.mu.Lock()
		svc.requests = append(svc.requests, rec)
		svc.mu.Unlock()
		svc.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return svc, srv
}

func (svc *fakeService) last() recorded {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.requests[len(svc.requests)-1]
}

func (svc *fakeService) count() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return len(svc.requests)
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newTestClient(srv *httptest.Server, clk clock.Clock, store SessionStore) *Client {
	conf := core.IdentityConfig{URL: srv.URL + "/", AnonKey: anonKey}
	return NewClient(conf, nopLogger{}, WithHTTPClient(srv.Client()), WithClock(clk), WithStore(store))
}

type event struct {
	name identity.AuthEvent
	sess *identity.Session
}

func collect(c *Client) (func() []event, func()) {
	var mu sync.Mutex
	var events []event
	sub := c.OnAuthStateChange(func(e identity.AuthEvent, s *identity.Session) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event{e, s})
	})
	return func() []event {
		mu.Lock()
		defer mu.Unlock()
		return append([]event(nil), events...)
	}, sub.Unsubscribe
}

const tokenBody = `{
	"access_token": "access-1",
	"refresh_token": "refresh-1",
	"token_type": "bearer",
	"expires_in": 3600,
	"expires_at": 1725184800,
	"user": {"id": "u1", "email": "ana@uni.bg", "user_metadata": {"full_name": "Ana"}}
}`

func TestClient_SignInWithPassword(t *testing.T) {
	svc, srv := newFakeService(t)
	svc.mux.HandleFunc(authPath+"/token", reply(http.StatusOK, tokenBody))

	store := NewMemoryStore()
	c := newTestClient(srv, clock.NewMock(), store)
	events, unsubscribe := collect(c)
	defer unsubscribe()

	resp, err := c.SignInWithPassword(context.Background(), identity.Credentials{Email: "ana@uni.bg", Password: "secret1"})
	require.NoError(t, err)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "u1", resp.User.ID)
	assert.Equal(t, "Ana", resp.User.FullName())
	assert.Equal(t, time.Unix(1725184800, 0).UTC(), resp.Session.ExpiresAt)

	req := svc.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "grant_type=password", req.query)
	assert.Equal(t, anonKey, req.header.Get("apikey"))
	assert.Equal(t, "Bearer "+anonKey, req.header.Get("Authorization"))
	assert.Equal(t, "ana@uni.bg", req.body["email"])
	assert.Equal(t, "secret1", req.body["password"])

	stored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-1", stored.AccessToken)

	got := events()
	require.Len(t, got, 1)
	assert.Equal(t, identity.EventSignedIn, got[0].name)
	assert.Equal(t, "u1", got[0].sess.User.ID)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "invalid grant",
			status:     http.StatusBadRequest,
			body:       `{"error":"invalid_grant","error_description":"Invalid login credentials"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_grant",
			wantMsg:    "Invalid login credentials",
		},
		{
			name:       "error code",
			status:     http.StatusBadRequest,
			body:       `{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_credentials",
			wantMsg:    "Invalid login credentials",
		},
		{
			name:       "postgrest",
			status:     http.StatusForbidden,
			body:       `{"code":"42501","message":"permission denied for table profiles"}`,
			wantStatus: http.StatusForbidden,
			wantCode:   "42501",
			wantMsg:    "permission denied for table profiles",
		},
		{
			name:       "not json",
			status:     http.StatusBadGateway,
			body:       "upstream unavailable\n",
			wantStatus: http.StatusBadGateway,
			wantMsg:    "upstream unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, srv := newFakeService(t)
			svc.mux.HandleFunc(authPath+"/token", reply(tt.status, tt.body))
			c := newTestClient(srv, clock.NewMock(), NewMemoryStore())

			_, err := c.SignInWithPassword(context.Background(), identity.Credentials{Email: "ana@uni.bg", Password: "nope"})
			svcErr, ok := core.AsServiceError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.wantStatus, svcErr.Status)
			assert.Equal(t, tt.wantCode, svcErr.Code)
			assert.Equal(t, tt.wantMsg, svcErr.Error())
		})
	}
}

func TestClient_SignUp(t *testing.T) {
	params := identity.SignUpParams{
		Email:    "maria@uni.bg",
		Password: "secret1",
		Data:     map[string]interface{}{identity.MetaFullName: "Maria", identity.MetaRole: profile.RoleTeacher},
	}

	t.Run("confirmed at once", func(t *testing.T) {
		svc, srv := newFakeService(t)
		svc.mux.HandleFunc(authPath+"/signup", reply(http.StatusOK, tokenBody))
		c := newTestClient(srv, clock.NewMock(), NewMemoryStore())
		events, unsubscribe := collect(c)
		defer unsubscribe()

		resp, err := c.SignUp(context.Background(), params)
		require.NoError(t, err)
		assert.NotNil(t, resp.Session)
		assert.Len(t, events(), 1)

		data, ok := svc.last().body["data"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "teacher", data[identity.MetaRole])
		assert.Equal(t, "Maria", data[identity.MetaFullName])
	})

	t.Run("confirmation pending", func(t *testing.T) {
		svc, srv := newFakeService(t)
		svc.mux.HandleFunc(authPath+"/signup", reply(http.StatusOK, `{"id":"u2","email":"maria@uni.bg","user_metadata":{"full_name":"Maria"}}`))
		store := NewMemoryStore()
		c := newTestClient(srv, clock.NewMock(), store)
		events, unsubscribe := collect(c)
		defer unsubscribe()

		resp, err := c.SignUp(context.Background(), params)
		require.NoError(t, err)
		assert.Nil(t, resp.Session)
		assert.Equal(t, "u2", resp.User.ID)
		assert.Empty(t, events())

		stored, _ := store.Load()
		assert.Nil(t, stored)
	})

	t.Run("already registered", func(t *testing.T) {
		svc, srv := newFakeService(t)
		svc.mux.HandleFunc(authPath+"/signup", reply(http.StatusUnprocessableEntity, `{"code":422,"error_code":"user_already_exists","msg":"User already registered"}`))
		c := newTestClient(srv, clock.NewMock(), NewMemoryStore())

		_, err := c.SignUp(context.Background(), params)
		svcErr, ok := core.AsServiceError(err)
		require.True(t, ok)
		assert.Equal(t, "user_already_exists", svcErr.Code)
		assert.Equal(t, "User already registered", svcErr.Error())
	})
}

func TestClient_GetSession(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1725180000, 0))
	valid := &identity.Session{
		AccessToken:  "access-0",
		RefreshToken: "refresh-0",
		ExpiresAt:    mock.Now().Add(time.Hour),
		User:         identity.Principal{ID: "u1"},
	}
	expired := *valid
	expired.ExpiresAt = mock.Now().Add(5 * time.Second) // within the margin

	t.Run("no session", func(t *testing.T) {
		svc, srv := newFakeService(t)
		c := newTestClient(srv, mock, NewMemoryStore())
		sess, err := c.GetSession(context.Background())
		require.NoError(t, err)
		assert.Nil(t, sess)
		assert.Equal(t, 0, svc.count())
	})

	t.Run("valid session", func(t *testing.T) {
		svc, srv := newFakeService(t)
		store := NewMemoryStore()
		require.NoError(t, store.Save(valid))
		c := newTestClient(srv, mock, store)

		sess, err := c.GetSession(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "access-0", sess.AccessToken)
		assert.Equal(t, 0, svc.count())
	})

	t.Run("refreshed", func(t *testing.T) {
		svc, srv := newFakeService(t)
		svc.mux.HandleFunc(authPath+"/token", reply(http.StatusOK, tokenBody))
		store := NewMemoryStore()
		require.NoError(t, store.Save(&expired))
		c := newTestClient(srv, mock, store)
		events, unsubscribe := collect(c)
		defer unsubscribe()

		sess, err := c.GetSession(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "access-1", sess.AccessToken)

		req := svc.last()
		assert.Equal(t, "grant_type=refresh_token", req.query)
		assert.Equal(t, "refresh-0", req.body["refresh_token"])

		got := events()
		require.Len(t, got, 1)
		assert.Equal(t, identity.EventTokenRefreshed, got[0].name)
		stored, _ := store.Load()
		assert.Equal(t, "access-1", stored.AccessToken)
	})

	t.Run("refresh rejected", func(t *testing.T) {
		svc, srv := newFakeService(t)
		svc.mux.HandleFunc(authPath+"/token", reply(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Refresh Token Not Found"}`))
		store := NewMemoryStore()
		require.NoError(t, store.Save(&expired))
		c := newTestClient(srv, mock, store)
		events, unsubscribe := collect(c)
		defer unsubscribe()

		sess, err := c.GetSession(context.Background())
		require.NoError(t, err)
		assert.Nil(t, sess)

		stored, _ := store.Load()
		assert.Nil(t, stored)
		got := events()
		require.Len(t, got, 1)
		assert.Equal(t, identity.EventSignedOut, got[0].name)
	})
}

func TestClient_SignOut(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "revoked", status: http.StatusNoContent},
		{name: "already gone", status: http.StatusUnauthorized},
		{name: "service down", status: http.StatusInternalServerError, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, srv := newFakeService(t)
			svc.mux.HandleFunc(authPath+"/logout", reply(tt.status, ""))
			store := NewMemoryStore()
			require.NoError(t, store.Save(&identity.Session{AccessToken: "access-0", User: identity.Principal{ID: "u1"}}))
			c := newTestClient(srv, clock.NewMock(), store)
			events, unsubscribe := collect(c)
			defer unsubscribe()

			err := c.SignOut(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("SignOut() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			assert.Equal(t, "Bearer access-0", svc.last().header.Get("Authorization"))

			stored, _ := store.Load()
			if tt.wantErr {
				assert.NotNil(t, stored)
				assert.Empty(t, events())
				return
			}
			assert.Nil(t, stored)
			require.Len(t, events(), 1)
			assert.Equal(t, identity.EventSignedOut, events()[0].name)
		})
	}
}

func TestClient_SessionFromAccessToken(t *testing.T) {
	exp := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Email:          "ivan@uni.bg",
		StandardClaims: jwt.StandardClaims{Subject: "u3", ExpiresAt: exp.Unix()},
	}).SignedString([]byte("whatever"))
	require.NoError(t, err)

	c := NewClient(core.IdentityConfig{URL: "http://localhost", AnonKey: anonKey}, nopLogger{}, WithClock(clock.NewMock()))
	sess := c.toSession(tokenResponse{AccessToken: token})
	assert.Equal(t, exp, sess.ExpiresAt)
	assert.Equal(t, "u3", sess.User.ID)
	assert.Equal(t, "ivan@uni.bg", sess.User.Email)

	mock := clock.NewMock()
	c = NewClient(core.IdentityConfig{URL: "http://localhost", AnonKey: anonKey}, nopLogger{}, WithClock(mock))
	sess = c.toSession(tokenResponse{AccessToken: "opaque", ExpiresIn: 60})
	assert.Equal(t, mock.Now().Add(time.Minute).UTC(), sess.ExpiresAt)
}

func TestProfileRepository(t *testing.T) {
	row := `{"id":"p1","user_id":"u1","email":"ana@uni.bg","full_name":"Ana","role":"student","avatar_url":null,
		"created_at":"2024-09-01T08:00:00Z","updated_at":"2024-09-01T08:00:00Z"}`

	t.Run("found", func(t *testing.T) {
		svc, srv := newFakeService(t)
		svc.mux.HandleFunc(restPath+"/profiles", reply(http.StatusOK, "["+row+"]"))
		store := NewMemoryStore()
		require.NoError(t, store.Save(&identity.Session{AccessToken: "access-0"}))
		repo := NewProfileRepository(newTestClient(srv, clock.NewMock(), store))

		p, err := repo.GetByUserID(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "p1", p.ID)
		assert.Equal(t, "Ana", p.FullName)
		assert.Nil(t, p.AvatarURL)

		req := svc.last()
		assert.Equal(t, "select=%2A&user_id=eq.u1", req.query)
		assert.Equal(t, "Bearer access-0", req.header.Get("Authorization"))
	})

	t.Run("not found", func(t *testing.T) {
		svc, srv := newFakeService(t)
		svc.mux.HandleFunc(restPath+"/profiles", reply(http.StatusOK, "[]"))
		repo := NewProfileRepository(newTestClient(srv, clock.NewMock(), NewMemoryStore()))

		_, err := repo.GetByUserID(context.Background(), "u1")
		assert.Equal(t, profile.ErrNotFound, err)
		assert.Equal(t, "Bearer "+anonKey, svc.last().header.Get("Authorization"))
	})

	t.Run("create", func(t *testing.T) {
		svc, srv := newFakeService(t)
		svc.mux.HandleFunc(restPath+"/profiles", reply(http.StatusCreated, "["+row+"]"))
		repo := NewProfileRepository(newTestClient(srv, clock.NewMock(), NewMemoryStore()))

		np := profile.NewProfile{UserID: "u1", Email: "ana@uni.bg", FullName: "Ana", Role: profile.RoleStudent}
		p, err := repo.Create(context.Background(), np)
		require.NoError(t, err)
		assert.Equal(t, np, p.New())

		req := svc.last()
		assert.Equal(t, http.MethodPost, req.method)
		assert.Equal(t, "return=representation", req.header.Get("Prefer"))
		assert.Equal(t, "u1", req.body["user_id"])
	})

	t.Run("duplicate", func(t *testing.T) {
		svc, srv := newFakeService(t)
		svc.mux.HandleFunc(restPath+"/profiles", reply(http.StatusConflict, `{"code":"23505","message":"duplicate key value violates unique constraint"}`))
		repo := NewProfileRepository(newTestClient(srv, clock.NewMock(), NewMemoryStore()))

		_, err := repo.Create(context.Background(), profile.NewProfile{UserID: "u1"})
		assert.Equal(t, profile.ErrProfileExists, err)
	})
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homework", "session.json")
	store := NewFileStore(path)

	sess, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, sess)

	want := &identity.Session{
		AccessToken:  "access-0",
		RefreshToken: "refresh-0",
		ExpiresAt:    time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC),
		User:         identity.Principal{ID: "u1", Email: "ana@uni.bg"},
	}
	require.NoError(t, store.Save(want))

	got, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, "u1", got.User.ID)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	got, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}
