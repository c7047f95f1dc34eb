// Package supabase talks to a hosted Identity & Data Service: GoTrue for auth, PostgREST for profiles.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"

	"github.com/trezcool/homework/core"
	"github.com/trezcool/homework/core/identity"
)

const (
	authPath = "/auth/v1"
	restPath = "/rest/v1"

	// a session expiring within the margin is refreshed first
	expiryMargin = 10 * time.Second
)

// Client is the auth half of a Supabase-compatible service.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
	store   SessionStore
	clock   clock.Clock
	logger  core.Logger

	events identity.Broadcaster

	refreshMu sync.Mutex
}

var _ identity.Client = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithStore(store SessionStore) Option {
	return func(c *Client) { c.store = store }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// NewClient returns a client persisting its session in conf.SessionFile, or in memory when unset.
func NewClient(conf core.IdentityConfig, logger core.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(conf.URL, "/"),
		anonKey: conf.AnonKey,
		http:    &http.Client{},
		clock:   clock.New(),
		logger:  logger,
	}
	if conf.SessionFile != "" {
		c.store = NewFileStore(conf.SessionFile)
	} else {
		c.store = NewMemoryStore()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenResponse struct {
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
	TokenType    string              `json:"token_type"`
	ExpiresIn    int64               `json:"expires_in"`
	ExpiresAt    int64               `json:"expires_at"`
	User         *identity.Principal `json:"user"`
}

// signUpResponse is a token response when the principal is confirmed right away, and the bare
// principal when a confirmation is pending.
type signUpResponse struct {
	tokenResponse
	identity.Principal
}

type accessClaims struct {
	Email string `json:"email"`
	jwt.StandardClaims
}

func (c *Client) toSession(resp tokenResponse) *identity.Session {
	sess := &identity.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    resp.ExpiresIn,
	}
	if resp.User != nil {
		sess.User = *resp.User
	}

	switch {
	case resp.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(resp.ExpiresAt, 0).UTC()
	case resp.ExpiresIn > 0:
		sess.ExpiresAt = c.clock.Now().Add(time.Duration(resp.ExpiresIn) * time.Second).UTC()
	}

	// fill the gaps from the access token itself
	if sess.ExpiresAt.IsZero() || sess.User.ID == "" {
		var claims accessClaims
		if _, _, err := new(jwt.Parser).ParseUnverified(resp.AccessToken, &claims); err == nil {
			if sess.ExpiresAt.IsZero() && claims.ExpiresAt > 0 {
				sess.ExpiresAt = time.Unix(claims.ExpiresAt, 0).UTC()
			}
			if sess.User.ID == "" {
				sess.User.ID = claims.Subject
				sess.User.Email = claims.Email
			}
		}
	}
	return sess
}

// GetSession returns the stored session, refreshing it first when it is about to expire.
// A failed refresh signs the principal out locally and returns no session.
func (c *Client) GetSession(ctx context.Context) (*identity.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	sess, err := c.store.Load()
	if err != nil {
		c.logger.Warn("loading stored session", err)
		return nil, nil
	}
	if sess == nil || !sess.Expired(c.clock.Now().Add(expiryMargin)) {
		return sess, nil
	}

	refreshed, err := c.refresh(ctx, sess.RefreshToken)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("refreshing session; signing out", err)
		c.clear()
		c.events.Publish(identity.EventSignedOut, nil)
		return nil, nil
	}
	c.save(refreshed)
	c.events.Publish(identity.EventTokenRefreshed, refreshed)
	return refreshed, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*identity.Session, error) {
	if refreshToken == "" {
		return nil, errors.New("no refresh token")
	}
	var resp tokenResponse
	q := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, authPath+"/token", q, "", nil, body, &resp); err != nil {
		return nil, err
	}
	return c.toSession(resp), nil
}

func (c *Client) SignInWithPassword(ctx context.Context, creds identity.Credentials) (*identity.AuthResponse, error) {
	var resp tokenResponse
	q := url.Values{"grant_type": {"password"}}
	if err := c.do(ctx, http.MethodPost, authPath+"/token", q, "", nil, creds, &resp); err != nil {
		return nil, err
	}

	sess := c.toSession(resp)
	c.save(sess)
	c.events.Publish(identity.EventSignedIn, sess)
	usr := sess.User
	return &identity.AuthResponse{User: &usr, Session: sess}, nil
}

func (c *Client) SignUp(ctx context.Context, params identity.SignUpParams) (*identity.AuthResponse, error) {
	var resp signUpResponse
	if err := c.do(ctx, http.MethodPost, authPath+"/signup", nil, "", nil, params, &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken == "" { // confirmation pending
		usr := resp.Principal
		return &identity.AuthResponse{User: &usr}, nil
	}
	sess := c.toSession(resp.tokenResponse)
	c.save(sess)
	c.events.Publish(identity.EventSignedIn, sess)
	usr := sess.User
	return &identity.AuthResponse{User: &usr, Session: sess}, nil
}

// SignOut revokes the session. A session the service no longer knows is only cleared locally.
func (c *Client) SignOut(ctx context.Context) error {
	sess, err := c.store.Load()
	if err != nil {
		c.logger.Warn("loading stored session", err)
	}
	if sess != nil {
		err = c.do(ctx, http.MethodPost, authPath+"/logout", nil, sess.AccessToken, nil, nil, nil)
		if err != nil && !isGone(err) {
			return err
		}
	}
	c.clear()
	c.events.Publish(identity.EventSignedOut, nil)
	return nil
}

func (c *Client) OnAuthStateChange(fn identity.AuthStateFunc) identity.Subscription {
	return c.events.Subscribe(fn)
}

// accessToken is the bearer used for data requests: the principal's when signed in, else the anon key.
func (c *Client) accessToken() string {
	sess, err := c.store.Load()
	if err != nil || sess == nil {
		return ""
	}
	return sess.AccessToken
}

func (c *Client) save(sess *identity.Session) {
	if err := c.store.Save(sess); err != nil {
		c.logger.Warn("persisting session", err)
	}
}

func (c *Client) clear() {
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("clearing session", err)
	}
}

func isGone(err error) bool {
	svcErr, ok := core.AsServiceError(err)
	if !ok {
		return false
	}
	switch svcErr.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// do sends a JSON request and decodes a JSON response into out (when not nil).
// Non-2xx responses are returned as *core.ServiceError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, header http.Header, in, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encoding request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, "reading response")
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return decodeError(res.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err = json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decoding response")
	}
	return nil
}

type errorBody struct {
	Msg              string          `json:"msg"`
	ErrorDescription string          `json:"error_description"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorCode        string          `json:"error_code"`
	Code             json.RawMessage `json:"code"`
}

// decodeError keeps the service's own message and code verbatim.
func decodeError(status int, data []byte) error {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return core.NewServiceError(status, "", strings.TrimSpace(string(data)))
	}

	code := body.ErrorCode
	if code == "" && len(body.Code) > 0 {
		var s string
		if json.Unmarshal(body.Code, &s) == nil { // numeric codes only repeat the status
			code = s
		}
	}
	if code == "" && body.Error != "" && (body.ErrorDescription != "" || body.Msg != "" || body.Message != "") {
		code = body.Error
	}
	return core.NewServiceError(status, code, firstNonEmpty(body.Msg, body.ErrorDescription, body.Message, body.Error))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
