// Package session establishes who is signed in and publishes it to the rest of the application.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/homework/core"
	"github.com/trezcool/homework/core/identity"
	"github.com/trezcool/homework/core/profile"
	"github.com/trezcool/homework/core/race"
)

// Listener receives every published State. It is called while the bootstrapper holds its write
// lock: it may read State() but must not call Mount, Unmount, SignOut or ForceLogin.
type Listener func(State)

// Bootstrapper resolves the session and profile of the current principal into one ordered
// sequence of States. Every run (the initial bootstrap, each auth-state-change event, sign-out)
// takes a sequence number; only the latest run may write, so the most recent event wins over
// anything still in flight.
type Bootstrapper struct {
	conf       core.IdentityConfig
	client     identity.Client
	profiles   profile.Repository
	logger     core.Logger
	clock      clock.Clock
	validate   *validator.Validate
	translator ut.Translator

	state atomic.Pointer[State]

	mu        sync.Mutex // guards everything below and serializes writes
	seq       uint64
	mounted   bool
	alive     bool
	ctx       context.Context
	cancel    context.CancelFunc
	sub       identity.Subscription
	listeners map[int]Listener
	nextID    int

	wg sync.WaitGroup
}

type Option func(*Bootstrapper)

// WithClock replaces the clock driving every bounded wait.
func WithClock(clk clock.Clock) Option {
	return func(b *Bootstrapper) { b.clock = clk }
}

// WithValidator replaces the validator used for sign-up input.
func WithValidator(validate *validator.Validate, translator ut.Translator) Option {
	return func(b *Bootstrapper) {
		b.validate = validate
		b.translator = translator
	}
}

func NewBootstrapper(conf core.IdentityConfig, client identity.Client, profiles profile.Repository, logger core.Logger, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		conf:      conf,
		client:    client,
		profiles:  profiles,
		logger:    logger,
		clock:     clock.New(),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.validate == nil {
		b.validate = validator.New()
		b.translator = core.NewTranslator()
		core.InitValidators(b.validate, b.translator)
		profile.InitValidators(b.validate, b.translator)
	}
	st := initialState()
	b.state.Store(&st)
	return b
}

// State returns the current published State.
func (b *Bootstrapper) State() State {
	return *b.state.Load()
}

// Watch calls fn with the current State, then with every State published until cancelled.
func (b *Bootstrapper) Watch(fn Listener) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners[id] = fn
	fn(b.State())

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
		})
	}
}

// WaitSettled blocks until the State stops loading and returns it.
func (b *Bootstrapper) WaitSettled(ctx context.Context) (State, error) {
	settled := make(chan State, 1)
	cancel := b.Watch(func(st State) {
		if !st.Loading {
			select {
			case settled <- st:
			default:
			}
		}
	})
	defer cancel()

	select {
	case st := <-settled:
		return st, nil
	case <-ctx.Done():
		return b.State(), ctx.Err()
	}
}

// Mount starts the bootstrap and subscribes to auth-state-change events. Mounting twice is a no-op.
func (b *Bootstrapper) Mount(ctx context.Context) {
	b.mu.Lock()
	if b.mounted {
		b.mu.Unlock()
		return
	}
	b.mounted = true
	b.alive = true
	b.ctx, b.cancel = context.WithCancel(ctx)
	seq := b.begin()
	b.mu.Unlock()

	// the bootstrap owns seq already: any event from here on supersedes it
	sub := b.client.OnAuthStateChange(b.onAuthStateChange)

	b.mu.Lock()
	if !b.alive { // unmounted meanwhile
		b.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	b.sub = sub
	b.spawn(func() { b.bootstrap(seq) })
	b.mu.Unlock()
}

// Unmount cancels pending timers, unsubscribes from auth-state-change events and waits for the
// running transitions to give up. No State is published afterwards.
func (b *Bootstrapper) Unmount() {
	b.mu.Lock()
	if !b.alive {
		b.mu.Unlock()
		return
	}
	b.alive = false
	b.cancel()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	b.wg.Wait()
}

// ForceLogin is the escape hatch offered when loading stalls: it stops loading so the login view
// can be shown. A transition still in flight may publish afterwards.
func (b *Bootstrapper) ForceLogin() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive {
		return
	}
	st := b.State()
	st.Loading = false
	b.publish(st)
}

// SignIn delegates to the Identity Service. The resulting SIGNED_IN event drives the State.
func (b *Bootstrapper) SignIn(ctx context.Context, email, password string) (*identity.AuthResponse, error) {
	if !b.conf.IsConfigured() {
		return nil, core.ErrNotConfigured
	}
	creds := identity.Credentials{Email: core.CleanString(email, true /* lower */), Password: password}
	resp, err := race.First(ctx, b.clock, b.conf.AuthTimeout, func(ctx context.Context) (*identity.AuthResponse, error) {
		return b.client.SignInWithPassword(ctx, creds)
	})
	if err != nil {
		b.logger.Warn(fmt.Sprintf("signing in %s: %v", creds.Email, err), err)
		return nil, err
	}
	return resp, nil
}

// SignUp registers a new principal, attaching fullName and role as sign-up metadata.
// Only student and teacher may be picked; an empty role means student.
func (b *Bootstrapper) SignUp(ctx context.Context, email, password, fullName, role string) (*identity.AuthResponse, error) {
	if role == "" {
		role = profile.RoleStudent
	}
	req := identity.SignUpRequest{Email: email, Password: password, FullName: fullName, Role: role}
	req.Clean()
	if err := b.validate.Struct(req); err != nil {
		return nil, core.TranslateValidationErrors(err, b.translator)
	}
	if !b.conf.IsConfigured() {
		return nil, core.ErrNotConfigured
	}

	params := identity.SignUpParams{Email: req.Email, Password: req.Password, Data: req.Metadata()}
	resp, err := race.First(ctx, b.clock, b.conf.AuthTimeout, func(ctx context.Context) (*identity.AuthResponse, error) {
		return b.client.SignUp(ctx, params)
	})
	if err != nil {
		b.logger.Warn(fmt.Sprintf("signing up %s: %v", req.Email, err), err)
		return nil, err
	}
	return resp, nil
}

// SignOut delegates to the Identity Service and, on success, clears the State right away
// instead of waiting for the SIGNED_OUT event.
func (b *Bootstrapper) SignOut(ctx context.Context) error {
	if !b.conf.IsConfigured() {
		return core.ErrNotConfigured
	}
	if err := race.Do(ctx, b.clock, b.conf.AuthTimeout, b.client.SignOut); err != nil {
		b.logger.Warn(fmt.Sprintf("signing out: %v", err), err)
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.alive {
		b.begin()
		b.publish(State{})
	}
	return nil
}

func (b *Bootstrapper) bootstrap(seq uint64) {
	if !b.conf.IsConfigured() {
		b.logger.Warn("identity service not configured; showing login")
		b.commit(seq, func(State) State { return State{} })
		return
	}

	sess, err := race.First(b.ctx, b.clock, b.conf.SessionTimeout, b.client.GetSession)
	if b.ctx.Err() != nil { // unmounted
		return
	}
	if err != nil {
		b.logger.Error(fmt.Sprintf("getting session: %v", err), errors.Wrap(err, "getting session"))
		b.commit(seq, func(State) State { return State{} })
		return
	}
	if sess == nil {
		b.logger.Debug("no session")
		b.commit(seq, func(State) State { return State{} })
		return
	}
	b.authenticate(seq, *sess)
}

func (b *Bootstrapper) onAuthStateChange(event identity.AuthEvent, sess *identity.Session) {
	b.mu.Lock()
	if !b.alive {
		b.mu.Unlock()
		return
	}
	seq := b.begin()
	if sess != nil {
		s := *sess
		b.spawn(func() { b.authenticate(seq, s) })
	}
	b.mu.Unlock()

	if sess == nil {
		b.logger.Info(fmt.Sprintf("auth state changed: %s, no session", event))
		b.commit(seq, func(State) State { return State{} })
		return
	}
	b.logger.Info(fmt.Sprintf("auth state changed: %s, user %s", event, sess.User.ID))
}

// authenticate publishes the session, resolves the profile and ends with loading=false.
func (b *Bootstrapper) authenticate(seq uint64, sess identity.Session) {
	usr := sess.User
	ok := b.commit(seq, func(cur State) State {
		next := State{User: &usr, Session: &sess, Loading: true}
		// same principal (eg. a token refresh): keep showing the profile while it is re-read
		if cur.Profile != nil && cur.User != nil && cur.User.ID == usr.ID {
			next.Profile = cur.Profile
			next.Loading = cur.Loading
		}
		return next
	})
	if !ok {
		return
	}

	p := b.resolveProfile(seq, usr)
	if b.commit(seq, func(State) State { return State{User: &usr, Session: &sess, Profile: &p} }) {
		b.logger.Info(fmt.Sprintf("session ready: %s (%s)", p.FullName, p.Role), p)
	}
}

// resolveProfile returns the stored profile of usr, creating the default one when there is none.
// When the profile cannot be read or persisted, the default profile is returned unpersisted.
func (b *Bootstrapper) resolveProfile(seq uint64, usr identity.Principal) profile.Profile {
	existing, err := race.First(b.ctx, b.clock, b.conf.ProfileTimeout, func(ctx context.Context) (profile.Profile, error) {
		return b.profiles.GetByUserID(ctx, usr.ID)
	})
	if err == nil {
		return existing
	}

	draft := profile.Default(usr.ID, usr.Email, usr.FullName(), b.clock.Now())
	if b.ctx.Err() != nil {
		return draft
	}
	if !errors.Is(err, profile.ErrNotFound) {
		// the row may well exist: do not risk a duplicate
		b.logger.Error(fmt.Sprintf("fetching profile of %s: %v", usr.ID, err), errors.Wrap(err, "fetching profile"))
		return draft
	}
	if !b.current(seq) {
		return draft
	}

	created, err := race.First(b.ctx, b.clock, b.conf.ProfileTimeout, func(ctx context.Context) (profile.Profile, error) {
		return b.profiles.Create(ctx, draft.New())
	})
	if err != nil {
		b.logger.Warn(fmt.Sprintf("creating profile of %s: %v; continuing unpersisted", usr.ID, err), err)
		return draft
	}
	return created
}

// begin starts a new run and returns its sequence number. b.mu must be held.
func (b *Bootstrapper) begin() uint64 {
	b.seq++
	return b.seq
}

func (b *Bootstrapper) current(seq uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive && b.seq == seq
}

// commit publishes fn(current State) if the run seq is still the latest and the bootstrapper is mounted.
func (b *Bootstrapper) commit(seq uint64, fn func(State) State) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive || b.seq != seq {
		return false
	}
	b.publish(fn(b.State()))
	return true
}

// publish stores st and notifies the listeners in subscription order. b.mu must be held.
func (b *Bootstrapper) publish(st State) {
	b.state.Store(&st)

	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		b.listeners[id](st)
	}
}

// spawn runs fn on a goroutine Unmount waits for. b.mu must be held.
func (b *Bootstrapper) spawn(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}
