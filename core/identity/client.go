package identity

import (
	"context"
	"sync"
)

// AuthStateFunc receives auth-state-change events. session is nil when the event reports no session.
type AuthStateFunc func(event AuthEvent, session *Session)

// Subscription is returned by OnAuthStateChange.
type Subscription interface {
	Unsubscribe()
}

// Client is the auth half of the Identity & Data Service.
type Client interface {
	// GetSession returns the current session, or nil when there is none.
	GetSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, creds Credentials) (*AuthResponse, error)
	SignUp(ctx context.Context, params SignUpParams) (*AuthResponse, error)
	SignOut(ctx context.Context) error
	// OnAuthStateChange subscribes fn to auth-state-change events until unsubscribed.
	OnAuthStateChange(fn AuthStateFunc) Subscription
}

// Broadcaster fans auth-state-change events out to subscribers. The zero value is ready to use.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]AuthStateFunc
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Subscribe registers fn.
func (b *Broadcaster) Subscribe(fn AuthStateFunc) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[int]AuthStateFunc)
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = fn

	return &subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}}
}

// Publish calls every subscriber in turn, so events are seen in the order they were published.
// Subscribers must not block: long work belongs on their own goroutines.
func (b *Broadcaster) Publish(event AuthEvent, session *Session) {
	b.mu.RLock()
	fns := make([]AuthStateFunc, 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		var sess *Session
		if session != nil {
			s := *session
			sess = &s
		}
		fn(event, sess)
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
