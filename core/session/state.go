package session

import (
	"github.com/trezcool/homework/core/identity"
	"github.com/trezcool/homework/core/profile"
)

// Status names the observable states of the bootstrapper.
type Status int

const (
	StatusInitializing Status = iota
	StatusUnauthenticated
	StatusAuthenticatingProfile
	StatusReady
)

var statusNames = map[Status]string{
	StatusInitializing:          "initializing",
	StatusUnauthenticated:       "unauthenticated",
	StatusAuthenticatingProfile: "authenticating_profile",
	StatusReady:                 "ready",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is the view of the current principal published to the rest of the application.
type State struct {
	User    *identity.Principal `json:"user"`
	Profile *profile.Profile    `json:"profile"`
	Session *identity.Session   `json:"-"`
	Loading bool                `json:"loading"`
}

// Status derives the state machine position from the loading flag and the presence of user and profile.
// A principal without a profile that is no longer loading (eg. after a forced login) counts as
// unauthenticated: the application cannot enter without a profile.
func (s State) Status() Status {
	switch {
	case s.User == nil && s.Loading:
		return StatusInitializing
	case s.User == nil:
		return StatusUnauthenticated
	case s.Profile != nil:
		return StatusReady
	case s.Loading:
		return StatusAuthenticatingProfile
	default:
		return StatusUnauthenticated
	}
}

// Authenticated reports whether the application may be entered.
func (s State) Authenticated() bool {
	return s.User != nil && s.Profile != nil
}

func initialState() State {
	return State{Loading: true}
}
