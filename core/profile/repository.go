package profile

import (
	"context"
	"errors"
)

var (
	// errors
	ErrNotFound      = errors.New("profile not found")
	ErrProfileExists = errors.New("a profile for this user already exists")
)

// Repository is the `profiles` table of the relational store.
type Repository interface {
	// GetByUserID returns the profile of a principal, or ErrNotFound when there is none.
	GetByUserID(ctx context.Context, userID string) (Profile, error)
	// Create inserts a profile and returns the created row.
	Create(ctx context.Context, np NewProfile) (Profile, error)
}
