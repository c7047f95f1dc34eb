// Package inmemdb implements the repositories in memory.
package inmemdb

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/homework/core/profile"
)

var NowFunc = time.Now // mockable

type profileRepository struct {
	mutex sync.RWMutex
	table map[string]profile.Profile // by user id
}

var _ profile.Repository = (*profileRepository)(nil)

func NewProfileRepository(profiles ...profile.Profile) profile.Repository {
	repo := &profileRepository{table: make(map[string]profile.Profile, len(profiles))}
	for _, p := range profiles {
		repo.table[p.UserID] = p
	}
	return repo
}

func (repo *profileRepository) GetByUserID(ctx context.Context, userID string) (profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return profile.Profile{}, err
	}
	repo.mutex.RLock()
	defer repo.mutex.RUnlock()

	if p, ok := repo.table[userID]; ok {
		return p, nil
	}
	return profile.Profile{}, profile.ErrNotFound
}

func (repo *profileRepository) Create(ctx context.Context, np profile.NewProfile) (profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return profile.Profile{}, err
	}
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	if _, ok := repo.table[np.UserID]; ok {
		return profile.Profile{}, profile.ErrProfileExists
	}
	now := NowFunc().UTC()
	p := profile.Profile{
		ID:        uuid.New().String(),
		UserID:    np.UserID,
		Email:     np.Email,
		FullName:  np.FullName,
		Role:      np.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	repo.table[p.UserID] = p
	return p, nil
}
