package supabase

import (
	"context"
	"net/http"
	"net/url"

	"github.com/trezcool/homework/core"
	"github.com/trezcool/homework/core/profile"
)

const uniqueViolation = "23505"

// ProfileRepository reads and writes the `profiles` table through the REST interface,
// authorized as the signed in principal.
type ProfileRepository struct {
	c *Client
}

var _ profile.Repository = (*ProfileRepository)(nil)

func NewProfileRepository(c *Client) *ProfileRepository {
	return &ProfileRepository{c: c}
}

func (repo *ProfileRepository) GetByUserID(ctx context.Context, userID string) (profile.Profile, error) {
	q := url.Values{
		"user_id": {"eq." + userID},
		"select":  {"*"},
	}
	var rows []profile.Profile
	if err := repo.c.do(ctx, http.MethodGet, restPath+"/profiles", q, repo.c.accessToken(), nil, nil, &rows); err != nil {
		return profile.Profile{}, err
	}
	if len(rows) == 0 {
		return profile.Profile{}, profile.ErrNotFound
	}
	return rows[0], nil
}

func (repo *ProfileRepository) Create(ctx context.Context, np profile.NewProfile) (profile.Profile, error) {
	header := http.Header{"Prefer": {"return=representation"}}
	var rows []profile.Profile
	err := repo.c.do(ctx, http.MethodPost, restPath+"/profiles", nil, repo.c.accessToken(), header, np, &rows)
	if err != nil {
		if svcErr, ok := core.AsServiceError(err); ok && svcErr.Code == uniqueViolation {
			return profile.Profile{}, profile.ErrProfileExists
		}
		return profile.Profile{}, err
	}
	if len(rows) == 0 {
		return profile.Profile{}, core.NewServiceError(http.StatusOK, "", "profile insert returned no row")
	}
	return rows[0], nil
}
