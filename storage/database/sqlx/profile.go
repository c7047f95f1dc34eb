// Package sqlxrepos implements the repositories on Postgres through sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/homework/core/profile"
)

var NowFunc = time.Now // mockable

const uniqueViolation = "23505"

type profileRow struct {
	ID        string      `db:"id"`
	UserID    string      `db:"user_id"`
	Email     string      `db:"email"`
	FullName  string      `db:"full_name"`
	Role      string      `db:"role"`
	AvatarURL null.String `db:"avatar_url"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
}

func (row profileRow) toProfile() profile.Profile {
	return profile.Profile{
		ID:        row.ID,
		UserID:    row.UserID,
		Email:     row.Email,
		FullName:  row.FullName,
		Role:      row.Role,
		AvatarURL: row.AvatarURL.Ptr(),
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}

const profileColumns = "id, user_id, email, full_name, role, avatar_url, created_at, updated_at"

type profileRepository struct {
	db *sqlx.DB
}

var _ profile.Repository = (*profileRepository)(nil)

func NewProfileRepository(db *sql.DB) profile.Repository {
	return &profileRepository{db: sqlx.NewDb(db, "postgres")}
}

func (repo *profileRepository) GetByUserID(ctx context.Context, userID string) (profile.Profile, error) {
	var row profileRow
	q := "SELECT " + profileColumns + " FROM profiles WHERE user_id = $1"
	if err := repo.db.GetContext(ctx, &row, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return profile.Profile{}, profile.ErrNotFound
		}
		return profile.Profile{}, errors.Wrap(err, "selecting profile")
	}
	return row.toProfile(), nil
}

func (repo *profileRepository) Create(ctx context.Context, np profile.NewProfile) (profile.Profile, error) {
	now := NowFunc().UTC()
	row := profileRow{
		ID:        uuid.New().String(),
		UserID:    np.UserID,
		Email:     np.Email,
		FullName:  np.FullName,
		Role:      np.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q := "INSERT INTO profiles (" + profileColumns + ") " +
		"VALUES (:id, :user_id, :email, :full_name, :role, :avatar_url, :created_at, :updated_at) " +
		"RETURNING " + profileColumns
	stmt, err := repo.db.PrepareNamedContext(ctx, q)
	if err != nil {
		return profile.Profile{}, errors.Wrap(err, "preparing profile insert")
	}
	defer func() { _ = stmt.Close() }()

	var created profileRow
	if err = stmt.GetContext(ctx, &created, row); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return profile.Profile{}, profile.ErrProfileExists
		}
		return profile.Profile{}, errors.Wrap(err, "inserting profile")
	}
	return created.toProfile(), nil
}
