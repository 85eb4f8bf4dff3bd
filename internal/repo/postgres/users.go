package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/learnhub/internal/domain/role"
	"github.com/geocoder89/learnhub/internal/domain/user"
	"github.com/geocoder89/learnhub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

// Create inserts the user, an empty profile and the default viewer grant in
// one transaction.
func (r *UsersRepo) Create(ctx context.Context, email, username, passwordHash string) (user.User, error) {
	now := time.Now().UTC()
	u := user.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := observe(r.prom, "users.create", func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, email, username, password_hash, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, u.ID, u.Email, u.Username, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
			if err != nil {
				return err
			}

			if _, err := tx.Exec(ctx, `INSERT INTO user_profiles (user_id) VALUES ($1)`, u.ID); err != nil {
				return err
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO user_roles (id, user_id, role_id, assigned_at)
				SELECT $1, $2, id, $3 FROM roles WHERE name = $4
			`, uuid.NewString(), u.ID, now, role.RoleViewer)
			return err
		})
	})

	switch uniqueViolation(err) {
	case "":
	case "users_username_key":
		return user.User{}, user.ErrUsernameTaken
	default:
		return user.User{}, user.ErrEmailTaken
	}
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	return r.getOne(ctx, "users.get_by_email", `WHERE email = $1`, email)
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	return r.getOne(ctx, "users.get_by_id", `WHERE id = $1`, id)
}

func (r *UsersRepo) getOne(ctx context.Context, op, where string, arg string) (user.User, error) {
	var u user.User

	err := observe(r.prom, op, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT id, email, username, password_hash, created_at, updated_at FROM users `+where,
			arg,
		).Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) Profile(ctx context.Context, userID string) (user.Profile, error) {
	var p user.Profile

	err := observe(r.prom, "users.profile", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT bio, avatar_url, is_verified_contributor
			FROM user_profiles
			WHERE user_id = $1
		`, userID).Scan(&p.Bio, &p.AvatarURL, &p.IsVerifiedContributor)
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return user.Profile{}, nil
	}
	return p, err
}
