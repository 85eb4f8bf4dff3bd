package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/learnhub/internal/domain/token"
	"github.com/geocoder89/learnhub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RefreshTokensRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewRefreshTokensRepo(pool *pgxpool.Pool, prom *observability.Prom) *RefreshTokensRepo {
	return &RefreshTokensRepo{pool: pool, prom: prom}
}

func (r *RefreshTokensRepo) Create(ctx context.Context, row token.Refresh) error {
	return observe(r.prom, "refresh_tokens.create", func() error {
		return insertRefresh(ctx, r.pool, row)
	})
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertRefresh(ctx context.Context, db execer, row token.Refresh) error {
	_, err := db.Exec(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked_at, replaced_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
		row.ID, row.UserID, row.TokenHash, row.ExpiresAt, row.RevokedAt, row.ReplacedBy, row.CreatedAt,
	)
	return err
}

// Rotate locks the row for id, lets check decide whether it may be exchanged
// and, if so, revokes it in favour of next. The locked row is returned even
// when check fails so callers can react to reuse of a rotated token.
func (r *RefreshTokensRepo) Rotate(ctx context.Context, id string, check func(token.Refresh) error, next token.Refresh) (token.Refresh, error) {
	var old token.Refresh

	err := observe(r.prom, "refresh_tokens.rotate", func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			// Locks the row to prevent concurrent refresh races
			err := tx.QueryRow(ctx, `
				SELECT id, user_id, token_hash, expires_at, revoked_at, replaced_by, created_at
				FROM refresh_tokens
				WHERE id = $1
				FOR UPDATE
			`, id).Scan(
				&old.ID,
				&old.UserID,
				&old.TokenHash,
				&old.ExpiresAt,
				&old.RevokedAt,
				&old.ReplacedBy,
				&old.CreatedAt,
			)
			if errors.Is(err, pgx.ErrNoRows) {
				return token.ErrNotFound
			}
			if err != nil {
				return err
			}

			if err := check(old); err != nil {
				return err
			}

			if _, err := tx.Exec(ctx, `
				UPDATE refresh_tokens
				SET revoked_at = $2, replaced_by = $3
				WHERE id = $1
			`, old.ID, next.CreatedAt, next.ID); err != nil {
				return err
			}

			return insertRefresh(ctx, tx, next)
		})
	})

	return old, err
}

// Revoke is idempotent.
func (r *RefreshTokensRepo) Revoke(ctx context.Context, id string) error {
	return observe(r.prom, "refresh_tokens.revoke", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = NOW()
			WHERE id = $1 AND revoked_at IS NULL
		`, id)
		return err
	})
}

func (r *RefreshTokensRepo) RevokeAllForUser(ctx context.Context, userID string) error {
	return observe(r.prom, "refresh_tokens.revoke_all", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = NOW()
			WHERE user_id = $1 AND revoked_at IS NULL
		`, userID)
		return err
	})
}

// PurgeStale deletes rows that expired or were revoked before cutoff.
func (r *RefreshTokensRepo) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64

	err := observe(r.prom, "refresh_tokens.purge", func() error {
		tag, err := r.pool.Exec(ctx, `
			DELETE FROM refresh_tokens
			WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)
		`, cutoff)
		n = tag.RowsAffected()
		return err
	})

	return n, err
}
