package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/learnhub/internal/domain/rating"
	"github.com/geocoder89/learnhub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RatingsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewRatingsRepo(pool *pgxpool.Pool, prom *observability.Prom) *RatingsRepo {
	return &RatingsRepo{pool: pool, prom: prom}
}

func (r *RatingsRepo) ForModule(ctx context.Context, moduleID string) (rating.ModuleRatings, error) {
	out := rating.ModuleRatings{Ratings: make([]rating.Rating, 0)}

	err := observe(r.prom, "ratings.for_module", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT mr.id, mr.module_id, mr.user_id, COALESCE(u.username, ''), mr.rating, mr.review, mr.created_at, mr.updated_at
			FROM module_ratings mr
			LEFT JOIN users u ON u.id = mr.user_id
			WHERE mr.module_id = $1
			ORDER BY mr.created_at DESC
		`, moduleID)
		if err != nil {
			return err
		}
		defer rows.Close()

		sum := 0
		for rows.Next() {
			var rt rating.Rating
			if err := rows.Scan(&rt.ID, &rt.ModuleID, &rt.UserID, &rt.Username, &rt.Rating, &rt.Review, &rt.CreatedAt, &rt.UpdatedAt); err != nil {
				return err
			}
			sum += rt.Rating
			out.Ratings = append(out.Ratings, rt)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		out.Statistics = rating.Summarize(sum, len(out.Ratings))
		return nil
	})

	return out, err
}

func (r *RatingsRepo) Create(ctx context.Context, moduleID, userID string, req rating.CreateRequest) (rating.Rating, error) {
	now := time.Now().UTC()
	rt := rating.Rating{
		ID:        uuid.NewString(),
		ModuleID:  moduleID,
		UserID:    userID,
		Rating:    req.Rating,
		Review:    req.Review,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := observe(r.prom, "ratings.create", func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO module_ratings (id, module_id, user_id, rating, review, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, rt.ID, rt.ModuleID, rt.UserID, rt.Rating, rt.Review, rt.CreatedAt, rt.UpdatedAt)
		return err
	})

	if uniqueViolation(err) != "" {
		return rating.Rating{}, rating.ErrAlreadyRated
	}
	if err != nil {
		return rating.Rating{}, err
	}
	return rt, nil
}

func (r *RatingsRepo) GetByID(ctx context.Context, id string) (rating.Rating, error) {
	var rt rating.Rating

	err := observe(r.prom, "ratings.get_by_id", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT id, module_id, user_id, rating, review, created_at, updated_at
			FROM module_ratings
			WHERE id = $1
		`, id).Scan(&rt.ID, &rt.ModuleID, &rt.UserID, &rt.Rating, &rt.Review, &rt.CreatedAt, &rt.UpdatedAt)
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return rating.Rating{}, rating.ErrNotFound
	}
	return rt, err
}

func (r *RatingsRepo) Delete(ctx context.Context, id string) error {
	return observe(r.prom, "ratings.delete", func() error {
		tag, err := r.pool.Exec(ctx, `DELETE FROM module_ratings WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return rating.ErrNotFound
		}
		return nil
	})
}
