package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/learnhub/internal/domain/hierarchy"
	"github.com/geocoder89/learnhub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type HierarchyRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewHierarchyRepo(pool *pgxpool.Pool, prom *observability.Prom) *HierarchyRepo {
	return &HierarchyRepo{pool: pool, prom: prom}
}

func (r *HierarchyRepo) ListSubjects(ctx context.Context) ([]hierarchy.Subject, error) {
	out := make([]hierarchy.Subject, 0)

	err := observe(r.prom, "subjects.list", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT id, name, description, icon, created_at, updated_at
			FROM subjects
			ORDER BY name
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var s hierarchy.Subject
			if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Icon, &s.CreatedAt, &s.UpdatedAt); err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})

	return out, err
}

// ListChapters returns ErrSubjectNotFound when the parent does not exist, so
// an empty list always means an empty subject.
func (r *HierarchyRepo) ListChapters(ctx context.Context, subjectID string) ([]hierarchy.Chapter, error) {
	out := make([]hierarchy.Chapter, 0)

	err := observe(r.prom, "chapters.list", func() error {
		if ok, err := r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM subjects WHERE id = $1)`, subjectID); err != nil || !ok {
			if err == nil {
				err = hierarchy.ErrSubjectNotFound
			}
			return err
		}

		rows, err := r.pool.Query(ctx, `
			SELECT id, subject_id, name, description, sort_order, created_at, updated_at
			FROM chapters
			WHERE subject_id = $1
			ORDER BY sort_order, name
		`, subjectID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var c hierarchy.Chapter
			if err := rows.Scan(&c.ID, &c.SubjectID, &c.Name, &c.Description, &c.Order, &c.CreatedAt, &c.UpdatedAt); err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})

	return out, err
}

func (r *HierarchyRepo) ListSubchapters(ctx context.Context, chapterID string) ([]hierarchy.Subchapter, error) {
	out := make([]hierarchy.Subchapter, 0)

	err := observe(r.prom, "subchapters.list", func() error {
		if ok, err := r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM chapters WHERE id = $1)`, chapterID); err != nil || !ok {
			if err == nil {
				err = hierarchy.ErrChapterNotFound
			}
			return err
		}

		rows, err := r.pool.Query(ctx, `
			SELECT id, chapter_id, name, description, sort_order, created_at, updated_at
			FROM subchapters
			WHERE chapter_id = $1
			ORDER BY sort_order, name
		`, chapterID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var s hierarchy.Subchapter
			if err := rows.Scan(&s.ID, &s.ChapterID, &s.Name, &s.Description, &s.Order, &s.CreatedAt, &s.UpdatedAt); err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})

	return out, err
}

func (r *HierarchyRepo) exists(ctx context.Context, query, id string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, query, id).Scan(&ok)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return ok, err
}
