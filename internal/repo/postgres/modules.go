package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/learnhub/internal/domain/module"
	"github.com/geocoder89/learnhub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ModulesRepo stores modules and their upload_logs trail. Every write that
// produces an audit event commits the module change and the event together.
type ModulesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewModulesRepo(pool *pgxpool.Pool, prom *observability.Prom) *ModulesRepo {
	return &ModulesRepo{pool: pool, prom: prom}
}

const moduleColumns = `
	m.id, m.subchapter_id, m.name, m.description, m.sort_order, m.content_type,
	m.file_key, m.file_size, m.file_hash, m.status, m.uploaded_by, COALESCE(up.username, ''),
	m.reviewed_by, m.reviewed_at, COALESCE(rv.username, ''), m.created_at, m.updated_at`

const moduleFrom = `
	FROM modules m
	LEFT JOIN users up ON up.id = m.uploaded_by
	LEFT JOIN users rv ON rv.id = m.reviewed_by`

func scanModule(row pgx.Row) (module.Module, error) {
	var m module.Module
	var status string

	err := row.Scan(
		&m.ID, &m.SubchapterID, &m.Name, &m.Description, &m.Order, &m.ContentType,
		&m.FileKey, &m.FileSize, &m.FileHash, &status, &m.UploadedBy, &m.UploaderUsername,
		&m.ReviewedBy, &m.ReviewedAt, &m.ReviewerUsername, &m.CreatedAt, &m.UpdatedAt,
	)
	m.Status = module.Status(status)
	return m, err
}

func (r *ModulesRepo) SubchapterExists(ctx context.Context, id string) (bool, error) {
	var exists bool

	err := observe(r.prom, "modules.subchapter_exists", func() error {
		return r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM subchapters WHERE id = $1)`, id).Scan(&exists)
	})

	return exists, err
}

func (r *ModulesRepo) Create(ctx context.Context, m module.Module, ev module.AuditEvent) (module.Module, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	err := observe(r.prom, "modules.create", func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `
				INSERT INTO modules (id, subchapter_id, name, description, sort_order, content_type,
					file_key, file_size, file_hash, status, uploaded_by, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			`, m.ID, m.SubchapterID, m.Name, m.Description, m.Order, m.ContentType,
				m.FileKey, m.FileSize, m.FileHash, string(m.Status), m.UploadedBy, m.CreatedAt, m.UpdatedAt)
			if err != nil {
				return err
			}
			return insertAuditEvent(ctx, tx, m.ID, ev)
		})
	})

	// The subchapter can disappear between the existence check and the insert.
	if foreignKeyViolation(err) == "modules_subchapter_id_fkey" {
		return module.Module{}, module.ErrSubchapterNotFound
	}
	if err != nil {
		return module.Module{}, err
	}
	return m, nil
}

func (r *ModulesRepo) GetByID(ctx context.Context, id string) (module.Module, error) {
	var m module.Module

	err := observe(r.prom, "modules.get_by_id", func() error {
		var err error
		m, err = scanModule(r.pool.QueryRow(ctx, `SELECT `+moduleColumns+moduleFrom+` WHERE m.id = $1`, id))
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return module.Module{}, module.ErrNotFound
	}
	return m, err
}

// List applies the visibility rule in SQL: approved rows for everyone, the
// viewer's own rows, everything for elevated viewers.
func (r *ModulesRepo) List(ctx context.Context, f module.ListFilter) ([]module.Module, error) {
	out := make([]module.Module, 0)

	err := observe(r.prom, "modules.list", func() error {
		rows, err := r.pool.Query(ctx, `SELECT `+moduleColumns+moduleFrom+`
			WHERE m.subchapter_id = $1
				AND ($2 OR m.status = 'approved' OR ($3 <> '' AND m.uploaded_by::text = $3))
			ORDER BY m.sort_order, m.name
		`, f.SubchapterID, f.Elevated, f.ViewerID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanModule(rows)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})

	return out, err
}

func (r *ModulesRepo) Transition(ctx context.Context, id string, fn func(m *module.Module) (module.AuditEvent, error)) (module.Module, error) {
	var m module.Module

	err := observe(r.prom, "modules.transition", func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			var err error
			m, err = lockModule(ctx, tx, id)
			if err != nil {
				return err
			}

			ev, err := fn(&m)
			if err != nil {
				return err
			}

			if _, err := tx.Exec(ctx, `
				UPDATE modules
				SET status = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $5
				WHERE id = $1
			`, m.ID, string(m.Status), m.ReviewedBy, m.ReviewedAt, m.UpdatedAt); err != nil {
				return err
			}

			return insertAuditEvent(ctx, tx, m.ID, ev)
		})
	})

	if err != nil {
		return module.Module{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *ModulesRepo) Update(ctx context.Context, id string, fn func(m *module.Module) error) (module.Module, error) {
	err := observe(r.prom, "modules.update", func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			m, err := lockModule(ctx, tx, id)
			if err != nil {
				return err
			}

			if err := fn(&m); err != nil {
				return err
			}

			_, err = tx.Exec(ctx, `
				UPDATE modules
				SET name = $2, description = $3, sort_order = $4, updated_at = $5
				WHERE id = $1
			`, m.ID, m.Name, m.Description, m.Order, m.UpdatedAt)
			return err
		})
	})

	if err != nil {
		return module.Module{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *ModulesRepo) Delete(ctx context.Context, id string, ev module.AuditEvent) error {
	return observe(r.prom, "modules.delete", func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `DELETE FROM modules WHERE id = $1`, id)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return module.ErrNotFound
			}
			return insertAuditEvent(ctx, tx, id, ev)
		})
	})
}

func (r *ModulesRepo) Logs(ctx context.Context, moduleID string) ([]module.AuditEvent, error) {
	out := make([]module.AuditEvent, 0)

	err := observe(r.prom, "modules.logs", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT l.id, l.module_id, l.user_id, COALESCE(u.username, ''), l.action, l.status,
				l.from_status, l.to_status, l.details, l.ip_address, l.created_at
			FROM upload_logs l
			LEFT JOIN users u ON u.id = l.user_id
			WHERE l.module_id = $1
			ORDER BY l.created_at DESC, l.id DESC
		`, moduleID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var ev module.AuditEvent
			var action string
			var from, to *string
			if err := rows.Scan(&ev.ID, &ev.ModuleID, &ev.ActorID, &ev.Username, &action, &ev.Outcome,
				&from, &to, &ev.Details, &ev.IP, &ev.CreatedAt); err != nil {
				return err
			}
			ev.Action = module.Action(action)
			ev.From = statusPtr(from)
			ev.To = statusPtr(to)
			out = append(out, ev)
		}
		return rows.Err()
	})

	return out, err
}

func lockModule(ctx context.Context, tx pgx.Tx, id string) (module.Module, error) {
	m, err := scanModule(tx.QueryRow(ctx, `SELECT `+moduleColumns+moduleFrom+` WHERE m.id = $1 FOR UPDATE OF m`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return module.Module{}, module.ErrNotFound
	}
	return m, err
}

func insertAuditEvent(ctx context.Context, tx pgx.Tx, moduleID string, ev module.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	var details any
	if len(ev.Details) > 0 {
		details = ev.Details
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO upload_logs (id, module_id, user_id, action, status, from_status, to_status, details, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, ev.ID, moduleID, ev.ActorID, string(ev.Action), ev.Outcome,
		statusText(ev.From), statusText(ev.To), details, ev.IP, ev.CreatedAt)
	return err
}

func statusText(s *module.Status) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func statusPtr(s *string) *module.Status {
	if s == nil {
		return nil
	}
	v := module.Status(*s)
	return &v
}
