package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/learnhub/internal/domain/role"
	"github.com/geocoder89/learnhub/internal/domain/user"
	"github.com/geocoder89/learnhub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RolesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
	now  func() time.Time
}

func NewRolesRepo(pool *pgxpool.Pool, prom *observability.Prom) *RolesRepo {
	return &RolesRepo{
		pool: pool,
		prom: prom,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *RolesRepo) ListRoles(ctx context.Context) ([]role.Role, error) {
	out := make([]role.Role, 0)

	err := observe(r.prom, "roles.list", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT r.id, r.name, r.description, r.level, r.created_at,
				(SELECT COUNT(*) FROM user_roles ur
					WHERE ur.role_id = r.id AND (ur.expires_at IS NULL OR ur.expires_at > NOW())),
				(SELECT COUNT(*) FROM role_permissions rp WHERE rp.role_id = r.id)
			FROM roles r
			ORDER BY r.level, r.name
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var ro role.Role
			if err := rows.Scan(&ro.ID, &ro.Name, &ro.Description, &ro.Level, &ro.CreatedAt, &ro.UserCount, &ro.PermissionCount); err != nil {
				return err
			}
			out = append(out, ro)
		}
		return rows.Err()
	})

	return out, err
}

func (r *RolesRepo) GetRole(ctx context.Context, id string) (role.Role, error) {
	var ro role.Role

	err := observe(r.prom, "roles.get", func() error {
		err := r.pool.QueryRow(ctx, `
			SELECT id, name, description, level, created_at FROM roles WHERE id = $1
		`, id).Scan(&ro.ID, &ro.Name, &ro.Description, &ro.Level, &ro.CreatedAt)
		if err != nil {
			return err
		}

		rows, err := r.pool.Query(ctx, `
			SELECT p.id, p.name, p.resource, p.action, p.description, p.created_at
			FROM permissions p
			JOIN role_permissions rp ON rp.permission_id = p.id
			WHERE rp.role_id = $1
			ORDER BY p.resource, p.action
		`, id)
		if err != nil {
			return err
		}
		ro.Permissions, err = scanPermissions(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return role.Role{}, role.ErrRoleNotFound
	}
	if err != nil {
		return role.Role{}, err
	}
	ro.PermissionCount = len(ro.Permissions)
	return ro, nil
}

func (r *RolesRepo) ListPermissions(ctx context.Context) ([]role.Permission, error) {
	var out []role.Permission

	err := observe(r.prom, "permissions.list", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT id, name, resource, action, description, created_at
			FROM permissions
			ORDER BY resource, action
		`)
		if err != nil {
			return err
		}
		out, err = scanPermissions(rows)
		return err
	})

	return out, err
}

func scanPermissions(rows pgx.Rows) ([]role.Permission, error) {
	defer rows.Close()

	out := make([]role.Permission, 0)
	for rows.Next() {
		var p role.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GrantsForUser returns every grant of the user, expired ones included, each
// with its role's permissions. Callers filter with role.Effective.
func (r *RolesRepo) GrantsForUser(ctx context.Context, userID string) ([]role.Grant, error) {
	out := make([]role.Grant, 0)

	err := observe(r.prom, "roles.grants_for_user", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT ur.id, ur.user_id, ur.role_id, ro.name, ur.assigned_by, ur.assigned_at, ur.expires_at,
				COALESCE(array_agg(p.name) FILTER (WHERE p.name IS NOT NULL), '{}')
			FROM user_roles ur
			JOIN roles ro ON ro.id = ur.role_id
			LEFT JOIN role_permissions rp ON rp.role_id = ro.id
			LEFT JOIN permissions p ON p.id = rp.permission_id
			WHERE ur.user_id = $1
			GROUP BY ur.id, ro.name, ro.level
			ORDER BY ro.level
		`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var g role.Grant
			if err := rows.Scan(&g.ID, &g.UserID, &g.RoleID, &g.RoleName, &g.AssignedBy, &g.AssignedAt, &g.ExpiresAt, &g.Permissions); err != nil {
				return err
			}
			out = append(out, g)
		}
		return rows.Err()
	})

	return out, err
}

// Assign grants a role. An existing grant that has already expired is
// replaced; a live one is a duplicate. The change log row commits with it.
func (r *RolesRepo) Assign(ctx context.Context, req role.AssignRequest, actorID string) (role.Grant, error) {
	now := r.now()
	g := role.Grant{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		RoleID:     req.RoleID,
		AssignedBy: &actorID,
		AssignedAt: now,
		ExpiresAt:  req.ExpiresAt,
	}

	err := observe(r.prom, "roles.assign", func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			if err := tx.QueryRow(ctx, `SELECT name FROM roles WHERE id = $1`, req.RoleID).Scan(&g.RoleName); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return role.ErrRoleNotFound
				}
				return err
			}

			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, req.UserID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return user.ErrNotFound
			}

			err := tx.QueryRow(ctx, `
				INSERT INTO user_roles (id, user_id, role_id, assigned_by, assigned_at, expires_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (user_id, role_id) DO UPDATE
					SET assigned_by = EXCLUDED.assigned_by,
						assigned_at = EXCLUDED.assigned_at,
						expires_at = EXCLUDED.expires_at
					WHERE user_roles.expires_at IS NOT NULL AND user_roles.expires_at <= $5
				RETURNING id
			`, g.ID, g.UserID, g.RoleID, actorID, now, req.ExpiresAt).Scan(&g.ID)
			if errors.Is(err, pgx.ErrNoRows) {
				return role.ErrDuplicateGrant
			}
			if err != nil {
				return err
			}

			return insertChangeLog(ctx, tx, req.UserID, req.RoleID, role.ChangeAssigned, &actorID, req.Reason, now)
		})
	})

	if err != nil {
		return role.Grant{}, err
	}
	return g, nil
}

func (r *RolesRepo) Revoke(ctx context.Context, req role.RevokeRequest, actorID string) error {
	now := r.now()

	return observe(r.prom, "roles.revoke", func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, req.UserID, req.RoleID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return role.ErrGrantNotFound
			}
			return insertChangeLog(ctx, tx, req.UserID, req.RoleID, role.ChangeRevoked, &actorID, req.Reason, now)
		})
	})
}

func insertChangeLog(ctx context.Context, tx pgx.Tx, userID, roleID string, action role.ChangeAction, changedBy *string, reason string, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO role_change_logs (id, user_id, role_id, action, changed_by, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), userID, roleID, string(action), changedBy, reason, at)
	return err
}

func (r *RolesRepo) ChangeLogs(ctx context.Context, f role.ChangeLogFilter) ([]role.ChangeLog, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT l.id, l.user_id, COALESCE(u.username, ''), l.role_id, COALESCE(ro.name, ''),
			l.action, l.changed_by, COALESCE(cb.username, ''), l.reason, l.created_at
		FROM role_change_logs l
		LEFT JOIN users u ON u.id = l.user_id
		LEFT JOIN roles ro ON ro.id = l.role_id
		LEFT JOIN users cb ON cb.id = l.changed_by
		WHERE 1 = 1`
	args := []any{}

	if f.UserID != "" {
		args = append(args, f.UserID)
		query += fmt.Sprintf(" AND l.user_id = $%d", len(args))
	}
	if f.BeforeAt != nil && f.BeforeID != "" {
		args = append(args, *f.BeforeAt, f.BeforeID)
		query += fmt.Sprintf(" AND (l.created_at, l.id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY l.created_at DESC, l.id DESC LIMIT $%d", len(args))

	out := make([]role.ChangeLog, 0)
	err := observe(r.prom, "roles.change_logs", func() error {
		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var l role.ChangeLog
			var action string
			if err := rows.Scan(&l.ID, &l.UserID, &l.Username, &l.RoleID, &l.RoleName,
				&action, &l.ChangedBy, &l.ChangedByUsername, &l.Reason, &l.CreatedAt); err != nil {
				return err
			}
			l.Action = role.ChangeAction(action)
			out = append(out, l)
		}
		return rows.Err()
	})

	return out, err
}

// SweepExpired deletes grants whose expiry has passed and records an
// "expired" change log row for each, atomically. It returns how many grants
// were removed.
func (r *RolesRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64

	err := observe(r.prom, "roles.sweep_expired", func() error {
		tag, err := r.pool.Exec(ctx, `
			WITH expired AS (
				DELETE FROM user_roles
				WHERE expires_at IS NOT NULL AND expires_at <= $1
				RETURNING user_id, role_id
			)
			INSERT INTO role_change_logs (id, user_id, role_id, action, reason, created_at)
			SELECT gen_random_uuid(), user_id, role_id, 'expired', 'grant expired', $1
			FROM expired
		`, now)
		n = tag.RowsAffected()
		return err
	})

	return n, err
}
