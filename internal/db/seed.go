package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/learnhub/internal/config"
	"github.com/geocoder89/learnhub/internal/domain/role"
	"github.com/geocoder89/learnhub/internal/security"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SeedCatalog upserts the permission catalog and the built-in roles with
// their permission bundles. Bundles are replaced so code stays the source of
// truth.
func SeedCatalog(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		permIDs := make(map[string]string)
		for _, name := range role.AllPermissions() {
			resource, action := role.SplitPermission(name)

			var id string
			err := tx.QueryRow(ctx, `
				INSERT INTO permissions (id, name, resource, action, description)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
				RETURNING id
			`, uuid.NewString(), name, resource, action, role.PermissionDescription(name)).Scan(&id)
			if err != nil {
				return fmt.Errorf("seed permission %s: %w", name, err)
			}
			permIDs[name] = id
		}

		for _, r := range role.BuiltinRoles {
			var roleID string
			err := tx.QueryRow(ctx, `
				INSERT INTO roles (id, name, description, level)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description, level = EXCLUDED.level
				RETURNING id
			`, uuid.NewString(), r.Name, r.Description, r.Level).Scan(&roleID)
			if err != nil {
				return fmt.Errorf("seed role %s: %w", r.Name, err)
			}

			if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
				return err
			}
			for _, p := range r.Permissions {
				if _, err := tx.Exec(ctx,
					`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
					roleID, permIDs[p],
				); err != nil {
					return fmt.Errorf("seed role %s permission %s: %w", r.Name, p, err)
				}
			}
		}
		return nil
	})
}

// EnsureAdminUser creates the configured admin account with a permanent
// admin grant. It does nothing when no admin credentials are configured or
// the account already exists.
func EnsureAdminUser(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	var dummy string

	err := pool.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, cfg.AdminEmail).Scan(&dummy)

	if err == nil {
		return nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := security.HashPassword(cfg.AdminPassword)

	if err != nil {
		return err
	}

	now := time.Now().UTC()
	userID := uuid.NewString()

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO users (id, email, username, password_hash, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
		`, userID, cfg.AdminEmail, cfg.AdminUsername, hash, now); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `INSERT INTO user_profiles (user_id) VALUES ($1)`, userID); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO user_roles (id, user_id, role_id, assigned_at)
			SELECT $1, $2, id, $3 FROM roles WHERE name = $4
		`, uuid.NewString(), userID, now, role.RoleAdmin)
		return err
	})
}
