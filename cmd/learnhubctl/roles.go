package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/geocoder89/learnhub/internal/utils"
	"github.com/spf13/cobra"
)

func newRolesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Inspect the role catalog and manage grants",
	}

	cmd.AddCommand(
		a.getCommand("list", "List roles", cobra.NoArgs, func(args []string) string {
			return "/roles"
		}),
		a.getCommand("permissions", "List permissions", cobra.NoArgs, func(args []string) string {
			return "/permissions"
		}),
		a.getCommand("user USER_ID", "Show a user's active grants and effective permissions", cobra.ExactArgs(1), func(args []string) string {
			return "/users/" + args[0] + "/roles"
		}),
		newAssignCommand(a),
		newRevokeCommand(a),
		newChangesCommand(a),
	)
	return cmd
}

type grantFlags struct {
	user   string
	role   string
	reason string
}

func (g *grantFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&g.user, "user", "", "user id")
	cmd.Flags().StringVar(&g.role, "role", "", "role id or name")
	cmd.Flags().StringVar(&g.reason, "reason", "", "recorded in the role change log")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
}

func newAssignCommand(a *app) *cobra.Command {
	var g grantFlags
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Grant a role to a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}

			roleID, err := a.resolveRole(cmd.Context(), g.role)
			if err != nil {
				return err
			}

			body := map[string]any{"userId": g.user, "roleId": roleID, "reason": g.reason}
			if ttl > 0 {
				body["expiresAt"] = time.Now().Add(ttl).UTC().Format(time.RFC3339)
			}

			var out map[string]any
			if err := a.client.Post(cmd.Context(), "/users/roles/assign", body, &out); err != nil {
				return err
			}
			return a.print(out)
		},
	}

	g.bind(cmd)
	cmd.Flags().DurationVar(&ttl, "expires-in", 0, "grant lifetime, e.g. 72h (default: no expiry)")
	return cmd
}

func newRevokeCommand(a *app) *cobra.Command {
	var g grantFlags

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Remove a role from a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}

			roleID, err := a.resolveRole(cmd.Context(), g.role)
			if err != nil {
				return err
			}

			body := map[string]any{"userId": g.user, "roleId": roleID, "reason": g.reason}
			if err := a.client.Post(cmd.Context(), "/users/roles/revoke", body, nil); err != nil {
				return err
			}
			return a.print(map[string]any{"revoked": true, "userId": g.user, "roleId": roleID})
		},
	}

	g.bind(cmd)
	return cmd
}

func newChangesCommand(a *app) *cobra.Command {
	var userID, cursor string
	var limit int

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Page through the role change log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}

			q := url.Values{}
			if userID != "" {
				q.Set("userId", userID)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if cursor != "" {
				q.Set("cursor", cursor)
			}

			path := "/roles/audit/changes"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var out map[string]any
			if err := a.client.Get(cmd.Context(), path, &out); err != nil {
				return err
			}
			return a.print(out)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "only changes for this user")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (server default 50)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "nextCursor from the previous page")
	return cmd
}

// resolveRole accepts a role id or a role name.
func (a *app) resolveRole(ctx context.Context, ref string) (string, error) {
	if utils.IsUUID(ref) {
		return ref, nil
	}

	var roles []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := a.client.Get(ctx, "/roles", &roles); err != nil {
		return "", err
	}
	for _, r := range roles {
		if strings.EqualFold(r.Name, ref) {
			return r.ID, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", ref)
}
