package main

import (
	"errors"
	"os"
	"time"

	"github.com/geocoder89/learnhub/internal/session"
	"github.com/spf13/cobra"
)

func newLoginCommand(a *app) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("LEARNHUB_PASSWORD")
			}
			if email == "" || password == "" {
				return errors.New("--email and --password (or LEARNHUB_PASSWORD) are required")
			}

			token, err := a.client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if err := a.session.Login(token, session.PersistLocal); err != nil {
				return err
			}

			exp, _ := session.ExpiryOf(token)
			return a.print(map[string]any{"loggedIn": true, "expiresAt": exp.Format(time.RFC3339)})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the refresh token and forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// the local session goes even when the server is unreachable
			err := a.client.Logout(cmd.Context())
			a.session.Logout()
			if err != nil {
				return err
			}
			return a.print(map[string]any{"loggedIn": false})
		},
	}
}

func newWhoamiCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user, roles and permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}

			var out map[string]any
			if err := a.client.Get(cmd.Context(), "/auth/profile", &out); err != nil {
				return err
			}
			return a.print(out)
		},
	}
}
