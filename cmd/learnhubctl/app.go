package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/geocoder89/learnhub/internal/apiclient"
	"github.com/geocoder89/learnhub/internal/session"
	"github.com/spf13/cobra"
)

const refreshCookieName = "refresh_token"

type app struct {
	apiURL   string
	stateDir string
	verbose  bool

	out     io.Writer
	base    *url.URL
	jar     http.CookieJar
	client  *apiclient.Client
	session *session.Manager
}

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}

	cmd := &cobra.Command{
		Use:          "learnhubctl",
		Short:        "Command line client for the learnhub API",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	cmd.SetOut(out)

	cmd.PersistentFlags().StringVar(&a.apiURL, "api", envOr("LEARNHUB_API", "http://localhost:8080/api"), "API base URL")
	cmd.PersistentFlags().StringVar(&a.stateDir, "state-dir", defaultStateDir(), "directory holding the saved session")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log session events to stderr")

	cmd.AddCommand(
		newLoginCommand(a),
		newLogoutCommand(a),
		newWhoamiCommand(a),
		newHierarchyCommand(a),
		newModulesCommand(a),
		newRolesCommand(a),
	)

	return cmd
}

// open wires the session manager and the API client around one cookie jar,
// then restores whatever session the last run left behind.
func (a *app) open(cmd *cobra.Command) error {
	base, err := url.Parse(strings.TrimRight(a.apiURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("invalid --api %q", a.apiURL)
	}
	a.base = base

	mirror, err := session.NewCookieMirror(base.Scheme + "://" + base.Host)
	if err != nil {
		return err
	}
	a.jar = mirror.Jar()

	if err := a.loadRefreshCookie(); err != nil {
		return err
	}

	level := slog.LevelError
	if a.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	hc := &http.Client{Jar: a.jar, Timeout: 60 * time.Second}

	var mgr *session.Manager
	a.client = apiclient.New(base.String(), hc, tokenSourceFunc(func() (string, bool) {
		return mgr.Token()
	}), func(ctx context.Context) (string, error) {
		return mgr.Refresh(ctx)
	})
	mgr = session.NewManager(a.client.RefreshAccessToken, session.Options{
		Durable: session.NewFileStore(filepath.Join(a.stateDir, "token.json")),
		Mirror:  mirror,
		Logger:  log,
	})
	a.session = mgr

	if a.verbose {
		mgr.Subscribe(func(ev session.Event) {
			log.Debug("session", "state", ev.State, "expires_at", ev.ExpiresAt, "err", ev.Err)
		})
	}

	if err := mgr.Bootstrap(cmd.Context()); err != nil {
		log.Warn("saved session discarded", "err", err)
	}
	return nil
}

func (a *app) close() error {
	if a.session == nil {
		return nil
	}
	return a.saveRefreshCookie()
}

func (a *app) requireLogin() error {
	if a.session.State() != session.StateAuthenticated {
		return errors.New("not logged in, run: learnhubctl login")
	}
	return nil
}

// The refresh cookie is HttpOnly on the wire; the CLI is its own user agent
// and keeps it next to the token file.
type savedCookie struct {
	Value string `json:"value"`
	Path  string `json:"path"`
}

func (a *app) cookiePath() string {
	return filepath.Join(a.stateDir, "refresh.json")
}

func (a *app) refreshURL() *url.URL {
	u := *a.base
	u.Path = strings.TrimRight(u.Path, "/") + "/auth/refresh"
	return &u
}

func (a *app) loadRefreshCookie() error {
	raw, err := os.ReadFile(a.cookiePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var c savedCookie
	if err := json.Unmarshal(raw, &c); err != nil || c.Value == "" {
		// a torn or empty file only means the next refresh will fail
		return nil
	}

	a.jar.SetCookies(a.refreshURL(), []*http.Cookie{{
		Name:     refreshCookieName,
		Value:    c.Value,
		Path:     c.Path,
		HttpOnly: true,
	}})
	return nil
}

func (a *app) saveRefreshCookie() error {
	var value string
	for _, c := range a.jar.Cookies(a.refreshURL()) {
		if c.Name == refreshCookieName {
			value = c.Value
		}
	}

	if value == "" {
		err := os.Remove(a.cookiePath())
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	raw, err := json.Marshal(savedCookie{
		Value: value,
		Path:  strings.TrimRight(a.base.Path, "/") + "/auth",
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(a.stateDir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(a.cookiePath(), raw, 0o600)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type tokenSourceFunc func() (string, bool)

func (f tokenSourceFunc) Token() (string, bool) { return f() }

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStateDir() string {
	if v := os.Getenv("LEARNHUB_STATE_DIR"); v != "" {
		return v
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".learnhub"
	}
	return filepath.Join(dir, "learnhub")
}
