// Package apiclient talks to the learnhub API. On a 401 it asks its refresh
// port for a new access token once and retries the request.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// TokenSource yields the current access token, if any.
type TokenSource interface {
	Token() (string, bool)
}

// RefreshFunc is the port through which the client asks for a new token. It
// is wired to session.Manager.Refresh so the client never imports the manager.
type RefreshFunc func(ctx context.Context) (string, error)

type Envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	Details   map[string]any  `json:"details,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

type APIError struct {
	Status    int
	Message   string
	Details   map[string]any
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	refresh RefreshFunc
}

// New builds a client for baseURL (e.g. "http://localhost:8080/api"). hc
// should carry a cookie jar so the refresh cookie round-trips.
func New(baseURL string, hc *http.Client, tokens TokenSource, refresh RefreshFunc) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		tokens:  tokens,
		refresh: refresh,
	}
}

type request struct {
	method      string
	path        string
	body        []byte
	contentType string
}

// Do sends a JSON request and decodes the envelope's data into out.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	req := request{method: method, path: path}
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		req.body = raw
		req.contentType = "application/json"
	}
	return c.send(ctx, req, out)
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) send(ctx context.Context, r request, out any) error {
	token, hasToken := "", false
	if c.tokens != nil {
		token, hasToken = c.tokens.Token()
	}

	status, env, err := c.roundTrip(ctx, r, token)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && hasToken && c.refresh != nil {
		// Another request may have rotated the token while this one was in
		// flight. Retry with it instead of refreshing a second time.
		fresh, ok := c.tokens.Token()
		if !ok || fresh == token {
			var rerr error
			if fresh, rerr = c.refresh(ctx); rerr != nil {
				return fmt.Errorf("api: session expired: %w", rerr)
			}
		}
		status, env, err = c.roundTrip(ctx, r, fresh)
		if err != nil {
			return err
		}
	}

	if status >= 400 || !env.Success {
		return &APIError{Status: status, Message: env.Error, Details: env.Details, RequestID: env.RequestID}
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, r request, token string) (int, Envelope, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return 0, Envelope{}, err
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, Envelope{}, err
	}
	defer resp.Body.Close()

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return resp.StatusCode, Envelope{}, fmt.Errorf("api: decode %s %s: %w", r.method, r.path, err)
	}
	return resp.StatusCode, env, nil
}

type tokenData struct {
	Token string `json:"token"`
}

// Login exchanges credentials for an access token. The refresh token arrives
// as an HttpOnly cookie in the client's jar.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out tokenData
	err := c.send(ctx, jsonRequest(http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}), &out)
	return out.Token, err
}

// RefreshAccessToken performs the network refresh. It is the session
// manager's Refresher and never retries itself.
func (c *Client) RefreshAccessToken(ctx context.Context) (string, error) {
	status, env, err := c.roundTrip(ctx, request{method: http.MethodPost, path: "/auth/refresh"}, "")
	if err != nil {
		return "", err
	}
	if status != http.StatusOK || !env.Success {
		return "", &APIError{Status: status, Message: env.Error, RequestID: env.RequestID}
	}

	var out tokenData
	if err := json.Unmarshal(env.Data, &out); err != nil || out.Token == "" {
		return "", errors.New("api: invalid refresh response")
	}
	return out.Token, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.Post(ctx, "/auth/logout", nil, nil)
}

// Upload sends a module file as multipart form data.
func (c *Client) Upload(ctx context.Context, subchapterID, name, filename string, data []byte, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("name", name); err != nil {
		return err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", "text/html")
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return c.send(ctx, request{
		method:      http.MethodPost,
		path:        "/modules/subchapter/" + subchapterID + "/upload",
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
	}, out)
}

func jsonRequest(method, path string, in any) request {
	raw, _ := json.Marshal(in)
	return request{method: method, path: path, body: raw, contentType: "application/json"}
}
