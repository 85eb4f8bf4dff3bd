package session

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"
)

const EdgeCookieName = "accessToken"

// EdgeMirror exposes the access token to the edge routing layer. It is a
// routing hint only and is never consulted for API authorization.
type EdgeMirror interface {
	Set(token string, maxAge time.Duration, persistent bool)
	Get() (string, bool)
	Clear()
}

// CookieMirror writes the token as a path-scoped cookie into a jar that the
// HTTP client shares, so every request to the site carries it.
type CookieMirror struct {
	mu   sync.Mutex
	jar  http.CookieJar
	site *url.URL
	path string
	last *http.Cookie
}

func NewCookieMirror(siteURL string) (*CookieMirror, error) {
	u, err := url.Parse(siteURL)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &CookieMirror{jar: jar, site: u, path: "/"}, nil
}

func (m *CookieMirror) Jar() http.CookieJar {
	return m.jar
}

// Set stores the cookie. Persistent cookies expire with the token, others
// are session cookies.
func (m *CookieMirror) Set(token string, maxAge time.Duration, persistent bool) {
	c := &http.Cookie{
		Name:     EdgeCookieName,
		Value:    token,
		Path:     m.path,
		Secure:   m.site.Scheme == "https",
		SameSite: http.SameSiteLaxMode,
	}
	if persistent {
		secs := int(maxAge / time.Second)
		if secs <= 0 {
			secs = -1
		}
		c.MaxAge = secs
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.jar.SetCookies(m.site, []*http.Cookie{c})
	m.last = c
}

func (m *CookieMirror) Get() (string, bool) {
	for _, c := range m.jar.Cookies(m.site) {
		if c.Name == EdgeCookieName && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

func (m *CookieMirror) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jar.SetCookies(m.site, []*http.Cookie{{Name: EdgeCookieName, Value: "", Path: m.path, MaxAge: -1}})
	m.last = nil
}

// Last returns the most recently written cookie, nil after Clear.
func (m *CookieMirror) Last() *http.Cookie {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
