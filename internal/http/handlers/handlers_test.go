package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/geocoder89/learnhub/internal/authz"
	"github.com/geocoder89/learnhub/internal/domain/role"
	"github.com/geocoder89/learnhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Make sure Gin does not spam the console during the test
func init() {
	gin.SetMode(gin.TestMode)
}

func newUUID() string {
	return uuid.NewString()
}

type envelope struct {
	Success             bool            `json:"success"`
	Data                json.RawMessage `json:"data"`
	Message             string          `json:"message"`
	Error               string          `json:"error"`
	Code                string          `json:"code"`
	RequiredPermissions []string        `json:"requiredPermissions"`
	UserPermissions     []string        `json:"userPermissions"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v body=%s", err, w.Body.String())
	}
	return env
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()

	env := decodeEnvelope(t, w)
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode data: %v body=%s", err, w.Body.String())
	}
}

// as installs p the way the auth middleware would.
func as(p *authz.Principal) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p != nil {
			c.Set(middlewares.CtxPrincipal, p)
		}
		c.Next()
	}
}

func principal(userID string, roleNames ...string) *authz.Principal {
	var perms []string
	for _, b := range role.BuiltinRoles {
		for _, r := range roleNames {
			if b.Name == r {
				perms = append(perms, b.Permissions...)
			}
		}
	}
	return &authz.Principal{UserID: userID, Roles: roleNames, Permissions: perms}
}

func do(r http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	return do(r, method, path, bytes.NewBufferString(body), "application/json")
}
