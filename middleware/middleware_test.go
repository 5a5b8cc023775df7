package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"polymarket-copybot/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("subject"))
	})
	r.GET("/x", handlers...)
	return r
}

func TestAuth(t *testing.T) {
	const secret = "test-secret"
	valid, err := IssueToken(secret, "ops", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	expired, _ := IssueToken(secret, "ops", -time.Minute)
	foreign, _ := IssueToken("other-secret", "ops", time.Minute)

	tests := []struct {
		name        string
		cfg         config.AuthConfig
		setup       func(r *http.Request)
		wantStatus  int
		wantSubject string
	}{
		{
			name:       "open when unconfigured",
			cfg:        config.AuthConfig{},
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusOK,
		},
		{
			name:       "basic missing",
			cfg:        config.AuthConfig{Username: "admin", Password: "pw"},
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "basic wrong password",
			cfg:        config.AuthConfig{Username: "admin", Password: "pw"},
			setup:      func(r *http.Request) { r.SetBasicAuth("admin", "nope") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:        "basic ok",
			cfg:         config.AuthConfig{Username: "admin", Password: "pw"},
			setup:       func(r *http.Request) { r.SetBasicAuth("admin", "pw") },
			wantStatus:  http.StatusOK,
			wantSubject: "admin",
		},
		{
			name:        "bearer ok",
			cfg:         config.AuthConfig{JWTSecret: secret},
			setup:       func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) },
			wantStatus:  http.StatusOK,
			wantSubject: "ops",
		},
		{
			name:       "bearer expired",
			cfg:        config.AuthConfig{JWTSecret: secret},
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "bearer wrong key",
			cfg:        config.AuthConfig{JWTSecret: secret},
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+foreign) },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "bearer only rejects basic",
			cfg:        config.AuthConfig{JWTSecret: secret},
			setup:      func(r *http.Request) { r.SetBasicAuth("admin", "pw") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:        "both configured accepts basic",
			cfg:         config.AuthConfig{Username: "admin", Password: "pw", JWTSecret: secret},
			setup:       func(r *http.Request) { r.SetBasicAuth("admin", "pw") },
			wantStatus:  http.StatusOK,
			wantSubject: "admin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(Auth(tt.cfg))
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && w.Body.String() != tt.wantSubject {
				t.Errorf("subject = %q, want %q", w.Body.String(), tt.wantSubject)
			}
		})
	}
}

func TestIssueToken_RequiresSecret(t *testing.T) {
	if _, err := IssueToken("", "ops", time.Minute); err == nil {
		t.Error("expected error without secret")
	}
}

func TestValidateQueryParams(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", http.StatusOK},
		{"?limit=50", http.StatusOK},
		{"?limit=10000", http.StatusOK},
		{"?limit=0", http.StatusBadRequest},
		{"?limit=10001", http.StatusBadRequest},
		{"?limit=abc", http.StatusBadRequest},
	}
	r := newRouter(ValidateQueryParams())
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x"+tt.query, nil))
		if w.Code != tt.want {
			t.Errorf("GET /x%s = %d, want %d", tt.query, w.Code, tt.want)
		}
	}
}
