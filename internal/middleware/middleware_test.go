package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	steps := []struct {
		advance time.Duration
		key     string
		want    bool
	}{
		{0, "a", true},
		{time.Second, "a", true},
		{time.Second, "a", false},
		{0, "b", true},
		{time.Minute, "a", true}, // the first two have aged out
	}
	for i, s := range steps {
		now = now.Add(s.advance)
		if got := rl.Allow(s.key); got != s.want {
			t.Errorf("step %d: Allow(%q) = %v, want %v", i, s.key, got, s.want)
		}
	}
}

type verifierFunc func(id, token string) error

func (f verifierFunc) Verify(id, token string) error { return f(id, token) }

func TestBasicAuth(t *testing.T) {
	v := verifierFunc(func(id, token string) error {
		if id == "alice" && token == "good" {
			return nil
		}
		return errors.New("nope")
	})

	r := gin.New()
	r.Use(Logger(zap.NewNop()), BasicAuth(v))
	r.GET("/whoami", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(UserIDKey)) })

	tests := []struct {
		name   string
		user   string
		pass   string
		basic  bool
		status int
	}{
		{name: "valid", user: "alice", pass: "good", basic: true, status: http.StatusOK},
		{name: "wrong token", user: "alice", pass: "bad", basic: true, status: http.StatusUnauthorized},
		{name: "no header", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.basic {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.status == http.StatusOK && w.Body.String() != "alice" {
				t.Errorf("user = %q", w.Body.String())
			}
			if w.Header().Get(RequestIDHeader) == "" {
				t.Error("missing request id header")
			}
		})
	}
}

func TestLogger_KeepsClientRequestID(t *testing.T) {
	r := gin.New()
	r.Use(Logger(zap.NewNop()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q", got)
	}
}
