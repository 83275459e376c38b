package relay_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jengzang/dining-presence-go/internal/api"
	"github.com/jengzang/dining-presence-go/internal/crypto"
	"github.com/jengzang/dining-presence-go/internal/fanout"
	"github.com/jengzang/dining-presence-go/internal/middleware"
	"github.com/jengzang/dining-presence-go/internal/models"
	"github.com/jengzang/dining-presence-go/internal/relay"
	"github.com/jengzang/dining-presence-go/internal/transport"
)

func newServer(t *testing.T) (*httptest.Server, *relay.Tokens) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := relay.NewTokens("test-secret", time.Hour)
	limiter := middleware.NewRateLimiter(100, time.Minute)
	t.Cleanup(limiter.Close)

	router := api.SetupRouter(relay.NewHandler(relay.NewMemoryInbox(), zap.NewNop()), tokens, limiter, zap.NewNop())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, tokens
}

func login(t *testing.T, tokens *relay.Tokens, id string) models.Auth {
	t.Helper()
	token, err := tokens.Issue(id)
	if err != nil {
		t.Fatal(err)
	}
	return models.Auth{ID: id, Token: token}
}

func TestRelay_FanoutToInbox(t *testing.T) {
	srv, tokens := newServer(t)
	ctx := context.Background()
	client := transport.NewClient(srv.URL+"/api", 5*time.Second, nil)

	aliceKey, _ := crypto.GenerateKey()
	bobKey, _ := crypto.GenerateKey()
	alice := login(t, tokens, "alice")
	bob := login(t, tokens, "bob")

	f := fanout.New(crypto.Box{}, client, 4, nil)
	now := time.Now().UTC().Truncate(time.Millisecond)
	rec := models.PresenceRecord{Where: "Earhart", Since: now, Updated: now}

	report, err := f.Send(ctx, alice, map[string]string{"bob": bobKey.Public64}, rec, aliceKey.Private64)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("report = %+v", report)
	}

	inbox, err := client.Inbox(ctx, bob)
	if err != nil {
		t.Fatalf("Inbox() error = %v", err)
	}
	env, ok := inbox["alice"]
	if !ok {
		t.Fatalf("bob's inbox = %+v, want alice", inbox)
	}
	got, err := f.Open(env.Ciphertext, bobKey.Private64, aliceKey.Public64, time.Now(), fanout.UpdateLimit)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got.Where != "Earhart" || !got.Since.Equal(now) {
		t.Errorf("opened %+v", got)
	}

	if err := client.SendUpdate(ctx, alice, nil); err != nil {
		t.Fatalf("clearing update error = %v", err)
	}
	if inbox, _ := client.Inbox(ctx, bob); len(inbox) != 0 {
		t.Errorf("bob's inbox after clear = %+v", inbox)
	}
}

func TestRelay_RejectsBadCredentials(t *testing.T) {
	srv, tokens := newServer(t)
	client := transport.NewClient(srv.URL+"/api", 5*time.Second, nil)

	aliceToken := login(t, tokens, "alice").Token
	tests := []struct {
		name string
		auth models.Auth
	}{
		{name: "token of another user", auth: models.Auth{ID: "mallory", Token: aliceToken}},
		{name: "garbage token", auth: models.Auth{ID: "alice", Token: "garbage"}},
		{name: "no credentials", auth: models.Auth{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.SendUpdate(context.Background(), tt.auth, nil)

			var serverErr *transport.ServerError
			if !errors.As(err, &serverErr) {
				t.Fatalf("error = %v, want a ServerError", err)
			}
			if serverErr.Status != http.StatusUnauthorized || serverErr.Err != "unauthorized" {
				t.Errorf("ServerError = %+v", serverErr)
			}
		})
	}
}

func TestRelay_Health(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
