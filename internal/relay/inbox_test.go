package relay

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func testInbox(t *testing.T, inbox Inbox, prefix string) {
	ctx := context.Background()
	alice, bob, carol := prefix+"alice", prefix+"bob", prefix+"carol"
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := inbox.Publish(ctx, alice, map[string]string{bob: "for-bob", carol: "for-carol"}, at); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	got, err := inbox.Fetch(ctx, bob)
	if err != nil {
		t.Fatal(err)
	}
	if env, ok := got[alice]; !ok || env.Ciphertext != "for-bob" || !env.At.Equal(at) {
		t.Fatalf("bob's inbox = %+v", got)
	}

	// a new update replaces the old one, carol is no longer a recipient
	if err := inbox.Publish(ctx, alice, map[string]string{bob: "for-bob-2"}, at.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if got, _ := inbox.Fetch(ctx, carol); len(got) != 0 {
		t.Errorf("carol's inbox = %+v, want empty", got)
	}
	if got, _ := inbox.Fetch(ctx, bob); got[alice].Ciphertext != "for-bob-2" {
		t.Errorf("bob's inbox = %+v", got)
	}

	// nil withdraws everything
	if err := inbox.Publish(ctx, alice, nil, at.Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if got, _ := inbox.Fetch(ctx, bob); len(got) != 0 {
		t.Errorf("bob's inbox after clear = %+v, want empty", got)
	}
}

func TestMemoryInbox(t *testing.T) {
	testInbox(t, NewMemoryInbox(), "")
}

func TestRedisInbox(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping integration test")
	}
	rdb := NewRedis(addr, 0)
	defer rdb.Close()

	testInbox(t, NewRedisInbox(rdb, time.Minute), fmt.Sprintf("test_%d_", time.Now().UnixNano()))
}
