package relay

import (
	"errors"
	"testing"
	"time"
)

func TestTokens(t *testing.T) {
	issuer := NewTokens("secret", time.Hour)
	token, err := issuer.Issue("alice")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	expired := NewTokens("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	tests := []struct {
		name    string
		tokens  *Tokens
		id      string
		token   string
		wantErr bool
	}{
		{name: "valid", tokens: issuer, id: "alice", token: token},
		{name: "other user", tokens: issuer, id: "bob", token: token, wantErr: true},
		{name: "other secret", tokens: NewTokens("different", time.Hour), id: "alice", token: token, wantErr: true},
		{name: "expired", tokens: expired, id: "alice", token: token, wantErr: true},
		{name: "garbage", tokens: issuer, id: "alice", token: "not-a-jwt", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tokens.Verify(tt.id, tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Verify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrBadToken) {
				t.Errorf("error %v should wrap ErrBadToken", err)
			}
		})
	}
}

func TestTokens_NoExpiry(t *testing.T) {
	tokens := NewTokens("secret", 0)
	token, err := tokens.Issue("alice")
	if err != nil {
		t.Fatal(err)
	}
	tokens.now = func() time.Time { return time.Now().Add(365 * 24 * time.Hour) }
	if err := tokens.Verify("alice", token); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}
