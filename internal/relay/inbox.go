// Package relay is a development presence server: it stores the ciphertexts
// each user publishes for their friends and hands every user their inbox.
package relay

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Envelope is one ciphertext addressed to a recipient
type Envelope struct {
	Ciphertext string    `json:"ciphertext"`
	At         time.Time `json:"at"`
}

// Inbox stores published ciphertexts by recipient
type Inbox interface {
	// Publish replaces everything sender has published. A nil payload
	// withdraws it all.
	Publish(ctx context.Context, sender string, payload map[string]string, at time.Time) error
	// Fetch returns the envelopes addressed to recipient keyed by sender
	Fetch(ctx context.Context, recipient string) (map[string]Envelope, error)
}

// MemoryInbox keeps inboxes in process
type MemoryInbox struct {
	mu    sync.Mutex
	where map[string]map[string]Envelope // recipient -> sender -> envelope
	sent  map[string][]string            // sender -> recipients
}

// NewMemoryInbox creates an empty in-process inbox
func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{
		where: make(map[string]map[string]Envelope),
		sent:  make(map[string][]string),
	}
}

func (m *MemoryInbox) Publish(_ context.Context, sender string, payload map[string]string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.sent[sender] {
		delete(m.where[r], sender)
	}
	delete(m.sent, sender)

	for r, ct := range payload {
		if m.where[r] == nil {
			m.where[r] = make(map[string]Envelope)
		}
		m.where[r][sender] = Envelope{Ciphertext: ct, At: at}
		m.sent[sender] = append(m.sent[sender], r)
	}
	return nil
}

func (m *MemoryInbox) Fetch(_ context.Context, recipient string) (map[string]Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Envelope, len(m.where[recipient]))
	maps.Copy(out, m.where[recipient])
	return out, nil
}
