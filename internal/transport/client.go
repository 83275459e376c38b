// Package transport talks to the presence server.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jengzang/dining-presence-go/internal/models"
)

// ServerError is a non-2xx reply from the server
type ServerError struct {
	Status  int
	Err     string `json:"err"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	if e.Err == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s: %s", e.Status, e.Err, e.Message)
}

// Envelope is a ciphertext addressed to us together with when it was posted
type Envelope struct {
	Ciphertext string    `json:"ciphertext"`
	At         time.Time `json:"at"`
}

// Client is an authenticated HTTP client for the presence API
type Client struct {
	apiRoot string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client for apiRoot, e.g. "https://example.com/api"
func NewClient(apiRoot string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiRoot: strings.TrimRight(apiRoot, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// SendUpdate posts an encrypted presence update. A nil payload clears our
// presence on the server.
func (c *Client) SendUpdate(ctx context.Context, auth models.Auth, payload map[string]string) error {
	body := []byte("null")
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode update: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, "update", auth, body, nil)
}

// Inbox fetches the ciphertexts friends have addressed to us, keyed by sender
func (c *Client) Inbox(ctx context.Context, auth models.Auth) (map[string]Envelope, error) {
	var res struct {
		Data map[string]Envelope `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "where", auth, nil, &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, auth models.Auth, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiRoot+"/"+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(auth.ID, auth.Token)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s /%s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("request finished",
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serverErr := &ServerError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, serverErr)
		return serverErr
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
