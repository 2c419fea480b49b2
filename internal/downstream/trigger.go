// Package downstream triggers the dependent message-sync service after
// a successful folder sync. The call is fire-and-forget from the folder
// sync's point of view; failures land in the runner's log channel and
// never invalidate the folder-sync result.
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultFolder is the selector passed to message sync when the caller
// does not name one.
const DefaultFolder = "INBOX"

type Option func(*Trigger)

// WithBaseURL points the trigger at the message-sync service.
func WithBaseURL(baseURL string) Option {
	return func(tr *Trigger) {
		tr.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithHTTPClient substitutes the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(tr *Trigger) {
		tr.client = client
	}
}

type Trigger struct {
	baseURL string
	client  *http.Client
}

func New(opts ...Option) *Trigger {
	tr := &Trigger{
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr
}

// Enabled reports whether a message-sync endpoint is configured.
func (tr *Trigger) Enabled() bool {
	return tr.baseURL != ""
}

// Do posts the caller's credential and a folder selector to the
// message-sync endpoint. A no-op when no endpoint is configured.
func (tr *Trigger) Do(ctx context.Context, bearer, folder string) error {
	if tr.baseURL == "" {
		return nil
	}
	if folder == "" {
		folder = DefaultFolder
	}

	payload, err := json.Marshal(map[string]string{"folder": folder})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tr.baseURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := tr.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("message sync trigger returned status %s", resp.Status)
	}
	return nil
}
