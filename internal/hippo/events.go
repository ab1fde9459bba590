// Package hippo implements the event processor (C5): it drains pending
// account-lifecycle events from the upstream HiPPO queue API and applies them
// to the store, grounded on original_source/cheeto/hippo.py and
// hippoapi/models.
package hippo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Account is one upstream account payload attached to an event (hippo.py's
// QueuedEventDataModel.accounts[i]).
type Account struct {
	Kerberos    string   `json:"kerberos"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	IAM         string   `json:"iam"`
	Mothra      string   `json:"mothra"`
	Key         string   `json:"key"`
	AccessTypes []string `json:"accessTypes"`
}

// GroupRef is one entry of an event's groups list.
type GroupRef struct {
	Name string `json:"name"`
}

// Data is an event envelope's data payload.
type Data struct {
	Cluster  string     `json:"cluster"`
	Groups   []GroupRef `json:"groups"`
	Accounts []Account  `json:"accounts"`
}

// Envelope is one queued event as returned by the HiPPO event-queue API.
type Envelope struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Status string `json:"status"`
	Data   Data   `json:"data"`
}

// account returns the envelope's sole account payload, as every known action
// addresses exactly one (hippo.py always indexes accounts[0]).
func (e Envelope) account() (Account, bool) {
	if len(e.Data.Accounts) == 0 {
		return Account{}, false
	}
	return e.Data.Accounts[0], true
}

// statusUpdate is the postback body sent to mark an upstream event Complete
// or Failed.
type statusUpdate struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Client is a thin REST client for the upstream HiPPO event-queue API
// (hippoapi's generated AuthenticatedClient, hand-written here: the surface
// is two endpoints, so a generated/retrying HTTP stack would be pure
// overhead — see DESIGN.md).
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchPending implements event_queue_pending_events: GET the queue's
// pending events.
func (c *Client) FetchPending(ctx context.Context) ([]Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event_queue/pending", nil)
	if err != nil {
		return nil, fmt.Errorf("hippo: build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hippo: fetch pending events: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hippo: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hippo: fetch pending events: status %d: %s", resp.StatusCode, body)
	}

	var events []Envelope
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("hippo: decode pending events: %w", err)
	}
	return events, nil
}

// PostbackStatus implements event_queue_update_status: PATCH the upstream
// event's status by id.
func (c *Client) PostbackStatus(ctx context.Context, id, status string) error {
	payload, err := json.Marshal(statusUpdate{ID: id, Status: status})
	if err != nil {
		return fmt.Errorf("hippo: encode postback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/event_queue/update_status", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("hippo: build postback request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hippo: postback event %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("hippo: postback event %s: status %d: %s", id, resp.StatusCode, body)
	}
	return nil
}
