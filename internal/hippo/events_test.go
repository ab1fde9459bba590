package hippo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEnvelopeAccountReturnsFirstPayload(t *testing.T) {
	var e Envelope
	if _, ok := e.account(); ok {
		t.Errorf("expected no account on an empty envelope")
	}
	e.Data.Accounts = []Account{{Kerberos: "alice"}, {Kerberos: "bob"}}
	a, ok := e.account()
	if !ok || a.Kerberos != "alice" {
		t.Errorf("account() = %+v, %v, want alice, true", a, ok)
	}
}

func TestFetchPendingDecodesEnvelopes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/event_queue/pending" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("X-API-Key"); got != "secret" {
			t.Errorf("X-API-Key = %q, want secret", got)
		}
		json.NewEncoder(w).Encode([]Envelope{{ID: "1", Action: "CreateAccount"}})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "secret")
	events, err := c.FetchPending(context.Background())
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if len(events) != 1 || events[0].ID != "1" {
		t.Fatalf("FetchPending = %+v, want exactly [{ID:1}]", events)
	}
}

func TestFetchPendingNonOKReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "secret")
	if _, err := c.FetchPending(context.Background()); err == nil {
		t.Fatalf("expected an error on a non-200 response")
	}
}

func TestPostbackStatusSendsCorrectBody(t *testing.T) {
	var received statusUpdate
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %q, want PATCH", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decoding postback body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "secret")
	if err := c.PostbackStatus(context.Background(), "evt-1", "Complete"); err != nil {
		t.Fatalf("PostbackStatus: %v", err)
	}
	if received.ID != "evt-1" || received.Status != "Complete" {
		t.Errorf("postback body = %+v, want {evt-1 Complete}", received)
	}
}

func TestPostbackStatusErrorStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "secret")
	if err := c.PostbackStatus(context.Background(), "evt-1", "Failed"); err == nil {
		t.Fatalf("expected an error on a 400 response")
	}
}
