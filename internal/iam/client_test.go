package iam

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ucdavis-hpc/cheeto/internal/config"
	"github.com/ucdavis-hpc/cheeto/internal/errs"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.IAMConfig{BaseURL: srv.URL, APIKey: "test-key"})
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, results any) {
	t.Helper()
	raw, err := json.Marshal(results)
	if err != nil {
		t.Fatalf("marshal results: %v", err)
	}
	env := envelope{ResponseData: struct {
		Results json.RawMessage `json:"results"`
	}{Results: raw}}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
}

func TestQueryUserIAMIDReturnsFirstResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/people/search/pri-kerb-acct" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("userId"); got != "alice" {
			t.Errorf("userId query = %q, want alice", got)
		}
		if got := r.Header.Get("X-API-Key"); got != "test-key" {
			t.Errorf("X-API-Key header = %q, want test-key", got)
		}
		writeEnvelope(t, w, []Person{{IAMID: "1234", DFullName: "Alice Example"}})
	})

	p, err := c.QueryUserIAMID(context.Background(), "alice")
	if err != nil {
		t.Fatalf("QueryUserIAMID: %v", err)
	}
	if p == nil || p.IAMID != "1234" {
		t.Fatalf("QueryUserIAMID = %+v, want IAMID 1234", p)
	}
}

func TestQueryUserIAMIDNoResultsReturnsNilNotError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, []Person{})
	})
	p, err := c.QueryUserIAMID(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("QueryUserIAMID: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil for no results, got %+v", p)
	}
}

func TestGetWrapsNonOKStatusAsExternal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})
	_, err := c.QueryUserIAMID(context.Background(), "alice")
	if !errs.Is(err, errs.External) {
		t.Fatalf("expected errs.External, got %v", err)
	}
}

func TestQueryUserColleguesDeduplicatesOrgsAndResolvesDivisions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/people/iam-1/associations":
			writeEnvelope(t, w, []Association{{BouOrgOID: "org-1"}, {BouOrgOID: "org-1"}, {BouOrgOID: "org-2"}})
		case r.URL.Path == "/organizations/search/ppsbo-us":
			org := r.URL.Query().Get("orgOId")
			switch org {
			case "org-1":
				writeEnvelope(t, w, []Division{{DeptOfficialName: "College of Engineering"}})
			case "org-2":
				writeEnvelope(t, w, []Division{{DeptOfficialName: "College of Agriculture"}})
			default:
				t.Errorf("unexpected orgOId %q", org)
			}
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	})

	colleges, err := c.QueryUserColleges(context.Background(), "iam-1")
	if err != nil {
		t.Fatalf("QueryUserColleges: %v", err)
	}
	if len(colleges) != 2 {
		t.Fatalf("QueryUserColleges = %v, want exactly 2 deduplicated colleges", colleges)
	}
}
