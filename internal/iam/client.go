// Package iam implements the identity-API sync (C8): for each GlobalUser
// pending sync, resolve an institutional IAM ID, fetch canonical person and
// affiliation data, and reconcile fullname/colleges, grounded on
// original_source/cheeto/iam.py.
package iam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ucdavis-hpc/cheeto/internal/config"
	"github.com/ucdavis-hpc/cheeto/internal/errs"
)

// envelope mirrors the institutional API's {responseData: {results: [...]}}
// wrapper shared by every endpoint iam.py queries.
type envelope struct {
	ResponseData struct {
		Results json.RawMessage `json:"results"`
	} `json:"responseData"`
}

// Person is the subset of get_person_using_iam_id's record cheeto consumes.
type Person struct {
	IAMID     string `json:"iamId"`
	DFullName string `json:"dFullName"`
}

// Association is one get_pps_assocs_using_iam_id row.
type Association struct {
	BouOrgOID string `json:"bouOrgOId"`
}

// Division is one search_ppsbo_us row.
type Division struct {
	DeptOfficialName string `json:"deptOfficialName"`
}

// Client is a thin REST client against the institutional IAM API's
// people/associations/organization endpoints (iamapi's generated client is
// out of scope here — the surface cheeto actually exercises is four GETs, so
// a hand-written client is a small, auditable stand-in; see DESIGN.md).
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg config.IAMConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("iam: build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Externalf("IAMQueryFailed", err, "%s", path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Externalf("IAMQueryFailed", err, "reading response from %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.Externalf("IAMQueryFailed", fmt.Errorf("status %d", resp.StatusCode), "%s: %s", path, body)
	}
	return body, nil
}

func queryResults[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	body, err := c.get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errs.Externalf("IAMQueryFailed", err, "decode envelope from %s", path)
	}
	var results []T
	if len(env.ResponseData.Results) > 0 {
		if err := json.Unmarshal(env.ResponseData.Results, &results); err != nil {
			return nil, errs.Externalf("IAMQueryFailed", err, "decode results from %s", path)
		}
	}
	return results, nil
}

// QueryUserIAMID implements search_pri_kerb_acct: lookup a person's IAM ID
// by their primary Kerberos (i.e. username) account.
func (c *Client) QueryUserIAMID(ctx context.Context, username string) (*Person, error) {
	results, err := queryResults[Person](ctx, c, "/people/search/pri-kerb-acct", url.Values{"userId": {username}})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// QueryUserInfo implements get_person_using_iam_id: fetch the canonical
// person record for an IAM ID.
func (c *Client) QueryUserInfo(ctx context.Context, iamID string) (*Person, error) {
	results, err := queryResults[Person](ctx, c, "/people/"+url.PathEscape(iamID), nil)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// QueryUserAssociations implements get_pps_assocs_using_iam_id: fetch a
// person's PPS organizational associations.
func (c *Client) QueryUserAssociations(ctx context.Context, iamID string) ([]Association, error) {
	return queryResults[Association](ctx, c, "/people/"+url.PathEscape(iamID)+"/associations", nil)
}

// QueryOrgDivision implements search_ppsbo_us: fetch the division/org entry
// for an organizational OID.
func (c *Client) QueryOrgDivision(ctx context.Context, orgOID string) ([]Division, error) {
	return queryResults[Division](ctx, c, "/organizations/search/ppsbo-us", url.Values{"orgOId": {orgOID}})
}

// QueryUserColleges implements query_user_colleges: resolve every distinct
// org a person is associated with down to its official department name.
func (c *Client) QueryUserColleges(ctx context.Context, iamID string) ([]string, error) {
	assocs, err := c.QueryUserAssociations(ctx, iamID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var colleges []string
	for _, a := range assocs {
		if a.BouOrgOID == "" || seen[a.BouOrgOID] {
			continue
		}
		seen[a.BouOrgOID] = true
		divisions, err := c.QueryOrgDivision(ctx, a.BouOrgOID)
		if err != nil {
			return nil, err
		}
		for _, d := range divisions {
			colleges = append(colleges, d.DeptOfficialName)
		}
	}
	return colleges, nil
}
