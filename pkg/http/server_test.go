package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-test/deep"

	"github.com/metron-io/metron/pkg/enforce"
	metronhttp "github.com/metron-io/metron/pkg/http"
	"github.com/metron-io/metron/pkg/quota"
)

// Resolver is a fixed-map fake OwnerResolver.
type Resolver struct {
	V map[string]string
}

func (r *Resolver) Owner(_ context.Context, handle string) (string, error) {
	owner, ok := r.V[handle]
	if !ok {
		return "", fmt.Errorf("%s: no such relation", handle)
	}
	return owner, nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := quota.New(8)
	for _, u := range []struct {
		Entity     string
		Scope      string
		UsedBytes  int64
		LimitBytes int64
	}{
		{"alice", "proddb", 3_000_000, 2_000_000},
		{"events", "proddb", 1024, quota.NoLimit},
		{"orders", "proddb", 2_100_000, 2_000_000},
		{"orders", "testdb", 10, 100},
	} {
		if err := store.Update(u.Entity, u.Scope, u.UsedBytes, u.LimitBytes); err != nil {
			t.Fatalf("Update %s/%s: %s", u.Entity, u.Scope, err)
		}
	}
	resolver := &Resolver{V: map[string]string{"16384": "alice"}}
	server := &metronhttp.Server{
		Store: store,
		Gate:  enforce.NewGate(enforce.ModeBoth, store, resolver),
		Scope: "proddb",
	}
	ts := httptest.NewServer(server.ServeREST())
	t.Cleanup(ts.Close)
	return ts
}

func int64Ptr(v int64) *int64 {
	return &v
}

func TestQuotaStatus(t *testing.T) {
	ts := newServer(t)

	cases := []struct {
		Name     string
		Query    string
		Scope    string
		Expected []metronhttp.StatusRow
	}{
		{
			Name:  "DefaultScope",
			Scope: "proddb",
			Expected: []metronhttp.StatusRow{
				{Entity: "alice", UsedBytes: 3_000_000, LimitBytes: int64Ptr(2_000_000), Used: "2.9 MiB", Limit: "1.9 MiB"},
				{Entity: "events", UsedBytes: 1024, LimitBytes: nil, Used: "1.0 KiB", Limit: metronhttp.NoLimitText},
				{Entity: "orders", UsedBytes: 2_100_000, LimitBytes: int64Ptr(2_000_000), Used: "2.0 MiB", Limit: "1.9 MiB"},
			},
		}, {
			Name:  "ExplicitScope",
			Query: "?scope=testdb",
			Scope: "testdb",
			Expected: []metronhttp.StatusRow{
				{Entity: "orders", UsedBytes: 10, LimitBytes: int64Ptr(100), Used: "10 B", Limit: "100 B"},
			},
		}, {
			Name:     "UnknownScope",
			Query:    "?scope=nosuchdb",
			Scope:    "nosuchdb",
			Expected: []metronhttp.StatusRow{},
		},
	}

	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/quota/status" + c.Query)
			if err != nil {
				t.Fatalf("GET status: %s", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("GET status: HTTP %d", resp.StatusCode)
			}
			var body struct {
				Scope   string                 `json:"scope"`
				Records []metronhttp.StatusRow `json:"records"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode status: %s", err)
			}
			if body.Scope != c.Scope {
				t.Errorf("scope: got %q, expected %q", body.Scope, c.Scope)
			}
			if diffs := deep.Equal(c.Expected, body.Records); diffs != nil {
				t.Errorf("records: %s", diffs)
			}
		})
	}
}

func postCheck(t *testing.T, url string, req interface{}) (int, metronhttp.CheckResponse) {
	t.Helper()
	jsonBody, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("encode request: %s", err)
	}
	resp, err := http.Post(url, metronhttp.JSONContentType, bytes.NewReader(jsonBody))
	if err != nil {
		t.Fatalf("POST %s: %s", url, err)
	}
	defer resp.Body.Close()
	var decision metronhttp.CheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		t.Fatalf("decode decision: %s", err)
	}
	return resp.StatusCode, decision
}

func TestCheckWrite(t *testing.T) {
	ts := newServer(t)

	cases := []struct {
		Name   string
		In     metronhttp.CheckWriteRequest
		Status int
	}{
		{
			Name: "OverQuotaDenied",
			In: metronhttp.CheckWriteRequest{
				Targets: []enforce.WriteTarget{{Relation: "orders", AddsData: true}},
			},
			Status: http.StatusInsufficientStorage,
		}, {
			Name: "UnderQuotaAllowed",
			In: metronhttp.CheckWriteRequest{
				Scope:   "testdb",
				Targets: []enforce.WriteTarget{{Relation: "orders", AddsData: true}},
			},
			Status: http.StatusOK,
		}, {
			Name: "ReadOnlyAllowed",
			In: metronhttp.CheckWriteRequest{
				Targets: []enforce.WriteTarget{{Relation: "orders"}},
			},
			Status: http.StatusOK,
		},
	}

	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			status, decision := postCheck(t, ts.URL+"/check/write", c.In)
			if status != c.Status {
				t.Errorf("HTTP %d, expected %d", status, c.Status)
			}
			if decision.Allowed != (c.Status == http.StatusOK) {
				t.Errorf("allowed=%v under HTTP %d", decision.Allowed, status)
			}
		})
	}
}

func TestCheckExtend(t *testing.T) {
	ts := newServer(t)

	cases := []struct {
		Name   string
		In     metronhttp.CheckExtendRequest
		Status int
	}{
		{"OwnerOverQuota", metronhttp.CheckExtendRequest{Handle: "16384"}, http.StatusInsufficientStorage},
		{"UnresolvedOwnerFailsOpen", metronhttp.CheckExtendRequest{Handle: "999"}, http.StatusOK},
	}

	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			status, decision := postCheck(t, ts.URL+"/check/extend", c.In)
			if status != c.Status {
				t.Errorf("HTTP %d, expected %d", status, c.Status)
			}
			if decision.Allowed != (c.Status == http.StatusOK) {
				t.Errorf("allowed=%v under HTTP %d", decision.Allowed, status)
			}
		})
	}
}
