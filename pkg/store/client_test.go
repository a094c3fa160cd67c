package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dd0wney/cluso-identity/pkg/logging"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.Database = "identity"
	cfg.AuthSubject = "monitor"
	cfg.AuthSecret = testSecret
	cfg.QueryLimit = 2

	client, err := NewClient(cfg, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, srv
}

func accountDoc(id, rev string, conflicts []string) map[string]any {
	return map[string]any{
		"_id":        id,
		"_rev":       rev,
		"_conflicts": conflicts,
		"kind":       "account",
		"instance_metadata": map[string]any{
			"created_by":       "instance-a",
			"created_at":       "2026-08-01T00:00:00Z",
			"last_modified_by": "instance-a",
			"last_modified_at": "2026-08-01T00:00:00Z",
			"version":          1,
		},
		"account": map[string]any{"username": "alice", "active": true},
	}
}

// TestGetWithConflicts verifies the conflicts query parameter and the bearer
// token on the wire.
func TestGetWithConflicts(t *testing.T) {
	var gotAuth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Query().Get("conflicts") != "true" {
			t.Errorf("Expected conflicts=true, got %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(accountDoc("account:alice", "3-abc", []string{"3-def"}))
	}))

	rec, err := client.GetWithConflicts(context.Background(), "account:alice")
	if err != nil {
		t.Fatalf("GetWithConflicts failed: %v", err)
	}
	if len(rec.ConflictRevs) != 1 || rec.ConflictRevs[0] != "3-def" {
		t.Errorf("Unexpected conflicts: %v", rec.ConflictRevs)
	}

	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Fatalf("Expected bearer auth, got %q", gotAuth)
	}
	token, err := jwt.Parse(strings.TrimPrefix(gotAuth, "Bearer "), func(tok *jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	if err != nil || !token.Valid {
		t.Errorf("Bearer token does not verify: %v", err)
	}
	if sub, _ := token.Claims.GetSubject(); sub != "monitor" {
		t.Errorf("Expected subject 'monitor', got %q", sub)
	}
}

func TestGetNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
	}))

	_, err := client.Get(context.Background(), "account:ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestPutStaleRevision verifies that a 409 surfaces as StaleRevisionError.
func TestPutStaleRevision(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"conflict"}`, http.StatusConflict)
	}))

	rec := &Record{
		ID:      "account:alice",
		Kind:    KindAccount,
		Rev:     "2-old",
		Account: &AccountFields{Username: "alice"},
	}
	_, err := client.Put(context.Background(), rec)

	var stale *StaleRevisionError
	if !errors.As(err, &stale) {
		t.Fatalf("Expected StaleRevisionError, got %v", err)
	}
	if stale.RecordID != "account:alice" || stale.Rev != "2-old" {
		t.Errorf("Unexpected stale error detail: %+v", stale)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))

	_, err := client.Get(context.Background(), "account:alice")
	if !IsTransient(err) {
		t.Errorf("Expected transient error for 503, got %v", err)
	}
}

func TestUnreachableStoreIsTransient(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.BaseURL = "http://127.0.0.1:1" // nothing listens here
	cfg.AuthSubject = "monitor"
	cfg.AuthSecret = testSecret
	cfg.RequestTimeout = 200 * time.Millisecond

	client, err := NewClient(cfg, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Get(context.Background(), "account:alice")
	if !IsTransient(err) {
		t.Errorf("Expected transient error for unreachable store, got %v", err)
	}
}

// TestQueryModifiedSince verifies the selector shape and bookmark pagination.
func TestQueryModifiedSince(t *testing.T) {
	since := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	calls := 0

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/_find") {
			t.Errorf("Expected _find path, got %s", r.URL.Path)
		}
		var req findRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode find request: %v", err)
		}

		kindSel, ok := req.Selector["kind"].(map[string]any)
		if !ok {
			t.Fatalf("Missing kind selector: %v", req.Selector)
		}
		if _, ok := kindSel["$in"]; !ok {
			t.Errorf("Expected $in kind selector, got %v", kindSel)
		}
		modSel, ok := req.Selector["instance_metadata.last_modified_at"].(map[string]any)
		if !ok || modSel["$gte"] == nil {
			t.Errorf("Expected $gte selector on last_modified_at, got %v", req.Selector)
		}

		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			// full page, more to come
			docs := []any{
				accountDoc("account:a1", "1-a", nil),
				accountDoc("account:a2", "1-b", nil),
			}
			json.NewEncoder(w).Encode(map[string]any{"docs": docs, "bookmark": "page2"})
			return
		}
		if req.Bookmark != "page2" {
			t.Errorf("Expected bookmark page2, got %q", req.Bookmark)
		}
		docs := []any{accountDoc("account:a3", "1-c", nil)}
		json.NewEncoder(w).Encode(map[string]any{"docs": docs, "bookmark": "page3"})
	}))

	recs, err := client.QueryModifiedSince(context.Background(), since, []Kind{KindAccount})
	if err != nil {
		t.Fatalf("QueryModifiedSince failed: %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("Expected 3 records across pages, got %d", len(recs))
	}
	if calls != 2 {
		t.Errorf("Expected 2 page fetches, got %d", calls)
	}
}

func TestClientConfigValidate(t *testing.T) {
	cfg := DefaultClientConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingBaseURL) {
		t.Errorf("Expected ErrMissingBaseURL, got %v", err)
	}

	cfg.BaseURL = "http://localhost:5984"
	cfg.AuthSecret = "short"
	if err := cfg.Validate(); !errors.Is(err, ErrShortAuthSecret) {
		t.Errorf("Expected ErrShortAuthSecret, got %v", err)
	}

	cfg.AuthSecret = testSecret
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestTokenSourceCaching(t *testing.T) {
	ts := newTokenSource("monitor", testSecret, time.Hour)

	tok1, err := ts.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	tok2, err := ts.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok1 != tok2 {
		t.Error("Expected cached token on second call")
	}

	// Near-expiry tokens are replaced
	ts.expires = time.Now().Add(10 * time.Second)
	tok3, err := ts.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok3 == tok1 {
		t.Error("Expected fresh token near expiry")
	}
}
