package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dd0wney/cluso-identity/pkg/logging"
	"github.com/dd0wney/cluso-identity/pkg/metrics"
)

// Configuration errors
var (
	ErrMissingBaseURL  = errors.New("store base URL cannot be empty")
	ErrMissingDatabase = errors.New("store database name cannot be empty")
	ErrShortAuthSecret = errors.New("store auth secret must be at least 32 characters")
	ErrInvalidTimeout  = errors.New("request timeout must be positive")
)

// Internal status sentinels mapped by callers onto typed errors.
var (
	errStatusNotFound = errors.New("document not found")
	errStatusConflict = errors.New("document update conflict")
)

// ClientConfig configures the HTTP client for the replicated document store.
type ClientConfig struct {
	BaseURL        string        // e.g. http://store.instance-a.internal:5984
	Database       string        // database holding the identity records
	AuthSubject    string        // principal asserted by the minted store token
	AuthSecret     string        // shared HMAC secret for store JWT auth
	TokenTTL       time.Duration // lifetime of minted tokens
	RequestTimeout time.Duration // per-request ceiling, on top of caller contexts
	QueryLimit     int           // page size for _find queries
}

// DefaultClientConfig returns a safe default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Database:       "identity",
		TokenTTL:       5 * time.Minute,
		RequestTimeout: 5 * time.Second,
		QueryLimit:     1000,
	}
}

// Validate checks if the configuration is usable.
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	if c.Database == "" {
		return ErrMissingDatabase
	}
	if len(c.AuthSecret) < 32 {
		return ErrShortAuthSecret
	}
	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// Client talks to a CouchDB-style replicated document store over HTTP.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	logger  logging.Logger
	metrics *metrics.Registry

	tokens *tokenSource
}

// NewClient creates a document store client.
func NewClient(cfg ClientConfig, logger logging.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger.With(logging.Component("store")),
		metrics: metrics.DefaultRegistry(),
		tokens:  newTokenSource(cfg.AuthSubject, cfg.AuthSecret, cfg.TokenTTL),
	}, nil
}

// Get fetches the current winning revision of a record.
func (c *Client) Get(ctx context.Context, id string) (*Record, error) {
	return c.getRecord(ctx, "Get", id, nil)
}

// GetWithConflicts fetches the current revision plus live conflict IDs.
func (c *Client) GetWithConflicts(ctx context.Context, id string) (*Record, error) {
	return c.getRecord(ctx, "GetWithConflicts", id, url.Values{"conflicts": {"true"}})
}

// GetRevision fetches one specific revision of a record.
func (c *Client) GetRevision(ctx context.Context, id, rev string) (*Record, error) {
	return c.getRecord(ctx, "GetRevision", id, url.Values{"rev": {rev}})
}

func (c *Client) getRecord(ctx context.Context, op, id string, query url.Values) (*Record, error) {
	var rec Record
	err := c.do(ctx, op, http.MethodGet, c.docPath(id), query, nil, &rec)
	if err != nil {
		if errors.Is(err, errStatusNotFound) {
			return nil, fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
		}
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%s %s: invalid document: %w", op, id, err)
	}
	return &rec, nil
}

// Put writes a record against its current Rev and returns the new revision.
func (c *Client) Put(ctx context.Context, rec *Record) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", fmt.Errorf("Put %s: %w", rec.ID, err)
	}

	var resp struct {
		OK  bool   `json:"ok"`
		ID  string `json:"id"`
		Rev string `json:"rev"`
	}
	err := c.do(ctx, "Put", http.MethodPut, c.docPath(rec.ID), nil, rec, &resp)
	if err != nil {
		if errors.Is(err, errStatusConflict) {
			return "", &StaleRevisionError{RecordID: rec.ID, Rev: rec.Rev}
		}
		if errors.Is(err, errStatusNotFound) {
			return "", fmt.Errorf("Put %s: %w", rec.ID, ErrNotFound)
		}
		return "", err
	}
	return resp.Rev, nil
}

// Delete retires one revision of a record.
func (c *Client) Delete(ctx context.Context, id, rev string) error {
	err := c.do(ctx, "Delete", http.MethodDelete, c.docPath(id), url.Values{"rev": {rev}}, nil, nil)
	if err != nil {
		if errors.Is(err, errStatusConflict) {
			return &StaleRevisionError{RecordID: id, Rev: rev}
		}
		if errors.Is(err, errStatusNotFound) {
			return fmt.Errorf("Delete %s: %w", id, ErrNotFound)
		}
		return err
	}
	return nil
}

type findRequest struct {
	Selector  map[string]any `json:"selector"`
	Limit     int            `json:"limit"`
	Bookmark  string         `json:"bookmark,omitempty"`
	Conflicts bool           `json:"conflicts,omitempty"`
}

type findResponse struct {
	Docs     []json.RawMessage `json:"docs"`
	Bookmark string            `json:"bookmark"`
}

// QueryModifiedSince returns records of the given kinds modified at or after
// since, following pagination bookmarks until the result set is exhausted.
// Documents that fail boundary validation are skipped with a warning rather
// than failing the whole query.
func (c *Client) QueryModifiedSince(ctx context.Context, since time.Time, kinds []Kind) ([]*Record, error) {
	if len(kinds) == 0 {
		kinds = AllKinds
	}
	kindNames := make([]string, len(kinds))
	for i, k := range kinds {
		kindNames[i] = string(k)
	}

	selector := map[string]any{
		"kind": map[string]any{"$in": kindNames},
	}
	if !since.IsZero() {
		selector["instance_metadata.last_modified_at"] = map[string]any{
			"$gte": since.UTC().Format(time.RFC3339Nano),
		}
	}

	return c.find(ctx, "QueryModifiedSince", selector, false)
}

// QueryConflicted returns every record of the given kinds carrying live
// conflicting revisions.
func (c *Client) QueryConflicted(ctx context.Context, kinds []Kind) ([]*Record, error) {
	if len(kinds) == 0 {
		kinds = AllKinds
	}
	kindNames := make([]string, len(kinds))
	for i, k := range kinds {
		kindNames[i] = string(k)
	}

	selector := map[string]any{
		"kind":       map[string]any{"$in": kindNames},
		"_conflicts": map[string]any{"$exists": true},
	}

	recs, err := c.find(ctx, "QueryConflicted", selector, true)
	if err != nil {
		return nil, err
	}
	// The store can resolve a conflict between selecting and serving; drop
	// records whose conflict list came back empty.
	out := recs[:0]
	for _, rec := range recs {
		if len(rec.ConflictRevs) > 0 {
			out = append(out, rec)
		}
	}
	return out, nil
}

// find runs one paged _find query, following bookmarks until exhausted.
func (c *Client) find(ctx context.Context, op string, selector map[string]any, conflicts bool) ([]*Record, error) {
	var out []*Record
	bookmark := ""
	for {
		req := findRequest{
			Selector:  selector,
			Limit:     c.cfg.QueryLimit,
			Bookmark:  bookmark,
			Conflicts: conflicts,
		}
		var resp findResponse
		if err := c.do(ctx, op, http.MethodPost, c.dbPath("_find"), nil, req, &resp); err != nil {
			return nil, err
		}

		for _, raw := range resp.Docs {
			var rec Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				c.logger.Warn("skipping undecodable document", logging.Error(err))
				continue
			}
			if err := rec.Validate(); err != nil {
				c.logger.Warn("skipping invalid document",
					logging.RecordID(rec.ID), logging.Error(err))
				continue
			}
			out = append(out, &rec)
		}

		if len(resp.Docs) < c.cfg.QueryLimit || resp.Bookmark == "" {
			return out, nil
		}
		bookmark = resp.Bookmark
	}
}

func (c *Client) docPath(id string) string {
	return c.dbPath(url.PathEscape(id))
}

func (c *Client) dbPath(tail string) string {
	return fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, url.PathEscape(c.cfg.Database), tail)
}

// do performs one authenticated round trip. Transport failures and 5xx
// responses come back as TransientError; 404 and 409 come back as the
// internal status sentinels for the caller to map onto typed errors.
func (c *Client) do(ctx context.Context, op, method, rawURL string, query url.Values, body, out any) error {
	start := time.Now()
	status := "error"
	defer func() {
		c.metrics.RecordStoreRequest(op, status, time.Since(start))
	}()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	if len(query) > 0 {
		rawURL = rawURL + "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("%s: mint store token: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		status = "transient"
		return &TransientError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		status = "ok"
	case resp.StatusCode == http.StatusNotFound:
		status = "not_found"
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s: %w", op, errStatusNotFound)
	case resp.StatusCode == http.StatusConflict:
		status = "stale"
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s: %w", op, errStatusConflict)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case resp.StatusCode >= 500:
		status = "transient"
		io.Copy(io.Discard, resp.Body)
		return &TransientError{Op: op, Cause: fmt.Errorf("store returned %d", resp.StatusCode)}
	default:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			status = "error"
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return nil
}
