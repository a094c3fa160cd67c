package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dd0wney/cluso-identity/pkg/logging"
	"github.com/dd0wney/cluso-identity/pkg/metrics"
)

// Configuration errors
var (
	ErrMissingFeedURL  = errors.New("status feed URL cannot be empty")
	ErrInvalidPollTime = errors.New("poll timeout must be positive")
)

// FeedConfig configures the HTTP client for the replication status feed.
type FeedConfig struct {
	BaseURL     string        // e.g. http://store.instance-a.internal:5984
	PollTimeout time.Duration // ceiling on one poll; a timed-out feed reads as unavailable
}

// DefaultFeedConfig returns a safe default configuration. The poll timeout
// is short on purpose: an unreachable feed should register quickly, not
// hang the health check.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		PollTimeout: 3 * time.Second,
	}
}

// Validate checks if the configuration is usable.
func (c *FeedConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrMissingFeedURL
	}
	if c.PollTimeout <= 0 {
		return ErrInvalidPollTime
	}
	return nil
}

// Feed polls the store's replication scheduler for link status.
type Feed struct {
	cfg     FeedConfig
	http    *http.Client
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewFeed creates a status feed client.
func NewFeed(cfg FeedConfig, logger logging.Logger) (*Feed, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Feed{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.PollTimeout},
		logger:  logger.With(logging.Component("status-feed")),
		metrics: metrics.DefaultRegistry(),
	}, nil
}

// schedulerJob is the wire shape of one replication job in the feed.
type schedulerJob struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	State  string `json:"state"`
	Info   struct {
		DocsWritten    int64 `json:"docs_written"`
		ChangesPending int64 `json:"changes_pending"`
	} `json:"info"`
	LastUpdated time.Time `json:"last_updated"`
	History     []struct {
		Type      string    `json:"type"`
		Timestamp time.Time `json:"timestamp"`
		Reason    string    `json:"reason,omitempty"`
	} `json:"history,omitempty"`
}

type schedulerResponse struct {
	Jobs []schedulerJob `json:"jobs"`
}

// ListLinks polls the scheduler feed once and maps every job onto a Link.
// Any failure comes back wrapped in ErrFeedUnavailable.
func (f *Feed) ListLinks(ctx context.Context) ([]Link, error) {
	url := f.cfg.BaseURL + "/_scheduler/jobs"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		f.metrics.StatusFeedErrorsTotal.Inc()
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.metrics.StatusFeedErrorsTotal.Inc()
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: feed returned %d", ErrFeedUnavailable, resp.StatusCode)
	}

	var sched schedulerResponse
	if err := json.NewDecoder(resp.Body).Decode(&sched); err != nil {
		f.metrics.StatusFeedErrorsTotal.Inc()
		return nil, fmt.Errorf("%w: decode: %v", ErrFeedUnavailable, err)
	}

	links := make([]Link, 0, len(sched.Jobs))
	stateCounts := make(map[string]int)
	for _, job := range sched.Jobs {
		link := Link{
			ID:              job.ID,
			Source:          job.Source,
			Target:          job.Target,
			State:           mapJobState(job.State),
			DocsTransferred: job.Info.DocsWritten,
			ChangesPending:  job.Info.ChangesPending,
			LastActivity:    job.LastUpdated,
		}
		for _, ev := range job.History {
			if ev.Type == "crashed" && ev.Reason != "" {
				link.RecentErrors = append(link.RecentErrors, ev.Reason)
			}
		}
		stateCounts[string(link.State)]++
		f.metrics.ReplicationDocsPending.WithLabelValues(link.ID).Set(float64(link.ChangesPending))
		links = append(links, link)
	}
	f.metrics.UpdateLinkStates(stateCounts)

	return links, nil
}

// mapJobState normalizes feed job states onto link states. Unknown states
// read as error rather than healthy.
func mapJobState(state string) LinkState {
	switch state {
	case "running", "started":
		return LinkStateRunning
	case "retrying", "crashing", "pending":
		return LinkStateRetrying
	case "completed":
		return LinkStateCompleted
	case "failed":
		return LinkStateFailed
	case "error", "crashed":
		return LinkStateError
	default:
		return LinkStateError
	}
}
