package replication

import (
	"context"
	"net/url"
	"strings"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/dd0wney/cluso-identity/pkg/logging"
	"github.com/dd0wney/cluso-identity/pkg/metrics"
)

// InstanceState classifies a peer's reachability.
type InstanceState string

const (
	InstanceActive      InstanceState = "active"
	InstanceUnreachable InstanceState = "unreachable"
)

// LinkView is one replication link attributed to a peer.
type LinkView struct {
	Link
	PeerID    string        `json:"peer_id"`
	Direction LinkDirection `json:"direction"`
	Healthy   bool          `json:"healthy"`
}

// PeerInstance aggregates every link touching one peer.
type PeerInstance struct {
	ID       string        `json:"id"`
	Local    bool          `json:"local"`
	Status   InstanceState `json:"status"`
	LastSeen time.Time     `json:"last_seen"`
	Links    []LinkView    `json:"links,omitempty"`
}

// InstanceReport is the structured reachability view over all peers.
type InstanceReport struct {
	Instances            []PeerInstance `json:"instances"`
	TotalInstances       int            `json:"total_instances"`
	ActiveInstances      int            `json:"active_instances"`
	UnreachableInstances int            `json:"unreachable_instances"`
	Degraded             bool           `json:"degraded"` // feed was unreachable; view is local-only
}

// UnreachablePeerIDs returns the IDs of every unreachable peer, sorted.
func (r *InstanceReport) UnreachablePeerIDs() []string {
	var out []string
	for _, inst := range r.Instances {
		if inst.Status == InstanceUnreachable {
			out = append(out, inst.ID)
		}
	}
	return out
}

// InstanceMonitor turns the flat link list from the status feed into a
// structured per-peer reachability view.
type InstanceMonitor struct {
	source  StatusSource
	localID string
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewInstanceMonitor creates an instance monitor for the given local
// instance identifier.
func NewInstanceMonitor(source StatusSource, localID string, logger logging.Logger) *InstanceMonitor {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &InstanceMonitor{
		source:  source,
		localID: localID,
		logger:  logger.With(logging.Component("instance-monitor")),
		metrics: metrics.DefaultRegistry(),
	}
}

// GetInstanceStatus fetches the link list and classifies every peer. If the
// feed is unreachable the monitor reports its own inability to observe as a
// degraded local-only view with zero unreachable peers, never as "everyone
// is down", and never returns an error.
func (m *InstanceMonitor) GetInstanceStatus(ctx context.Context) InstanceReport {
	links, err := m.source.ListLinks(ctx)
	if err != nil {
		m.logger.Warn("status feed unreachable, reporting local-only view",
			logging.Error(err))
		return m.degradedReport()
	}

	byPeer := make(map[string][]LinkView)
	for _, link := range links {
		peerID, direction, ok := m.attributeLink(link)
		if !ok {
			m.logger.Debug("could not attribute link to a peer",
				logging.LinkID(link.ID))
			continue
		}
		byPeer[peerID] = append(byPeer[peerID], LinkView{
			Link:      link,
			PeerID:    peerID,
			Direction: direction,
			Healthy:   link.State.Healthy(),
		})
	}

	report := InstanceReport{}

	// Local instance first, always active
	report.Instances = append(report.Instances, PeerInstance{
		ID:       m.localID,
		Local:    true,
		Status:   InstanceActive,
		LastSeen: time.Now(),
	})

	peerIDs := maps.Keys(byPeer)
	slices.Sort(peerIDs)
	for _, peerID := range peerIDs {
		peerLinks := byPeer[peerID]
		inst := PeerInstance{
			ID:     peerID,
			Status: InstanceUnreachable,
			Links:  peerLinks,
		}
		for _, lv := range peerLinks {
			if lv.Healthy {
				inst.Status = InstanceActive
			}
			if lv.LastActivity.After(inst.LastSeen) {
				inst.LastSeen = lv.LastActivity
			}
		}
		report.Instances = append(report.Instances, inst)
	}

	for _, inst := range report.Instances {
		report.TotalInstances++
		if inst.Status == InstanceActive {
			report.ActiveInstances++
		} else {
			report.UnreachableInstances++
		}
	}

	m.metrics.UpdateInstanceCounts(report.TotalInstances, report.ActiveInstances, report.UnreachableInstances)
	return report
}

// degradedReport describes only the local instance, with zero unreachable
// peers: inability to observe is "unknown", not "down".
func (m *InstanceMonitor) degradedReport() InstanceReport {
	report := InstanceReport{
		Instances: []PeerInstance{{
			ID:       m.localID,
			Local:    true,
			Status:   InstanceActive,
			LastSeen: time.Now(),
		}},
		TotalInstances:       1,
		ActiveInstances:      1,
		UnreachableInstances: 0,
		Degraded:             true,
	}
	m.metrics.UpdateInstanceCounts(1, 1, 0)
	return report
}

// attributeLink extracts the peer ID and direction of a link. The feed's
// declared identifier convention is "{source}->{target}" with instance IDs;
// links that don't follow it fall back to hostname extraction from the
// source/target addresses.
func (m *InstanceMonitor) attributeLink(link Link) (string, LinkDirection, bool) {
	if src, dst, found := strings.Cut(link.ID, "->"); found {
		switch {
		case src == m.localID:
			return dst, DirectionOutbound, dst != ""
		case dst == m.localID:
			return src, DirectionInbound, src != ""
		}
	}

	srcHost := hostID(link.Source)
	dstHost := hostID(link.Target)
	switch {
	case srcHost == m.localID && dstHost != "":
		return dstHost, DirectionOutbound, true
	case dstHost == m.localID && srcHost != "":
		return srcHost, DirectionInbound, true
	case srcHost != "" && srcHost != m.localID:
		return srcHost, DirectionInbound, true
	case dstHost != "" && dstHost != m.localID:
		return dstHost, DirectionOutbound, true
	}
	return "", "", false
}

// hostID reduces an endpoint descriptor to an instance identifier: for URLs
// the first label of the hostname, otherwise the descriptor itself.
func hostID(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return ""
		}
		host := u.Hostname()
		if i := strings.IndexByte(host, '.'); i > 0 {
			return host[:i]
		}
		return host
	}
	return endpoint
}
