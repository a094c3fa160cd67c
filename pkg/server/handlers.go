package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-identity/pkg/cluster"
	"github.com/dd0wney/cluso-identity/pkg/conflict"
	"github.com/dd0wney/cluso-identity/pkg/logging"
	"github.com/dd0wney/cluso-identity/pkg/metrics"
	"github.com/dd0wney/cluso-identity/pkg/reconciler"
	"github.com/dd0wney/cluso-identity/pkg/store"
)

// healthProvider is the slice of the cluster health service the ops
// handlers need.
type healthProvider interface {
	CheckHealth(ctx context.Context) cluster.HealthSnapshot
	GetCachedHealth() *cluster.HealthSnapshot
	IsIsolated() cluster.IsolationStatus
}

// conflictService is the slice of the conflict detector the ops handlers
// need.
type conflictService interface {
	GetAllConflicts(ctx context.Context) ([]conflict.Report, error)
	Analyze(ctx context.Context, recordID string) (*conflict.Report, error)
	Resolve(ctx context.Context, recordID, winningRev string, losingRevs []string) (*conflict.Outcome, error)
}

// reconcileService is the slice of the sync status reconciler the ops
// handlers need.
type reconcileService interface {
	Run(ctx context.Context) (reconciler.SweepResult, error)
	ReconcileOne(ctx context.Context, recordID string) (store.SyncStatus, error)
}

// OpsHandler serves the monitor's small operator API.
type OpsHandler struct {
	health     healthProvider
	conflicts  conflictService
	reconciler reconcileService
	logger     logging.Logger
}

// NewOpsHandler creates the operator API handler.
func NewOpsHandler(
	health *cluster.HealthService,
	conflicts *conflict.Detector,
	rec *reconciler.Reconciler,
	logger logging.Logger,
) *OpsHandler {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &OpsHandler{
		health:     health,
		conflicts:  conflicts,
		reconciler: rec,
		logger:     logger.With(logging.Component("ops-api")),
	}
}

// Routes returns the ops API mux, including the Prometheus scrape
// endpoint.
func (h *OpsHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/isolation", h.handleIsolation)
	mux.HandleFunc("/conflicts", h.handleConflicts)
	mux.HandleFunc("/conflicts/", h.handleConflictByID)
	mux.HandleFunc("/conflicts/resolve", h.handleResolve)
	mux.HandleFunc("/sync-status/", h.handleReconcileOne)
	mux.HandleFunc("/sync-status/reconcile", h.handleReconcileAll)
	mux.Handle("/metrics", promhttp.HandlerFor(
		metrics.DefaultRegistry().GetPrometheusRegistry(),
		promhttp.HandlerOpts{},
	))
	return mux
}

// handleHealth returns the latest health snapshot, running a fresh check
// when no cached one exists yet. Critical network health maps to 503 so
// load balancers can react.
func (h *OpsHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	snapshot := h.health.GetCachedHealth()
	if snapshot == nil {
		fresh := h.health.CheckHealth(r.Context())
		snapshot = &fresh
	}

	status := http.StatusOK
	if snapshot.Network == cluster.NetworkCritical {
		status = http.StatusServiceUnavailable
	}
	h.respondJSON(w, status, snapshot)
}

func (h *OpsHandler) handleIsolation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	h.respondJSON(w, http.StatusOK, h.health.IsIsolated())
}

type conflictListResponse struct {
	Conflicts []conflict.Report `json:"conflicts"`
	Count     int               `json:"count"`
}

func (h *OpsHandler) handleConflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	reports, err := h.conflicts.GetAllConflicts(r.Context())
	if err != nil {
		h.respondStoreError(w, "list conflicts", err)
		return
	}
	if reports == nil {
		reports = []conflict.Report{}
	}
	h.respondJSON(w, http.StatusOK, conflictListResponse{Conflicts: reports, Count: len(reports)})
}

// handleConflictByID serves GET /conflicts/{record_id}, a single-record
// conflict analysis.
func (h *OpsHandler) handleConflictByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	recordID := strings.TrimPrefix(r.URL.Path, "/conflicts/")
	if recordID == "" || recordID == "resolve" {
		h.respondError(w, http.StatusBadRequest, "Record ID required")
		return
	}

	report, err := h.conflicts.Analyze(r.Context(), recordID)
	if err != nil {
		var noConflict *conflict.NoConflictError
		if errors.As(err, &noConflict) {
			h.respondError(w, http.StatusNotFound, "Record has no conflicts")
			return
		}
		h.respondStoreError(w, "analyze conflict", err)
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

type resolveRequest struct {
	RecordID   string   `json:"record_id"`
	WinningRev string   `json:"winning_rev"`
	LosingRevs []string `json:"losing_revs,omitempty"`
}

type resolveResponse struct {
	*conflict.Outcome
	Partial bool   `json:"partial,omitempty"`
	Message string `json:"message,omitempty"`
}

// handleResolve applies an operator-chosen resolution. A partial outcome
// (winner written, some losers still present) returns 502 with the outcome
// attached so the operator can retry the remainder.
func (h *OpsHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.RecordID == "" || req.WinningRev == "" {
		h.respondError(w, http.StatusBadRequest, "record_id and winning_rev are required")
		return
	}

	outcome, err := h.conflicts.Resolve(r.Context(), req.RecordID, req.WinningRev, req.LosingRevs)
	if err != nil {
		var partial *conflict.PartialResolutionError
		switch {
		case errors.As(err, &partial):
			h.respondJSON(w, http.StatusBadGateway, resolveResponse{
				Outcome: outcome,
				Partial: true,
				Message: partial.Error(),
			})
		case errors.Is(err, conflict.ErrNoConflict):
			h.respondError(w, http.StatusConflict, "Record has no conflicts to resolve")
		case errors.Is(err, store.ErrStaleRevision):
			h.respondError(w, http.StatusConflict, "Winning revision is no longer current")
		default:
			h.respondStoreError(w, "resolve conflict", err)
		}
		return
	}
	h.respondJSON(w, http.StatusOK, resolveResponse{Outcome: outcome})
}

type reconcileOneResponse struct {
	RecordID   string           `json:"record_id"`
	SyncStatus store.SyncStatus `json:"sync_status"`
}

// handleReconcileOne serves POST /sync-status/{record_id}/reconcile.
func (h *OpsHandler) handleReconcileOne(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/sync-status/")
	recordID, ok := strings.CutSuffix(path, "/reconcile")
	if !ok || recordID == "" {
		h.respondError(w, http.StatusNotFound, "Expected /sync-status/{record_id}/reconcile")
		return
	}

	status, err := h.reconciler.ReconcileOne(r.Context(), recordID)
	if err != nil {
		h.respondStoreError(w, "reconcile record", err)
		return
	}
	h.respondJSON(w, http.StatusOK, reconcileOneResponse{RecordID: recordID, SyncStatus: status})
}

// handleReconcileAll triggers a full sweep on demand.
func (h *OpsHandler) handleReconcileAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	result, err := h.reconciler.Run(r.Context())
	if err != nil {
		h.respondStoreError(w, "run sweep", err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// respondStoreError maps store-boundary errors onto HTTP statuses.
func (h *OpsHandler) respondStoreError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", logging.Error(err))
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "Record not found")
	case store.IsTransient(err):
		h.respondError(w, http.StatusServiceUnavailable, "Document store unavailable")
	default:
		h.respondError(w, http.StatusInternalServerError, "Internal error")
	}
}

// ErrorResponse is the JSON shape of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (h *OpsHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encoding response failed", logging.Error(err))
	}
}

func (h *OpsHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
