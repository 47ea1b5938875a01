package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/loansync/internal/store"
	"github.com/hyperengineering/loansync/internal/syncer"
	"github.com/hyperengineering/loansync/internal/types"
	"github.com/hyperengineering/loansync/internal/validation"
)

// SyncService runs and inspects sync targets.
// Implemented by syncer.Orchestrator.
type SyncService interface {
	Run(ctx context.Context, targetID string) (*types.SyncResult, error)
	Status(ctx context.Context, targetID string) (*types.SyncStatusResponse, error)
	Targets() *syncer.Targets
}

// Handler implements the API handlers
type Handler struct {
	store   store.Store
	svc     SyncService
	apiKey  string
	version string
	runs    sync.WaitGroup // detached manual sync runs
}

// NewHandler creates a new Handler.
func NewHandler(s store.Store, svc SyncService, apiKey, version string) *Handler {
	return &Handler{
		store:   s,
		svc:     svc,
		apiKey:  apiKey,
		version: version,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{
		Status:   "healthy",
		Version:  h.version,
		Database: "ok",
	}

	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check ping failed", "error", err)
		resp.Status = "degraded"
		resp.Database = "unreachable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListApplications handles GET /api/v1/applications
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	target, err := h.svc.Targets().Get(syncer.ApplicationRecords)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	q, errs := recordQuery(r, target)
	if len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Invalid listing parameters", errs)
		return
	}

	page, err := h.store.ListRecords(r.Context(), q)
	if err != nil {
		slog.Error("list applications failed", "error", err, "request_id", GetRequestID(r.Context()))
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// GetApplication handles GET /api/v1/applications/{id}
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		WriteProblem(w, r, http.StatusBadRequest, "id must be a positive integer")
		return
	}

	target, err := h.svc.Targets().Get(syncer.ApplicationRecords)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	rec, err := h.store.GetRecord(r.Context(), target.Table, target.Fields.Columns(), id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// recordQuery builds a listing query from URL parameters.
func recordQuery(r *http.Request, target syncer.Target) (types.RecordQuery, []validation.ValidationError) {
	params := r.URL.Query()
	f, errs := validation.ValidateListParams(validation.ListParams{
		Status:     params.Get("status"),
		BranchCode: params.Get("branch_code"),
		From:       params.Get("from"),
		To:         params.Get("to"),
		Search:     params.Get("search"),
		Order:      params.Get("order"),
		Page:       params.Get("page"),
		Limit:      params.Get("limit"),
	})
	return types.RecordQuery{
		Table:      target.Table,
		Columns:    target.Fields.Columns(),
		Status:     f.Status,
		BranchCode: f.BranchCode,
		From:       f.From,
		To:         f.To,
		Search:     f.Search,
		Ascending:  f.Ascending,
		Page:       f.Page,
		Limit:      f.Limit,
	}, errs
}
