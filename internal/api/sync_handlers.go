package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/loansync/internal/types"
)

const (
	messageSyncCompleted = "Sync completed"
	messageNothingToSync = "No new records to sync"
)

// TriggerSync handles POST /api/v1/sync/{target}
// The run ignores request cancellation; a client disconnect does not stop it.
// DrainRuns waits for such runs.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	target := MustTargetFromContext(r.Context())

	h.runs.Add(1)
	result, err := h.svc.Run(context.WithoutCancel(r.Context()), target.ID)
	h.runs.Done()
	if err != nil {
		slog.Warn("sync trigger failed",
			"component", "api",
			"target", target.ID,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		MapSyncError(w, r, err, result)
		return
	}

	message := messageSyncCompleted
	if result.SyncedCount == 0 {
		message = messageNothingToSync
	}

	writeJSON(w, http.StatusOK, syncResponse(message, result))
}

// DrainRuns blocks until every manual sync run started by TriggerSync has
// returned, or ctx is done.
func (h *Handler) DrainRuns(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SyncStatus handles GET /api/v1/sync/{target}
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	target := MustTargetFromContext(r.Context())

	status, err := h.svc.Status(r.Context(), target.ID)
	if err != nil {
		slog.Error("sync status failed", "target", target.ID, "error", err)
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// ListTargets handles GET /api/v1/sync
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"targets": h.svc.Targets().IDs()})
}

func syncResponse(message string, result *types.SyncResult) types.SyncResponse {
	return types.SyncResponse{
		Message:      message,
		SyncedCount:  result.SyncedCount,
		FailedCount:  result.FailedCount,
		Pages:        result.Pages,
		Cursor:       result.Cursor,
		LockReleased: result.LockReleased,
		DurationMS:   result.Duration.Milliseconds(),
	}
}
