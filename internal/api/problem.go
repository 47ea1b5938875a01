package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/loansync/internal/store"
	"github.com/hyperengineering/loansync/internal/syncer"
	"github.com/hyperengineering/loansync/internal/types"
	"github.com/hyperengineering/loansync/internal/upstream"
	"github.com/hyperengineering/loansync/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusUnauthorized: {
		typeURI: "https://loansync.dev/errors/unauthorized",
		title:   "Unauthorized",
	},
	http.StatusBadRequest: {
		typeURI: "https://loansync.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusNotFound: {
		typeURI: "https://loansync.dev/errors/not-found",
		title:   "Not Found",
	},
	http.StatusUnprocessableEntity: {
		typeURI: "https://loansync.dev/errors/validation-error",
		title:   "Validation Error",
	},
	http.StatusInternalServerError: {
		typeURI: "https://loansync.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
	http.StatusServiceUnavailable: {
		typeURI: "https://loansync.dev/errors/service-unavailable",
		title:   "Service Unavailable",
	},
	http.StatusTooManyRequests: {
		typeURI: "https://loansync.dev/errors/rate-limited",
		title:   "Too Many Requests",
	},
}

func newProblem(r *http.Request, status int, detail string) Problem {
	pt, ok := problemTypes[status]
	if !ok {
		pt = struct {
			typeURI string
			title   string
		}{
			typeURI: "https://loansync.dev/errors/unknown",
			title:   http.StatusText(status),
		}
	}
	return Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblemBody(w, status, newProblem(r, status, detail))
}

func writeProblemBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	writeProblemBody(w, http.StatusUnprocessableEntity, ProblemWithErrors{
		Problem: newProblem(r, http.StatusUnprocessableEntity, detail),
		Errors:  errs,
	})
}

const syncInProgressType = "https://loansync.dev/errors/sync-in-progress"

// SyncProblem extends Problem with the {error, details} pair sync clients read.
type SyncProblem struct {
	Problem
	Error       string `json:"error"`
	Details     string `json:"details,omitempty"`
	SyncedCount *int   `json:"synced_count,omitempty"`
}

// WriteSyncProblem writes a sync failure. result may be nil when no work was done.
func WriteSyncProblem(w http.ResponseWriter, r *http.Request, status int, message, details string, result *types.SyncResult) {
	p := SyncProblem{
		Problem: newProblem(r, status, message),
		Error:   message,
		Details: details,
	}
	if status == http.StatusTooManyRequests {
		p.Type = syncInProgressType
	}
	if result != nil {
		n := result.SyncedCount
		p.SyncedCount = &n
	}
	writeProblemBody(w, status, p)
}

// MapSyncError converts orchestrator errors to sync problem responses.
func MapSyncError(w http.ResponseWriter, r *http.Request, err error, result *types.SyncResult) {
	switch {
	case errors.Is(err, syncer.ErrAlreadyRunning):
		WriteSyncProblem(w, r, http.StatusTooManyRequests, "Sync already running", "", nil)
	case errors.Is(err, syncer.ErrUnknownTarget):
		WriteSyncProblem(w, r, http.StatusNotFound, "Unknown sync target", err.Error(), nil)
	case errors.Is(err, upstream.ErrNotConfigured):
		WriteSyncProblem(w, r, http.StatusInternalServerError, "Upstream URL is not configured", "", nil)
	default:
		WriteSyncProblem(w, r, http.StatusInternalServerError, "Sync failed", err.Error(), result)
	}
}

// MapStoreError converts domain errors to Problem Details responses.
func MapStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	case errors.Is(err, store.ErrInvalidColumns):
		WriteProblem(w, r, http.StatusBadRequest, "Unsupported filter for this table")
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
