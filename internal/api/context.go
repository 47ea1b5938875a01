package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/loansync/internal/syncer"
)

// targetContextKey is the context key for the resolved sync target.
type targetContextKey struct{}

// ErrNoTargetInContext indicates no target was found in the context.
var ErrNoTargetInContext = errors.New("no sync target in context")

// WithTarget returns a new context with the target attached.
func WithTarget(ctx context.Context, t syncer.Target) context.Context {
	return context.WithValue(ctx, targetContextKey{}, t)
}

// TargetFromContext extracts the target from the context.
func TargetFromContext(ctx context.Context) (syncer.Target, error) {
	t, ok := ctx.Value(targetContextKey{}).(syncer.Target)
	if !ok || t.ID == "" {
		return syncer.Target{}, ErrNoTargetInContext
	}
	return t, nil
}

// MustTargetFromContext extracts the target or panics.
// Use only when TargetMiddleware guarantees presence.
func MustTargetFromContext(ctx context.Context) syncer.Target {
	t, err := TargetFromContext(ctx)
	if err != nil {
		panic("target not in context: middleware misconfiguration")
	}
	return t
}

// TargetMiddleware resolves the {target} URL parameter against the registry.
// Unknown targets get a 404 sync problem.
func TargetMiddleware(targets *syncer.Targets) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t, err := targets.Get(chi.URLParam(r, "target"))
			if err != nil {
				MapSyncError(w, r, err, nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTarget(r.Context(), t)))
		})
	}
}
