package ingest

import (
	"context"
	"log/slog"

	"roster/internal/identity"
	"roster/internal/logging"
)

// LockStore is the watermark persistence a Guard needs.
type LockStore interface {
	GetOrCreateWatermark(ctx context.Context, orgID, source string) (identity.Watermark, error)
	AcquireLock(ctx context.Context, orgID, source string) (*identity.Watermark, error)
	MarkCompleted(ctx context.Context, id, cursor string) error
	MarkFailed(ctx context.Context, id, message string) error
}

// Guard runs work under the sync watermark lock of one (org, source).
type Guard struct {
	store  LockStore
	logger *slog.Logger
}

// NewGuard returns a Guard backed by store.
func NewGuard(store LockStore, logger *slog.Logger) *Guard {
	return &Guard{store: store, logger: logging.NewComponentLogger(logger, "sync")}
}

// Exclusive acquires the watermark lock and calls fn with the stored cursor.
// When the lock is already held it returns ran=false without calling fn. The
// cursor fn returns is recorded on success; its error is recorded on failure
// and returned.
func (g *Guard) Exclusive(ctx context.Context, orgID, source string, fn func(ctx context.Context, cursor string) (string, error)) (bool, error) {
	logger := g.logger.With(logging.String(logging.FieldOrgID, orgID), logging.String(logging.FieldSource, source))

	wm, err := g.store.GetOrCreateWatermark(ctx, orgID, source)
	if err != nil {
		return false, err
	}
	held, err := g.store.AcquireLock(ctx, orgID, source)
	if err != nil {
		return false, err
	}
	if held == nil {
		logger.Info("sync skipped, lock held by another run",
			logging.String(logging.FieldEventType, "sync_skipped"),
		)
		return false, nil
	}

	next, runErr := fn(ctx, held.Cursor)
	if runErr != nil {
		// Record the failure even when ctx was cancelled mid-run.
		if err := g.store.MarkFailed(context.WithoutCancel(ctx), wm.ID, runErr.Error()); err != nil {
			logging.ErrorWithContext(logger, "failed to release sync lock", "sync_release_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run `roster sync reclaim` once the database is reachable"),
			)
		}
		logger.Warn("sync failed",
			logging.String(logging.FieldEventType, "sync_failed"),
			logging.Error(runErr),
			logging.String(logging.FieldErrorHint, "fix the source and rerun; the previous cursor is kept"),
			logging.String(logging.FieldImpact, "identities from this source are not refreshed"),
		)
		return true, runErr
	}
	if err := g.store.MarkCompleted(context.WithoutCancel(ctx), wm.ID, next); err != nil {
		return true, err
	}
	logger.Debug("sync lock released", logging.String("cursor", next))
	return true, nil
}
