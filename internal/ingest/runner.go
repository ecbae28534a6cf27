package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"roster/internal/identity"
	"roster/internal/logging"
)

// Batch is one fetch from a connector. NextCursor is what the following
// fetch should resume from; empty keeps the current cursor.
type Batch struct {
	Records    []identity.IdentityUpsert
	NextCursor string
}

// Connector pulls identity records from one external system.
type Connector interface {
	Source() string
	Fetch(ctx context.Context, cursor string) (Batch, error)
}

// IdentityStore is the identity persistence a Runner needs.
type IdentityStore interface {
	LockStore
	UpsertIdentity(ctx context.Context, orgID string, in identity.IdentityUpsert) (identity.Identity, error)
}

// Result reports one connector run.
type Result struct {
	Source   string `json:"source"`
	Upserted int    `json:"upserted"`
	Errors   int    `json:"errors"`
	Skipped  bool   `json:"skipped"`
}

// Runner syncs connectors into the store under their watermark lock.
type Runner struct {
	store  IdentityStore
	guard  *Guard
	logger *slog.Logger
}

// NewRunner returns a Runner backed by store.
func NewRunner(store IdentityStore, logger *slog.Logger) *Runner {
	return &Runner{
		store:  store,
		guard:  NewGuard(store, logger),
		logger: logging.NewComponentLogger(logger, "ingest"),
	}
}

// Run fetches one batch from connector and upserts its records. A fetch error
// fails the run; record errors are counted and hold the cursor back.
func (r *Runner) Run(ctx context.Context, orgID string, connector Connector) (Result, error) {
	source := connector.Source()
	res := Result{Source: source}
	logger := r.logger.With(logging.String(logging.FieldOrgID, orgID), logging.String(logging.FieldSource, source))

	ran, err := r.guard.Exclusive(ctx, orgID, source, func(ctx context.Context, cursor string) (string, error) {
		batch, err := connector.Fetch(ctx, cursor)
		if err != nil {
			return "", fmt.Errorf("fetch %s: %w", source, err)
		}
		for _, rec := range batch.Records {
			if rec.Source == "" {
				rec.Source = source
			}
			if _, err := r.store.UpsertIdentity(ctx, orgID, rec); err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				res.Errors++
				logging.WarnWithContext(logger, "identity upsert failed", "identity_upsert_failed",
					logging.String("external_id", rec.ExternalID),
					logging.String(logging.FieldErrorKind, identity.Kind(err)),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check the record in the source export"),
					logging.String(logging.FieldImpact, "this account is not matched until the record is fixed"),
				)
				continue
			}
			res.Upserted++
		}
		// A failed record keeps the old cursor so the next run retries it.
		if batch.NextCursor == "" || res.Errors > 0 {
			return cursor, nil
		}
		return batch.NextCursor, nil
	})
	if err != nil {
		return res, err
	}
	res.Skipped = !ran
	logger.Info("sync finished",
		logging.String(logging.FieldEventType, "sync_complete"),
		logging.Int("upserted", res.Upserted),
		logging.Int("errors", res.Errors),
		logging.Bool("skipped", res.Skipped),
	)
	return res, nil
}
