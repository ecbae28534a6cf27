package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"roster/internal/identity"
	"roster/internal/logging"
)

// GetOrCreateWatermark returns the watermark for (orgID, source), creating an
// idle one on first use.
func (s *Store) GetOrCreateWatermark(ctx context.Context, orgID, source string) (identity.Watermark, error) {
	if err := requireOrg(orgID); err != nil {
		return identity.Watermark{}, err
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return identity.Watermark{}, identity.Validationf("source must not be empty")
	}
	ctx = ensureContext(ctx)
	now := formatTime(s.now())

	var out identity.Watermark
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx,
			`INSERT INTO sync_watermarks (id, org_id, source, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (org_id, source) DO NOTHING`,
			newID(), orgID, source, string(identity.WatermarkIdle), now, now,
		); err != nil {
			return err
		}
		var err error
		out, err = scanWatermark(s.queryRow(ctx, tx,
			`SELECT `+watermarkColumns+` FROM sync_watermarks WHERE org_id = ? AND source = ?`, orgID, source))
		return err
	})
	if err != nil {
		return identity.Watermark{}, identityDBError("get or create watermark", err)
	}
	return out, nil
}

// AcquireLock flips the (orgID, source) watermark to running. It returns nil
// without error when another run holds the lock or no watermark exists yet;
// create one with GetOrCreateWatermark first.
func (s *Store) AcquireLock(ctx context.Context, orgID, source string) (*identity.Watermark, error) {
	if err := requireOrg(orgID); err != nil {
		return nil, err
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, identity.Validationf("source must not be empty")
	}
	ctx = ensureContext(ctx)
	var out *identity.Watermark
	err := retryOnBusy(ctx, func() error {
		now := formatTime(s.now())
		w, err := scanWatermark(s.queryRow(ctx, s.db,
			`UPDATE sync_watermarks
			    SET status = ?, error_message = NULL, updated_at = ?
			  WHERE org_id = ? AND source = ? AND status != ?
			  RETURNING `+watermarkColumns,
			string(identity.WatermarkRunning), now, orgID, source, string(identity.WatermarkRunning)))
		if errors.Is(err, sql.ErrNoRows) {
			out = nil
			return nil
		}
		if err != nil {
			return err
		}
		out = &w
		return nil
	})
	if err != nil {
		return nil, identityDBError("acquire watermark lock", err)
	}
	return out, nil
}

// MarkCompleted releases the lock after a successful run and records the
// cursor to resume from. An empty cursor is stored as NULL.
func (s *Store) MarkCompleted(ctx context.Context, id, cursor string) error {
	now := formatTime(s.now())
	res, err := s.execWithRetry(ctx,
		`UPDATE sync_watermarks
		    SET status = ?, last_synced_at = ?, cursor_value = ?, error_message = NULL, updated_at = ?
		  WHERE id = ?`,
		string(identity.WatermarkIdle), now, nullableString(cursor), now, id)
	if err != nil {
		return identityDBError("mark watermark completed", err)
	}
	return requireRow(res, "watermark", id)
}

// MarkFailed releases the lock after a failed run, keeping the previous
// cursor so the next run retries from it.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE sync_watermarks SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(identity.WatermarkFailed), message, formatTime(s.now()), id)
	if err != nil {
		return identityDBError("mark watermark failed", err)
	}
	return requireRow(res, "watermark", id)
}

// ListWatermarks returns every watermark of an organization by source.
func (s *Store) ListWatermarks(ctx context.Context, orgID string) ([]identity.Watermark, error) {
	rows, err := s.query(ensureContext(ctx), s.db,
		`SELECT `+watermarkColumns+` FROM sync_watermarks WHERE org_id = ? ORDER BY source`, orgID)
	if err != nil {
		return nil, identityDBError("list watermarks", err)
	}
	out, err := collectRows(rows, scanWatermark)
	if err != nil {
		return nil, identityDBError("scan watermarks", err)
	}
	return out, nil
}

// ReclaimStaleWatermarks fails running watermarks that have not been updated
// since cutoff, so a crashed run no longer blocks its source.
func (s *Store) ReclaimStaleWatermarks(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffText := formatTime(cutoff)
	res, err := s.execWithRetry(ctx,
		`UPDATE sync_watermarks
		    SET status = ?, error_message = ?, updated_at = ?
		  WHERE status = ? AND updated_at < ?`,
		string(identity.WatermarkFailed),
		"reclaimed: no progress since "+cutoff.UTC().Format(time.RFC3339),
		formatTime(s.now()),
		string(identity.WatermarkRunning),
		cutoffText)
	if err != nil {
		return 0, identityDBError("reclaim watermarks", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, identityDBError("reclaim watermarks", err)
	}
	if n > 0 {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "reclaimed stale sync locks", "watermark_reclaim",
			logging.Int("count", int(n)),
			logging.String(logging.FieldErrorHint, "a previous sync stopped without releasing its lock; check its logs"),
			logging.String(logging.FieldImpact, "the next sync for those sources will run"),
		)
	}
	return n, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return identityDBError("rows affected", err)
	}
	if n == 0 {
		return identity.NotFoundf("%s %s not found", kind, id)
	}
	return nil
}
