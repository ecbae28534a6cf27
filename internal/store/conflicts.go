package store

import (
	"context"
	"database/sql"
	"strings"

	"roster/internal/identity"
	"roster/internal/logging"
)

func conflictQuery(orgID string, filter identity.ConflictFilter) (string, []any) {
	where := []string{"org_id = ?", "status = ?", "valid_to IS NULL"}
	args := []any{orgID, string(identity.StatusConflict)}
	where, args = appendConfidenceRange(where, args, filter.MinConfidence, filter.MaxConfidence)

	order := "created_at DESC, id"
	if filter.SortBy == identity.SortConfidenceAsc {
		order = "confidence ASC, created_at DESC, id"
	}
	return `SELECT ` + linkColumns + ` FROM person_identity_links WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY ` + order, args
}

// ListConflicts returns one page of the open conflict queue.
func (s *Store) ListConflicts(ctx context.Context, orgID string, filter identity.ConflictFilter) ([]identity.Link, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	query, args := conflictQuery(orgID, filter)
	args = append(args, filter.Limit, filter.Offset)
	return s.listConflictRows(ctx, query+` LIMIT ? OFFSET ?`, args)
}

// ExportConflicts returns every open conflict matching the filter's
// confidence range and ordering, ignoring paging.
func (s *Store) ExportConflicts(ctx context.Context, orgID string, filter identity.ConflictFilter) ([]identity.Link, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	query, args := conflictQuery(orgID, filter)
	return s.listConflictRows(ctx, query, args)
}

func (s *Store) listConflictRows(ctx context.Context, query string, args []any) ([]identity.Link, error) {
	rows, err := s.query(ensureContext(ctx), s.db, query, args...)
	if err != nil {
		return nil, identityDBError("list conflicts", err)
	}
	links, err := collectRows(rows, scanLink)
	if err != nil {
		return nil, identityDBError("scan conflicts", err)
	}
	return links, nil
}

// BulkConfirm verifies many conflict links in one transaction. An id that is
// unknown, closed, or not in conflict is reported in FailedIDs and does not
// undo the others.
func (s *Store) BulkConfirm(ctx context.Context, orgID string, linkIDs []string, verifiedBy string) (identity.BulkConfirmResult, error) {
	verifier, err := identity.ValidateVerifier(verifiedBy)
	if err != nil {
		return identity.BulkConfirmResult{}, err
	}
	if err := identity.ValidateBulkIDs(linkIDs); err != nil {
		return identity.BulkConfirmResult{}, err
	}
	ctx = ensureContext(ctx)

	var result identity.BulkConfirmResult
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		result = identity.BulkConfirmResult{FailedIDs: []string{}}
		now := s.now()
		for _, id := range linkIDs {
			res, err := s.exec(ctx, tx,
				`UPDATE person_identity_links
				    SET status = ?, verified_by = ?, verified_at = ?, updated_at = ?
				  WHERE org_id = ? AND id = ? AND status = ? AND valid_to IS NULL`,
				string(identity.StatusVerified), verifier, formatTime(now), formatTime(now),
				orgID, id, string(identity.StatusConflict))
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				result.FailedIDs = append(result.FailedIDs, id)
				continue
			}
			if err := s.appendEvent(ctx, tx, orgID, id, identity.ActionBulkConfirm, verifier, nil, now); err != nil {
				return err
			}
			result.ConfirmedCount++
		}
		return nil
	})
	if err != nil {
		return identity.BulkConfirmResult{}, identityDBError("bulk confirm", err)
	}
	s.orgLogger(ctx, orgID).Info("bulk confirm finished",
		logging.String(logging.FieldEventType, "conflicts_bulk_confirm"),
		logging.Int("confirmed", result.ConfirmedCount),
		logging.Int("failed", len(result.FailedIDs)),
		logging.String("verified_by", verifier),
	)
	return result, nil
}

// ConflictStats summarizes the open conflict queue. Average and oldest are
// nil when the queue is empty.
func (s *Store) ConflictStats(ctx context.Context, orgID string) (identity.ConflictStats, error) {
	var (
		stats  identity.ConflictStats
		avg    sql.NullFloat64
		oldest sql.NullString
	)
	err := s.queryRow(ensureContext(ctx), s.db,
		`SELECT COUNT(1), AVG(confidence), MIN(created_at)
		   FROM person_identity_links
		  WHERE org_id = ? AND status = ? AND valid_to IS NULL`,
		orgID, string(identity.StatusConflict)).Scan(&stats.Total, &avg, &oldest)
	if err != nil {
		return identity.ConflictStats{}, identityDBError("conflict stats", err)
	}
	if avg.Valid {
		value := avg.Float64
		stats.AvgConfidence = &value
	}
	stats.OldestCreatedAt = parseNullTime(oldest)
	return stats, nil
}
