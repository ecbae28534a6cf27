package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"roster/internal/identity"
	"roster/internal/logging"
)

// remapPayload is recorded on the replacement link of a remap.
type remapPayload struct {
	OldLinkID   string `json:"old_link_id"`
	NewLinkID   string `json:"new_link_id"`
	NewPersonID string `json:"new_person_id"`
	IdentityID  string `json:"identity_id"`
}

// CreateInitialLink persists a link produced by the matching driver. When
// SupersedeLinkID is set, that active rejected link is closed in the same
// transaction.
func (s *Store) CreateInitialLink(ctx context.Context, orgID string, in identity.NewLink) (identity.Link, error) {
	if err := requireOrg(orgID); err != nil {
		return identity.Link{}, err
	}
	if strings.TrimSpace(in.PersonID) == "" || strings.TrimSpace(in.IdentityID) == "" {
		return identity.Link{}, identity.Validationf("person_id and identity_id are required")
	}
	if _, ok := identity.LookupLinkStatus(string(in.Status)); !ok {
		return identity.Link{}, identity.Validationf("unknown link status %q", in.Status)
	}
	if !identity.ValidConfidence(in.Confidence) {
		return identity.Link{}, identity.Validationf("confidence must be between 0.0 and 1.0")
	}
	ctx = ensureContext(ctx)
	now := s.now()
	link := identity.Link{
		ID:         newID(),
		OrgID:      orgID,
		PersonID:   in.PersonID,
		IdentityID: in.IdentityID,
		Status:     in.Status,
		Confidence: in.Confidence,
		ValidFrom:  now,
		Trace:      in.Trace,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if in.SupersedeLinkID != "" {
			res, err := s.exec(ctx, tx,
				`UPDATE person_identity_links SET valid_to = ?, updated_at = ?
				 WHERE org_id = ? AND id = ? AND identity_id = ? AND status = ? AND valid_to IS NULL`,
				formatTime(now), formatTime(now), orgID, in.SupersedeLinkID, in.IdentityID, string(identity.StatusRejected))
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				return identity.Validationf("link %s is no longer an active rejected link for identity %s", in.SupersedeLinkID, in.IdentityID)
			}
		}
		return s.insertLink(ctx, tx, link)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return identity.Link{}, identity.Validationf("identity %s already has an active link", in.IdentityID)
		}
		return identity.Link{}, identityDBError("create link", err)
	}
	return link, nil
}

func (s *Store) insertLink(ctx context.Context, tx *sql.Tx, l identity.Link) error {
	_, err := s.exec(ctx, tx,
		`INSERT INTO person_identity_links (`+linkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.OrgID, l.PersonID, l.IdentityID, string(l.Status), l.Confidence,
		formatTime(l.ValidFrom), nullableTime(l.ValidTo),
		nullableString(l.VerifiedBy), nullableTime(l.VerifiedAt),
		nullableJSON(l.Trace),
		formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	)
	return err
}

func (s *Store) appendEvent(ctx context.Context, tx *sql.Tx, orgID, linkID, action, actor string, payload any, at time.Time) error {
	var encoded any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode event payload: %w", err)
		}
		encoded = string(data)
	}
	_, err := s.exec(ctx, tx,
		`INSERT INTO identity_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		newID(), orgID, linkID, action, actor, encoded, formatTime(at))
	return err
}

// GetLink fetches a link, active or closed.
func (s *Store) GetLink(ctx context.Context, orgID, id string) (identity.Link, error) {
	row := s.queryRow(ensureContext(ctx), s.db,
		`SELECT `+linkColumns+` FROM person_identity_links WHERE org_id = ? AND id = ?`, orgID, id)
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Link{}, identity.NotFoundf("link %s not found", id)
	}
	if err != nil {
		return identity.Link{}, identityDBError("get link", err)
	}
	return l, nil
}

// ListLinks returns links newest first.
func (s *Store) ListLinks(ctx context.Context, orgID string, filter identity.LinkFilter) ([]identity.Link, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	where := []string{"org_id = ?"}
	args := []any{orgID}
	if !filter.IncludeClosed {
		where = append(where, "valid_to IS NULL")
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.PersonID != "" {
		where = append(where, "person_id = ?")
		args = append(args, filter.PersonID)
	}
	if filter.IdentityID != "" {
		where = append(where, "identity_id = ?")
		args = append(args, filter.IdentityID)
	}
	where, args = appendConfidenceRange(where, args, filter.MinConfidence, filter.MaxConfidence)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.query(ensureContext(ctx), s.db,
		`SELECT `+linkColumns+` FROM person_identity_links WHERE `+strings.Join(where, " AND ")+
			` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, identityDBError("list links", err)
	}
	links, err := collectRows(rows, scanLink)
	if err != nil {
		return nil, identityDBError("scan links", err)
	}
	return links, nil
}

// ListEvents returns the audit trail of a link, oldest first.
func (s *Store) ListEvents(ctx context.Context, orgID, linkID string) ([]identity.Event, error) {
	rows, err := s.query(ensureContext(ctx), s.db,
		`SELECT `+eventColumns+` FROM identity_events WHERE org_id = ? AND link_id = ? ORDER BY created_at, id`,
		orgID, linkID)
	if err != nil {
		return nil, identityDBError("list events", err)
	}
	events, err := collectRows(rows, scanEvent)
	if err != nil {
		return nil, identityDBError("scan events", err)
	}
	return events, nil
}

// ConfirmLink marks an active, not yet verified link verified and records a
// confirm event. Confirming a verified or closed link is NotFound.
func (s *Store) ConfirmLink(ctx context.Context, orgID, linkID, verifiedBy string) (identity.Link, error) {
	verifier, err := identity.ValidateVerifier(verifiedBy)
	if err != nil {
		return identity.Link{}, err
	}
	return s.transitionLink(ctx, orgID, linkID, verifier, identity.StatusVerified, identity.ActionConfirm,
		" AND status <> '"+string(identity.StatusVerified)+"'")
}

// SplitLink sends an active link back to the conflict queue. The link stays
// active; the verifier is recorded on it and in a split event.
func (s *Store) SplitLink(ctx context.Context, orgID, linkID, verifiedBy string) (identity.Link, error) {
	verifier, err := identity.ValidateVerifier(verifiedBy)
	if err != nil {
		return identity.Link{}, err
	}
	return s.transitionLink(ctx, orgID, linkID, verifier, identity.StatusConflict, identity.ActionSplit, "")
}

// transitionLink applies one conditional status update to an active link plus
// its event. precondition is appended to the WHERE clause.
func (s *Store) transitionLink(ctx context.Context, orgID, linkID, verifier string, status identity.LinkStatus, action, precondition string) (identity.Link, error) {
	ctx = ensureContext(ctx)
	var out identity.Link
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		row := s.queryRow(ctx, tx,
			`UPDATE person_identity_links
			    SET status = ?, verified_by = ?, verified_at = ?, updated_at = ?
			  WHERE org_id = ? AND id = ? AND valid_to IS NULL`+precondition+`
			  RETURNING `+linkColumns,
			string(status), verifier, formatTime(now), formatTime(now), orgID, linkID)
		link, err := scanLink(row)
		if errors.Is(err, sql.ErrNoRows) {
			return identity.NotFoundf("no link %s in a state that allows %s", linkID, action)
		}
		if err != nil {
			return err
		}
		if err := s.appendEvent(ctx, tx, orgID, linkID, action, verifier, nil, now); err != nil {
			return err
		}
		out = link
		return nil
	})
	if err != nil {
		return identity.Link{}, identityDBError(action+" link", err)
	}
	s.orgLogger(ctx, orgID).Info("link updated",
		logging.String(logging.FieldEventType, "link_"+action),
		logging.String(logging.FieldLinkID, linkID),
		logging.String("status", string(status)),
		logging.String("verified_by", verifier),
	)
	return out, nil
}

// RemapLink closes an active link as rejected and opens a verified link from
// the same identity to newPersonID. The remap event is attached to the new
// link, which is returned.
func (s *Store) RemapLink(ctx context.Context, orgID, linkID, newPersonID, verifiedBy string) (identity.Link, error) {
	verifier, err := identity.ValidateVerifier(verifiedBy)
	if err != nil {
		return identity.Link{}, err
	}
	if strings.TrimSpace(newPersonID) == "" {
		return identity.Link{}, identity.Validationf("new_person_id must not be empty")
	}
	ctx = ensureContext(ctx)
	var out identity.Link
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		var identityID string
		err := s.queryRow(ctx, tx,
			`UPDATE person_identity_links
			    SET valid_to = ?, status = ?, verified_by = ?, verified_at = ?, updated_at = ?
			  WHERE org_id = ? AND id = ? AND valid_to IS NULL
			  RETURNING identity_id`,
			formatTime(now), string(identity.StatusRejected), verifier, formatTime(now), formatTime(now),
			orgID, linkID).Scan(&identityID)
		if errors.Is(err, sql.ErrNoRows) {
			return identity.NotFoundf("active link %s not found", linkID)
		}
		if err != nil {
			return err
		}

		person, err := s.getPerson(ctx, tx, orgID, newPersonID)
		if err != nil {
			return err
		}
		if person.Status != identity.PersonActive {
			return identity.NotFoundf("active person %s not found", newPersonID)
		}

		verifiedAt := now
		link := identity.Link{
			ID:         newID(),
			OrgID:      orgID,
			PersonID:   newPersonID,
			IdentityID: identityID,
			Status:     identity.StatusVerified,
			Confidence: 1.0,
			ValidFrom:  now,
			VerifiedBy: verifier,
			VerifiedAt: &verifiedAt,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.insertLink(ctx, tx, link); err != nil {
			return err
		}
		payload := remapPayload{
			OldLinkID:   linkID,
			NewLinkID:   link.ID,
			NewPersonID: newPersonID,
			IdentityID:  identityID,
		}
		if err := s.appendEvent(ctx, tx, orgID, link.ID, identity.ActionRemap, verifier, payload, now); err != nil {
			return err
		}
		out = link
		return nil
	})
	if err != nil {
		return identity.Link{}, identityDBError("remap link", err)
	}
	s.orgLogger(ctx, orgID).Info("link remapped",
		logging.String(logging.FieldEventType, "link_remap"),
		logging.String(logging.FieldLinkID, out.ID),
		logging.String("old_link_id", linkID),
		logging.String("person_id", newPersonID),
		logging.String("verified_by", verifier),
	)
	return out, nil
}

func appendConfidenceRange(where []string, args []any, minConf, maxConf *float64) ([]string, []any) {
	if minConf != nil {
		where = append(where, "confidence >= ?")
		args = append(args, *minConf)
	}
	if maxConf != nil {
		where = append(where, "confidence <= ?")
		args = append(args, *maxConf)
	}
	return where, args
}
