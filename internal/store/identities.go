package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"roster/internal/identity"
)

// UpsertIdentity inserts or refreshes an identity keyed on (org, source,
// external id). Repeated upserts keep the original first_seen_at and the
// stored raw payload when none is supplied.
func (s *Store) UpsertIdentity(ctx context.Context, orgID string, in identity.IdentityUpsert) (identity.Identity, error) {
	if err := requireOrg(orgID); err != nil {
		return identity.Identity{}, err
	}
	if err := in.Validate(); err != nil {
		return identity.Identity{}, err
	}
	ctx = ensureContext(ctx)
	now := formatTime(s.now())
	source := strings.TrimSpace(in.Source)
	externalID := strings.TrimSpace(in.ExternalID)

	var out identity.Identity
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx,
			`INSERT INTO identities (`+identityColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (org_id, source, external_id) DO UPDATE SET
			     username = excluded.username,
			     email = excluded.email,
			     display_name = excluded.display_name,
			     is_service_account = excluded.is_service_account,
			     last_seen_at = excluded.last_seen_at,
			     raw_payload = COALESCE(excluded.raw_payload, identities.raw_payload)`,
			newID(), orgID, source, externalID,
			nullableString(strings.TrimSpace(in.Username)),
			nullableString(strings.TrimSpace(in.Email)),
			nullableString(strings.TrimSpace(in.DisplayName)),
			boolToInt(in.IsServiceAccount),
			now, now,
			nullableJSON(in.RawPayload),
		); err != nil {
			return err
		}
		row := s.queryRow(ctx, tx,
			`SELECT `+identityColumns+` FROM identities WHERE org_id = ? AND source = ? AND external_id = ?`,
			orgID, source, externalID)
		var err error
		out, err = scanIdentity(row)
		return err
	})
	if err != nil {
		return identity.Identity{}, identityDBError("upsert identity", err)
	}
	return out, nil
}

// GetIdentity fetches an identity scoped to orgID.
func (s *Store) GetIdentity(ctx context.Context, orgID, id string) (identity.Identity, error) {
	row := s.queryRow(ensureContext(ctx), s.db,
		`SELECT `+identityColumns+` FROM identities WHERE org_id = ? AND id = ?`, orgID, id)
	i, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Identity{}, identity.NotFoundf("identity %s not found", id)
	}
	if err != nil {
		return identity.Identity{}, identityDBError("get identity", err)
	}
	return i, nil
}

// ListIdentities returns identities ordered by source and external id.
func (s *Store) ListIdentities(ctx context.Context, orgID string, filter identity.IdentityFilter) ([]identity.Identity, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	where := "org_id = ?"
	args := []any{orgID}
	if filter.Source != "" {
		where += " AND source = ?"
		args = append(args, filter.Source)
	}
	args = append(args, filter.Limit, filter.Offset)
	rows, err := s.query(ensureContext(ctx), s.db,
		`SELECT `+identityColumns+` FROM identities WHERE `+where+
			` ORDER BY source, external_id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, identityDBError("list identities", err)
	}
	out, err := collectRows(rows, scanIdentity)
	if err != nil {
		return nil, identityDBError("scan identities", err)
	}
	return out, nil
}

// ListUnlinkedIdentities returns the human identities that have no active
// link, or whose active link was rejected, oldest first.
func (s *Store) ListUnlinkedIdentities(ctx context.Context, orgID string) ([]identity.Unlinked, error) {
	cols := prefixColumns("i", identityColumns)
	rows, err := s.query(ensureContext(ctx), s.db,
		`SELECT `+cols+`, l.id
		   FROM identities i
		   LEFT JOIN person_identity_links l
		     ON l.identity_id = i.id AND l.valid_to IS NULL
		  WHERE i.org_id = ?
		    AND i.is_service_account = 0
		    AND (l.id IS NULL OR l.status = ?)
		  ORDER BY i.first_seen_at, i.id`,
		orgID, string(identity.StatusRejected))
	if err != nil {
		return nil, identityDBError("list unlinked identities", err)
	}
	out, err := collectRows(rows, scanUnlinked)
	if err != nil {
		return nil, identityDBError("scan unlinked identities", err)
	}
	return out, nil
}

func scanUnlinked(scanner rowScanner) (identity.Unlinked, error) {
	var linkID sql.NullString
	var u identity.Unlinked
	i, err := scanIdentity(scannerFunc(func(dest ...any) error {
		return scanner.Scan(append(dest, &linkID)...)
	}))
	if err != nil {
		return u, err
	}
	u.Identity = i
	u.RejectedLinkID = linkID.String
	return u, nil
}

type scannerFunc func(dest ...any) error

func (f scannerFunc) Scan(dest ...any) error { return f(dest...) }

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
