package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"roster/internal/identity"
)

// timeLayout is fixed width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	personColumns    = "id, org_id, display_name, primary_email, team, role, status, created_at, updated_at"
	identityColumns  = "id, org_id, source, external_id, username, email, display_name, is_service_account, first_seen_at, last_seen_at, raw_payload"
	linkColumns      = "id, org_id, person_id, identity_id, status, confidence, valid_from, valid_to, verified_by, verified_at, rule_trace, created_at, updated_at"
	eventColumns     = "id, org_id, link_id, action, actor, payload, created_at"
	watermarkColumns = "id, org_id, source, status, last_synced_at, cursor_value, error_message, created_at, updated_at"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func newID() string {
	return uuid.NewString()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func nullableJSON(value json.RawMessage) any {
	if len(value) == 0 {
		return nil
	}
	return string(value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func rawJSON(value sql.NullString) json.RawMessage {
	if !value.Valid || value.String == "" {
		return nil
	}
	return json.RawMessage(value.String)
}

func scanPerson(scanner rowScanner) (identity.Person, error) {
	var (
		p          identity.Person
		email      sql.NullString
		team       sql.NullString
		role       sql.NullString
		status     string
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&p.ID, &p.OrgID, &p.DisplayName, &email, &team, &role, &status, &createdRaw, &updatedRaw); err != nil {
		return p, err
	}
	p.PrimaryEmail = email.String
	p.Team = team.String
	p.Role = role.String
	p.Status = identity.PersonStatus(status)
	if created, err := parseTimeString(createdRaw); err == nil {
		p.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		p.UpdatedAt = updated
	}
	return p, nil
}

func scanIdentity(scanner rowScanner) (identity.Identity, error) {
	var (
		i          identity.Identity
		username   sql.NullString
		email      sql.NullString
		name       sql.NullString
		service    int64
		firstRaw   string
		lastRaw    string
		rawPayload sql.NullString
	)
	if err := scanner.Scan(&i.ID, &i.OrgID, &i.Source, &i.ExternalID, &username, &email, &name, &service, &firstRaw, &lastRaw, &rawPayload); err != nil {
		return i, err
	}
	i.Username = username.String
	i.Email = email.String
	i.DisplayName = name.String
	i.IsServiceAccount = service != 0
	i.RawPayload = rawJSON(rawPayload)
	if first, err := parseTimeString(firstRaw); err == nil {
		i.FirstSeenAt = first
	}
	if last, err := parseTimeString(lastRaw); err == nil {
		i.LastSeenAt = last
	}
	return i, nil
}

func scanLink(scanner rowScanner) (identity.Link, error) {
	var (
		l          identity.Link
		status     string
		validFrom  string
		validTo    sql.NullString
		verifiedBy sql.NullString
		verifiedAt sql.NullString
		trace      sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&l.ID, &l.OrgID, &l.PersonID, &l.IdentityID, &status, &l.Confidence, &validFrom, &validTo, &verifiedBy, &verifiedAt, &trace, &createdRaw, &updatedRaw); err != nil {
		return l, err
	}
	parsed, err := identity.ParseLinkStatus(status)
	if err != nil {
		return l, err
	}
	l.Status = parsed
	l.ValidTo = parseNullTime(validTo)
	l.VerifiedBy = verifiedBy.String
	l.VerifiedAt = parseNullTime(verifiedAt)
	l.Trace = rawJSON(trace)
	if t, err := parseTimeString(validFrom); err == nil {
		l.ValidFrom = t
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		l.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		l.UpdatedAt = t
	}
	return l, nil
}

func scanEvent(scanner rowScanner) (identity.Event, error) {
	var (
		e          identity.Event
		payload    sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(&e.ID, &e.OrgID, &e.LinkID, &e.Action, &e.Actor, &payload, &createdRaw); err != nil {
		return e, err
	}
	e.Payload = rawJSON(payload)
	if t, err := parseTimeString(createdRaw); err == nil {
		e.CreatedAt = t
	}
	return e, nil
}

func scanWatermark(scanner rowScanner) (identity.Watermark, error) {
	var (
		w          identity.Watermark
		status     string
		lastSynced sql.NullString
		cursor     sql.NullString
		errMsg     sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&w.ID, &w.OrgID, &w.Source, &status, &lastSynced, &cursor, &errMsg, &createdRaw, &updatedRaw); err != nil {
		return w, err
	}
	w.Status = identity.WatermarkStatus(status)
	w.LastSyncedAt = parseNullTime(lastSynced)
	w.Cursor = cursor.String
	w.ErrorMessage = errMsg.String
	if t, err := parseTimeString(createdRaw); err == nil {
		w.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		w.UpdatedAt = t
	}
	return w, nil
}

func collectRows[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
