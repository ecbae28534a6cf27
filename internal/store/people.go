package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"roster/internal/identity"
)

func requireOrg(orgID string) error {
	if strings.TrimSpace(orgID) == "" {
		return identity.Validationf("org_id must not be empty")
	}
	return nil
}

// CreatePerson inserts an active person.
func (s *Store) CreatePerson(ctx context.Context, orgID string, in identity.NewPerson) (identity.Person, error) {
	if err := requireOrg(orgID); err != nil {
		return identity.Person{}, err
	}
	if err := in.Validate(); err != nil {
		return identity.Person{}, err
	}
	now := s.now()
	p := identity.Person{
		ID:           newID(),
		OrgID:        orgID,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		PrimaryEmail: strings.TrimSpace(in.PrimaryEmail),
		Team:         strings.TrimSpace(in.Team),
		Role:         strings.TrimSpace(in.Role),
		Status:       identity.PersonActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO people (`+personColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrgID, p.DisplayName,
		nullableString(p.PrimaryEmail), nullableString(p.Team), nullableString(p.Role),
		string(p.Status), formatTime(now), formatTime(now),
	); err != nil {
		return identity.Person{}, identityDBError("insert person", err)
	}
	return p, nil
}

// GetPerson fetches a person scoped to orgID.
func (s *Store) GetPerson(ctx context.Context, orgID, id string) (identity.Person, error) {
	return s.getPerson(ensureContext(ctx), s.db, orgID, id)
}

func (s *Store) getPerson(ctx context.Context, q queryer, orgID, id string) (identity.Person, error) {
	row := s.queryRow(ctx, q, `SELECT `+personColumns+` FROM people WHERE org_id = ? AND id = ?`, orgID, id)
	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Person{}, identity.NotFoundf("person %s not found", id)
	}
	if err != nil {
		return identity.Person{}, identityDBError("get person", err)
	}
	return p, nil
}

// UpdatePerson applies a partial update and returns the stored person.
func (s *Store) UpdatePerson(ctx context.Context, orgID, id string, upd identity.PersonUpdate) (identity.Person, error) {
	if upd.Empty() {
		return identity.Person{}, identity.Validationf("no fields to update")
	}
	if err := upd.Validate(); err != nil {
		return identity.Person{}, err
	}
	var (
		sets []string
		args []any
	)
	if upd.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, strings.TrimSpace(*upd.DisplayName))
	}
	if upd.PrimaryEmail != nil {
		sets = append(sets, "primary_email = ?")
		args = append(args, nullableString(strings.TrimSpace(*upd.PrimaryEmail)))
	}
	if upd.Team != nil {
		sets = append(sets, "team = ?")
		args = append(args, nullableString(strings.TrimSpace(*upd.Team)))
	}
	if upd.Role != nil {
		sets = append(sets, "role = ?")
		args = append(args, nullableString(strings.TrimSpace(*upd.Role)))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.now()), orgID, id)

	res, err := s.execWithRetry(ctx,
		`UPDATE people SET `+strings.Join(sets, ", ")+` WHERE org_id = ? AND id = ?`, args...)
	if err != nil {
		return identity.Person{}, identityDBError("update person", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return identity.Person{}, identity.NotFoundf("person %s not found", id)
	}
	return s.GetPerson(ctx, orgID, id)
}

// DeactivatePerson marks an active person inactive. Inactive people are no
// longer matching candidates; their existing links are left untouched.
func (s *Store) DeactivatePerson(ctx context.Context, orgID, id string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE people SET status = ?, updated_at = ? WHERE org_id = ? AND id = ? AND status != ?`,
		string(identity.PersonInactive), formatTime(s.now()), orgID, id, string(identity.PersonInactive))
	if err != nil {
		return identityDBError("deactivate person", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return identityDBError("deactivate person", err)
	}
	if n == 0 {
		return identity.NotFoundf("active person %s not found", id)
	}
	return nil
}

// ListPeople returns people ordered by display name.
func (s *Store) ListPeople(ctx context.Context, orgID string, filter identity.PersonFilter) ([]identity.Person, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	where := []string{"org_id = ?"}
	args := []any{orgID}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Team != "" {
		where = append(where, "LOWER(team) = ?")
		args = append(args, strings.ToLower(filter.Team))
	}
	if filter.Search != "" {
		pattern := "%" + strings.ToLower(filter.Search) + "%"
		where = append(where, "(LOWER(display_name) LIKE ? OR LOWER(primary_email) LIKE ?)")
		args = append(args, pattern, pattern)
	}
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.query(ensureContext(ctx), s.db,
		`SELECT `+personColumns+` FROM people WHERE `+strings.Join(where, " AND ")+
			` ORDER BY display_name, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, identityDBError("list people", err)
	}
	people, err := collectRows(rows, scanPerson)
	if err != nil {
		return nil, identityDBError("scan people", err)
	}
	return people, nil
}

// ListActivePeople returns every active person in creation order, the
// candidate pool for matching.
func (s *Store) ListActivePeople(ctx context.Context, orgID string) ([]identity.Person, error) {
	rows, err := s.query(ensureContext(ctx), s.db,
		`SELECT `+personColumns+` FROM people WHERE org_id = ? AND status = ? ORDER BY created_at, id`,
		orgID, string(identity.PersonActive))
	if err != nil {
		return nil, identityDBError("list active people", err)
	}
	people, err := collectRows(rows, scanPerson)
	if err != nil {
		return nil, identityDBError("scan people", err)
	}
	return people, nil
}
