package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"roster/internal/config"
	"roster/internal/identity"
	"roster/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...store.Option) *store.Store {
	t.Helper()

	st, err := store.Open(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// NewOrgID returns a unique organization id so tests sharing a PostgreSQL
// database do not see each other's rows.
func NewOrgID() string {
	return "org-" + uuid.NewString()
}

// MustCreatePerson inserts a person or fails the test.
func MustCreatePerson(t testing.TB, st *store.Store, orgID string, in identity.NewPerson) identity.Person {
	t.Helper()

	p, err := st.CreatePerson(context.Background(), orgID, in)
	if err != nil {
		t.Fatalf("CreatePerson: %v", err)
	}
	return p
}

// MustUpsertIdentity upserts an identity or fails the test.
func MustUpsertIdentity(t testing.TB, st *store.Store, orgID string, in identity.IdentityUpsert) identity.Identity {
	t.Helper()

	i, err := st.UpsertIdentity(context.Background(), orgID, in)
	if err != nil {
		t.Fatalf("UpsertIdentity: %v", err)
	}
	return i
}

// MustCreateLink persists a link between person and identity or fails the test.
func MustCreateLink(t testing.TB, st *store.Store, orgID, personID, identityID string, status identity.LinkStatus, confidence float64) identity.Link {
	t.Helper()

	l, err := st.CreateInitialLink(context.Background(), orgID, identity.NewLink{
		PersonID:   personID,
		IdentityID: identityID,
		Status:     status,
		Confidence: confidence,
	})
	if err != nil {
		t.Fatalf("CreateInitialLink: %v", err)
	}
	return l
}
