package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"roster/internal/identity"
	"roster/internal/store"
	"roster/internal/testsupport"
)

// stepClock advances by step on every read so successive writes get
// distinct, ordered timestamps.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func newTestStore(t *testing.T) (*store.Store, *stepClock) {
	t.Helper()
	clock := &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), step: time.Second}
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg, store.WithClock(clock.Now))
	return st, clock
}

func seedLink(t *testing.T, st *store.Store, orgID, externalID string, status identity.LinkStatus, confidence float64) (identity.Person, identity.Identity, identity.Link) {
	t.Helper()
	p := testsupport.MustCreatePerson(t, st, orgID, identity.NewPerson{DisplayName: "Person " + externalID})
	i := testsupport.MustUpsertIdentity(t, st, orgID, identity.IdentityUpsert{Source: "github", ExternalID: externalID, Username: externalID})
	l := testsupport.MustCreateLink(t, st, orgID, p.ID, i.ID, status, confidence)
	return p, i, l
}

func TestOpenInitializesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	health, err := st.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if health.Driver != "sqlite" || health.SchemaVersion != 1 {
		t.Fatalf("unexpected health: %#v", health)
	}
	if health.People != 0 || health.ActiveLinks != 0 {
		t.Fatalf("expected empty store, got %#v", health)
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	reopened := testsupport.MustOpenStore(t, cfg)
	if _, err := reopened.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth after reopen: %v", err)
	}
}

func TestPersonLifecycle(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	org := "org-a"

	if _, err := st.CreatePerson(ctx, org, identity.NewPerson{DisplayName: "  "}); !errors.Is(err, identity.ErrValidation) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
	if _, err := st.CreatePerson(ctx, "", identity.NewPerson{DisplayName: "Ada"}); !errors.Is(err, identity.ErrValidation) {
		t.Fatalf("expected validation error for blank org, got %v", err)
	}

	ada := testsupport.MustCreatePerson(t, st, org, identity.NewPerson{DisplayName: " Ada Lovelace ", PrimaryEmail: "ada@corp.com", Team: "Platform"})
	if ada.DisplayName != "Ada Lovelace" || ada.Status != identity.PersonActive {
		t.Fatalf("unexpected person: %#v", ada)
	}
	testsupport.MustCreatePerson(t, st, org, identity.NewPerson{DisplayName: "Grace Hopper", Team: "Compilers"})
	testsupport.MustCreatePerson(t, st, "org-b", identity.NewPerson{DisplayName: "Other Org"})

	got, err := st.GetPerson(ctx, org, ada.ID)
	if err != nil {
		t.Fatalf("GetPerson: %v", err)
	}
	if got.PrimaryEmail != "ada@corp.com" || got.Team != "Platform" {
		t.Fatalf("unexpected fetched person: %#v", got)
	}
	if _, err := st.GetPerson(ctx, "org-b", ada.ID); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected not found across orgs, got %v", err)
	}

	role := "Staff Engineer"
	updated, err := st.UpdatePerson(ctx, org, ada.ID, identity.PersonUpdate{Role: &role})
	if err != nil {
		t.Fatalf("UpdatePerson: %v", err)
	}
	if updated.Role != role || updated.DisplayName != "Ada Lovelace" {
		t.Fatalf("unexpected updated person: %#v", updated)
	}
	if _, err := st.UpdatePerson(ctx, org, ada.ID, identity.PersonUpdate{}); !errors.Is(err, identity.ErrValidation) {
		t.Fatalf("expected validation error for empty update, got %v", err)
	}
	if _, err := st.UpdatePerson(ctx, org, "missing", identity.PersonUpdate{Role: &role}); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected not found for missing person, got %v", err)
	}

	people, err := st.ListPeople(ctx, org, identity.PersonFilter{Search: "ADA"})
	if err != nil {
		t.Fatalf("ListPeople: %v", err)
	}
	if len(people) != 1 || people[0].ID != ada.ID {
		t.Fatalf("expected search to find ada, got %#v", people)
	}
	people, err = st.ListPeople(ctx, org, identity.PersonFilter{Team: "compilers"})
	if err != nil {
		t.Fatalf("ListPeople team: %v", err)
	}
	if len(people) != 1 || people[0].DisplayName != "Grace Hopper" {
		t.Fatalf("expected team filter to find grace, got %#v", people)
	}

	if err := st.DeactivatePerson(ctx, org, ada.ID); err != nil {
		t.Fatalf("DeactivatePerson: %v", err)
	}
	if err := st.DeactivatePerson(ctx, org, ada.ID); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected not found when already inactive, got %v", err)
	}
	active, err := st.ListActivePeople(ctx, org)
	if err != nil {
		t.Fatalf("ListActivePeople: %v", err)
	}
	if len(active) != 1 || active[0].DisplayName != "Grace Hopper" {
		t.Fatalf("unexpected active people: %#v", active)
	}
}

func TestUpsertIdentityPreservesFirstSeen(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	org := "org-a"

	first := testsupport.MustUpsertIdentity(t, st, org, identity.IdentityUpsert{
		Source:     "github",
		ExternalID: "42",
		Username:   "jsmith",
		RawPayload: json.RawMessage(`{"login":"jsmith"}`),
	})
	second := testsupport.MustUpsertIdentity(t, st, org, identity.IdentityUpsert{
		Source:      "github",
		ExternalID:  "42",
		Username:    "john.smith",
		DisplayName: "John Smith",
	})

	if second.ID != first.ID {
		t.Fatalf("expected same identity id, got %s and %s", first.ID, second.ID)
	}
	if !second.FirstSeenAt.Equal(first.FirstSeenAt) {
		t.Fatalf("first_seen_at changed: %v -> %v", first.FirstSeenAt, second.FirstSeenAt)
	}
	if !second.LastSeenAt.After(first.LastSeenAt) {
		t.Fatalf("expected last_seen_at to advance: %v -> %v", first.LastSeenAt, second.LastSeenAt)
	}
	if second.Username != "john.smith" || second.DisplayName != "John Smith" {
		t.Fatalf("expected refreshed fields, got %#v", second)
	}
	if string(second.RawPayload) != `{"login":"jsmith"}` {
		t.Fatalf("expected raw payload to be kept, got %s", second.RawPayload)
	}

	if _, err := st.UpsertIdentity(ctx, org, identity.IdentityUpsert{Source: "github"}); !errors.Is(err, identity.ErrValidation) {
		t.Fatalf("expected validation error without external id, got %v", err)
	}

	list, err := st.ListIdentities(ctx, org, identity.IdentityFilter{Source: "github"})
	if err != nil {
		t.Fatalf("ListIdentities: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one identity, got %d", len(list))
	}
}

func TestListUnlinkedIdentities(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	org := "org-a"

	person := testsupport.MustCreatePerson(t, st, org, identity.NewPerson{DisplayName: "Linked Person"})
	fresh := testsupport.MustUpsertIdentity(t, st, org, identity.IdentityUpsert{Source: "jira", ExternalID: "fresh"})
	linked := testsupport.MustUpsertIdentity(t, st, org, identity.IdentityUpsert{Source: "jira", ExternalID: "linked"})
	rejected := testsupport.MustUpsertIdentity(t, st, org, identity.IdentityUpsert{Source: "jira", ExternalID: "rejected"})
	testsupport.MustUpsertIdentity(t, st, org, identity.IdentityUpsert{Source: "jira", ExternalID: "bot", IsServiceAccount: true})

	testsupport.MustCreateLink(t, st, org, person.ID, linked.ID, identity.StatusAuto, 0.9)
	rejectedLink := testsupport.MustCreateLink(t, st, org, person.ID, rejected.ID, identity.StatusRejected, 0.1)

	unlinked, err := st.ListUnlinkedIdentities(ctx, org)
	if err != nil {
		t.Fatalf("ListUnlinkedIdentities: %v", err)
	}
	if len(unlinked) != 2 {
		t.Fatalf("expected 2 unlinked identities, got %#v", unlinked)
	}
	if unlinked[0].Identity.ID != fresh.ID || unlinked[0].RejectedLinkID != "" {
		t.Fatalf("unexpected first entry: %#v", unlinked[0])
	}
	if unlinked[1].Identity.ID != rejected.ID || unlinked[1].RejectedLinkID != rejectedLink.ID {
		t.Fatalf("unexpected second entry: %#v", unlinked[1])
	}
}

func TestCreateInitialLinkKeepsOneActiveLink(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	org := "org-a"

	person, ident, rejected := seedLink(t, st, org, "dup", identity.StatusRejected, 0.2)

	_, err := st.CreateInitialLink(ctx, org, identity.NewLink{
		PersonID: person.ID, IdentityID: ident.ID, Status: identity.StatusAuto, Confidence: 0.9,
	})
	if !errors.Is(err, identity.ErrValidation) {
		t.Fatalf("expected validation error for second active link, got %v", err)
	}
	for _, conf := range []float64{math.NaN(), -0.1, 1.5} {
		_, err = st.CreateInitialLink(ctx, org, identity.NewLink{
			PersonID: person.ID, IdentityID: ident.ID, Status: identity.StatusAuto, Confidence: conf,
			SupersedeLinkID: rejected.ID,
		})
		if !errors.Is(err, identity.ErrValidation) {
			t.Fatalf("expected validation error for confidence %v, got %v", conf, err)
		}
	}

	trace := json.RawMessage(`{"confidence":0.9}`)
	replacement, err := st.CreateInitialLink(ctx, org, identity.NewLink{
		PersonID: person.ID, IdentityID: ident.ID, Status: identity.StatusAuto, Confidence: 0.9,
		Trace: trace, SupersedeLinkID: rejected.ID,
	})
	if err != nil {
		t.Fatalf("CreateInitialLink with supersede: %v", err)
	}
	old, err := st.GetLink(ctx, org, rejected.ID)
	if err != nil {
		t.Fatalf("GetLink: %v", err)
	}
	if old.Active() {
		t.Fatal("expected superseded link to be closed")
	}
	stored, err := st.GetLink(ctx, org, replacement.ID)
	if err != nil {
		t.Fatalf("GetLink replacement: %v", err)
	}
	if !stored.Active() || string(stored.Trace) != string(trace) {
		t.Fatalf("unexpected replacement link: %#v", stored)
	}

	events, err := st.ListEvents(ctx, org, replacement.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events for a driver-created link, got %d", len(events))
	}
}

func TestConfirmLink(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	org := "org-a"
	_, _, link := seedLink(t, st, org, "c1", identity.StatusConflict, 0.6)

	if _, err := st.ConfirmLink(ctx, org, link.ID, "   "); !errors.Is(err, identity.ErrValidation) {
		t.Fatalf("expected validation error for blank verifier, got %v", err)
	}
	if events, _ := st.ListEvents(ctx, org, link.ID); len(events) != 0 {
		t.Fatalf("expected no events after rejected request, got %d", len(events))
	}

	confirmed, err := st.ConfirmLink(ctx, org, link.ID, "reviewer")
	if err != nil {
		t.Fatalf("ConfirmLink: %v", err)
	}
	if confirmed.Status != identity.StatusVerified || confirmed.VerifiedBy != "reviewer" || confirmed.VerifiedAt == nil {
		t.Fatalf("unexpected confirmed link: %#v", confirmed)
	}
	if !confirmed.Active() {
		t.Fatal("confirmed link must stay active")
	}

	events, err := st.ListEvents(ctx, org, link.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].Action != identity.ActionConfirm || events[0].Actor != "reviewer" || events[0].Payload != nil {
		t.Fatalf("unexpected events: %#v", events)
	}

	if _, err := st.ConfirmLink(ctx, org, link.ID, "second-reviewer"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected not found when confirming a verified link, got %v", err)
	}
	if events, _ := st.ListEvents(ctx, org, link.ID); len(events) != 1 {
		t.Fatalf("expected no event for the repeated confirm, got %d", len(events))
	}

	if _, err := st.ConfirmLink(ctx, org, "missing", "reviewer"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected not found for unknown link, got %v", err)
	}
	if _, err := st.ConfirmLink(ctx, "org-b", link.ID, "reviewer"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected not found across orgs, got %v", err)
	}
}

func TestRemapLink(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	org := "org-a"
	_, ident, link := seedLink(t, st, org, "r1", identity.StatusAuto, 0.5)
	target := testsupport.MustCreatePerson(t, st, org, identity.NewPerson{DisplayName: "Target"})

	created, err := st.RemapLink(ctx, org, link.ID, target.ID, "reviewer")
	if err != nil {
		t.Fatalf("RemapLink: %v", err)
	}
	if created.PersonID != target.ID || created.IdentityID != ident.ID {
		t.Fatalf("unexpected new link: %#v", created)
	}
	if created.Status != identity.StatusVerified || created.Confidence != 1.0 || !created.Active() {
		t.Fatalf("unexpected new link state: %#v", created)
	}

	old, err := st.GetLink(ctx, org, link.ID)
	if err != nil {
		t.Fatalf("GetLink old: %v", err)
	}
	if old.Status != identity.StatusRejected || old.Active() || old.VerifiedBy != "reviewer" {
		t.Fatalf("unexpected old link: %#v", old)
	}

	events, err := st.ListEvents(ctx, org, created.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].Action != identity.ActionRemap {
		t.Fatalf("unexpected events: %#v", events)
	}
	var payload map[string]string
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	want := map[string]string{
		"old_link_id":   link.ID,
		"new_link_id":   created.ID,
		"new_person_id": target.ID,
		"identity_id":   ident.ID,
	}
	for key, value := range want {
		if payload[key] != value {
			t.Fatalf("payload[%s] = %q, want %q", key, payload[key], value)
		}
	}

	if _, err := st.RemapLink(ctx, org, link.ID, target.ID, "reviewer"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected not found remapping a closed link, got %v", err)
	}
}

func TestRemapLinkRequiresActiveTarget(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	org := "org-a"
	_, _, link := seedLink(t, st, org, "r2", identity.StatusConflict, 0.6)
	gone := testsupport.MustCreatePerson(t, st, org, identity.NewPerson{DisplayName: "Gone"})
	if err := st.DeactivatePerson(ctx, org, gone.ID); err != nil {
		t.Fatalf("DeactivatePerson: %v", err)
	}

	for _, personID := range []string{gone.ID, "missing"} {
		if _, err := st.RemapLink(ctx, org, link.ID, personID, "reviewer"); !errors.Is(err, identity.ErrNotFound) {
			t.Fatalf("expected not found for target %s, got %v", personID, err)
		}
	}
	unchanged, err := st.GetLink(ctx, org, link.ID)
	if err != nil {
		t.Fatalf("GetLink: %v", err)
	}
	if !unchanged.Active() || unchanged.Status != identity.StatusConflict {
		t.Fatalf("failed remap must not close the link: %#v", unchanged)
	}
}

func TestSplitLink(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	org := "org-a"
	_, _, link := seedLink(t, st, org, "s1", identity.StatusAuto, 0.9)

	split, err := st.SplitLink(ctx, org, link.ID, "reviewer")
	if err != nil {
		t.Fatalf("SplitLink: %v", err)
	}
	if split.Status != identity.StatusConflict || !split.Active() || split.VerifiedBy != "reviewer" {
		t.Fatalf("unexpected split link: %#v", split)
	}
	events, err := st.ListEvents(ctx, org, link.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].Action != identity.ActionSplit {
		t.Fatalf("unexpected events: %#v", events)
	}
}

func TestListConflicts(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	org := "org-a"
	_, _, first := seedLink(t, st, org, "q1", identity.StatusConflict, 0.7)
	_, _, second := seedLink(t, st, org, "q2", identity.StatusConflict, 0.55)
	_, _, third := seedLink(t, st, org, "q3", identity.StatusConflict, 0.6)
	seedLink(t, st, org, "q4", identity.StatusAuto, 0.95)

	ids := func(links []identity.Link) string {
		out := make([]string, 0, len(links))
		for _, l := range links {
			out = append(out, l.ID)
		}
		return strings.Join(out, ",")
	}

	cases := []struct {
		name   string
		filter identity.ConflictFilter
		want   []identity.Link
	}{
		{"default newest first", identity.ConflictFilter{}, []identity.Link{third, second, first}},
		{"confidence ascending", identity.ConflictFilter{SortBy: identity.SortConfidenceAsc}, []identity.Link{second, third, first}},
		{"min confidence", identity.ConflictFilter{MinConfidence: ptr(0.6)}, []identity.Link{third, first}},
		{"max confidence", identity.ConflictFilter{MaxConfidence: ptr(0.6)}, []identity.Link{third, second}},
		{"paged", identity.ConflictFilter{Page: identity.Page{Limit: 1, Offset: 1}}, []identity.Link{second}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := st.ListConflicts(ctx, org, tc.filter)
			if err != nil {
				t.Fatalf("ListConflicts: %v", err)
			}
			if ids(got) != ids(tc.want) {
				t.Fatalf("got %s, want %s", ids(got), ids(tc.want))
			}
		})
	}

	if _, err := st.ListConflicts(ctx, org, identity.ConflictFilter{SortBy: "name"}); !errors.Is(err, identity.ErrValidation) {
		t.Fatalf("expected validation error for unknown sort, got %v", err)
	}

	all, err := st.ExportConflicts(ctx, org, identity.ConflictFilter{Page: identity.Page{Limit: 1}})
	if err != nil {
		t.Fatalf("ExportConflicts: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected export to ignore paging, got %d", len(all))
	}
}

func TestBulkConfirm(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	org := "org-a"
	_, _, a := seedLink(t, st, org, "b1", identity.StatusConflict, 0.6)
	_, _, b := seedLink(t, st, org, "b2", identity.StatusConflict, 0.7)
	_, _, auto := seedLink(t, st, org, "b3", identity.StatusAuto, 0.9)

	if _, err := st.BulkConfirm(ctx, org, nil, "reviewer"); !errors.Is(err, identity.ErrValidation) {
		t.Fatalf("expected validation error for empty ids, got %v", err)
	}
	tooMany := make([]string, identity.MaxBulkConfirm+1)
	if _, err := st.BulkConfirm(ctx, org, tooMany, "reviewer"); !errors.Is(err, identity.ErrValidation) {
		t.Fatalf("expected validation error for oversized request, got %v", err)
	}

	result, err := st.BulkConfirm(ctx, org, []string{a.ID, "missing", b.ID, auto.ID}, "reviewer")
	if err != nil {
		t.Fatalf("BulkConfirm: %v", err)
	}
	if result.ConfirmedCount != 2 {
		t.Fatalf("expected 2 confirmed, got %d", result.ConfirmedCount)
	}
	if strings.Join(result.FailedIDs, ",") != "missing,"+auto.ID {
		t.Fatalf("unexpected failed ids: %v", result.FailedIDs)
	}

	for _, id := range []string{a.ID, b.ID} {
		link, err := st.GetLink(ctx, org, id)
		if err != nil {
			t.Fatalf("GetLink: %v", err)
		}
		if link.Status != identity.StatusVerified {
			t.Fatalf("expected %s verified, got %s", id, link.Status)
		}
		events, err := st.ListEvents(ctx, org, id)
		if err != nil {
			t.Fatalf("ListEvents: %v", err)
		}
		if len(events) != 1 || events[0].Action != identity.ActionBulkConfirm {
			t.Fatalf("unexpected events for %s: %#v", id, events)
		}
	}

	again, err := st.BulkConfirm(ctx, org, []string{a.ID}, "reviewer")
	if err != nil {
		t.Fatalf("BulkConfirm again: %v", err)
	}
	if again.ConfirmedCount != 0 || len(again.FailedIDs) != 1 {
		t.Fatalf("expected already-confirmed link to fail, got %#v", again)
	}
}

func TestConflictStats(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	org := "org-a"

	empty, err := st.ConflictStats(ctx, org)
	if err != nil {
		t.Fatalf("ConflictStats: %v", err)
	}
	if empty.Total != 0 || empty.AvgConfidence != nil || empty.OldestCreatedAt != nil {
		t.Fatalf("unexpected empty stats: %#v", empty)
	}

	_, _, oldest := seedLink(t, st, org, "st1", identity.StatusConflict, 0.5)
	seedLink(t, st, org, "st2", identity.StatusConflict, 0.7)
	seedLink(t, st, org, "st3", identity.StatusVerified, 1.0)

	stats, err := st.ConflictStats(ctx, org)
	if err != nil {
		t.Fatalf("ConflictStats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected 2 conflicts, got %d", stats.Total)
	}
	if stats.AvgConfidence == nil || math.Abs(*stats.AvgConfidence-0.6) > 1e-9 {
		t.Fatalf("unexpected average: %v", stats.AvgConfidence)
	}
	if stats.OldestCreatedAt == nil || !stats.OldestCreatedAt.Equal(oldest.CreatedAt) {
		t.Fatalf("unexpected oldest: %v want %v", stats.OldestCreatedAt, oldest.CreatedAt)
	}
}

func TestWatermarkLock(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	org := "org-a"

	wm, err := st.GetOrCreateWatermark(ctx, org, "github")
	if err != nil {
		t.Fatalf("GetOrCreateWatermark: %v", err)
	}
	if wm.Status != identity.WatermarkIdle {
		t.Fatalf("expected idle watermark, got %s", wm.Status)
	}
	again, err := st.GetOrCreateWatermark(ctx, org, "github")
	if err != nil {
		t.Fatalf("GetOrCreateWatermark again: %v", err)
	}
	if again.ID != wm.ID {
		t.Fatalf("expected same watermark, got %s and %s", wm.ID, again.ID)
	}

	held, err := st.AcquireLock(ctx, org, "github")
	if err != nil || held == nil {
		t.Fatalf("AcquireLock: %v %v", held, err)
	}
	if held.Status != identity.WatermarkRunning {
		t.Fatalf("expected running, got %s", held.Status)
	}
	second, err := st.AcquireLock(ctx, org, "github")
	if err != nil {
		t.Fatalf("AcquireLock second: %v", err)
	}
	if second != nil {
		t.Fatalf("expected lock to be held, got %#v", second)
	}
	if other, err := st.AcquireLock(ctx, "org-b", "github"); err != nil || other != nil {
		t.Fatalf("expected no watermark for another org, got %v %v", other, err)
	}
	if _, err := st.AcquireLock(ctx, org, " "); !errors.Is(err, identity.ErrValidation) {
		t.Fatalf("expected validation error for blank source, got %v", err)
	}

	if err := st.MarkCompleted(ctx, wm.ID, "cursor-1"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	list, err := st.ListWatermarks(ctx, org)
	if err != nil {
		t.Fatalf("ListWatermarks: %v", err)
	}
	if len(list) != 1 || list[0].Status != identity.WatermarkIdle || list[0].Cursor != "cursor-1" || list[0].LastSyncedAt == nil {
		t.Fatalf("unexpected watermark after completion: %#v", list)
	}

	if _, err := st.AcquireLock(ctx, org, "github"); err != nil {
		t.Fatalf("AcquireLock after completion: %v", err)
	}
	if err := st.MarkFailed(ctx, wm.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	list, _ = st.ListWatermarks(ctx, org)
	if list[0].Status != identity.WatermarkFailed || list[0].ErrorMessage != "boom" || list[0].Cursor != "cursor-1" {
		t.Fatalf("unexpected watermark after failure: %#v", list[0])
	}
	reacquired, err := st.AcquireLock(ctx, org, "github")
	if err != nil || reacquired == nil {
		t.Fatalf("expected failed watermark to be re-acquirable: %v %v", reacquired, err)
	}
	if reacquired.ErrorMessage != "" {
		t.Fatalf("expected error message cleared, got %q", reacquired.ErrorMessage)
	}

	if err := st.MarkCompleted(ctx, "missing", ""); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := st.MarkFailed(ctx, "missing", "x"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReclaimStaleWatermarks(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()
	org := "org-a"

	_, err := st.GetOrCreateWatermark(ctx, org, "jira")
	if err != nil {
		t.Fatalf("GetOrCreateWatermark: %v", err)
	}
	if held, err := st.AcquireLock(ctx, org, "jira"); err != nil || held == nil {
		t.Fatalf("AcquireLock: %v %v", held, err)
	}
	cutoff := clock.Now()

	_, err = st.GetOrCreateWatermark(ctx, org, "confluence")
	if err != nil {
		t.Fatalf("GetOrCreateWatermark: %v", err)
	}
	if held, err := st.AcquireLock(ctx, org, "confluence"); err != nil || held == nil {
		t.Fatalf("AcquireLock: %v %v", held, err)
	}

	n, err := st.ReclaimStaleWatermarks(ctx, cutoff)
	if err != nil {
		t.Fatalf("ReclaimStaleWatermarks: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed watermark, got %d", n)
	}
	list, err := st.ListWatermarks(ctx, org)
	if err != nil {
		t.Fatalf("ListWatermarks: %v", err)
	}
	byName := map[string]identity.Watermark{}
	for _, w := range list {
		byName[w.Source] = w
	}
	if byName["jira"].Status != identity.WatermarkFailed || !strings.HasPrefix(byName["jira"].ErrorMessage, "reclaimed: no progress since") {
		t.Fatalf("unexpected reclaimed watermark: %#v", byName["jira"])
	}
	if byName["confluence"].Status != identity.WatermarkRunning {
		t.Fatalf("fresh lock must stay running: %#v", byName["confluence"])
	}
}

func ptr(v float64) *float64 { return &v }

// raceOutcomes runs op from n goroutines at once and counts successes and
// NotFound losers; any other error fails the test.
func raceOutcomes(t *testing.T, n int, op func() error) (ok, notFound int) {
	t.Helper()
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, n)
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- op()
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, identity.ErrNotFound):
			notFound++
		default:
			t.Fatalf("unexpected error from concurrent transition: %v", err)
		}
	}
	return ok, notFound
}

func TestConcurrentTransitionsHaveOneWinner(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	org := "org-a"
	const workers = 12

	_, ident, remapped := seedLink(t, st, org, "race-remap", identity.StatusConflict, 0.6)
	target := testsupport.MustCreatePerson(t, st, org, identity.NewPerson{DisplayName: "Target"})
	ok, notFound := raceOutcomes(t, workers, func() error {
		_, err := st.RemapLink(ctx, org, remapped.ID, target.ID, "reviewer")
		return err
	})
	if ok != 1 || notFound != workers-1 {
		t.Fatalf("remap: ok=%d notfound=%d, want 1 and %d", ok, notFound, workers-1)
	}
	active, err := st.ListLinks(ctx, org, identity.LinkFilter{IdentityID: ident.ID})
	if err != nil {
		t.Fatalf("ListLinks: %v", err)
	}
	if len(active) != 1 || active[0].PersonID != target.ID {
		t.Fatalf("expected one active link to the target, got %#v", active)
	}

	_, _, confirmed := seedLink(t, st, org, "race-confirm", identity.StatusConflict, 0.6)
	ok, notFound = raceOutcomes(t, workers, func() error {
		_, err := st.ConfirmLink(ctx, org, confirmed.ID, "reviewer")
		return err
	})
	if ok != 1 || notFound != workers-1 {
		t.Fatalf("confirm: ok=%d notfound=%d, want 1 and %d", ok, notFound, workers-1)
	}
	events, err := st.ListEvents(ctx, org, confirmed.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected a single confirm event, got %d", len(events))
	}
}

func TestConcurrentAcquireLockHasOneWinner(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	org := "org-a"
	if _, err := st.GetOrCreateWatermark(ctx, org, "jira"); err != nil {
		t.Fatalf("GetOrCreateWatermark: %v", err)
	}

	const workers = 12
	var (
		mu      sync.Mutex
		winners int
	)
	ok, notFound := raceOutcomes(t, workers, func() error {
		held, err := st.AcquireLock(ctx, org, "jira")
		if err != nil {
			return err
		}
		if held != nil {
			mu.Lock()
			winners++
			mu.Unlock()
		}
		return nil
	})
	if ok != workers || notFound != 0 {
		t.Fatalf("expected every attempt to return cleanly, ok=%d notfound=%d", ok, notFound)
	}
	if winners != 1 {
		t.Fatalf("expected exactly one lock holder, got %d", winners)
	}
}
