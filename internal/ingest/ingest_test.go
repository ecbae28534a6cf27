package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"roster/internal/identity"
	"roster/internal/ingest"
	"roster/internal/logging"
	"roster/internal/testsupport"
)

const sampleExport = `
identities:
  - external_id: "u-1"
    username: jsmith
    email: john.smith@corp.com
    display_name: John Smith
    team: platform
  - username: missing-id
  - source: jira
    external_id: "j-9"
    username: ci-bot
    is_service_account: true
`

const cleanExport = `
identities:
  - external_id: "u-1"
    username: jsmith
    email: john.smith@corp.com
    display_name: John Smith
    team: platform
  - source: jira
    external_id: "j-9"
    username: ci-bot
    is_service_account: true
`

type failingConnector struct{ err error }

func (failingConnector) Source() string { return "broken" }

func (c failingConnector) Fetch(context.Context, string) (ingest.Batch, error) {
	return ingest.Batch{}, c.err
}

func TestRunnerImportsFileAndSkipsUnchanged(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	org := "org-a"

	path := filepath.Join(testsupport.BaseDir(cfg), "export.yaml")
	testsupport.WriteFile(t, path, sampleExport)
	runner := ingest.NewRunner(st, logging.NewNop())
	connector := ingest.NewFileConnector("github", path)

	res, err := runner.Run(ctx, org, connector)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Upserted != 2 || res.Errors != 1 || res.Skipped {
		t.Fatalf("unexpected result: %#v", res)
	}

	list, err := st.ListIdentities(ctx, org, identity.IdentityFilter{})
	if err != nil {
		t.Fatalf("ListIdentities: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 identities, got %d", len(list))
	}
	bySource := map[string]identity.Identity{}
	for _, i := range list {
		bySource[i.Source] = i
	}
	if bySource["github"].Username != "jsmith" || !bySource["jira"].IsServiceAccount {
		t.Fatalf("unexpected identities: %#v", list)
	}
	var raw map[string]any
	if err := json.Unmarshal(bySource["github"].RawPayload, &raw); err != nil {
		t.Fatalf("decode raw payload: %v", err)
	}
	if raw["team"] != "platform" {
		t.Fatalf("expected raw payload to keep extra fields, got %v", raw)
	}

	marks, err := st.ListWatermarks(ctx, org)
	if err != nil {
		t.Fatalf("ListWatermarks: %v", err)
	}
	if len(marks) != 1 || marks[0].Status != identity.WatermarkIdle || marks[0].Cursor != "" {
		t.Fatalf("expected cursor held back after a failed record, got %#v", marks)
	}

	retry, err := runner.Run(ctx, org, connector)
	if err != nil {
		t.Fatalf("retry Run: %v", err)
	}
	if retry.Upserted != 2 || retry.Errors != 1 {
		t.Fatalf("expected unchanged file to be read again after errors, got %#v", retry)
	}

	testsupport.WriteFile(t, path, cleanExport)
	fixed, err := runner.Run(ctx, org, connector)
	if err != nil {
		t.Fatalf("fixed Run: %v", err)
	}
	if fixed.Upserted != 2 || fixed.Errors != 0 {
		t.Fatalf("unexpected result after fixing the export: %#v", fixed)
	}
	marks, err = st.ListWatermarks(ctx, org)
	if err != nil {
		t.Fatalf("ListWatermarks: %v", err)
	}
	if len(marks) != 1 || len(marks[0].Cursor) != 64 {
		t.Fatalf("expected file digest cursor, got %#v", marks)
	}

	again, err := runner.Run(ctx, org, connector)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if again.Upserted != 0 || again.Errors != 0 {
		t.Fatalf("expected unchanged file to be a no-op, got %#v", again)
	}
}

func TestRunnerSkipsWhenLockHeld(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := st.GetOrCreateWatermark(ctx, "org-a", "broken"); err != nil {
		t.Fatalf("GetOrCreateWatermark: %v", err)
	}
	if held, err := st.AcquireLock(ctx, "org-a", "broken"); err != nil || held == nil {
		t.Fatalf("AcquireLock: %v %v", held, err)
	}

	res, err := ingest.NewRunner(st, nil).Run(ctx, "org-a", failingConnector{err: errors.New("must not be called")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Skipped {
		t.Fatalf("expected run to be skipped, got %#v", res)
	}
}

func TestRunnerRecordsFetchFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	_, err := ingest.NewRunner(st, nil).Run(ctx, "org-a", failingConnector{err: errors.New("api unavailable")})
	if err == nil || !strings.Contains(err.Error(), "api unavailable") {
		t.Fatalf("expected fetch error, got %v", err)
	}
	marks, err := st.ListWatermarks(ctx, "org-a")
	if err != nil {
		t.Fatalf("ListWatermarks: %v", err)
	}
	if len(marks) != 1 || marks[0].Status != identity.WatermarkFailed || !strings.Contains(marks[0].ErrorMessage, "api unavailable") {
		t.Fatalf("unexpected watermark: %#v", marks)
	}
}

func TestGuardPassesStoredCursor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	guard := ingest.NewGuard(st, nil)

	var seen []string
	step := func(next string) func(context.Context, string) (string, error) {
		return func(_ context.Context, cursor string) (string, error) {
			seen = append(seen, cursor)
			return next, nil
		}
	}
	for _, next := range []string{"c1", "c2"} {
		ran, err := guard.Exclusive(ctx, "org-a", "identity_matching", step(next))
		if err != nil || !ran {
			t.Fatalf("Exclusive: ran=%v err=%v", ran, err)
		}
	}
	if strings.Join(seen, ",") != ",c1" {
		t.Fatalf("unexpected cursors: %q", seen)
	}
}

func TestParseRecordsAcceptsJSONList(t *testing.T) {
	records, err := ingest.ParseRecords([]byte(`[{"source":"slack","external_id":"U1","email":"a@corp.com"}]`))
	if err != nil {
		t.Fatalf("ParseRecords: %v", err)
	}
	if len(records) != 1 || records[0].Source != "slack" || records[0].ExternalID != "U1" || records[0].Email != "a@corp.com" {
		t.Fatalf("unexpected records: %#v", records)
	}
	if len(records[0].RawPayload) == 0 {
		t.Fatal("expected raw payload")
	}

	if _, err := ingest.ParseRecords([]byte(`"just a string"`)); !errors.Is(err, identity.ErrValidation) {
		t.Fatalf("expected validation error for scalar document, got %v", err)
	}
	empty, err := ingest.ParseRecords(nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected no records for empty input, got %v %v", empty, err)
	}
}
