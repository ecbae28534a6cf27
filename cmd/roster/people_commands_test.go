package main

import (
	"testing"

	"roster/internal/identity"
)

func TestPeopleLifecycle(t *testing.T) {
	env := setupCLITestEnv(t)

	var created identity.Person
	mustRunJSON(t, env, &created, "people", "create", "--name", "Ada Lovelace", "--email", "ada@corp.com", "--team", "platform")
	if created.ID == "" || created.OrgID != testOrg || created.Status != identity.PersonActive {
		t.Fatalf("unexpected person: %#v", created)
	}

	out, _, err := runCLI(t, []string{"people", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("people list: %v", err)
	}
	requireContains(t, out, "Ada Lovelace")

	var updated identity.Person
	mustRunJSON(t, env, &updated, "people", "update", created.ID, "--team", "")
	if updated.Team != "" || updated.PrimaryEmail != "ada@corp.com" {
		t.Fatalf("expected only team to clear, got %#v", updated)
	}

	if _, _, err := runCLI(t, []string{"people", "deactivate", created.ID}, env.configPath); err != nil {
		t.Fatalf("people deactivate: %v", err)
	}
	var active []identity.Person
	mustRunJSON(t, env, &active, "people", "list", "--status", "active")
	if len(active) != 0 {
		t.Fatalf("expected no active people, got %#v", active)
	}

	_, _, err = runCLI(t, []string{"people", "show", "missing"}, env.configPath)
	if exitCode(err) != 3 {
		t.Fatalf("expected not-found exit code, got %v", err)
	}
	_, _, err = runCLI(t, []string{"people", "create", "--name", " "}, env.configPath)
	if exitCode(err) != 2 {
		t.Fatalf("expected validation exit code, got %v", err)
	}
}
