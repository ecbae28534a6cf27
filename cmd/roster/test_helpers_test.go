package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testOrg = "org-cli"

type cliTestEnv struct {
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("ROSTER_ORG_ID", "")
	t.Setenv("ROSTER_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ROSTER_USER", "cli-reviewer")
	t.Setenv("ROSTER_CONFIG", "")

	configPath := filepath.Join(homeDir, ".config", "roster", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, filepath.Join(base, "data", "roster.db"))
	return &cliTestEnv{configPath: configPath, baseDir: base}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd, cleanup := newRootCommand()
	defer cleanup()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// mustRunJSON runs args with --json and decodes stdout into v.
func mustRunJSON(t *testing.T, env *cliTestEnv, v any, args ...string) {
	t.Helper()
	out, _, err := runCLI(t, append(args, "--json"), env.configPath)
	if err != nil {
		t.Fatalf("roster %s: %v", strings.Join(args, " "), err)
	}
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("decode output of roster %s: %v\n%s", strings.Join(args, " "), err, out)
	}
}

func writeTestConfig(t *testing.T, path, dbPath string) {
	t.Helper()
	content := fmt.Sprintf(
		"[store]\ndriver = \"sqlite\"\npath = %q\n\n[logging]\nlevel = \"error\"\n\n[tenant]\norg_id = %q\n",
		dbPath,
		testOrg,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
