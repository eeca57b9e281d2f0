package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bdobrica/bestie/common/environment"
	"github.com/bdobrica/bestie/common/version"
)

// isolateEnv points the process settings at a fresh database and clears the
// variables that would enable optional transports.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "bestie.db")
	t.Setenv("BESTIE_DB_PATH", dbPath)
	for _, key := range []string{"BESTIE_CONFIG_FILE", "BESTIE_MASTER_KEY", "MATRIX_HOMESERVER", "MATRIX_USER_ID", "MATRIX_ACCESS_TOKEN", "BESTIE_RATE_LIMIT_USER", "LLM_API_KEY", "OPENAI_API_KEY", "LLM_BASE_URL"} {
		t.Setenv(key, "")
	}
	return dbPath
}

func assertClosed(t *testing.T, dbPath string) {
	t.Helper()
	if _, err := os.Stat(dbPath + "-wal"); !os.IsNotExist(err) {
		t.Errorf("WAL file still present after exit; database was not closed (stat err %v)", err)
	}
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), version.Version) {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-nope"}, &stdout, &stderr); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}

func TestRun_IssueToken(t *testing.T) {
	dbPath := isolateEnv(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-issue-token", "alice@example.com"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, stderr.String())
	}
	token, _, _ := strings.Cut(stdout.String(), "\n")
	if len(token) < 40 {
		t.Errorf("token line = %q", token)
	}
	assertClosed(t, dbPath)
}

func TestRun_IssueTokenFailureClosesDatabase(t *testing.T) {
	dbPath := isolateEnv(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-issue-token", "not-an-email"}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "Error issuing token") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database was not created: %v", err)
	}
	assertClosed(t, dbPath)
}

func TestLoadConfig(t *testing.T) {
	isolateEnv(t)

	if _, err := loadConfig(environment.New(""), true); err == nil {
		t.Error("expected an error without LLM credentials")
	}

	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("BESTIE_RATE_LIMIT_GUEST", "5")
	t.Setenv("BESTIE_RATE_LIMIT_MATRIX", "3")
	cfg, err := loadConfig(environment.New(""), true)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.LLM.APIKey != "sk-test" || cfg.GuestRateLimit != 5 || cfg.MatrixRateLimit != 3 || cfg.UserRateLimit != 0 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Matrix != nil {
		t.Error("Matrix enabled without MATRIX_HOMESERVER")
	}

	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	if _, err := loadConfig(environment.New(""), true); err == nil {
		t.Error("expected an error for missing Matrix credentials")
	}
}
