package environment_test

import (
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/bestie/common/environment"
)

func TestStringOr_Prefixed(t *testing.T) {
	t.Setenv("BESTIE_HTTP_ADDR", ":9000")
	env := environment.New("BESTIE_")
	if got := env.StringOr("HTTP_ADDR", ":8080"); got != ":9000" {
		t.Errorf("expected %q, got %q", ":9000", got)
	}
	if got := env.StringOr("MISSING", "default"); got != "default" {
		t.Errorf("expected %q, got %q", "default", got)
	}
}

func TestRequired_CollectsErrors(t *testing.T) {
	t.Setenv("APP_PRESENT", "value")
	env := environment.New("APP_")

	if got := env.Required("PRESENT"); got != "value" {
		t.Errorf("expected %q, got %q", "value", got)
	}
	if env.Err() != nil {
		t.Fatalf("unexpected error: %v", env.Err())
	}

	env.Required("ONE")
	env.Required("TWO")
	err := env.Err()
	if err == nil {
		t.Fatal("expected error for missing variables, got nil")
	}
	for _, name := range []string{"APP_ONE", "APP_TWO"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestBoolOr(t *testing.T) {
	env := environment.New("")
	t.Setenv("TEST_BOOL", "true")
	if !env.BoolOr("TEST_BOOL", false) {
		t.Error("expected true")
	}
	t.Setenv("TEST_BOOL", "nope")
	if !env.BoolOr("TEST_BOOL", true) {
		t.Error("expected default for unparseable value")
	}
}

func TestIntOr(t *testing.T) {
	env := environment.New("")
	t.Setenv("TEST_INT", " 42 ")
	if got := env.IntOr("TEST_INT", 0); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("TEST_INT", "notanint")
	if got := env.IntOr("TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7 for bad value, got %d", got)
	}
}

func TestDurationOr(t *testing.T) {
	env := environment.New("")
	t.Setenv("TEST_DUR", "90s")
	if got := env.DurationOr("TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}
	if got := env.DurationOr("TEST_DUR_MISSING", time.Minute); got != time.Minute {
		t.Errorf("expected default 1m, got %v", got)
	}
}
