// Package environment reads process settings from environment variables.
//
// A Reader scopes lookups to a name prefix (e.g. "BESTIE_") and collects
// errors for required variables instead of exiting, so callers can report
// every missing setting at once.
package environment

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Reader looks up variables under a fixed prefix.
type Reader struct {
	prefix string
	errs   []error
}

// New returns a Reader that prepends prefix to every variable name.
// Pass "" to read unprefixed names.
func New(prefix string) *Reader {
	return &Reader{prefix: prefix}
}

// Name returns the full variable name for key.
func (r *Reader) Name(key string) string {
	return r.prefix + key
}

// StringOr returns the variable value, or def when unset or empty.
func (r *Reader) StringOr(key, def string) string {
	if v := os.Getenv(r.Name(key)); v != "" {
		return v
	}
	return def
}

// Required returns the variable value and records an error when it is unset
// or empty. Check Err after all lookups.
func (r *Reader) Required(key string) string {
	v := os.Getenv(r.Name(key))
	if v == "" {
		r.errs = append(r.errs, fmt.Errorf("required environment variable %q is not set", r.Name(key)))
	}
	return v
}

// BoolOr parses the variable with strconv.ParseBool. Unset or unparseable
// values yield def.
func (r *Reader) BoolOr(key string, def bool) bool {
	v := os.Getenv(r.Name(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// IntOr parses the variable as a decimal integer. Unset or unparseable
// values yield def.
func (r *Reader) IntOr(key string, def int) int {
	v := os.Getenv(r.Name(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// DurationOr parses the variable as a time.Duration ("30s", "5m").
// Unset or unparseable values yield def.
func (r *Reader) DurationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(r.Name(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return d
}

// Err returns every error recorded by Required, joined, or nil.
func (r *Reader) Err() error {
	return errors.Join(r.errs...)
}
