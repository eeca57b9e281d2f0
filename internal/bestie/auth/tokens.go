// Package auth resolves bearer credentials to authenticated identities.
//
// Tokens are random opaque strings stored in SQLite with an expiry. Every
// authenticated subject carries a source prefix ("email:" for bearer tokens,
// "matrix:" for Matrix senders) so subjects from different sources never
// share a conversation window or a log identity.
package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/bdobrica/bestie/internal/bestie/session"
)

var (
	// ErrRejected is returned for empty, unknown or expired credentials.
	ErrRejected = errors.New("auth: credential rejected")
	// ErrInvalidEmail is returned by Issue for blank or malformed emails.
	ErrInvalidEmail = errors.New("auth: invalid email")
)

// DefaultTTL is the token lifetime when no TTL is configured.
const DefaultTTL = 30 * 24 * time.Hour

// Subject prefixes of authenticated identities.
const (
	EmailPrefix  = "email:"
	MatrixPrefix = "matrix:"
)

// Resolver turns a bearer credential into an authenticated identity.
type Resolver interface {
	Resolve(ctx context.Context, bearer string) (session.Identity, error)
}

// TokenStore manages users and auth_tokens rows.
type TokenStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewTokenStore returns a TokenStore over db. Pass ttl == 0 to use DefaultTTL.
func NewTokenStore(db *sql.DB, ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TokenStore{db: db, ttl: ttl, now: time.Now}
}

// Issue creates the user row for email if needed and stores a new token for
// it. Returns the raw token and its expiry.
func (s *TokenStore) Issue(ctx context.Context, email string) (string, time.Time, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", time.Time{}, err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: generate token entropy: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO users (email, created_at) VALUES (?, ?) ON CONFLICT(email) DO NOTHING",
		email, now.Format(time.RFC3339),
	); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: upsert user: %w", err)
	}

	var userID int64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM users WHERE email = ?", email).Scan(&userID); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: lookup user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO auth_tokens (token, user_id, created_at, expires_at)
VALUES (?, ?, ?, ?)
`, token, userID, now.Format(time.RFC3339), expiresAt.Format(time.RFC3339)); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: insert token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: commit: %w", err)
	}
	return token, expiresAt, nil
}

// Resolve validates bearer and returns the identity of its user. Unknown,
// expired and empty tokens all return ErrRejected.
func (s *TokenStore) Resolve(ctx context.Context, bearer string) (session.Identity, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return session.Identity{}, ErrRejected
	}

	var email, expiresStr string
	err := s.db.QueryRowContext(ctx, `
SELECT u.email, t.expires_at
FROM auth_tokens t JOIN users u ON u.id = t.user_id
WHERE t.token = ?
`, bearer).Scan(&email, &expiresStr)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Identity{}, ErrRejected
	}
	if err != nil {
		return session.Identity{}, fmt.Errorf("auth: query token: %w", err)
	}

	expiresAt, err := time.Parse(time.RFC3339, expiresStr)
	if err != nil || s.now().UTC().After(expiresAt) {
		return session.Identity{}, ErrRejected
	}
	return EmailIdentity(email), nil
}

// Revoke deletes a token. Revoking an unknown token is not an error.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM auth_tokens WHERE token = ?", token); err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	return nil
}

// PruneExpired deletes tokens whose expiry has passed.
func (s *TokenStore) PruneExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM auth_tokens WHERE expires_at < ?",
		s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("auth: prune tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// EmailIdentity returns the authenticated identity of a token user.
func EmailIdentity(email string) session.Identity {
	return session.Authenticated(EmailPrefix + email)
}

// MatrixIdentity returns the authenticated identity of a Matrix user.
// Matrix senders are authenticated by their homeserver.
func MatrixIdentity(mxid string) session.Identity {
	return session.Authenticated(MatrixPrefix + mxid)
}

// normalizeEmail accepts a bare RFC 5322 address and returns it lowercased.
// Display names and anything that is not a plain addr-spec are rejected.
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return email, nil
}

// Compile-time interface satisfaction check.
var _ Resolver = (*TokenStore)(nil)
