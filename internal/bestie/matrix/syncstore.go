package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

const (
	keyFilterID  = "filter_id"
	keyNextBatch = "next_batch"
)

// DBSyncStore implements mautrix.SyncStore on the matrix_sync_state table,
// keyed by (user_id, key). Every save stamps updated_at so the bot knows
// how long it was offline.
type DBSyncStore struct {
	db  *sql.DB
	now func() time.Time
}

func newDBSyncStore(db *sql.DB) *DBSyncStore {
	return &DBSyncStore{db: db, now: time.Now}
}

// SaveFilterID persists the event-filter ID for userID.
func (s *DBSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.save(ctx, userID, keyFilterID, filterID)
}

// LoadFilterID returns ("", nil) when no filter has been saved yet.
func (s *DBSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	value, _, err := s.load(ctx, userID, keyFilterID)
	return value, err
}

// SaveNextBatch persists the /sync next_batch token.
func (s *DBSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.save(ctx, userID, keyNextBatch, nextBatchToken)
}

// LoadNextBatch returns ("", nil) on first run.
func (s *DBSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	value, _, err := s.load(ctx, userID, keyNextBatch)
	return value, err
}

// LastSynced returns when the next_batch token of userID was last saved.
// ok is false when the bot has never completed a sync.
func (s *DBSyncStore) LastSynced(ctx context.Context, userID id.UserID) (at time.Time, ok bool, err error) {
	value, at, err := s.load(ctx, userID, keyNextBatch)
	if err != nil || value == "" || at.IsZero() {
		return time.Time{}, false, err
	}
	return at, true, nil
}

func (s *DBSyncStore) save(ctx context.Context, userID id.UserID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_sync_state (user_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, userID.String(), key, value, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("matrix: save %s: %w", key, err)
	}
	return nil
}

func (s *DBSyncStore) load(ctx context.Context, userID id.UserID, key string) (string, time.Time, error) {
	var value, updated string
	err := s.db.QueryRowContext(ctx,
		"SELECT value, updated_at FROM matrix_sync_state WHERE user_id = ? AND key = ?",
		userID.String(), key,
	).Scan(&value, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("matrix: load %s: %w", key, err)
	}
	at, _ := time.Parse(time.RFC3339Nano, updated)
	return value, at, nil
}

// resumeCutoff returns the oldest event time the bot should still answer.
// With no saved position the cutoff is now, so a first sync does not answer
// room history. Otherwise messages received while offline are answered,
// reaching back at most maxGap.
func resumeCutoff(lastSynced time.Time, ok bool, now time.Time, maxGap time.Duration) time.Time {
	if !ok || lastSynced.After(now) {
		return now
	}
	if floor := now.Add(-maxGap); lastSynced.Before(floor) {
		return floor
	}
	return lastSynced
}

// Compile-time interface satisfaction check.
var _ mautrix.SyncStore = (*DBSyncStore)(nil)
