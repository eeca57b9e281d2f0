package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/bdobrica/bestie/internal/bestie/reply"
	"github.com/bdobrica/bestie/internal/bestie/session"
)

// DefaultHistoryLimit caps the rows returned by the history queries.
const DefaultHistoryLimit = 50

// timeLayout is fixed-width so recorded_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// EmotionRecord is one row of the emotion log.
type EmotionRecord struct {
	Identity   string
	Label      string
	RecordedAt time.Time
}

// MessageRecord is one row of the message log with its body decrypted.
type MessageRecord struct {
	Identity   string
	Text       string
	RecordedAt time.Time
}

// RecordEmotion appends an emotion fact for identity.
func (s *Store) RecordEmotion(ctx context.Context, identity session.Identity, label string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO emotions (identity, label, recorded_at) VALUES (?, ?, ?)",
		identity.ID(), label, ts.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("store: insert emotion: %w", err)
	}
	return nil
}

// RecordMessage appends a message fact for identity, encrypting the body
// when a sealer is configured.
func (s *Store) RecordMessage(ctx context.Context, identity session.Identity, text string, ts time.Time) error {
	body, encrypted := text, 0
	if s.sealer != nil {
		ct, err := s.sealer.Seal([]byte(text))
		if err != nil {
			return fmt.Errorf("store: seal message: %w", err)
		}
		body, encrypted = base64.StdEncoding.EncodeToString(ct), 1
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (identity, body, encrypted, recorded_at) VALUES (?, ?, ?, ?)",
		identity.ID(), body, encrypted, ts.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	return nil
}

// Emotions returns the most recent emotion facts for subject, newest first.
// limit <= 0 uses DefaultHistoryLimit.
func (s *Store) Emotions(ctx context.Context, subject string, limit int) ([]EmotionRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT identity, label, recorded_at FROM emotions
WHERE identity = ?
ORDER BY recorded_at DESC, id DESC
LIMIT ?
`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query emotions: %w", err)
	}
	defer rows.Close()

	var out []EmotionRecord
	for rows.Next() {
		var r EmotionRecord
		var ts string
		if err := rows.Scan(&r.Identity, &r.Label, &ts); err != nil {
			return nil, fmt.Errorf("store: scan emotion: %w", err)
		}
		r.RecordedAt, _ = time.Parse(timeLayout, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Messages returns the most recent message facts for subject, newest first.
func (s *Store) Messages(ctx context.Context, subject string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT identity, body, encrypted, recorded_at FROM messages
WHERE identity = ?
ORDER BY recorded_at DESC, id DESC
LIMIT ?
`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var r MessageRecord
		var body, ts string
		var encrypted int
		if err := rows.Scan(&r.Identity, &body, &encrypted, &ts); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		if encrypted != 0 {
			if r.Text, err = s.open(body); err != nil {
				return nil, err
			}
		} else {
			r.Text = body
		}
		r.RecordedAt, _ = time.Parse(timeLayout, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) open(body string) (string, error) {
	if s.sealer == nil {
		return "", fmt.Errorf("store: message is encrypted but no master key is configured")
	}
	ct, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("store: decode message: %w", err)
	}
	pt, err := s.sealer.Open(ct)
	if err != nil {
		return "", fmt.Errorf("store: open message: %w", err)
	}
	return string(pt), nil
}

// Compile-time interface satisfaction check.
var _ reply.LogSink = (*Store)(nil)
