// Package archive persists final transcripts to Postgres for later review.
// Archiving is optional: a nil Store accepts every call and does nothing, so
// the pipeline code carries no enabled checks.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id              UUID PRIMARY KEY,
	room_code       TEXT NOT NULL,
	speaker         TEXT NOT NULL,
	language        TEXT NOT NULL,
	text            TEXT NOT NULL,
	translation     TEXT NOT NULL DEFAULT '',
	target_language TEXT NOT NULL DEFAULT '',
	duration_ms     BIGINT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS transcripts_room_created_idx
	ON transcripts (room_code, created_at DESC);
`

// Record is one archived utterance.
type Record struct {
	ID             uuid.UUID     `json:"id"`
	RoomCode       string        `json:"room_code"`
	Speaker        string        `json:"speaker"`
	Language       string        `json:"language"`
	Text           string        `json:"text"`
	Translation    string        `json:"translation,omitempty"`
	TargetLanguage string        `json:"target_language,omitempty"`
	Duration       time.Duration `json:"duration_ms"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Store writes transcripts to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and ensures the schema exists. An empty dsn
// returns a nil Store, which disables archiving.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ensure schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Save archives one transcript. Generates the ID and CreatedAt when unset.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if s == nil {
		return nil
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO transcripts
			(id, room_code, speaker, language, text, translation, target_language, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.RoomCode, rec.Speaker, rec.Language, rec.Text,
		rec.Translation, rec.TargetLanguage, rec.Duration.Milliseconds(), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("archive: insert transcript: %w", err)
	}
	return nil
}

// Recent returns the latest transcripts for a room, newest first.
func (s *Store) Recent(ctx context.Context, roomCode string, limit int) ([]Record, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, room_code, speaker, language, text, translation, target_language, duration_ms, created_at
		FROM transcripts
		WHERE room_code = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		roomCode, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("archive: query transcripts: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var durationMs int64
		if err := rows.Scan(&rec.ID, &rec.RoomCode, &rec.Speaker, &rec.Language,
			&rec.Text, &rec.Translation, &rec.TargetLanguage, &durationMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("archive: scan transcript: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate transcripts: %w", err)
	}
	return out, nil
}

// Ping probes the database, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
