// Package history persists completed transcription results in Postgres.
// Job state itself stays in memory; only finished transcripts are durable.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a transcription id does not exist.
var ErrNotFound = errors.New("transcription not found")

const schema = `
CREATE TABLE IF NOT EXISTS transcriptions (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    filename      TEXT NOT NULL,
    provider      TEXT NOT NULL,
    transcript    TEXT NOT NULL DEFAULT '',
    speakers      JSONB,
    duration      DOUBLE PRECISION NOT NULL DEFAULT 0,
    cost_estimate DOUBLE PRECISION NOT NULL DEFAULT 0,
    language      TEXT NOT NULL DEFAULT '',
    diarization   BOOLEAN NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_user_created
    ON transcriptions (user_id, created_at DESC);
`

// Row is one stored transcription.
type Row struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"user_id"`
	Filename     string          `json:"filename"`
	Provider     string          `json:"provider"`
	Transcript   string          `json:"transcript"`
	Speakers     json.RawMessage `json:"speakers,omitempty"`
	Duration     float64         `json:"duration"`
	CostEstimate float64         `json:"cost_estimate"`
	Language     string          `json:"language,omitempty"`
	Diarization  bool            `json:"diarization"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Stats aggregates stored transcriptions for the statistics endpoint.
type Stats struct {
	Total         int64   `json:"total"`
	TotalDuration float64 `json:"total_duration_seconds"`
	TotalCost     float64 `json:"total_cost_usd"`
}

// Store is the Postgres-backed transcription archive.
type Store struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Connect opens the pool, pings it, and ensures the schema exists.
func Connect(ctx context.Context, databaseURL string, log zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("url", maskDSN(databaseURL)).
		Int32("max_conns", cfg.MaxConns).
		Msg("history database connected")

	return &Store{Pool: pool, log: log}, nil
}

// HealthCheck pings the pool with a short deadline.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

// Close shuts down the pool.
func (s *Store) Close() {
	s.log.Info().Msg("closing history database pool")
	s.Pool.Close()
}

// Save inserts a completed transcription.
func (s *Store) Save(ctx context.Context, row *Row) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO transcriptions
			(id, user_id, filename, provider, transcript, speakers, duration, cost_estimate, language, diarization, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		row.ID, row.OwnerID, row.Filename, row.Provider, row.Transcript,
		row.Speakers, row.Duration, row.CostEstimate, row.Language,
		row.Diarization, row.CreatedAt,
	)
	return err
}

// History returns an owner's transcriptions, newest first.
func (s *Store) History(ctx context.Context, ownerID string, limit, offset int) ([]*Row, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, user_id, filename, provider, transcript, speakers, duration, cost_estimate, language, diarization, created_at
		FROM transcriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetByID returns one transcription or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*Row, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, user_id, filename, provider, transcript, speakers, duration, cost_estimate, language, diarization, created_at
		FROM transcriptions WHERE id = $1`, id)

	r, err := scanRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes one transcription. Returns ErrNotFound when the id is unknown.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM transcriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStats aggregates totals across all stored transcriptions.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.Pool.QueryRow(ctx, `
		SELECT count(*), coalesce(sum(duration), 0), coalesce(sum(cost_estimate), 0)
		FROM transcriptions`,
	).Scan(&st.Total, &st.TotalDuration, &st.TotalCost)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func scanRow(row pgx.Row) (*Row, error) {
	var r Row
	err := row.Scan(&r.ID, &r.OwnerID, &r.Filename, &r.Provider, &r.Transcript,
		&r.Speakers, &r.Duration, &r.CostEstimate, &r.Language, &r.Diarization, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}
