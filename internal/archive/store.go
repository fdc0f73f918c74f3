package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HaujetZhao/SubWriter/internal/pipeline"
)

// ErrNotFound is returned by Get when no transcript has the requested ID
var ErrNotFound = errors.New("transcript not found")

// Transcript is one archived transcription job
type Transcript struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	AudioSeconds float64
	Message      *pipeline.Message
}

// querier is the subset of *pgxpool.Pool used by Store
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
	CREATE TABLE IF NOT EXISTS transcripts (
		id UUID PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		audio_seconds DOUBLE PRECISION NOT NULL,
		text TEXT NOT NULL,
		tokens TEXT[] NOT NULL,
		timestamps DOUBLE PRECISION[] NOT NULL
	)
`

const insertTranscript = `
	INSERT INTO transcripts (id, created_at, audio_seconds, text, tokens, timestamps)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO NOTHING
`

const selectTranscript = `
	SELECT created_at, audio_seconds, text, tokens, timestamps
	FROM transcripts WHERE id = $1
`

// Store writes transcripts to a PostgreSQL table
type Store struct {
	db   querier
	pool *pgxpool.Pool
}

// Open connects to dsn, verifies the connection and creates the table if needed
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse archive DSN: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to archive: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping archive: %w", err)
	}

	s := &Store{db: pool, pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func newStore(db querier) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the transcripts table if it does not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create transcripts table: %w", err)
	}
	return nil
}

// Save inserts t. Saving the same ID twice is a no-op.
func (s *Store) Save(ctx context.Context, t Transcript) error {
	if t.Message == nil {
		return fmt.Errorf("transcript %s has no message", t.ID)
	}

	tokens := t.Message.Tokens
	if tokens == nil {
		tokens = []string{}
	}
	timestamps := t.Message.Timestamps
	if timestamps == nil {
		timestamps = []float64{}
	}

	_, err := s.db.Exec(ctx, insertTranscript,
		t.ID, t.CreatedAt.UTC(), t.AudioSeconds, t.Message.Text, tokens, timestamps)
	if err != nil {
		return fmt.Errorf("failed to insert transcript %s: %w", t.ID, err)
	}
	return nil
}

// Get loads the transcript with the given ID
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Transcript, error) {
	t := &Transcript{ID: id, Message: &pipeline.Message{}}

	err := s.db.QueryRow(ctx, selectTranscript, id).Scan(
		&t.CreatedAt, &t.AudioSeconds, &t.Message.Text, &t.Message.Tokens, &t.Message.Timestamps)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript %s: %w", id, err)
	}

	return t, nil
}

// Close releases the connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
