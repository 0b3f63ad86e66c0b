package transcript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists replies in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, retrying with backoff until ctx ends or the
// attempts run out, then makes sure the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pingWithRetry(ctx, pool, 5, 200*time.Millisecond, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func pingWithRetry(ctx context.Context, pool *pgxpool.Pool, attempts int, base, ceiling time.Duration) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = pool.Ping(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping postgres: %w", errors.Join(err, ctx.Err()))
		case <-time.After(backoff(attempt, base, ceiling)):
		}
	}
	return fmt.Errorf("ping postgres after %d attempts: %w", attempts, err)
}

// backoff doubles base per attempt, capped at ceiling.
func backoff(attempt int, base, ceiling time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bubble_replies (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			entity_id TEXT NOT NULL,
			text TEXT NOT NULL,
			word_count INTEGER NOT NULL DEFAULT 0,
			bubble_count INTEGER NOT NULL DEFAULT 0,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bubble_replies_session_created ON bubble_replies (session_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveReply(ctx context.Context, reply Reply) error {
	reply = prepare(reply)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bubble_replies (id, session_id, user_id, entity_id, text, word_count, bubble_count, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		reply.ID,
		reply.SessionID,
		reply.UserID,
		reply.EntityID,
		reply.Text,
		reply.WordCount,
		reply.BubbleCount,
		reply.PIIRedacted,
		reply.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save reply: %w", err)
	}
	return nil
}

func (s *PostgresStore) SessionReplies(ctx context.Context, sessionID string, limit int) ([]Reply, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_id, entity_id, text, word_count, bubble_count, pii_redacted, created_at
		 FROM bubble_replies WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query session replies: %w", err)
	}
	defer rows.Close()

	items := make([]Reply, 0, 16)
	for rows.Next() {
		var r Reply
		if err := rows.Scan(&r.ID, &r.SessionID, &r.UserID, &r.EntityID, &r.Text, &r.WordCount, &r.BubbleCount, &r.PIIRedacted, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reply row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reply rows: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
