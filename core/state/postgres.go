package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/qnabot/core/logger"
)

const (
	pgGet = `SELECT value FROM bot_state
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`
	pgUpsert = `INSERT INTO bot_state (key, value, expires_at, updated_at)
		VALUES ($1, $2::jsonb, $3, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()`
	pgDelete = `DELETE FROM bot_state WHERE key = $1`
	pgPurge  = `DELETE FROM bot_state WHERE expires_at IS NOT NULL AND expires_at <= now()`
)

// PostgresStore keeps state in the bot_state table created by the migrations.
type PostgresStore struct {
	db  *sqlx.DB
	ttl time.Duration
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open pool. A positive ttl makes rows expire.
func NewPostgresStore(db *sqlx.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, pgGet, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres get: %w", err)
	}
	return raw, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, pgUpsert, key, string(value), s.expiresAt()); err != nil {
		return fmt.Errorf("postgres set: %w", err)
	}
	return nil
}

// SetMany upserts all entries in one transaction.
func (s *PostgresStore) SetMany(ctx context.Context, entries ...Entry) (err error) {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	expires := s.expiresAt()
	for _, e := range entries {
		if _, err = tx.ExecContext(ctx, pgUpsert, e.Key, string(e.Value), expires); err != nil {
			return fmt.Errorf("postgres set %s: %w", e.Key, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("postgres commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, pgDelete, key); err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

// PurgeExpired deletes rows past their expiry and returns how many went.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, pgPurge)
	if err != nil {
		return 0, fmt.Errorf("postgres purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres purge: %w", err)
	}
	return n, nil
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	logger.Info(context.Background(), "state", "state.close",
		slog.String("backend", "postgres"),
		slog.String("status", logger.Status(err)),
	)
	return err
}

func (s *PostgresStore) expiresAt() sql.NullTime {
	if s.ttl <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: time.Now().Add(s.ttl), Valid: true}
}
