package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/provenance/provenance-gateway/internal/storage"
)

//go:embed migrations/001_action_tokens.sql
var migration001 string

type Store struct {
	pool *pgxpool.Pool
}

var _ storage.TokenStore = (*Store)(nil)

func Open(ctx context.Context, dsn string, maxConns, minConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns >= 0 {
		cfg.MinConns = minConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &Store{pool: pool}
	if err := store.applyMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) applyMigrations(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migration001); err != nil {
		return fmt.Errorf("apply migration 001: %w", err)
	}
	return nil
}

const tokenColumns = `id, token_hash, unsigned_transaction, creator_address, content_hash, content_title, status, created_at, expires_at, consumed_at`

func (s *Store) CreateActionToken(ctx context.Context, tok storage.ActionToken) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO action_tokens (id, token_hash, unsigned_transaction, creator_address, content_hash, content_title, status, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, 'unused', $7, $8)
`, tok.ID, tok.TokenHash, tok.UnsignedTransaction, tok.CreatorAddress, tok.ContentHash, tok.ContentTitle, tok.CreatedAt.UTC(), tok.ExpiresAt.UTC())
	if err != nil {
		if isUniqueViolationFor(err, "token_hash") || isUniqueViolationFor(err, "id") {
			return storage.ErrTokenExists
		}
		return err
	}
	return nil
}

func (s *Store) GetActionToken(ctx context.Context, tokenHash string) (storage.ActionToken, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM action_tokens WHERE token_hash = $1`, tokenHash)
	tok, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return tok, false, nil
	}
	if err != nil {
		return tok, false, err
	}
	return tok, true, nil
}

// RedeemActionToken consumes the token in a single conditional update. When
// no row matches, the record is re-read only to explain the failure.
func (s *Store) RedeemActionToken(ctx context.Context, tokenHash string, now time.Time) (storage.ActionToken, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE action_tokens
SET status = 'consumed', consumed_at = $2
WHERE token_hash = $1 AND status = 'unused' AND expires_at >= $2
RETURNING `+tokenColumns, tokenHash, now.UTC())
	tok, err := scanToken(row)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return storage.ActionToken{}, err
	}
	current, found, err := s.GetActionToken(ctx, tokenHash)
	if err != nil {
		return storage.ActionToken{}, err
	}
	return storage.ActionToken{}, storage.RedeemFailure(current, found, now)
}

func (s *Store) ExpireActionTokens(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := s.pool.Exec(ctx, `
UPDATE action_tokens
SET status = 'expired'
WHERE status = 'unused' AND expires_at < $1
`, now.UTC())
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanToken(row pgx.Row) (storage.ActionToken, error) {
	var tok storage.ActionToken
	var status string
	var consumedAt *time.Time
	err := row.Scan(&tok.ID, &tok.TokenHash, &tok.UnsignedTransaction, &tok.CreatorAddress, &tok.ContentHash, &tok.ContentTitle, &status, &tok.CreatedAt, &tok.ExpiresAt, &consumedAt)
	if err != nil {
		return storage.ActionToken{}, err
	}
	tok.Status = storage.TokenStatus(status)
	tok.CreatedAt = tok.CreatedAt.UTC()
	tok.ExpiresAt = tok.ExpiresAt.UTC()
	if consumedAt != nil {
		t := consumedAt.UTC()
		tok.ConsumedAt = &t
	}
	return tok, nil
}

func isUniqueViolationFor(err error, field string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	if strings.Contains(pgErr.ConstraintName, field) {
		return true
	}
	detail := strings.ToLower(pgErr.Detail)
	if detail == "" {
		return false
	}
	return strings.Contains(detail, "("+strings.ToLower(field)+")")
}
