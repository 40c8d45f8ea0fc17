// Package sqlite is the embedded token store used for single-node
// deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/provenance/provenance-gateway/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

var _ storage.TokenStore = (*Store)(nil)

func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes the conditional token updates.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	_ = s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const tokenColumns = `id, token_hash, unsigned_transaction, creator_address, content_hash, content_title, status, created_at, expires_at, consumed_at`

func (s *Store) CreateActionToken(ctx context.Context, tok storage.ActionToken) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO action_tokens (id, token_hash, unsigned_transaction, creator_address, content_hash, content_title, status, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, 'unused', ?, ?)
`, tok.ID, tok.TokenHash, tok.UnsignedTransaction, tok.CreatorAddress, tok.ContentHash, tok.ContentTitle, tok.CreatedAt.UnixMilli(), tok.ExpiresAt.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return storage.ErrTokenExists
		}
		return err
	}
	return nil
}

func (s *Store) GetActionToken(ctx context.Context, tokenHash string) (storage.ActionToken, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM action_tokens WHERE token_hash = ?`, tokenHash)
	tok, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tok, false, nil
	}
	if err != nil {
		return tok, false, err
	}
	return tok, true, nil
}

func (s *Store) RedeemActionToken(ctx context.Context, tokenHash string, now time.Time) (storage.ActionToken, error) {
	row := s.db.QueryRowContext(ctx, `
UPDATE action_tokens
SET status = 'consumed', consumed_at = ?
WHERE token_hash = ? AND status = 'unused' AND expires_at >= ?
RETURNING `+tokenColumns, now.UnixMilli(), tokenHash, now.UnixMilli())
	tok, err := scanToken(row)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return storage.ActionToken{}, err
	}
	current, found, err := s.GetActionToken(ctx, tokenHash)
	if err != nil {
		return storage.ActionToken{}, err
	}
	return storage.ActionToken{}, storage.RedeemFailure(current, found, now)
}

func (s *Store) ExpireActionTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE action_tokens
SET status = 'expired'
WHERE status = 'unused' AND expires_at < ?
`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanToken(row *sql.Row) (storage.ActionToken, error) {
	var tok storage.ActionToken
	var status string
	var createdAt, expiresAt int64
	var consumedAt sql.NullInt64
	err := row.Scan(&tok.ID, &tok.TokenHash, &tok.UnsignedTransaction, &tok.CreatorAddress, &tok.ContentHash, &tok.ContentTitle, &status, &createdAt, &expiresAt, &consumedAt)
	if err != nil {
		return storage.ActionToken{}, err
	}
	tok.Status = storage.TokenStatus(status)
	tok.CreatedAt = time.UnixMilli(createdAt).UTC()
	tok.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	if consumedAt.Valid {
		t := time.UnixMilli(consumedAt.Int64).UTC()
		tok.ConsumedAt = &t
	}
	return tok, nil
}
