package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTokenMissing  = errors.New("action token not found")
	ErrTokenConsumed = errors.New("action token already consumed")
	ErrTokenExpired  = errors.New("action token expired")
	ErrTokenExists   = errors.New("action token already exists")
)

type TokenStatus string

const (
	TokenUnused   TokenStatus = "unused"
	TokenConsumed TokenStatus = "consumed"
	TokenExpired  TokenStatus = "expired"
)

// ActionToken is a deferred-signing handoff. Only the SHA-256 of the bearer
// token is stored; the token itself is returned to the client once.
type ActionToken struct {
	ID                  string
	TokenHash           string
	UnsignedTransaction string
	CreatorAddress      string
	ContentHash         string
	ContentTitle        string
	Status              TokenStatus
	CreatedAt           time.Time
	ExpiresAt           time.Time
	ConsumedAt          *time.Time
}

// TokenStore persists action tokens. RedeemActionToken must perform the
// unused-and-unexpired check and the transition to consumed as one
// conditional write, so that concurrent redemptions yield exactly one winner.
type TokenStore interface {
	Close()
	Ping(ctx context.Context) error

	CreateActionToken(ctx context.Context, tok ActionToken) error
	GetActionToken(ctx context.Context, tokenHash string) (ActionToken, bool, error)
	RedeemActionToken(ctx context.Context, tokenHash string, now time.Time) (ActionToken, error)
	ExpireActionTokens(ctx context.Context, now time.Time) (int64, error)
}

// RedeemFailure explains why a conditional redeem matched no row, given the
// current state of the record.
func RedeemFailure(tok ActionToken, found bool, now time.Time) error {
	switch {
	case !found:
		return ErrTokenMissing
	case tok.Status == TokenConsumed:
		return ErrTokenConsumed
	case tok.Status == TokenExpired || now.After(tok.ExpiresAt):
		return ErrTokenExpired
	default:
		return ErrTokenConsumed
	}
}
