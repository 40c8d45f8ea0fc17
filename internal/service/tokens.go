package service

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/provenance/provenance-gateway/internal/ledger"
	"github.com/provenance/provenance-gateway/internal/protocol"
	"github.com/provenance/provenance-gateway/internal/storage"
)

type issuedToken struct {
	token     string
	link      string
	expiresAt time.Time
}

func (g *Gateway) issueActionToken(ctx context.Context, unsignedTx string, h handoff) (issuedToken, error) {
	token, err := protocol.RandomToken()
	if err != nil {
		return issuedToken{}, Internal("generate action token", err)
	}
	now := g.now().UTC()
	rec := storage.ActionToken{
		ID:                  uuid.NewString(),
		TokenHash:           protocol.TokenDigest(token),
		UnsignedTransaction: unsignedTx,
		CreatorAddress:      h.creator.String(),
		ContentHash:         h.contentHash,
		ContentTitle:        h.contentTitle,
		Status:              storage.TokenUnused,
		CreatedAt:           now,
		ExpiresAt:           now.Add(g.actionTokenTTL),
	}
	if err := g.tokens.CreateActionToken(ctx, rec); err != nil {
		return issuedToken{}, Internal("persist action token", err)
	}
	return issuedToken{
		token:     token,
		link:      g.actionBaseURL + "/tx-action/" + token,
		expiresAt: rec.ExpiresAt,
	}, nil
}

// PreviewAction describes a pending action link without consuming it.
func (g *Gateway) PreviewAction(ctx context.Context, token string) (protocol.ActionPreviewResponse, error) {
	if err := checkTokenShape(token); err != nil {
		return protocol.ActionPreviewResponse{}, err
	}
	rec, ok, err := g.tokens.GetActionToken(ctx, protocol.TokenDigest(token))
	if err != nil {
		return protocol.ActionPreviewResponse{}, Internal("load action token", err)
	}
	if !ok {
		return protocol.ActionPreviewResponse{}, tokenError(storage.ErrTokenMissing)
	}
	status := rec.Status
	if status == storage.TokenUnused && g.now().After(rec.ExpiresAt) {
		status = storage.TokenExpired
	}
	return protocol.ActionPreviewResponse{
		CreatorAddress: rec.CreatorAddress,
		ContentHash:    rec.ContentHash,
		ContentTitle:   rec.ContentTitle,
		Status:         string(status),
		CreatedAt:      rec.CreatedAt,
		ExpiresAt:      rec.ExpiresAt,
	}, nil
}

// RedeemAction consumes the token and returns its transaction with a fresh
// blockhash, since the one attached at issuance is long expired by the time
// most links are opened. The blockhash is fetched before the token is
// consumed so a ledger outage does not burn the link.
func (g *Gateway) RedeemAction(ctx context.Context, token string) (protocol.ActionRedeemResponse, error) {
	if err := checkTokenShape(token); err != nil {
		return protocol.ActionRedeemResponse{}, err
	}
	blockhash, err := g.ledger.LatestBlockhash(ctx)
	if err != nil {
		return protocol.ActionRedeemResponse{}, Upstream(err)
	}
	rec, err := g.tokens.RedeemActionToken(ctx, protocol.TokenDigest(token), g.now().UTC())
	if err != nil {
		return protocol.ActionRedeemResponse{}, tokenError(err)
	}
	tx, err := ledger.DecodeTransactionBase64(rec.UnsignedTransaction)
	if err != nil {
		return protocol.ActionRedeemResponse{}, Internal("decode stored transaction", err)
	}
	tx.Message.RecentBlockhash = blockhash
	for i := range tx.Signatures {
		tx.Signatures[i] = ledger.Signature{}
	}
	encoded, err := tx.ToBase64()
	if err != nil {
		return protocol.ActionRedeemResponse{}, Internal("serialize transaction", err)
	}
	return protocol.ActionRedeemResponse{
		Transaction:    encoded,
		CreatorAddress: rec.CreatorAddress,
		ContentHash:    rec.ContentHash,
		ContentTitle:   rec.ContentTitle,
	}, nil
}

func checkTokenShape(token string) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != protocol.ActionTokenBytes {
		return Validation([]protocol.FieldError{{Field: "token", Message: "malformed action token"}})
	}
	return nil
}

func tokenError(err error) error {
	switch {
	case errors.Is(err, storage.ErrTokenMissing):
		return Conflict("ACTION_TOKEN_NOT_FOUND", "action link does not exist", map[string]any{
			"remediation": "request a new action link via /register",
		})
	case errors.Is(err, storage.ErrTokenConsumed):
		return Conflict("ACTION_TOKEN_CONSUMED", "action link has already been used", map[string]any{
			"remediation": "request a new action link via /register",
		})
	case errors.Is(err, storage.ErrTokenExpired):
		return Conflict("ACTION_TOKEN_EXPIRED", "action link has expired", map[string]any{
			"remediation": "request a new action link via /register",
		})
	default:
		return NewAppError(http.StatusInternalServerError, "INTERNAL_ERROR", "redeem action token", true, err)
	}
}
