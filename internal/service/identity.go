package service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/provenance/provenance-gateway/internal/address"
	"github.com/provenance/provenance-gateway/internal/ledger"
	"github.com/provenance/provenance-gateway/internal/protocol"
)

const maxUserIDChars = 200

var linkRemediation = []string{"/link-wallet", "/create-wallet"}

func (g *Gateway) LinkWallet(ctx context.Context, req protocol.LinkWalletRequest) (protocol.LinkWalletResponse, error) {
	var problems fieldErrors
	userID := checkUserID(&problems, req.UserID)
	wallet := checkAddress(&problems, "walletAddress", req.WalletAddress)
	if err := problems.err(); err != nil {
		return protocol.LinkWalletResponse{}, err
	}
	return g.link(ctx, userID, wallet)
}

// link writes both directions of the identity relation in one instruction
// after checking that neither direction is taken. The ledger rejects a
// duplicate write if another request wins the race in between.
func (g *Gateway) link(ctx context.Context, userID string, wallet address.Address) (protocol.LinkWalletResponse, error) {
	userKey, err := g.programs.UserToWalletAddress(userID)
	if err != nil {
		return protocol.LinkWalletResponse{}, Validation([]protocol.FieldError{{Field: "userID", Message: err.Error()}})
	}
	walletKey, err := g.programs.WalletToUserAddress(wallet)
	if err != nil {
		return protocol.LinkWalletResponse{}, Internal("derive wallet relation address", err)
	}

	var byUser, byWallet []byte
	var userTaken, walletTaken bool
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		byUser, userTaken, err = g.guard.Fetch(egCtx, userKey)
		return err
	})
	eg.Go(func() error {
		var err error
		byWallet, walletTaken, err = g.guard.Fetch(egCtx, walletKey)
		return err
	})
	if err := eg.Wait(); err != nil {
		return protocol.LinkWalletResponse{}, Upstream(err)
	}

	if userTaken {
		details := map[string]any{"conflict": "userID", "userID": userID}
		if rel, err := ledger.DecodeUserKeyRelation(byUser); err == nil {
			details["existingWalletAddress"] = rel.Wallet.String()
		} else {
			g.logger.Warn("undecodable relation account", slog.String("address", userKey.String()), slog.String("error", err.Error()))
		}
		return protocol.LinkWalletResponse{}, Conflict("USER_ALREADY_LINKED", "userID is already linked to a wallet", details)
	}
	if walletTaken {
		details := map[string]any{"conflict": "walletAddress", "walletAddress": wallet.String()}
		if rel, err := ledger.DecodeUserKeyRelation(byWallet); err == nil {
			details["existingUserID"] = rel.UserID
		} else {
			g.logger.Warn("undecodable relation account", slog.String("address", walletKey.String()), slog.String("error", err.Error()))
		}
		return protocol.LinkWalletResponse{}, Conflict("WALLET_ALREADY_LINKED", "walletAddress is already linked to a userID", details)
	}

	ix, err := g.programs.LinkWalletInstruction(userID, wallet, g.signer.Address)
	if err != nil {
		return protocol.LinkWalletResponse{}, Internal("build link instruction", err)
	}
	sig, _, err := g.submitAsSigner(ctx, ix)
	if err != nil {
		return protocol.LinkWalletResponse{}, err
	}
	return protocol.LinkWalletResponse{
		Status:              protocol.StatusLinked,
		UserID:              userID,
		WalletAddress:       wallet.String(),
		UserToWalletAddress: userKey.String(),
		WalletToUserAddress: walletKey.String(),
		Signature:           sig.String(),
		ExplorerURL:         g.explorerLink(sig),
	}, nil
}

// FindWallet resolves a relation from exactly one of its two keys.
func (g *Gateway) FindWallet(ctx context.Context, userID, walletAddress string) (protocol.FindWalletResponse, error) {
	hasUser := strings.TrimSpace(userID) != ""
	hasWallet := strings.TrimSpace(walletAddress) != ""
	if hasUser == hasWallet {
		return protocol.FindWalletResponse{}, Validation([]protocol.FieldError{{
			Field:   "userID,walletAddress",
			Message: "exactly one of userID or walletAddress must be provided",
		}})
	}

	var problems fieldErrors
	var key address.Address
	var lookup map[string]any
	if hasUser {
		id := checkUserID(&problems, userID)
		if err := problems.err(); err != nil {
			return protocol.FindWalletResponse{}, err
		}
		k, err := g.programs.UserToWalletAddress(id)
		if err != nil {
			return protocol.FindWalletResponse{}, Validation([]protocol.FieldError{{Field: "userID", Message: err.Error()}})
		}
		key, lookup = k, map[string]any{"userID": id}
	} else {
		wallet := checkAddress(&problems, "walletAddress", walletAddress)
		if err := problems.err(); err != nil {
			return protocol.FindWalletResponse{}, err
		}
		k, err := g.programs.WalletToUserAddress(wallet)
		if err != nil {
			return protocol.FindWalletResponse{}, Internal("derive wallet relation address", err)
		}
		key, lookup = k, map[string]any{"walletAddress": wallet.String()}
	}

	data, ok, err := g.guard.Fetch(ctx, key)
	if err != nil {
		return protocol.FindWalletResponse{}, Upstream(err)
	}
	if !ok {
		lookup["remediation"] = linkRemediation
		return protocol.FindWalletResponse{}, Conflict("RELATION_NOT_FOUND", "no wallet relation exists for the given key", lookup)
	}
	rel, err := ledger.DecodeUserKeyRelation(data)
	if err != nil {
		return protocol.FindWalletResponse{}, Internal("decode relation account", err)
	}
	return protocol.FindWalletResponse{
		UserID:          rel.UserID,
		WalletAddress:   rel.Wallet.String(),
		RelationAddress: key.String(),
		CreatedAt:       rel.CreatedAt,
	}, nil
}

// CreateWallet provisions a custodial wallet for userID and links it. The
// identity direction is checked first so a taken userID never provisions a
// wallet.
func (g *Gateway) CreateWallet(ctx context.Context, req protocol.CreateWalletRequest) (protocol.CreateWalletResponse, error) {
	var problems fieldErrors
	userID := checkUserID(&problems, req.UserID)
	if err := problems.err(); err != nil {
		return protocol.CreateWalletResponse{}, err
	}
	if g.custodian == nil {
		return protocol.CreateWalletResponse{}, NewAppError(http.StatusServiceUnavailable, "CUSTODY_DISABLED", "custodial wallets are not configured", false, nil)
	}
	userKey, err := g.programs.UserToWalletAddress(userID)
	if err != nil {
		return protocol.CreateWalletResponse{}, Validation([]protocol.FieldError{{Field: "userID", Message: err.Error()}})
	}
	data, taken, err := g.guard.Fetch(ctx, userKey)
	if err != nil {
		return protocol.CreateWalletResponse{}, Upstream(err)
	}
	if taken {
		details := map[string]any{"conflict": "userID", "userID": userID}
		if rel, err := ledger.DecodeUserKeyRelation(data); err == nil {
			details["existingWalletAddress"] = rel.Wallet.String()
		}
		return protocol.CreateWalletResponse{}, Conflict("USER_ALREADY_LINKED", "userID is already linked to a wallet", details)
	}

	wallet, err := g.custodian.CreateWallet(ctx, userID)
	if err != nil {
		return protocol.CreateWalletResponse{}, Upstream(err)
	}
	g.logger.Info("custodial wallet created", slog.String("wallet", wallet.String()))

	linked, err := g.link(ctx, userID, wallet)
	if err != nil {
		g.logger.Warn("custodial wallet left unlinked",
			slog.String("user_id", userID),
			slog.String("orphaned_wallet", wallet.String()),
			slog.String("error", err.Error()),
		)
		return protocol.CreateWalletResponse{}, err
	}
	return protocol.CreateWalletResponse{
		UserID:        linked.UserID,
		WalletAddress: linked.WalletAddress,
		Signature:     linked.Signature,
		ExplorerURL:   linked.ExplorerURL,
	}, nil
}

func checkUserID(problems *fieldErrors, raw string) string {
	id := strings.TrimSpace(raw)
	switch {
	case id == "":
		problems.add("userID", "is required")
	case utf8.RuneCountInString(id) > maxUserIDChars:
		problems.add("userID", "must be at most 200 characters")
	case len(id) > address.MaxSeedLength:
		problems.add("userID", "must be at most 32 bytes when encoded")
	}
	return id
}

func checkAddress(problems *fieldErrors, field, raw string) address.Address {
	s := strings.TrimSpace(raw)
	if s == "" {
		problems.add(field, "is required")
		return address.Zero
	}
	a, err := address.Parse(s)
	if err != nil {
		problems.add(field, "must be a valid base58 address")
		return address.Zero
	}
	return a
}
