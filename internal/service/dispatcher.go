package service

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/provenance/provenance-gateway/internal/address"
	"github.com/provenance/provenance-gateway/internal/ledger"
	"github.com/provenance/provenance-gateway/internal/protocol"
)

// Mode is how a constructed transaction reaches the ledger.
type Mode int

const (
	ModeCustodialImmediate Mode = iota + 1
	ModeClientDeferredImmediate
	ModeClientDeferredToken
)

func (m Mode) String() string {
	switch m {
	case ModeCustodialImmediate:
		return "custodial-immediate"
	case ModeClientDeferredImmediate:
		return "client-deferred-immediate"
	case ModeClientDeferredToken:
		return "client-deferred-token"
	default:
		return "unknown"
	}
}

// SelectMode is a pure function of the request. Custodial wallets sign
// server-side, so asking for an action link with one is a request error
// rather than a silent switch to another mode.
func SelectMode(walletType string, returnActionLink bool) (Mode, error) {
	switch walletType {
	case protocol.WalletCustodial:
		if returnActionLink {
			return 0, Validation([]protocol.FieldError{{
				Field:   "returnActionLink",
				Message: "action links are only available for standard wallets",
			}})
		}
		return ModeCustodialImmediate, nil
	case protocol.WalletStandard:
		if returnActionLink {
			return ModeClientDeferredToken, nil
		}
		return ModeClientDeferredImmediate, nil
	default:
		return 0, Validation([]protocol.FieldError{{
			Field:   "walletType",
			Message: fmt.Sprintf("must be %q or %q", protocol.WalletStandard, protocol.WalletCustodial),
		}})
	}
}

// handoff is everything the dispatcher needs to route one instruction that
// the creator must sign.
type handoff struct {
	creator      address.Address
	instruction  ledger.Instruction
	contentHash  string
	contentTitle string
}

type dispatchResult struct {
	Status      string
	Signature   string
	ExplorerURL string
	Transaction string
	ActionLink  string
	Token       string
	ExpiresAt   *time.Time
}

func (g *Gateway) dispatch(ctx context.Context, mode Mode, h handoff) (dispatchResult, error) {
	switch mode {
	case ModeCustodialImmediate:
		return g.submitCustodial(ctx, h)
	case ModeClientDeferredImmediate:
		encoded, err := g.compileUnsigned(ctx, h.instruction)
		if err != nil {
			return dispatchResult{}, err
		}
		return dispatchResult{Status: protocol.StatusRequiresClientSignature, Transaction: encoded}, nil
	case ModeClientDeferredToken:
		encoded, err := g.compileUnsigned(ctx, h.instruction)
		if err != nil {
			return dispatchResult{}, err
		}
		issued, err := g.issueActionToken(ctx, encoded, h)
		if err != nil {
			return dispatchResult{}, err
		}
		return dispatchResult{
			Status:     protocol.StatusActionLinkCreated,
			ActionLink: issued.link,
			Token:      issued.token,
			ExpiresAt:  &issued.expiresAt,
		}, nil
	default:
		return dispatchResult{}, Internal("unknown submission mode", fmt.Errorf("mode %d", mode))
	}
}

// compile builds a transaction paid for by the shared signer, prefixed with
// compute-budget instructions when a unit limit is configured.
func (g *Gateway) compile(ctx context.Context, instructions ...ledger.Instruction) (*ledger.Transaction, error) {
	all := make([]ledger.Instruction, 0, len(instructions)+2)
	if g.computeUnitLimit > 0 {
		all = append(all, ledger.SetComputeUnitLimitInstruction(g.computeUnitLimit))
		if price := g.priorityFee(ctx, instructions); price > 0 {
			all = append(all, ledger.SetComputeUnitPriceInstruction(price))
		}
	}
	all = append(all, instructions...)

	blockhash, err := g.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, Upstream(err)
	}
	tx, err := ledger.NewTransaction(g.signer.Address, blockhash, all...)
	if err != nil {
		return nil, Internal("compile transaction", err)
	}
	return tx, nil
}

// priorityFee is best effort: a failed fee lookup leaves the price unset.
func (g *Gateway) priorityFee(ctx context.Context, instructions []ledger.Instruction) uint64 {
	var writable []address.Address
	for _, ix := range instructions {
		for _, meta := range ix.Accounts {
			if meta.IsWritable {
				writable = append(writable, meta.Address)
			}
		}
	}
	fee, err := g.ledger.RecentPriorityFee(ctx, writable)
	if err != nil {
		g.logger.Warn("priority fee lookup failed", slog.String("error", err.Error()))
		return 0
	}
	if g.maxPriorityFee > 0 && fee > g.maxPriorityFee {
		return g.maxPriorityFee
	}
	return fee
}

func (g *Gateway) compileUnsigned(ctx context.Context, ix ledger.Instruction) (string, error) {
	tx, err := g.compile(ctx, ix)
	if err != nil {
		return "", err
	}
	encoded, err := tx.ToBase64()
	if err != nil {
		return "", Internal("serialize transaction", err)
	}
	return encoded, nil
}

// submitAsSigner compiles, signs with the shared signer alone, submits and
// confirms. Used for instructions the shared signer fully authorizes.
func (g *Gateway) submitAsSigner(ctx context.Context, instructions ...ledger.Instruction) (ledger.Signature, string, error) {
	tx, err := g.compile(ctx, instructions...)
	if err != nil {
		return ledger.Signature{}, "", err
	}
	if _, err := tx.Sign(g.signer.Private); err != nil {
		return ledger.Signature{}, "", Internal("sign transaction", err)
	}
	return g.sendAndConfirm(ctx, tx)
}

func (g *Gateway) submitCustodial(ctx context.Context, h handoff) (dispatchResult, error) {
	if g.custodian == nil {
		return dispatchResult{}, NewAppError(http.StatusServiceUnavailable, "CUSTODY_DISABLED", "custodial wallets are not configured", false, nil)
	}
	tx, err := g.compile(ctx, h.instruction)
	if err != nil {
		return dispatchResult{}, err
	}
	unsigned, err := tx.ToBase64()
	if err != nil {
		return dispatchResult{}, Internal("serialize transaction", err)
	}
	signedB64, err := g.custodian.SignTransaction(ctx, h.creator, unsigned)
	if err != nil {
		return dispatchResult{}, Upstream(err)
	}
	signed, err := g.acceptCustodialSignature(tx, signedB64, h.creator)
	if err != nil {
		return dispatchResult{}, err
	}
	if _, err := signed.Sign(g.signer.Private); err != nil {
		return dispatchResult{}, Internal("sign transaction", err)
	}
	sig, status, err := g.sendAndConfirm(ctx, signed)
	if err != nil {
		return dispatchResult{}, err
	}
	return dispatchResult{Status: status, Signature: sig.String(), ExplorerURL: g.explorerLink(sig)}, nil
}

// acceptCustodialSignature checks that the provider returned the message we
// built, signed by the creator, before the shared signer adds its signature.
func (g *Gateway) acceptCustodialSignature(sent *ledger.Transaction, signedB64 string, creator address.Address) (*ledger.Transaction, error) {
	signed, err := ledger.DecodeTransactionBase64(signedB64)
	if err != nil {
		return nil, Upstream(&protocol.UpstreamError{Service: "custody", Message: "signed transaction is malformed"})
	}
	want, err := sent.Message.MarshalBinary()
	if err != nil {
		return nil, Internal("serialize message", err)
	}
	got, err := signed.Message.MarshalBinary()
	if err != nil || !bytes.Equal(want, got) {
		return nil, Upstream(&protocol.UpstreamError{Service: "custody", Message: "signed transaction does not match the request"})
	}
	sig, ok := signed.SignatureFor(creator)
	if !ok || !ed25519.Verify(creator.Bytes(), got, sig[:]) {
		return nil, Upstream(&protocol.UpstreamError{Service: "custody", Message: "creator signature missing or invalid"})
	}
	return signed, nil
}

func (g *Gateway) sendAndConfirm(ctx context.Context, tx *ledger.Transaction) (ledger.Signature, string, error) {
	g.logger.Debug("submitting transaction", slog.String("signature", tx.ID().String()))
	sig, err := g.ledger.Send(ctx, tx)
	if err != nil {
		g.logger.Warn("transaction submission failed",
			slog.String("signature", tx.ID().String()),
			slog.String("error", err.Error()),
		)
		return ledger.Signature{}, "", g.submitError(err)
	}
	status, err := g.ledger.Confirm(ctx, sig)
	if err != nil {
		return sig, "", g.submitError(err)
	}
	g.logger.Info("transaction confirmed",
		slog.String("signature", sig.String()),
		slog.String("commitment", status),
	)
	return sig, protocol.StatusConfirmed, nil
}

// submitError maps the ledger's duplicate-account rejection, the
// authoritative answer to a lost check-then-act race, to a conflict.
func (g *Gateway) submitError(err error) error {
	if errors.Is(err, ledger.ErrAccountInUse) {
		return Conflict("ACCOUNT_ALREADY_EXISTS", "the ledger rejected the write because the account already exists", nil)
	}
	return Upstream(err)
}
