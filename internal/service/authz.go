package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/provenance/provenance-gateway/internal/address"
	"github.com/provenance/provenance-gateway/internal/ledger"
	"github.com/provenance/provenance-gateway/internal/protocol"
)

// SubmitTransaction co-signs and submits a client-signed transaction. Every
// instruction is checked against the program allow-list before the shared
// signer touches it; a rejected transaction is never signed or sent.
func (g *Gateway) SubmitTransaction(ctx context.Context, req protocol.SubmitTransactionRequest) (protocol.SubmitTransactionResponse, error) {
	encoded := strings.TrimSpace(req.Transaction)
	if encoded == "" {
		return protocol.SubmitTransactionResponse{}, Validation([]protocol.FieldError{{Field: "transaction", Message: "is required"}})
	}
	tx, err := ledger.DecodeTransactionBase64(encoded)
	if err != nil {
		return protocol.SubmitTransactionResponse{}, Validation([]protocol.FieldError{{Field: "transaction", Message: err.Error()}})
	}
	if err := g.authorize(tx); err != nil {
		return protocol.SubmitTransactionResponse{}, err
	}

	if _, err := tx.Sign(g.signer.Private); err != nil {
		return protocol.SubmitTransactionResponse{}, Internal("co-sign transaction", err)
	}
	sig, status, err := g.sendAndConfirm(ctx, tx)
	if err != nil {
		return protocol.SubmitTransactionResponse{}, err
	}
	return protocol.SubmitTransactionResponse{
		Signature:   sig.String(),
		Status:      status,
		ExplorerURL: g.explorerLink(sig),
	}, nil
}

// authorize is the instruction authorization guard. It is pure: it only
// inspects the decoded message.
func (g *Gateway) authorize(tx *ledger.Transaction) error {
	msg := &tx.Message
	programs, err := msg.ProgramIDs()
	if err != nil {
		return Validation([]protocol.FieldError{{Field: "transaction", Message: err.Error()}})
	}
	allowed := g.programs.Allowed()
	for i, program := range programs {
		if !containsAddress(allowed, program) {
			g.logger.Warn("rejected co-sign request",
				slog.String("unauthorized_program", program.String()),
				slog.Int("instruction_index", i),
			)
			return Forbidden("UNAUTHORIZED_PROGRAM", "transaction contains an instruction for a program outside the allow-list", map[string]any{
				"unauthorizedProgram": program.String(),
				"instructionIndex":    i,
				"allowedPrograms":     addressStrings(allowed),
			})
		}
		if program == ledger.SystemProgramID && g.touchesSigner(msg, msg.Instructions[i]) {
			g.logger.Warn("rejected co-sign request",
				slog.String("reason", "system instruction references shared signer"),
				slog.Int("instruction_index", i),
			)
			return Forbidden("UNAUTHORIZED_INSTRUCTION", "system program instructions referencing the shared signer are not co-signed", map[string]any{
				"instructionIndex": i,
			})
		}
	}

	if _, ok := msg.SignerIndex(g.signer.Address); !ok {
		return Validation([]protocol.FieldError{{
			Field:   "transaction",
			Message: "shared signer " + g.signer.Address.String() + " is not a required signer",
		}})
	}
	var missing []string
	for i, key := range msg.Signers() {
		if key == g.signer.Address {
			continue
		}
		if i >= len(tx.Signatures) || tx.Signatures[i].IsZero() {
			missing = append(missing, key.String())
		}
	}
	if len(missing) > 0 {
		return Validation([]protocol.FieldError{{
			Field:   "transaction",
			Message: "missing signatures for: " + strings.Join(missing, ", "),
		}})
	}
	return nil
}

// touchesSigner reports a system instruction that lists the shared signer in
// any account slot. Transfer, CreateAccount, Assign and their seeded forms
// all move lamports or ownership of an account they list, so none of them
// may name the signer. Lookup-table indexes cannot hold signers and are
// skipped.
func (g *Gateway) touchesSigner(msg *ledger.Message, ix ledger.CompiledInstruction) bool {
	for _, idx := range ix.Accounts {
		if int(idx) < len(msg.AccountKeys) && msg.AccountKeys[idx] == g.signer.Address {
			return true
		}
	}
	return false
}

func containsAddress(list []address.Address, a address.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func addressStrings(list []address.Address) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.String()
	}
	return out
}
