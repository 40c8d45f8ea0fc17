package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/provenance/provenance-gateway/internal/address"
	"github.com/provenance/provenance-gateway/internal/ledger"
	"github.com/provenance/provenance-gateway/internal/protocol"
)

const (
	maxTitleChars    = 200
	maxMetadataChars = 500
	maxFileNameChars = 255
)

type registration struct {
	creator     address.Address
	contentHash [32]byte
	claimHash   [32]byte
	mode        Mode
}

// Register records a content fingerprint for a creator wallet. Nothing is
// written to the ledger unless the metadata document was stored first.
func (g *Gateway) Register(ctx context.Context, req protocol.RegisterRequest) (protocol.RegisterResponse, error) {
	reg, err := validateRegister(req)
	if err != nil {
		return protocol.RegisterResponse{}, err
	}
	contentHashHex := hex.EncodeToString(reg.contentHash[:])

	regAddr, err := g.programs.RegistrationAddress(reg.creator, reg.contentHash)
	if err != nil {
		return protocol.RegisterResponse{}, Internal("derive registration address", err)
	}
	exists, err := g.guard.Exists(ctx, regAddr)
	if err != nil {
		return protocol.RegisterResponse{}, Upstream(err)
	}
	if exists {
		return protocol.RegisterResponse{}, Conflict("CONTENT_ALREADY_REGISTERED", "content is already registered by this wallet", map[string]any{
			"registrationAddress": regAddr.String(),
			"contentHash":         contentHashHex,
			"remediation":         "look up the existing registration via /search",
		})
	}

	relationAddr, err := g.programs.WalletToUserAddress(reg.creator)
	if err != nil {
		return protocol.RegisterResponse{}, Internal("derive wallet relation address", err)
	}
	linked, err := g.guard.Exists(ctx, relationAddr)
	if err != nil {
		return protocol.RegisterResponse{}, Upstream(err)
	}
	if !linked {
		return protocol.RegisterResponse{}, Conflict("MISSING_PREREQUISITE", "wallet is not linked to a user identity", map[string]any{
			"missingRequirement": "User-Key Relation",
			"walletAddress":      reg.creator.String(),
			"remediation":        linkRemediation,
		})
	}

	cid, err := g.uploadMetadata(ctx, req, reg, contentHashHex)
	if err != nil {
		return protocol.RegisterResponse{}, err
	}

	ix, err := g.programs.RegisterContentInstruction(reg.creator, g.signer.Address, ledger.RegisterContentArgs{
		ContentHash: reg.contentHash,
		ClaimHash:   reg.claimHash,
		StorageCID:  cid,
		Timestamp:   g.now().UTC(),
	})
	if err != nil {
		return protocol.RegisterResponse{}, Internal("build registration instruction", err)
	}

	result, err := g.dispatch(ctx, reg.mode, handoff{
		creator:      reg.creator,
		instruction:  ix,
		contentHash:  contentHashHex,
		contentTitle: strings.TrimSpace(req.ContentTitle),
	})
	if err != nil {
		return protocol.RegisterResponse{}, err
	}
	g.logger.Info("registration dispatched",
		slog.String("mode", reg.mode.String()),
		slog.String("registration_address", regAddr.String()),
		slog.String("storage_cid", cid),
	)
	return protocol.RegisterResponse{
		Status:              result.Status,
		RegistrationAddress: regAddr.String(),
		StorageCID:          cid,
		Signature:           result.Signature,
		ExplorerURL:         result.ExplorerURL,
		Transaction:         result.Transaction,
		ActionLink:          result.ActionLink,
		Token:               result.Token,
		ExpiresAt:           result.ExpiresAt,
	}, nil
}

func (g *Gateway) uploadMetadata(ctx context.Context, req protocol.RegisterRequest, reg registration, contentHashHex string) (string, error) {
	doc := protocol.MetadataDocument{
		ContentTitle:   strings.TrimSpace(req.ContentTitle),
		ContentHash:    contentHashHex,
		CreatorAddress: reg.creator.String(),
		Metadata:       req.Metadata,
		File:           *req.FileMetadata,
		CreatedAt:      g.now().UTC(),
	}
	if reg.claimHash != ([32]byte{}) {
		doc.ClaimHash = hex.EncodeToString(reg.claimHash[:])
	}
	raw, err := protocol.CanonicalJSON(doc)
	if err != nil {
		return "", Internal("encode metadata document", err)
	}
	cid, err := g.uploader.Upload(ctx, contentHashHex+".json", raw)
	if err != nil {
		return "", Upstream(err)
	}
	if cid == "" {
		return "", Internal("metadata upload returned no content identifier", nil)
	}
	return cid, nil
}

// validateRegister checks every field and reports all failures together.
func validateRegister(req protocol.RegisterRequest) (registration, error) {
	var problems fieldErrors
	var reg registration

	title := strings.TrimSpace(req.ContentTitle)
	switch {
	case title == "":
		problems.add("contentTitle", "is required")
	case utf8.RuneCountInString(title) > maxTitleChars:
		problems.add("contentTitle", fmt.Sprintf("must be at most %d characters", maxTitleChars))
	}

	reg.creator = checkAddress(&problems, "walletAddress", req.WalletAddress)

	if req.WalletType == "" {
		problems.add("walletType", "is required")
	} else if mode, err := SelectMode(req.WalletType, req.ReturnActionLink); err != nil {
		var appErr *AppError
		if errors.As(err, &appErr) {
			problems = append(problems, appErr.Fields...)
		}
	} else {
		reg.mode = mode
	}

	if req.ContentHash == "" {
		problems.add("contentHash", "is required")
	} else if h, err := protocol.ParseHash32(req.ContentHash); err != nil {
		problems.add("contentHash", err.Error())
	} else {
		reg.contentHash = h
	}

	if req.ClaimHash != "" {
		if h, err := protocol.ParseHash32(req.ClaimHash); err != nil {
			problems.add("claimHash", err.Error())
		} else {
			reg.claimHash = h
		}
	}

	if utf8.RuneCountInString(req.Metadata) > maxMetadataChars {
		problems.add("metadata", fmt.Sprintf("must be at most %d characters", maxMetadataChars))
	}

	if fm := req.FileMetadata; fm == nil {
		problems.add("fileMetadata", "is required")
	} else {
		switch {
		case strings.TrimSpace(fm.Name) == "":
			problems.add("fileMetadata.name", "is required")
		case utf8.RuneCountInString(fm.Name) > maxFileNameChars:
			problems.add("fileMetadata.name", fmt.Sprintf("must be at most %d characters", maxFileNameChars))
		}
		if strings.TrimSpace(fm.Type) == "" {
			problems.add("fileMetadata.type", "is required")
		}
		switch {
		case fm.Size == nil:
			problems.add("fileMetadata.size", "is required")
		case *fm.Size < 0:
			problems.add("fileMetadata.size", "must not be negative")
		}
	}

	if err := problems.err(); err != nil {
		return reg, err
	}
	return reg, nil
}

// Search finds registrations of a content hash. With a wallet the lookup is
// a single derived-address read; without one the registration program's
// accounts are scanned for the hash.
func (g *Gateway) Search(ctx context.Context, req protocol.SearchRequest) (protocol.SearchResponse, error) {
	var problems fieldErrors
	var contentHash [32]byte
	if req.ContentHash == "" {
		problems.add("contentHash", "is required")
	} else if h, err := protocol.ParseHash32(req.ContentHash); err != nil {
		problems.add("contentHash", err.Error())
	} else {
		contentHash = h
	}
	var creator address.Address
	hasWallet := strings.TrimSpace(req.WalletAddress) != ""
	if hasWallet {
		creator = checkAddress(&problems, "walletAddress", req.WalletAddress)
	}
	if err := problems.err(); err != nil {
		return protocol.SearchResponse{}, err
	}

	var matches []protocol.RegistrationView
	if hasWallet {
		regAddr, err := g.programs.RegistrationAddress(creator, contentHash)
		if err != nil {
			return protocol.SearchResponse{}, Internal("derive registration address", err)
		}
		data, ok, err := g.guard.Fetch(ctx, regAddr)
		if err != nil {
			return protocol.SearchResponse{}, Upstream(err)
		}
		if ok {
			view, err := registrationView(regAddr, data)
			if err != nil {
				return protocol.SearchResponse{}, Internal("decode registration account", err)
			}
			matches = append(matches, view)
		}
	} else {
		accounts, err := g.ledger.ScanProgram(ctx, g.programs.Registration, ledger.RegistrationContentHashOffset, contentHash[:])
		if err != nil {
			return protocol.SearchResponse{}, Upstream(err)
		}
		for _, acct := range accounts {
			view, err := registrationView(acct.Address, acct.Data)
			if err != nil {
				g.logger.Warn("skipping undecodable registration account",
					slog.String("address", acct.Address.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			matches = append(matches, view)
		}
	}

	if len(matches) == 0 {
		details := map[string]any{"contentHash": hex.EncodeToString(contentHash[:])}
		if hasWallet {
			details["walletAddress"] = creator.String()
		}
		return protocol.SearchResponse{}, Conflict("CONTENT_NOT_FOUND", "no registration matches the content hash", details)
	}
	return protocol.SearchResponse{Matches: matches}, nil
}

func registrationView(addr address.Address, data []byte) (protocol.RegistrationView, error) {
	reg, err := ledger.DecodeContentRegistration(data)
	if err != nil {
		return protocol.RegistrationView{}, err
	}
	view := protocol.RegistrationView{
		RegistrationAddress: addr.String(),
		CreatorAddress:      reg.Creator.String(),
		ContentHash:         hex.EncodeToString(reg.ContentHash[:]),
		StorageCID:          reg.StorageCID,
		Timestamp:           reg.Timestamp,
		Finalized:           reg.Finalized,
		ConsensusPercentage: reg.ConsensusPercentage,
		VotesFor:            reg.VotesFor,
		VotesAgainst:        reg.VotesAgainst,
	}
	if reg.ClaimHash != ([32]byte{}) {
		view.ClaimHash = hex.EncodeToString(reg.ClaimHash[:])
	}
	return view, nil
}
