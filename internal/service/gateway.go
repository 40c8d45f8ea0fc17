package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/provenance/provenance-gateway/internal/address"
	"github.com/provenance/provenance-gateway/internal/blobstore"
	gwcrypto "github.com/provenance/provenance-gateway/internal/crypto"
	"github.com/provenance/provenance-gateway/internal/ledger"
	"github.com/provenance/provenance-gateway/internal/protocol"
	"github.com/provenance/provenance-gateway/internal/storage"
)

// Ledger is what the gateway needs from the ledger node. Implementations must
// report a missing account as ledger.ErrAccountNotFound and nothing else.
type Ledger interface {
	GetAccount(ctx context.Context, addr address.Address) ([]byte, error)
	LatestBlockhash(ctx context.Context) (ledger.Hash, error)
	RecentPriorityFee(ctx context.Context, accounts []address.Address) (uint64, error)
	Send(ctx context.Context, tx *ledger.Transaction) (ledger.Signature, error)
	Confirm(ctx context.Context, sig ledger.Signature) (string, error)
	ScanProgram(ctx context.Context, program address.Address, offset int, want []byte) ([]ledger.ProgramAccount, error)
	Health(ctx context.Context) error
}

// Custodian is the custodial wallet provider.
type Custodian interface {
	CreateWallet(ctx context.Context, userID string) (address.Address, error)
	SignTransaction(ctx context.Context, wallet address.Address, tx string) (string, error)
}

type Gateway struct {
	ledger    Ledger
	custodian Custodian
	uploader  blobstore.Uploader
	tokens    storage.TokenStore
	signer    *gwcrypto.Signer
	programs  ledger.Programs
	guard     *Guard
	logger    *slog.Logger

	service          string
	version          string
	actionBaseURL    string
	explorerURL      string
	explorerCluster  string
	actionTokenTTL   time.Duration
	computeUnitLimit uint32
	maxPriorityFee   uint64
	now              func() time.Time
}

type Params struct {
	Ledger    Ledger
	Custodian Custodian
	Uploader  blobstore.Uploader
	Tokens    storage.TokenStore
	Signer    *gwcrypto.Signer
	Programs  ledger.Programs
	Logger    *slog.Logger

	ServiceName   string
	Version       string
	ActionBaseURL string
	// ExplorerURL is a transaction URL prefix; the signature is appended.
	ExplorerURL     string
	ExplorerCluster string
	ActionTokenTTL  time.Duration
	// ComputeUnitLimit is attached to every compiled transaction; zero omits
	// the compute-budget instructions.
	ComputeUnitLimit uint32
	MaxPriorityFee   uint64
	ExistenceCache   int
	Now              func() time.Time
}

func New(params Params) (*Gateway, error) {
	if params.Ledger == nil {
		return nil, errors.New("ledger client is required")
	}
	if params.Uploader == nil {
		return nil, errors.New("metadata uploader is required")
	}
	if params.Tokens == nil {
		return nil, errors.New("token store is required")
	}
	if params.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if err := params.Programs.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.ActionBaseURL) == "" {
		return nil, errors.New("action link base url is required")
	}
	if params.ActionTokenTTL <= 0 {
		params.ActionTokenTTL = 24 * time.Hour
	}
	if params.ServiceName == "" {
		params.ServiceName = "provenance-gateway"
	}
	if params.Version == "" {
		params.Version = "dev"
	}
	if params.ExplorerURL == "" {
		params.ExplorerURL = "https://explorer.solana.com/tx/"
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	guard, err := NewGuard(params.Ledger, params.ExistenceCache)
	if err != nil {
		return nil, fmt.Errorf("existence cache: %w", err)
	}
	return &Gateway{
		ledger:           params.Ledger,
		custodian:        params.Custodian,
		uploader:         params.Uploader,
		tokens:           params.Tokens,
		signer:           params.Signer,
		programs:         params.Programs,
		guard:            guard,
		logger:           params.Logger,
		service:          params.ServiceName,
		version:          params.Version,
		actionBaseURL:    strings.TrimRight(params.ActionBaseURL, "/"),
		explorerURL:      params.ExplorerURL,
		explorerCluster:  params.ExplorerCluster,
		actionTokenTTL:   params.ActionTokenTTL,
		computeUnitLimit: params.ComputeUnitLimit,
		maxPriorityFee:   params.MaxPriorityFee,
		now:              params.Now,
	}, nil
}

func (g *Gateway) Health(ctx context.Context) (protocol.HealthResponse, error) {
	datastore := "ok"
	if err := g.tokens.Ping(ctx); err != nil {
		g.logger.Error("datastore ping failed", slog.String("error", err.Error()))
		datastore = "unavailable"
	}
	ledgerStatus := "ok"
	if err := g.ledger.Health(ctx); err != nil {
		g.logger.Warn("ledger health check failed", slog.String("error", err.Error()))
		ledgerStatus = "unavailable"
	}
	status := "ok"
	if datastore != "ok" || ledgerStatus != "ok" {
		status = "degraded"
	}
	return protocol.HealthResponse{
		Service:   g.service,
		Version:   g.version,
		Status:    status,
		Time:      g.now().UTC(),
		Datastore: datastore,
		Ledger:    ledgerStatus,
	}, nil
}

func (g *Gateway) explorerLink(sig ledger.Signature) string {
	link := g.explorerURL + sig.String()
	if g.explorerCluster != "" {
		link += "?cluster=" + g.explorerCluster
	}
	return link
}
