package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/provenance/provenance-gateway/internal/address"
	"github.com/provenance/provenance-gateway/internal/api"
	"github.com/provenance/provenance-gateway/internal/blobstore"
	"github.com/provenance/provenance-gateway/internal/config"
	gwcrypto "github.com/provenance/provenance-gateway/internal/crypto"
	"github.com/provenance/provenance-gateway/internal/custody"
	"github.com/provenance/provenance-gateway/internal/ledger"
	"github.com/provenance/provenance-gateway/internal/logging"
	"github.com/provenance/provenance-gateway/internal/service"
	"github.com/provenance/provenance-gateway/internal/storage"
	"github.com/provenance/provenance-gateway/internal/storage/postgres"
	"github.com/provenance/provenance-gateway/internal/storage/sqlite"
)

type Application struct {
	Server *http.Server
	Store  storage.TokenStore

	stopSweeper context.CancelFunc
	sweeperDone sync.WaitGroup
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	signer, err := gwcrypto.LoadSigner(cfg.Ledger.SignerKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load signer key: %w", err)
	}
	programs, err := loadPrograms(cfg)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rpc := ledger.NewRPCClient(cfg.Ledger.RPCURL, ledger.RPCOptions{
		Commitment:     cfg.Ledger.Commitment,
		Timeout:        time.Duration(cfg.Ledger.RequestTimeoutSeconds) * time.Second,
		ConfirmTimeout: time.Duration(cfg.Ledger.ConfirmTimeoutSeconds) * time.Second,
	})

	var uploader blobstore.Uploader
	switch cfg.Metadata.Backend {
	case "local":
		logger.Warn("metadata documents are kept in memory; use the pinning backend outside development")
		uploader = blobstore.NewLocal()
	default:
		uploader = blobstore.NewPinning(cfg.Metadata.PinningURL, cfg.Metadata.PinningToken, time.Duration(cfg.Metadata.TimeoutSeconds)*time.Second)
	}

	// Left as a nil interface when disabled so the service reports
	// CUSTODY_DISABLED.
	var custodian service.Custodian
	if *cfg.Custody.Enabled {
		custodian = custody.NewClient(cfg.Custody.BaseURL, cfg.Custody.APIKey, time.Duration(cfg.Custody.TimeoutSeconds)*time.Second)
	}

	gw, err := service.New(service.Params{
		Ledger:           rpc,
		Custodian:        custodian,
		Uploader:         uploader,
		Tokens:           store,
		Signer:           signer,
		Programs:         programs,
		Logger:           logger,
		ServiceName:      cfg.Logging.Service,
		Version:          cfg.Logging.Version,
		ActionBaseURL:    cfg.ActionLinks.BaseURL,
		ExplorerURL:      cfg.Ledger.ExplorerURL,
		ExplorerCluster:  cfg.Ledger.Cluster,
		ActionTokenTTL:   cfg.ActionTokenTTL(),
		ComputeUnitLimit: cfg.Ledger.ComputeUnitLimit,
		MaxPriorityFee:   cfg.Ledger.MaxPriorityFee,
		ExistenceCache:   cfg.Cache.ExistenceEntries,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build gateway service: %w", err)
	}

	var protect []func(http.Handler) http.Handler
	if *cfg.Security.EnableIPAllow {
		mw, err := api.IPAllowListMiddleware(cfg.Security.TrustedCIDRs)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("configure ip allow list: %w", err)
		}
		protect = append(protect, mw)
	}
	if *cfg.Security.EnableBearerAuth {
		protect = append(protect, api.BearerAuthMiddleware(cfg.Security.BearerToken))
	}

	env := logging.Environment{
		Service: cfg.Logging.Service,
		Version: cfg.Logging.Version,
		Commit:  cfg.Logging.Commit,
		Region:  cfg.Logging.Region,
		Network: cfg.Ledger.Cluster,
	}
	router := chi.NewRouter()
	router.Use(logging.Middleware(logger, env))
	api.NewHandler(gw, logger, cfg.Server.MaxBodyBytes).Routes(router, protect...)

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	application := &Application{Server: server, Store: store, stopSweeper: cancel}
	sweeper := service.NewTokenSweeper(store, logger)
	application.sweeperDone.Add(1)
	go func() {
		defer application.sweeperDone.Done()
		_ = sweeper.Run(sweepCtx, cfg.SweepInterval())
	}()

	logger.Info("gateway configured",
		slog.String("signer", signer.Address.String()),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("metadata_backend", cfg.Metadata.Backend),
		slog.Bool("custody_enabled", custodian != nil),
	)
	return application, nil
}

func (a *Application) Shutdown(ctx context.Context) error {
	defer a.Store.Close()
	err := a.Server.Shutdown(ctx)
	a.stopSweeper()
	a.sweeperDone.Wait()
	return err
}

func openStore(ctx context.Context, cfg *config.Config) (storage.TokenStore, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	default:
		store, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, cfg.Storage.MaxConns, cfg.Storage.MinConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	}
}

func loadPrograms(cfg *config.Config) (ledger.Programs, error) {
	var p ledger.Programs
	var err error
	if p.Registration, err = address.Parse(cfg.Ledger.Programs.Registration); err != nil {
		return p, fmt.Errorf("registration program: %w", err)
	}
	if p.Identity, err = address.Parse(cfg.Ledger.Programs.Identity); err != nil {
		return p, fmt.Errorf("identity program: %w", err)
	}
	if p.Staking, err = address.Parse(cfg.Ledger.Programs.Staking); err != nil {
		return p, fmt.Errorf("staking program: %w", err)
	}
	return p, p.Validate()
}
