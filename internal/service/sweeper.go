package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/provenance/provenance-gateway/internal/storage"
)

// TokenSweeper marks unused action tokens past their expiry as expired so
// the table reflects reality for previews and operators. Redemption checks
// expiry on its own and does not depend on the sweeper.
type TokenSweeper struct {
	store  storage.TokenStore
	logger *slog.Logger
	now    func() time.Time
}

func NewTokenSweeper(store storage.TokenStore, logger *slog.Logger) *TokenSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenSweeper{store: store, logger: logger, now: time.Now}
}

func (s *TokenSweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *TokenSweeper) sweep(ctx context.Context) {
	n, err := s.SweepOnce(ctx)
	if err != nil {
		s.logger.Error("token sweep failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.Info("expired action tokens", slog.Int64("count", n))
	}
}

func (s *TokenSweeper) SweepOnce(ctx context.Context) (int64, error) {
	return s.store.ExpireActionTokens(ctx, s.now().UTC())
}
