package service

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/provenance/provenance-gateway/internal/address"
	"github.com/provenance/provenance-gateway/internal/ledger"
)

type AccountReader interface {
	GetAccount(ctx context.Context, addr address.Address) ([]byte, error)
}

// Guard answers "does an account live at this derived address". Absence is
// only ever inferred from ledger.ErrAccountNotFound; every other failure is
// returned to the caller.
//
// Accounts are never closed by the programs this gateway writes to, so a
// positive answer is remembered. Absence is always re-read.
type Guard struct {
	reader AccountReader
	known  *lru.Cache[address.Address, struct{}]
}

func NewGuard(reader AccountReader, cacheSize int) (*Guard, error) {
	g := &Guard{reader: reader}
	if cacheSize > 0 {
		cache, err := lru.New[address.Address, struct{}](cacheSize)
		if err != nil {
			return nil, err
		}
		g.known = cache
	}
	return g, nil
}

func (g *Guard) Exists(ctx context.Context, addr address.Address) (bool, error) {
	if g.known != nil && g.known.Contains(addr) {
		return true, nil
	}
	_, ok, err := g.Fetch(ctx, addr)
	return ok, err
}

// Fetch returns the current account data. The data itself is not cached
// since registration vote fields change under the ledger program.
func (g *Guard) Fetch(ctx context.Context, addr address.Address) ([]byte, bool, error) {
	data, err := g.reader.GetAccount(ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if g.known != nil {
		g.known.Add(addr, struct{}{})
	}
	return data, true, nil
}
