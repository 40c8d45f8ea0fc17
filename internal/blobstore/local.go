package blobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
)

// Local keeps documents in an in-process datastore keyed by CID. It is used
// for development and tests where no pinning service is configured.
type Local struct {
	ds datastore.Datastore
}

func NewLocal() *Local {
	return &Local{ds: dssync.MutexWrap(datastore.NewMapDatastore())}
}

func (l *Local) Upload(ctx context.Context, _ string, doc []byte) (string, error) {
	c, err := ComputeCID(doc)
	if err != nil {
		return "", fmt.Errorf("compute cid: %w", err)
	}
	if err := l.ds.Put(ctx, datastore.NewKey(c.String()), doc); err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return c.String(), nil
}

// get returns the document stored under cidStr, or datastore.ErrNotFound.
func (l *Local) get(ctx context.Context, cidStr string) ([]byte, error) {
	canonical, err := ValidateCID(cidStr)
	if err != nil {
		return nil, err
	}
	doc, err := l.ds.Get(ctx, datastore.NewKey(canonical))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("load blob: %w", err)
	}
	return doc, nil
}
