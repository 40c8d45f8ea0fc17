// Package blobstore stores registration metadata documents in
// content-addressable storage and returns their content identifiers.
package blobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
)

var ErrInvalidCID = errors.New("invalid content identifier")

// Uploader stores a JSON document and returns its CID. Implementations must
// only return a CID once the blob is durably stored.
type Uploader interface {
	Upload(ctx context.Context, name string, doc []byte) (string, error)
}

// ComputeCID returns the CIDv1 (dag-json codec, sha2-256) for doc.
func ComputeCID(doc []byte) (cid.Cid, error) {
	hash, err := mh.Sum(doc, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(uint64(multicodec.DagJson), hash), nil
}

// ValidateCID checks that s parses as a CID and returns its canonical string.
func ValidateCID(s string) (string, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	return c.String(), nil
}
