package service

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/provenance/provenance-gateway/internal/address"
	"github.com/provenance/provenance-gateway/internal/blobstore"
	gwcrypto "github.com/provenance/provenance-gateway/internal/crypto"
	"github.com/provenance/provenance-gateway/internal/ledger"
	"github.com/provenance/provenance-gateway/internal/storage/sqlite"
)

// fakeLedger stores accounts in memory and applies the link_wallet and
// register_content instructions it is sent, failing with ErrAccountInUse
// when a target account already exists.
type fakeLedger struct {
	mu        sync.Mutex
	accounts  map[address.Address][]byte
	getErr    error
	sendErr   error
	healthErr error
	gets      int
	blockhash ledger.Hash
	sent      []*ledger.Transaction
	scan      []ledger.ProgramAccount
	programs  ledger.Programs
	now       func() time.Time
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts:  map[address.Address][]byte{},
		blockhash: ledger.Hash{9, 9, 9},
	}
}

func (f *fakeLedger) put(addr address.Address, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[addr] = data
}

func (f *fakeLedger) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeLedger) GetAccount(_ context.Context, addr address.Address) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.accounts[addr]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return data, nil
}

func (f *fakeLedger) LatestBlockhash(context.Context) (ledger.Hash, error) {
	return f.blockhash, nil
}

func (f *fakeLedger) RecentPriorityFee(context.Context, []address.Address) (uint64, error) {
	return 0, errors.New("fees unavailable")
}

func (f *fakeLedger) Send(_ context.Context, tx *ledger.Transaction) (ledger.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return ledger.Signature{}, f.sendErr
	}
	writes, err := f.writesFor(tx)
	if err != nil {
		return ledger.Signature{}, err
	}
	for addr := range writes {
		if _, taken := f.accounts[addr]; taken {
			return ledger.Signature{}, fmt.Errorf("sendTransaction: %w", ledger.ErrAccountInUse)
		}
	}
	for addr, data := range writes {
		f.accounts[addr] = data
	}
	f.sent = append(f.sent, tx)
	return tx.ID(), nil
}

// writesFor computes the accounts the identity and registration programs
// would create for tx.
func (f *fakeLedger) writesFor(tx *ledger.Transaction) (map[address.Address][]byte, error) {
	msg := &tx.Message
	programs, err := msg.ProgramIDs()
	if err != nil {
		return nil, err
	}
	key := func(ix ledger.CompiledInstruction, slot int) address.Address {
		return msg.AccountKeys[ix.Accounts[slot]]
	}
	linkWallet := ledger.InstructionDiscriminator("link_wallet")
	registerContent := ledger.InstructionDiscriminator("register_content")

	writes := map[address.Address][]byte{}
	for i, ix := range msg.Instructions {
		switch {
		case programs[i] == f.programs.Identity && bytes.HasPrefix(ix.Data, linkWallet[:]):
			rest := ix.Data[len(linkWallet):]
			n := int(binary.LittleEndian.Uint32(rest))
			rel := ledger.UserKeyRelation{UserID: string(rest[4 : 4+n]), CreatedAt: f.now()}
			copy(rel.Wallet[:], rest[4+n:4+n+address.Size])
			data := ledger.EncodeUserKeyRelation(rel)
			writes[key(ix, 0)] = data
			writes[key(ix, 1)] = data
		case programs[i] == f.programs.Registration && bytes.HasPrefix(ix.Data, registerContent[:]):
			rest := ix.Data[len(registerContent):]
			reg := ledger.ContentRegistration{Creator: key(ix, 2)}
			copy(reg.ContentHash[:], rest[:32])
			copy(reg.ClaimHash[:], rest[32:64])
			n := int(binary.LittleEndian.Uint32(rest[64:]))
			reg.StorageCID = string(rest[68 : 68+n])
			reg.Timestamp = time.Unix(int64(binary.LittleEndian.Uint64(rest[68+n:])), 0).UTC()
			writes[key(ix, 0)] = ledger.EncodeContentRegistration(reg)
		}
	}
	return writes, nil
}

func (f *fakeLedger) Confirm(context.Context, ledger.Signature) (string, error) {
	return "confirmed", nil
}

func (f *fakeLedger) ScanProgram(_ context.Context, _ address.Address, offset int, want []byte) ([]ledger.ProgramAccount, error) {
	var out []ledger.ProgramAccount
	for _, acct := range f.scan {
		if len(acct.Data) >= offset+len(want) && bytes.Equal(acct.Data[offset:offset+len(want)], want) {
			out = append(out, acct)
		}
	}
	return out, nil
}

func (f *fakeLedger) Health(context.Context) error { return f.healthErr }

// fakeCustodian signs with locally generated keys.
type fakeCustodian struct {
	keys    map[address.Address]ed25519.PrivateKey
	next    ed25519.PrivateKey
	created []string
}

func newFakeCustodian(next ed25519.PrivateKey) *fakeCustodian {
	c := &fakeCustodian{keys: map[address.Address]ed25519.PrivateKey{}, next: next}
	c.keys[addressOf(next)] = next
	return c
}

func (c *fakeCustodian) CreateWallet(_ context.Context, userID string) (address.Address, error) {
	c.created = append(c.created, userID)
	return addressOf(c.next), nil
}

func (c *fakeCustodian) SignTransaction(_ context.Context, wallet address.Address, encoded string) (string, error) {
	key, ok := c.keys[wallet]
	if !ok {
		return "", errors.New("unknown wallet")
	}
	tx, err := ledger.DecodeTransactionBase64(encoded)
	if err != nil {
		return "", err
	}
	if _, err := tx.Sign(key); err != nil {
		return "", err
	}
	return tx.ToBase64()
}

type failingUploader struct{ err error }

func (u failingUploader) Upload(context.Context, string, []byte) (string, error) { return "", u.err }

// recordingUploader keeps every uploaded document so tests can read back
// the metadata a registration stored.
type recordingUploader struct {
	*blobstore.Local
	mu   sync.Mutex
	docs map[string][]byte
}

func (u *recordingUploader) Upload(ctx context.Context, name string, doc []byte) (string, error) {
	c, err := u.Local.Upload(ctx, name, doc)
	if err != nil {
		return "", err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.docs[c] = doc
	return c, nil
}

func (u *recordingUploader) doc(cid string) ([]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	doc, ok := u.docs[cid]
	return doc, ok
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type harness struct {
	gw        *Gateway
	ledger    *fakeLedger
	custodian *fakeCustodian
	blobs     *recordingUploader
	signer    *gwcrypto.Signer
	programs  ledger.Programs
	creator   ed25519.PrivateKey
	clock     *clock
}

func (h *harness) creatorAddr() address.Address { return addressOf(h.creator) }

func testKey(seed byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
}

func addressOf(key ed25519.PrivateKey) address.Address {
	a, err := address.FromBytes(key.Public().(ed25519.PublicKey))
	if err != nil {
		panic(err)
	}
	return a
}

type harnessOption func(*Params)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	signer, err := gwcrypto.NewSigner(testKey(1))
	require.NoError(t, err)
	tokens, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "tokens.db"))
	require.NoError(t, err)
	t.Cleanup(tokens.Close)

	h := &harness{
		ledger:    newFakeLedger(),
		blobs:     &recordingUploader{Local: blobstore.NewLocal(), docs: map[string][]byte{}},
		custodian: newFakeCustodian(testKey(3)),
		signer:    signer,
		programs: ledger.Programs{
			Registration: addressOf(testKey(10)),
			Identity:     addressOf(testKey(11)),
			Staking:      addressOf(testKey(12)),
		},
		creator: testKey(2),
		clock:   &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.ledger.programs = h.programs
	h.ledger.now = h.clock.now
	params := Params{
		Ledger:           h.ledger,
		Custodian:        h.custodian,
		Uploader:         h.blobs,
		Tokens:           tokens,
		Signer:           signer,
		Programs:         h.programs,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		ActionBaseURL:    "https://gateway.test/",
		ComputeUnitLimit: 200000,
		ExistenceCache:   64,
		Now:              h.clock.now,
	}
	for _, opt := range opts {
		opt(&params)
	}
	h.gw, err = New(params)
	require.NoError(t, err)
	return h
}

// linkCreator stores the wallet-to-user record registration depends on.
func (h *harness) linkCreator(t *testing.T, userID string) {
	t.Helper()
	key, err := h.programs.WalletToUserAddress(h.creatorAddr())
	require.NoError(t, err)
	h.ledger.put(key, ledger.EncodeUserKeyRelation(ledger.UserKeyRelation{
		UserID:    userID,
		Wallet:    h.creatorAddr(),
		CreatedAt: h.clock.t,
	}))
}

func requireAppError(t *testing.T, err error, status int, code string) *AppError {
	t.Helper()
	require.Error(t, err)
	var appErr *AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	require.Equal(t, status, appErr.HTTPStatus, "code=%s msg=%s", appErr.Code, appErr.Message)
	require.Equal(t, code, appErr.Code)
	return appErr
}
