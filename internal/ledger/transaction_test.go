package ledger

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provenance/provenance-gateway/internal/address"
)

func newKey(t *testing.T) (ed25519.PrivateKey, address.Address) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	a, err := address.FromBytes(pub)
	require.NoError(t, err)
	return priv, a
}

func testPrograms(t *testing.T) Programs {
	t.Helper()
	_, reg := newKey(t)
	_, id := newKey(t)
	_, stake := newKey(t)
	return Programs{Registration: reg, Identity: id, Staking: stake}
}

func TestNewTransactionOrdersAccounts(t *testing.T) {
	programs := testPrograms(t)
	_, payer := newKey(t)
	_, creator := newKey(t)

	ix, err := programs.RegisterContentInstruction(creator, payer, RegisterContentArgs{
		StorageCID: "bafkreitest",
		Timestamp:  time.Unix(1700000000, 0),
	})
	require.NoError(t, err)

	tx, err := NewTransaction(payer, Hash{1}, SetComputeUnitLimitInstruction(200_000), ix)
	require.NoError(t, err)

	msg := tx.Message
	assert.Equal(t, uint8(2), msg.Header.NumRequiredSignatures)
	assert.Equal(t, uint8(1), msg.Header.NumReadonlySignedAccounts)
	assert.Equal(t, payer, msg.AccountKeys[0])
	assert.Equal(t, creator, msg.AccountKeys[1])
	assert.Len(t, tx.Signatures, 2)

	ids, err := msg.ProgramIDs()
	require.NoError(t, err)
	assert.Equal(t, []address.Address{ComputeBudgetProgramID, programs.Registration}, ids)
}

func TestTransactionRoundTrip(t *testing.T) {
	programs := testPrograms(t)
	payerKey, payer := newKey(t)
	ix, err := programs.LinkWalletInstruction("user-42", payer, payer)
	require.NoError(t, err)

	tx, err := NewTransaction(payer, Hash{9, 9, 9}, ix)
	require.NoError(t, err)
	_, err = tx.Sign(payerKey)
	require.NoError(t, err)

	encoded, err := tx.ToBase64()
	require.NoError(t, err)
	decoded, err := DecodeTransactionBase64(encoded)
	require.NoError(t, err)

	assert.Equal(t, tx.Signatures, decoded.Signatures)
	assert.Equal(t, tx.Message.AccountKeys, decoded.Message.AccountKeys)
	assert.Equal(t, tx.Message.RecentBlockhash, decoded.Message.RecentBlockhash)
	require.Len(t, decoded.Message.Instructions, 1)
	assert.Equal(t, ix.Data, decoded.Message.Instructions[0].Data)
}

func TestSignVerifiesAgainstMessage(t *testing.T) {
	programs := testPrograms(t)
	payerKey, payer := newKey(t)
	creatorKey, creator := newKey(t)
	ix, err := programs.RegisterContentInstruction(creator, payer, RegisterContentArgs{StorageCID: "cid"})
	require.NoError(t, err)
	tx, err := NewTransaction(payer, Hash{}, ix)
	require.NoError(t, err)

	creatorSig, err := tx.Sign(creatorKey)
	require.NoError(t, err)
	payerSig, err := tx.Sign(payerKey)
	require.NoError(t, err)

	msg, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(creatorKey.Public().(ed25519.PublicKey), msg, creatorSig[:]))
	assert.True(t, ed25519.Verify(payerKey.Public().(ed25519.PublicKey), msg, payerSig[:]))
	assert.Equal(t, payerSig, tx.ID())
}

func TestSignRejectsNonSigner(t *testing.T) {
	programs := testPrograms(t)
	_, payer := newKey(t)
	strangerKey, _ := newKey(t)
	ix, err := programs.LinkWalletInstruction("u", payer, payer)
	require.NoError(t, err)
	tx, err := NewTransaction(payer, Hash{}, ix)
	require.NoError(t, err)

	_, err = tx.Sign(strangerKey)
	assert.ErrorIs(t, err, ErrNotRequiredSigner)
}

func TestDecodeTransactionRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"not base64": "%%%",
		"empty":      "",
		"truncated":  base64.StdEncoding.EncodeToString([]byte{1, 0, 0}),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTransactionBase64(in)
			assert.ErrorIs(t, err, ErrMalformedTransaction)
		})
	}
}

func TestDecodeTransactionRejectsTrailingBytes(t *testing.T) {
	_, payer := newKey(t)
	tx, err := NewTransaction(payer, Hash{}, SetComputeUnitPriceInstruction(5))
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	_, err = DecodeTransaction(append(raw, 0xff))
	assert.ErrorIs(t, err, ErrMalformedTransaction)
}

func TestDecodeVersionedMessage(t *testing.T) {
	_, payer := newKey(t)
	tx, err := NewTransaction(payer, Hash{7}, SetComputeUnitLimitInstruction(1000))
	require.NoError(t, err)
	tx.Message.Versioned = true
	tx.Message.AddressTableLookups = []AddressTableLookup{{TableAddress: payer, WritableIndexes: []uint8{1}}}

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	decoded, err := DecodeTransaction(raw)
	require.NoError(t, err)

	assert.True(t, decoded.Message.Versioned)
	require.Len(t, decoded.Message.AddressTableLookups, 1)
	assert.Equal(t, []uint8{1}, decoded.Message.AddressTableLookups[0].WritableIndexes)
}

func TestProgramIDsRejectsOutOfRangeIndex(t *testing.T) {
	msg := Message{
		AccountKeys:  []address.Address{{1}},
		Instructions: []CompiledInstruction{{ProgramIDIndex: 4}},
	}
	_, err := msg.ProgramIDs()
	assert.ErrorIs(t, err, ErrMalformedTransaction)
}

func TestCompactU16(t *testing.T) {
	for _, n := range []int{0, 1, 127, 128, 255, 16383, 16384, 65535} {
		var buf bytes.Buffer
		writeCompactU16(&buf, n)
		r := &reader{buf: buf.Bytes()}
		got, err := r.compactU16()
		require.NoError(t, err)
		assert.Equal(t, n, got)
		assert.Zero(t, r.remaining())
	}
}
