package ledger

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/provenance/provenance-gateway/internal/address"
)

const (
	SignatureSize = 64
	maxTxSize     = 1232
	versionPrefix = 0x80
	maxCompactU16 = 0xffff
)

var (
	ErrMalformedTransaction = errors.New("malformed transaction")
	ErrNotRequiredSigner    = errors.New("key is not a required signer")
)

type Hash [32]byte

func (h Hash) String() string { return base58.Encode(h[:]) }

func ParseHash(s string) (Hash, error) {
	var out Hash
	raw, err := base58.Decode(s)
	if err != nil {
		return out, fmt.Errorf("decode hash: %w", err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("hash length %d invalid", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

type Signature [SignatureSize]byte

func (s Signature) String() string { return base58.Encode(s[:]) }

func (s Signature) IsZero() bool { return s == Signature{} }

type AccountMeta struct {
	Address    address.Address
	IsSigner   bool
	IsWritable bool
}

// Instruction is an uncompiled call into a ledger program.
type Instruction struct {
	ProgramID address.Address
	Accounts  []AccountMeta
	Data      []byte
}

type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

type AddressTableLookup struct {
	TableAddress    address.Address
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

type Message struct {
	Versioned           bool
	Version             uint8
	Header              MessageHeader
	AccountKeys         []address.Address
	RecentBlockhash     Hash
	Instructions        []CompiledInstruction
	AddressTableLookups []AddressTableLookup
}

type Transaction struct {
	Signatures []Signature
	Message    Message
}

// NewTransaction compiles instructions into a legacy message with payer as
// the first signer. Account order is writable signers, readonly signers,
// writable non-signers, readonly non-signers.
func NewTransaction(payer address.Address, blockhash Hash, instructions ...Instruction) (*Transaction, error) {
	if len(instructions) == 0 {
		return nil, errors.New("at least one instruction is required")
	}
	type flags struct {
		signer   bool
		writable bool
	}
	order := []address.Address{payer}
	seen := map[address.Address]*flags{payer: {signer: true, writable: true}}
	touch := func(a address.Address, signer, writable bool) {
		f, ok := seen[a]
		if !ok {
			f = &flags{}
			seen[a] = f
			order = append(order, a)
		}
		f.signer = f.signer || signer
		f.writable = f.writable || writable
	}
	for _, ix := range instructions {
		for _, meta := range ix.Accounts {
			touch(meta.Address, meta.IsSigner, meta.IsWritable)
		}
		touch(ix.ProgramID, false, false)
	}

	var ws, rs, wu, ru []address.Address
	for _, a := range order {
		f := seen[a]
		switch {
		case f.signer && f.writable:
			ws = append(ws, a)
		case f.signer:
			rs = append(rs, a)
		case f.writable:
			wu = append(wu, a)
		default:
			ru = append(ru, a)
		}
	}
	keys := make([]address.Address, 0, len(order))
	keys = append(keys, ws...)
	keys = append(keys, rs...)
	keys = append(keys, wu...)
	keys = append(keys, ru...)
	if len(keys) > 256 {
		return nil, fmt.Errorf("too many accounts: %d", len(keys))
	}
	index := make(map[address.Address]uint8, len(keys))
	for i, k := range keys {
		index[k] = uint8(i)
	}

	msg := Message{
		Header: MessageHeader{
			NumRequiredSignatures:       uint8(len(ws) + len(rs)),
			NumReadonlySignedAccounts:   uint8(len(rs)),
			NumReadonlyUnsignedAccounts: uint8(len(ru)),
		},
		AccountKeys:     keys,
		RecentBlockhash: blockhash,
	}
	for _, ix := range instructions {
		compiled := CompiledInstruction{
			ProgramIDIndex: index[ix.ProgramID],
			Accounts:       make([]uint8, len(ix.Accounts)),
			Data:           append([]byte(nil), ix.Data...),
		}
		for i, meta := range ix.Accounts {
			compiled.Accounts[i] = index[meta.Address]
		}
		msg.Instructions = append(msg.Instructions, compiled)
	}
	return &Transaction{
		Signatures: make([]Signature, msg.Header.NumRequiredSignatures),
		Message:    msg,
	}, nil
}

// ProgramIDs resolves the target program of every instruction, in order.
// Program ids must live in the static key list; an index that points past it
// is reported as an error.
func (m *Message) ProgramIDs() ([]address.Address, error) {
	out := make([]address.Address, 0, len(m.Instructions))
	for i, ix := range m.Instructions {
		idx := int(ix.ProgramIDIndex)
		if idx >= len(m.AccountKeys) {
			return nil, fmt.Errorf("%w: instruction %d program index %d out of range", ErrMalformedTransaction, i, idx)
		}
		out = append(out, m.AccountKeys[idx])
	}
	return out, nil
}

func (m *Message) SignerIndex(key address.Address) (int, bool) {
	n := int(m.Header.NumRequiredSignatures)
	for i := 0; i < n && i < len(m.AccountKeys); i++ {
		if m.AccountKeys[i] == key {
			return i, true
		}
	}
	return 0, false
}

func (m *Message) Signers() []address.Address {
	n := int(m.Header.NumRequiredSignatures)
	if n > len(m.AccountKeys) {
		n = len(m.AccountKeys)
	}
	return append([]address.Address(nil), m.AccountKeys[:n]...)
}

func (m *Message) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if m.Versioned {
		buf.WriteByte(versionPrefix | m.Version)
	}
	buf.WriteByte(m.Header.NumRequiredSignatures)
	buf.WriteByte(m.Header.NumReadonlySignedAccounts)
	buf.WriteByte(m.Header.NumReadonlyUnsignedAccounts)
	writeCompactU16(&buf, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		buf.Write(k[:])
	}
	buf.Write(m.RecentBlockhash[:])
	writeCompactU16(&buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf.WriteByte(ix.ProgramIDIndex)
		writeCompactU16(&buf, len(ix.Accounts))
		buf.Write(ix.Accounts)
		writeCompactU16(&buf, len(ix.Data))
		buf.Write(ix.Data)
	}
	if m.Versioned {
		writeCompactU16(&buf, len(m.AddressTableLookups))
		for _, l := range m.AddressTableLookups {
			buf.Write(l.TableAddress[:])
			writeCompactU16(&buf, len(l.WritableIndexes))
			buf.Write(l.WritableIndexes)
			writeCompactU16(&buf, len(l.ReadonlyIndexes))
			buf.Write(l.ReadonlyIndexes)
		}
	}
	return buf.Bytes(), nil
}

func (tx *Transaction) MarshalBinary() ([]byte, error) {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	writeCompactU16(&buf, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		buf.Write(sig[:])
	}
	buf.Write(msg)
	if buf.Len() > maxTxSize {
		return nil, fmt.Errorf("transaction size %d exceeds %d bytes", buf.Len(), maxTxSize)
	}
	return buf.Bytes(), nil
}

func (tx *Transaction) ToBase64() (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Sign places an ed25519 signature over the message in the slot belonging to
// the key's public half. Other slots are left untouched.
func (tx *Transaction) Sign(key ed25519.PrivateKey) (Signature, error) {
	var sig Signature
	pub, err := address.FromBytes(key.Public().(ed25519.PublicKey))
	if err != nil {
		return sig, err
	}
	idx, ok := tx.Message.SignerIndex(pub)
	if !ok {
		return sig, fmt.Errorf("%w: %s", ErrNotRequiredSigner, pub)
	}
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return sig, err
	}
	if len(tx.Signatures) < int(tx.Message.Header.NumRequiredSignatures) {
		grown := make([]Signature, tx.Message.Header.NumRequiredSignatures)
		copy(grown, tx.Signatures)
		tx.Signatures = grown
	}
	copy(sig[:], ed25519.Sign(key, msg))
	tx.Signatures[idx] = sig
	return sig, nil
}

// SignatureFor returns the signature slot of key, if key is a required signer.
func (tx *Transaction) SignatureFor(key address.Address) (Signature, bool) {
	idx, ok := tx.Message.SignerIndex(key)
	if !ok || idx >= len(tx.Signatures) {
		return Signature{}, false
	}
	return tx.Signatures[idx], true
}

// ID is the first signature, which the ledger uses as the transaction id.
func (tx *Transaction) ID() Signature {
	if len(tx.Signatures) == 0 {
		return Signature{}
	}
	return tx.Signatures[0]
}

func DecodeTransactionBase64(s string) (*Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrMalformedTransaction, err)
	}
	return DecodeTransaction(raw)
}

func DecodeTransaction(raw []byte) (*Transaction, error) {
	if len(raw) > maxTxSize {
		return nil, fmt.Errorf("%w: size %d exceeds %d bytes", ErrMalformedTransaction, len(raw), maxTxSize)
	}
	r := &reader{buf: raw}
	nsig, err := r.compactU16()
	if err != nil {
		return nil, err
	}
	tx := &Transaction{Signatures: make([]Signature, nsig)}
	for i := 0; i < nsig; i++ {
		b, err := r.take(SignatureSize)
		if err != nil {
			return nil, err
		}
		copy(tx.Signatures[i][:], b)
	}
	msg, err := decodeMessage(r)
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTransaction, r.remaining())
	}
	if int(msg.Header.NumRequiredSignatures) != nsig {
		return nil, fmt.Errorf("%w: %d signatures for %d required signers", ErrMalformedTransaction, nsig, msg.Header.NumRequiredSignatures)
	}
	tx.Message = msg
	return tx, nil
}

func decodeMessage(r *reader) (Message, error) {
	var m Message
	first, err := r.byte()
	if err != nil {
		return m, err
	}
	if first&versionPrefix != 0 {
		m.Versioned = true
		m.Version = first &^ versionPrefix
		if m.Version != 0 {
			return m, fmt.Errorf("%w: unsupported message version %d", ErrMalformedTransaction, m.Version)
		}
		if first, err = r.byte(); err != nil {
			return m, err
		}
	}
	m.Header.NumRequiredSignatures = first
	if m.Header.NumReadonlySignedAccounts, err = r.byte(); err != nil {
		return m, err
	}
	if m.Header.NumReadonlyUnsignedAccounts, err = r.byte(); err != nil {
		return m, err
	}
	nkeys, err := r.compactU16()
	if err != nil {
		return m, err
	}
	if nkeys < int(m.Header.NumRequiredSignatures) {
		return m, fmt.Errorf("%w: %d keys for %d signers", ErrMalformedTransaction, nkeys, m.Header.NumRequiredSignatures)
	}
	m.AccountKeys = make([]address.Address, nkeys)
	for i := range m.AccountKeys {
		b, err := r.take(address.Size)
		if err != nil {
			return m, err
		}
		copy(m.AccountKeys[i][:], b)
	}
	bh, err := r.take(32)
	if err != nil {
		return m, err
	}
	copy(m.RecentBlockhash[:], bh)
	nix, err := r.compactU16()
	if err != nil {
		return m, err
	}
	m.Instructions = make([]CompiledInstruction, nix)
	for i := range m.Instructions {
		ix := &m.Instructions[i]
		if ix.ProgramIDIndex, err = r.byte(); err != nil {
			return m, err
		}
		if ix.Accounts, err = r.compactBytes(); err != nil {
			return m, err
		}
		if ix.Data, err = r.compactBytes(); err != nil {
			return m, err
		}
	}
	if m.Versioned {
		nl, err := r.compactU16()
		if err != nil {
			return m, err
		}
		m.AddressTableLookups = make([]AddressTableLookup, nl)
		for i := range m.AddressTableLookups {
			l := &m.AddressTableLookups[i]
			b, err := r.take(address.Size)
			if err != nil {
				return m, err
			}
			copy(l.TableAddress[:], b)
			if l.WritableIndexes, err = r.compactBytes(); err != nil {
				return m, err
			}
			if l.ReadonlyIndexes, err = r.compactBytes(); err != nil {
				return m, err
			}
		}
	}
	return m, nil
}

func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) byte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, fmt.Errorf("%w: unexpected end of input", ErrMalformedTransaction)
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("%w: unexpected end of input", ErrMalformedTransaction)
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *reader) compactU16() (int, error) {
	var v int
	for i := 0; i < 3; i++ {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		v |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			if v > maxCompactU16 {
				return 0, fmt.Errorf("%w: length overflow", ErrMalformedTransaction)
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: length prefix too long", ErrMalformedTransaction)
}

func (r *reader) compactBytes() ([]byte, error) {
	n, err := r.compactU16()
	if err != nil {
		return nil, err
	}
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}
