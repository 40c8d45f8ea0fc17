package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/provenance/provenance-gateway/internal/address"
)

var ErrShortAccountData = errors.New("account data too short")

// Discriminator is the 8-byte prefix the ledger programs put in front of
// instruction data ("global:<name>") and account data ("account:<Name>").
type Discriminator [8]byte

func InstructionDiscriminator(name string) Discriminator {
	return discriminator("global:" + name)
}

func AccountDiscriminator(name string) Discriminator {
	return discriminator("account:" + name)
}

func discriminator(preimage string) Discriminator {
	sum := sha256.Sum256([]byte(preimage))
	var d Discriminator
	copy(d[:], sum[:8])
	return d
}

type encoder struct {
	buf bytes.Buffer
}

func newEncoder(d Discriminator) *encoder {
	e := &encoder{}
	e.buf.Write(d[:])
	return e
}

func (e *encoder) u8(v uint8) { e.buf.WriteByte(v) }

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) i64(v int64) { e.u64(uint64(v)) }

func (e *encoder) boolean(v bool) {
	if v {
		e.u8(1)
		return
	}
	e.u8(0)
}

func (e *encoder) fixed(b []byte) { e.buf.Write(b) }

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) bytes() []byte { return e.buf.Bytes() }

type decoder struct {
	buf []byte
	off int
}

func newDecoder(data []byte, want Discriminator) (*decoder, error) {
	if len(data) < len(want) {
		return nil, ErrShortAccountData
	}
	if !bytes.Equal(data[:len(want)], want[:]) {
		return nil, fmt.Errorf("unexpected account discriminator %x", data[:len(want)])
	}
	return &decoder{buf: data, off: len(want)}, nil
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || len(d.buf)-d.off < n {
		return nil, ErrShortAccountData
	}
	out := d.buf[d.off : d.off+n]
	d.off += n
	return out, nil
}

func (d *decoder) u8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) u32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) u64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *decoder) i64() (int64, error) {
	v, err := d.u64()
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

func (d *decoder) boolean() (bool, error) {
	b, err := d.u8()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (d *decoder) hash32() ([32]byte, error) {
	var out [32]byte
	b, err := d.take(32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

func (d *decoder) address() (address.Address, error) {
	b, err := d.hash32()
	return address.Address(b), err
}

func (d *decoder) str() (string, error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
