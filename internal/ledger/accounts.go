package ledger

import (
	"fmt"
	"time"

	"github.com/provenance/provenance-gateway/internal/address"
)

var (
	registrationDiscriminator = AccountDiscriminator("ContentRegistration")
	relationDiscriminator     = AccountDiscriminator("UserKeyRelation")
	validatorDiscriminator    = AccountDiscriminator("Validator")
)

// RegistrationContentHashOffset is where the content hash starts inside a
// registration account, used for program-account scans.
const RegistrationContentHashOffset = 8 + address.Size

type ContentRegistration struct {
	Creator             address.Address
	ContentHash         [32]byte
	ClaimHash           [32]byte
	StorageCID          string
	Timestamp           time.Time
	Finalized           bool
	ConsensusPercentage uint8
	VotesFor            uint32
	VotesAgainst        uint32
}

type UserKeyRelation struct {
	UserID    string
	Wallet    address.Address
	CreatedAt time.Time
}

type Validator struct {
	Address         address.Address
	StakedAmount    uint64
	ReputationScore uint64
	TotalVotes      uint64
	HonestVotes     uint64
	DishonestVotes  uint64
	LastActiveTime  time.Time
}

func DecodeContentRegistration(data []byte) (ContentRegistration, error) {
	var out ContentRegistration
	d, err := newDecoder(data, registrationDiscriminator)
	if err != nil {
		return out, fmt.Errorf("decode registration: %w", err)
	}
	if out.Creator, err = d.address(); err != nil {
		return out, fmt.Errorf("decode registration creator: %w", err)
	}
	if out.ContentHash, err = d.hash32(); err != nil {
		return out, fmt.Errorf("decode registration content hash: %w", err)
	}
	if out.ClaimHash, err = d.hash32(); err != nil {
		return out, fmt.Errorf("decode registration claim hash: %w", err)
	}
	if out.StorageCID, err = d.str(); err != nil {
		return out, fmt.Errorf("decode registration storage cid: %w", err)
	}
	ts, err := d.i64()
	if err != nil {
		return out, fmt.Errorf("decode registration timestamp: %w", err)
	}
	out.Timestamp = time.Unix(ts, 0).UTC()
	if out.Finalized, err = d.boolean(); err != nil {
		return out, fmt.Errorf("decode registration finalized: %w", err)
	}
	if out.ConsensusPercentage, err = d.u8(); err != nil {
		return out, fmt.Errorf("decode registration consensus: %w", err)
	}
	if out.VotesFor, err = d.u32(); err != nil {
		return out, fmt.Errorf("decode registration votes for: %w", err)
	}
	if out.VotesAgainst, err = d.u32(); err != nil {
		return out, fmt.Errorf("decode registration votes against: %w", err)
	}
	return out, nil
}

func EncodeContentRegistration(r ContentRegistration) []byte {
	e := newEncoder(registrationDiscriminator)
	e.fixed(r.Creator[:])
	e.fixed(r.ContentHash[:])
	e.fixed(r.ClaimHash[:])
	e.str(r.StorageCID)
	e.i64(r.Timestamp.Unix())
	e.boolean(r.Finalized)
	e.u8(r.ConsensusPercentage)
	e.u32(r.VotesFor)
	e.u32(r.VotesAgainst)
	return e.bytes()
}

// DecodeUserKeyRelation decodes either direction of an identity link; both
// records carry the same fields.
func DecodeUserKeyRelation(data []byte) (UserKeyRelation, error) {
	var out UserKeyRelation
	d, err := newDecoder(data, relationDiscriminator)
	if err != nil {
		return out, fmt.Errorf("decode relation: %w", err)
	}
	if out.UserID, err = d.str(); err != nil {
		return out, fmt.Errorf("decode relation user id: %w", err)
	}
	if out.Wallet, err = d.address(); err != nil {
		return out, fmt.Errorf("decode relation wallet: %w", err)
	}
	ts, err := d.i64()
	if err != nil {
		return out, fmt.Errorf("decode relation created_at: %w", err)
	}
	out.CreatedAt = time.Unix(ts, 0).UTC()
	return out, nil
}

func EncodeUserKeyRelation(r UserKeyRelation) []byte {
	e := newEncoder(relationDiscriminator)
	e.str(r.UserID)
	e.fixed(r.Wallet[:])
	e.i64(r.CreatedAt.Unix())
	return e.bytes()
}

func DecodeValidator(data []byte) (Validator, error) {
	var out Validator
	d, err := newDecoder(data, validatorDiscriminator)
	if err != nil {
		return out, fmt.Errorf("decode validator: %w", err)
	}
	if out.Address, err = d.address(); err != nil {
		return out, fmt.Errorf("decode validator address: %w", err)
	}
	fields := []*uint64{&out.StakedAmount, &out.ReputationScore, &out.TotalVotes, &out.HonestVotes, &out.DishonestVotes}
	for _, f := range fields {
		if *f, err = d.u64(); err != nil {
			return out, fmt.Errorf("decode validator counters: %w", err)
		}
	}
	ts, err := d.i64()
	if err != nil {
		return out, fmt.Errorf("decode validator last_active: %w", err)
	}
	out.LastActiveTime = time.Unix(ts, 0).UTC()
	return out, nil
}

func EncodeValidator(v Validator) []byte {
	e := newEncoder(validatorDiscriminator)
	e.fixed(v.Address[:])
	e.u64(v.StakedAmount)
	e.u64(v.ReputationScore)
	e.u64(v.TotalVotes)
	e.u64(v.HonestVotes)
	e.u64(v.DishonestVotes)
	e.i64(v.LastActiveTime.Unix())
	return e.bytes()
}

// Accuracy is honest/total, or nil when the validator has not voted.
func (v Validator) Accuracy() *float64 {
	if v.TotalVotes == 0 {
		return nil
	}
	acc := float64(v.HonestVotes) / float64(v.TotalVotes)
	return &acc
}
