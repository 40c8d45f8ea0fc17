package ledger

import (
	"fmt"
	"time"

	"github.com/provenance/provenance-gateway/internal/address"
)

var (
	SystemProgramID        = address.MustParse("11111111111111111111111111111111")
	ComputeBudgetProgramID = address.MustParse("ComputeBudget111111111111111111111111111111")
)

const (
	registrationSeed = "registration"
	userToWalletSeed = "user_to_wallet"
	walletToUserSeed = "wallet_to_user"
	validatorSeed    = "validator"
)

// Programs holds the deployed program ids this gateway talks to.
type Programs struct {
	Registration address.Address
	Identity     address.Address
	Staking      address.Address
}

func (p Programs) Validate() error {
	if p.Registration.IsZero() {
		return fmt.Errorf("registration program id is required")
	}
	if p.Identity.IsZero() {
		return fmt.Errorf("identity program id is required")
	}
	if p.Staking.IsZero() {
		return fmt.Errorf("staking program id is required")
	}
	return nil
}

// Allowed lists the programs a co-signed transaction may call.
func (p Programs) Allowed() []address.Address {
	return []address.Address{
		p.Registration,
		p.Identity,
		p.Staking,
		SystemProgramID,
		ComputeBudgetProgramID,
	}
}

func (p Programs) RegistrationAddress(creator address.Address, contentHash [32]byte) (address.Address, error) {
	a, _, err := address.Derive(p.Registration, registrationSeed, creator[:], contentHash[:])
	return a, err
}

func (p Programs) UserToWalletAddress(userID string) (address.Address, error) {
	a, _, err := address.Derive(p.Identity, userToWalletSeed, []byte(userID))
	return a, err
}

func (p Programs) WalletToUserAddress(wallet address.Address) (address.Address, error) {
	a, _, err := address.Derive(p.Identity, walletToUserSeed, wallet[:])
	return a, err
}

func (p Programs) ValidatorAddress(wallet address.Address) (address.Address, error) {
	a, _, err := address.Derive(p.Staking, validatorSeed, wallet[:])
	return a, err
}

type RegisterContentArgs struct {
	ContentHash [32]byte
	ClaimHash   [32]byte
	StorageCID  string
	Timestamp   time.Time
}

// RegisterContentInstruction writes a new registration account. The creator
// signs; payer funds the account.
func (p Programs) RegisterContentInstruction(creator, payer address.Address, args RegisterContentArgs) (Instruction, error) {
	registration, err := p.RegistrationAddress(creator, args.ContentHash)
	if err != nil {
		return Instruction{}, err
	}
	walletToUser, err := p.WalletToUserAddress(creator)
	if err != nil {
		return Instruction{}, err
	}
	enc := newEncoder(InstructionDiscriminator("register_content"))
	enc.fixed(args.ContentHash[:])
	enc.fixed(args.ClaimHash[:])
	enc.str(args.StorageCID)
	enc.i64(args.Timestamp.Unix())
	return Instruction{
		ProgramID: p.Registration,
		Accounts: []AccountMeta{
			{Address: registration, IsWritable: true},
			{Address: walletToUser},
			{Address: creator, IsSigner: true},
			{Address: payer, IsSigner: true, IsWritable: true},
			{Address: SystemProgramID},
		},
		Data: enc.bytes(),
	}, nil
}

// LinkWalletInstruction creates both relation records in one instruction so
// the ledger applies them atomically.
func (p Programs) LinkWalletInstruction(userID string, wallet, authority address.Address) (Instruction, error) {
	userToWallet, err := p.UserToWalletAddress(userID)
	if err != nil {
		return Instruction{}, err
	}
	walletToUser, err := p.WalletToUserAddress(wallet)
	if err != nil {
		return Instruction{}, err
	}
	enc := newEncoder(InstructionDiscriminator("link_wallet"))
	enc.str(userID)
	enc.fixed(wallet[:])
	return Instruction{
		ProgramID: p.Identity,
		Accounts: []AccountMeta{
			{Address: userToWallet, IsWritable: true},
			{Address: walletToUser, IsWritable: true},
			{Address: authority, IsSigner: true, IsWritable: true},
			{Address: SystemProgramID},
		},
		Data: enc.bytes(),
	}, nil
}

func SetComputeUnitLimitInstruction(units uint32) Instruction {
	e := &encoder{}
	e.u8(2)
	e.u32(units)
	return Instruction{ProgramID: ComputeBudgetProgramID, Data: e.bytes()}
}

func SetComputeUnitPriceInstruction(microLamports uint64) Instruction {
	e := &encoder{}
	e.u8(3)
	e.u64(microLamports)
	return Instruction{ProgramID: ComputeBudgetProgramID, Data: e.bytes()}
}
