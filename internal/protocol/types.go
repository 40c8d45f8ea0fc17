package protocol

import "time"

const (
	WalletStandard  = "standard"
	WalletCustodial = "custodial"

	StatusConfirmed               = "confirmed"
	StatusRequiresClientSignature = "requires-client-signature"
	StatusActionLinkCreated       = "action-link-created"
	StatusLinked                  = "linked"
)

type HealthResponse struct {
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Status    string    `json:"status"`
	Time      time.Time `json:"time"`
	Datastore string    `json:"datastore"`
	Ledger    string    `json:"ledger"`
}

type ValidatorDataRequest struct {
	WalletAddress string `json:"walletAddress"`
}

type ValidatorDataResponse struct {
	ValidatorAddress string    `json:"validatorAddress"`
	WalletAddress    string    `json:"walletAddress"`
	StakedAmount     uint64    `json:"stakedAmount"`
	ReputationScore  uint64    `json:"reputationScore"`
	TotalVotes       uint64    `json:"totalVotes"`
	HonestVotes      uint64    `json:"honestVotes"`
	DishonestVotes   uint64    `json:"dishonestVotes"`
	Accuracy         *float64  `json:"accuracy"`
	LastActiveTime   time.Time `json:"lastActiveTime"`
}

type FileMetadata struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Size         *int64 `json:"size"`
	LastModified int64  `json:"lastModified,omitempty"`
}

type RegisterRequest struct {
	ContentTitle     string        `json:"contentTitle"`
	WalletAddress    string        `json:"walletAddress"`
	WalletType       string        `json:"walletType"`
	ContentHash      string        `json:"contentHash"`
	ClaimHash        string        `json:"claimHash,omitempty"`
	Metadata         string        `json:"metadata,omitempty"`
	FileMetadata     *FileMetadata `json:"fileMetadata"`
	ReturnActionLink bool          `json:"returnActionLink,omitempty"`
}

// RegisterResponse carries the mode-specific outcome of a registration.
// Custodial submissions fill Signature; deferred ones fill Transaction or
// ActionLink.
type RegisterResponse struct {
	Status              string     `json:"status"`
	RegistrationAddress string     `json:"registrationAddress"`
	StorageCID          string     `json:"storageCID"`
	Signature           string     `json:"signature,omitempty"`
	ExplorerURL         string     `json:"explorerUrl,omitempty"`
	Transaction         string     `json:"transaction,omitempty"`
	ActionLink          string     `json:"actionLink,omitempty"`
	Token               string     `json:"token,omitempty"`
	ExpiresAt           *time.Time `json:"expiresAt,omitempty"`
}

// MetadataDocument is the JSON blob pinned to content-addressable storage
// before the registration instruction is built.
type MetadataDocument struct {
	ContentTitle   string       `json:"contentTitle"`
	ContentHash    string       `json:"contentHash"`
	ClaimHash      string       `json:"claimHash,omitempty"`
	CreatorAddress string       `json:"creatorAddress"`
	Metadata       string       `json:"metadata,omitempty"`
	File           FileMetadata `json:"file"`
	CreatedAt      time.Time    `json:"createdAt"`
}

type SearchRequest struct {
	ContentHash   string `json:"contentHash"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

type RegistrationView struct {
	RegistrationAddress string    `json:"registrationAddress"`
	CreatorAddress      string    `json:"creatorAddress"`
	ContentHash         string    `json:"contentHash"`
	ClaimHash           string    `json:"claimHash,omitempty"`
	StorageCID          string    `json:"storageCID"`
	Timestamp           time.Time `json:"timestamp"`
	Finalized           bool      `json:"finalized"`
	ConsensusPercentage uint8     `json:"consensusPercentage"`
	VotesFor            uint32    `json:"votesFor"`
	VotesAgainst        uint32    `json:"votesAgainst"`
}

type SearchResponse struct {
	Matches []RegistrationView `json:"matches"`
}

type LinkWalletRequest struct {
	UserID        string `json:"userID"`
	WalletAddress string `json:"walletAddress"`
}

type LinkWalletResponse struct {
	Status              string `json:"status"`
	UserID              string `json:"userID"`
	WalletAddress       string `json:"walletAddress"`
	UserToWalletAddress string `json:"userToWalletAddress"`
	WalletToUserAddress string `json:"walletToUserAddress"`
	Signature           string `json:"signature"`
	ExplorerURL         string `json:"explorerUrl"`
}

type CreateWalletRequest struct {
	UserID string `json:"userID"`
}

type CreateWalletResponse struct {
	UserID        string `json:"userID"`
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
	ExplorerURL   string `json:"explorerUrl"`
}

type FindWalletResponse struct {
	UserID          string    `json:"userID"`
	WalletAddress   string    `json:"walletAddress"`
	RelationAddress string    `json:"relationAddress"`
	CreatedAt       time.Time `json:"createdAt"`
}

type SubmitTransactionRequest struct {
	Transaction string `json:"transaction"`
}

type SubmitTransactionResponse struct {
	Signature   string `json:"signature"`
	Status      string `json:"status"`
	ExplorerURL string `json:"explorerUrl"`
}

type ActionPreviewResponse struct {
	CreatorAddress string    `json:"creatorAddress"`
	ContentHash    string    `json:"contentHash"`
	ContentTitle   string    `json:"contentTitle"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type ActionRedeemResponse struct {
	Transaction    string `json:"transaction"`
	CreatorAddress string `json:"creatorAddress"`
	ContentHash    string `json:"contentHash"`
	ContentTitle   string `json:"contentTitle"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Fields    []FieldError   `json:"fields,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
