package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"

	"github.com/provenance/provenance-gateway/internal/address"
	"github.com/provenance/provenance-gateway/internal/protocol"
)

var (
	// ErrAccountNotFound is the only error that means "the account is absent".
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountInUse is reported when the ledger refuses to create an
	// account that already exists.
	ErrAccountInUse = errors.New("account already in use")
)

const serviceName = "ledger"

type RPCOptions struct {
	Commitment     string
	Timeout        time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

type ProgramAccount struct {
	Address address.Address
	Data    []byte
}

// RPCClient speaks the ledger's JSON-RPC 2.0 interface over HTTP. Every call
// is a single request; nothing is retried here.
type RPCClient struct {
	endpoint       string
	http           *http.Client
	commitment     string
	confirmTimeout time.Duration
	pollInterval   time.Duration
	nextID         atomic.Uint64
}

func NewRPCClient(endpoint string, opts RPCOptions) *RPCClient {
	if opts.Commitment == "" {
		opts.Commitment = "confirmed"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 45 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 750 * time.Millisecond
	}
	return &RPCClient{
		endpoint:       strings.TrimSpace(endpoint),
		http:           &http.Client{Timeout: opts.Timeout},
		commitment:     opts.Commitment,
		confirmTimeout: opts.ConfirmTimeout,
		pollInterval:   opts.PollInterval,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return &protocol.UpstreamError{Service: serviceName, Message: fmt.Sprintf("%s: %v", method, err)}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &protocol.UpstreamError{Service: serviceName, Message: fmt.Sprintf("%s: read response: %v", method, err)}
	}
	if resp.StatusCode != http.StatusOK {
		return &protocol.UpstreamError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s: %s", method, truncate(string(raw), 300)),
		}
	}
	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &protocol.UpstreamError{Service: serviceName, Message: fmt.Sprintf("%s: decode response: %v", method, err)}
	}
	if envelope.Error != nil {
		if isAccountInUse(envelope.Error) {
			return fmt.Errorf("%s: %w", method, ErrAccountInUse)
		}
		return &protocol.UpstreamError{
			Service: serviceName,
			Code:    fmt.Sprintf("RPC_%d", envelope.Error.Code),
			Message: fmt.Sprintf("%s: %s", method, envelope.Error.Message),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return &protocol.UpstreamError{Service: serviceName, Message: fmt.Sprintf("%s: decode result: %v", method, err)}
	}
	return nil
}

func isAccountInUse(e *rpcError) bool {
	text := strings.ToLower(e.Message + " " + string(e.Data))
	return strings.Contains(text, "already in use")
}

// GetAccount returns the raw account data. A null value from the ledger is
// reported as ErrAccountNotFound; every other failure is an upstream error.
func (c *RPCClient) GetAccount(ctx context.Context, addr address.Address) ([]byte, error) {
	var result struct {
		Value *struct {
			Data []string `json:"data"`
		} `json:"value"`
	}
	params := []any{addr.String(), map[string]any{"encoding": "base64", "commitment": c.commitment}}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, ErrAccountNotFound
	}
	if len(result.Value.Data) == 0 {
		return nil, &protocol.UpstreamError{Service: serviceName, Message: "getAccountInfo: missing account data"}
	}
	data, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, &protocol.UpstreamError{Service: serviceName, Message: fmt.Sprintf("getAccountInfo: decode data: %v", err)}
	}
	return data, nil
}

func (c *RPCClient) LatestBlockhash(ctx context.Context) (Hash, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	params := []any{map[string]any{"commitment": c.commitment}}
	if err := c.call(ctx, "getLatestBlockhash", params, &result); err != nil {
		return Hash{}, err
	}
	h, err := ParseHash(result.Value.Blockhash)
	if err != nil {
		return Hash{}, &protocol.UpstreamError{Service: serviceName, Message: fmt.Sprintf("getLatestBlockhash: %v", err)}
	}
	return h, nil
}

// RecentPriorityFee returns the median non-zero prioritization fee (micro
// units per compute unit) recently paid for transactions touching accounts.
func (c *RPCClient) RecentPriorityFee(ctx context.Context, accounts []address.Address) (uint64, error) {
	keys := make([]string, 0, len(accounts))
	for _, a := range accounts {
		keys = append(keys, a.String())
	}
	var result []struct {
		Slot              uint64 `json:"slot"`
		PrioritizationFee uint64 `json:"prioritizationFee"`
	}
	if err := c.call(ctx, "getRecentPrioritizationFees", []any{keys}, &result); err != nil {
		return 0, err
	}
	fees := make([]uint64, 0, len(result))
	for _, r := range result {
		if r.PrioritizationFee > 0 {
			fees = append(fees, r.PrioritizationFee)
		}
	}
	if len(fees) == 0 {
		return 0, nil
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i] < fees[j] })
	return fees[len(fees)/2], nil
}

func (c *RPCClient) Send(ctx context.Context, tx *Transaction) (Signature, error) {
	encoded, err := tx.ToBase64()
	if err != nil {
		return Signature{}, err
	}
	var sigText string
	params := []any{encoded, map[string]any{"encoding": "base64", "preflightCommitment": c.commitment}}
	if err := c.call(ctx, "sendTransaction", params, &sigText); err != nil {
		return Signature{}, err
	}
	raw, err := base58.Decode(sigText)
	if err != nil || len(raw) != SignatureSize {
		return Signature{}, &protocol.UpstreamError{Service: serviceName, Message: "sendTransaction: malformed signature in response"}
	}
	var sig Signature
	copy(sig[:], raw)
	return sig, nil
}

// Confirm polls the signature status until the ledger reports the configured
// commitment, the transaction fails, or the confirmation window closes.
func (c *RPCClient) Confirm(ctx context.Context, sig Signature) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		status, err := c.signatureStatus(ctx, sig)
		if err != nil {
			if ctx.Err() != nil {
				return "", confirmTimeoutError(sig)
			}
			return "", err
		}
		if status != "" && commitmentReached(status, c.commitment) {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return "", confirmTimeoutError(sig)
		case <-ticker.C:
		}
	}
}

func (c *RPCClient) signatureStatus(ctx context.Context, sig Signature) (string, error) {
	var result struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	params := []any{[]string{sig.String()}, map[string]any{"searchTransactionHistory": false}}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return "", err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return "", nil
	}
	st := result.Value[0]
	if len(st.Err) > 0 && string(st.Err) != "null" {
		if strings.Contains(strings.ToLower(string(st.Err)), "already in use") {
			return "", ErrAccountInUse
		}
		return "", &protocol.UpstreamError{
			Service: serviceName,
			Code:    "TRANSACTION_FAILED",
			Message: fmt.Sprintf("transaction %s failed: %s", sig, truncate(string(st.Err), 300)),
		}
	}
	return st.ConfirmationStatus, nil
}

func commitmentReached(status, want string) bool {
	rank := map[string]int{"processed": 0, "confirmed": 1, "finalized": 2}
	return rank[status] >= rank[want]
}

func confirmTimeoutError(sig Signature) error {
	return &protocol.UpstreamError{
		Service:    serviceName,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "CONFIRMATION_TIMEOUT",
		Message:    fmt.Sprintf("transaction %s was not confirmed in time", sig),
	}
}

// ScanProgram lists accounts owned by program whose data matches want at
// offset.
func (c *RPCClient) ScanProgram(ctx context.Context, program address.Address, offset int, want []byte) ([]ProgramAccount, error) {
	var result []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data []string `json:"data"`
		} `json:"account"`
	}
	params := []any{program.String(), map[string]any{
		"encoding":   "base64",
		"commitment": c.commitment,
		"filters": []any{
			map[string]any{"memcmp": map[string]any{"offset": offset, "bytes": base58.Encode(want)}},
		},
	}}
	if err := c.call(ctx, "getProgramAccounts", params, &result); err != nil {
		return nil, err
	}
	out := make([]ProgramAccount, 0, len(result))
	for _, r := range result {
		addr, err := address.Parse(r.Pubkey)
		if err != nil {
			return nil, &protocol.UpstreamError{Service: serviceName, Message: fmt.Sprintf("getProgramAccounts: %v", err)}
		}
		if len(r.Account.Data) == 0 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(r.Account.Data[0])
		if err != nil {
			return nil, &protocol.UpstreamError{Service: serviceName, Message: fmt.Sprintf("getProgramAccounts: decode data: %v", err)}
		}
		out = append(out, ProgramAccount{Address: addr, Data: data})
	}
	return out, nil
}

func (c *RPCClient) Health(ctx context.Context) error {
	return c.call(ctx, "getHealth", nil, nil)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
