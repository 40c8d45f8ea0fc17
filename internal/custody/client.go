// Package custody talks to the custodial wallet provider that holds keys on
// behalf of users who did not bring their own wallet.
package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/provenance/provenance-gateway/internal/address"
	"github.com/provenance/provenance-gateway/internal/protocol"
)

const serviceName = "custody"

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateWallet provisions a wallet for userID and returns its address.
func (c *Client) CreateWallet(ctx context.Context, userID string) (address.Address, error) {
	var out struct {
		Address string `json:"address"`
	}
	if err := c.post(ctx, "/wallets", map[string]string{"userId": userID}, &out); err != nil {
		return address.Zero, err
	}
	addr, err := address.Parse(out.Address)
	if err != nil {
		return address.Zero, &protocol.UpstreamError{Service: serviceName, Message: fmt.Sprintf("create wallet: %v", err)}
	}
	return addr, nil
}

// SignTransaction asks the provider to add wallet's signature to the base64
// wire transaction and returns the signed transaction, still base64.
func (c *Client) SignTransaction(ctx context.Context, wallet address.Address, tx string) (string, error) {
	var out struct {
		SignedTransaction string `json:"signedTransaction"`
	}
	path := "/wallets/" + url.PathEscape(wallet.String()) + "/sign"
	if err := c.post(ctx, path, map[string]string{"transaction": tx}, &out); err != nil {
		return "", err
	}
	if out.SignedTransaction == "" {
		return "", &protocol.UpstreamError{Service: serviceName, Message: "sign transaction: empty response"}
	}
	return out.SignedTransaction, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &protocol.UpstreamError{Service: serviceName, Message: fmt.Sprintf("%s: %v", path, err)}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &protocol.UpstreamError{Service: serviceName, Message: fmt.Sprintf("%s: read response: %v", path, err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &protocol.UpstreamError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(respBody),
		}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &protocol.UpstreamError{Service: serviceName, Message: fmt.Sprintf("%s: decode response: %v", path, err)}
	}
	return nil
}

// upstreamMessage prefers the provider's own error text so it can be passed
// through to the caller unchanged.
func upstreamMessage(body []byte) string {
	var env struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Message != "" {
			return env.Message
		}
		if s, ok := env.Error.(string); ok && s != "" {
			return s
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
