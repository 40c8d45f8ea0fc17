package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/provenance/provenance-gateway/internal/protocol"
)

const pinningService = "storage"

// Pinning uploads JSON documents to a pinning service speaking the
// pinJSONToIPFS convention: POST {pinataContent, pinataMetadata} with a bearer
// token, answered by {"IpfsHash": "<cid>"}.
type Pinning struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewPinning(endpoint, token string, timeout time.Duration) *Pinning {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pinning{
		endpoint: strings.TrimSpace(endpoint),
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *Pinning) Upload(ctx context.Context, name string, doc []byte) (string, error) {
	if !json.Valid(doc) {
		return "", fmt.Errorf("metadata document is not valid json")
	}
	body, err := json.Marshal(map[string]any{
		"pinataContent":  json.RawMessage(doc),
		"pinataMetadata": map[string]string{"name": name},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &protocol.UpstreamError{Service: pinningService, Message: fmt.Sprintf("upload metadata: %v", err)}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &protocol.UpstreamError{Service: pinningService, Message: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &protocol.UpstreamError{
			Service:    pinningService,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("upload metadata: %s", truncate(string(raw), 300)),
		}
	}
	var out struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &protocol.UpstreamError{Service: pinningService, Message: fmt.Sprintf("decode response: %v", err)}
	}
	c, err := ValidateCID(out.IpfsHash)
	if err != nil {
		return "", &protocol.UpstreamError{Service: pinningService, Message: err.Error()}
	}
	return c, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
