package protocol

import (
	"errors"
	"fmt"
)

// UpstreamError is returned by adapters for external services (ledger RPC,
// custodial wallets, pinning). StatusCode is the upstream HTTP status when
// one was observed, zero otherwise.
type UpstreamError struct {
	Service    string
	StatusCode int
	Code       string
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s upstream error (status %d): %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s upstream error: %s", e.Service, e.Message)
}

func AsUpstream(err error) (*UpstreamError, bool) {
	var up *UpstreamError
	if errors.As(err, &up) {
		return up, true
	}
	return nil, false
}
