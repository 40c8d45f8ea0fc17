package service

import (
	"context"

	"github.com/provenance/provenance-gateway/internal/ledger"
	"github.com/provenance/provenance-gateway/internal/protocol"
)

func (g *Gateway) ValidatorData(ctx context.Context, req protocol.ValidatorDataRequest) (protocol.ValidatorDataResponse, error) {
	var problems fieldErrors
	wallet := checkAddress(&problems, "walletAddress", req.WalletAddress)
	if err := problems.err(); err != nil {
		return protocol.ValidatorDataResponse{}, err
	}
	key, err := g.programs.ValidatorAddress(wallet)
	if err != nil {
		return protocol.ValidatorDataResponse{}, Internal("derive validator address", err)
	}
	data, ok, err := g.guard.Fetch(ctx, key)
	if err != nil {
		return protocol.ValidatorDataResponse{}, Upstream(err)
	}
	if !ok {
		return protocol.ValidatorDataResponse{}, Conflict("VALIDATOR_NOT_INITIALIZED", "wallet has no validator account", map[string]any{
			"walletAddress":    wallet.String(),
			"validatorAddress": key.String(),
			"remediation":      "stake through the staking program to initialize a validator",
		})
	}
	v, err := ledger.DecodeValidator(data)
	if err != nil {
		return protocol.ValidatorDataResponse{}, Internal("decode validator account", err)
	}
	return protocol.ValidatorDataResponse{
		ValidatorAddress: key.String(),
		WalletAddress:    wallet.String(),
		StakedAmount:     v.StakedAmount,
		ReputationScore:  v.ReputationScore,
		TotalVotes:       v.TotalVotes,
		HonestVotes:      v.HonestVotes,
		DishonestVotes:   v.DishonestVotes,
		Accuracy:         v.Accuracy(),
		LastActiveTime:   v.LastActiveTime,
	}, nil
}
