// Package feemodel computes the deterministic fee and net-amount
// breakdown for a mixing job from its topology and configuration.
// Every function here is pure: same inputs, same outputs, no I/O.
package feemodel

import (
	"fmt"

	"github.com/mixdao/mixd/internal/coins"
)

// Params is the subset of config.Config the fee model needs, copied
// out so the model stays decoupled from the config package (and thus
// trivially testable with literal values).
type Params struct {
	BaseP        float64
	ShardP       float64
	HopP         float64
	MinP         float64
	AbsFeeFloor  coins.Amount
	TxFeePerTx   coins.Amount
	MinRelayFeeFloor coins.Amount
	MinerFeeCap  coins.Amount
}

// Tier names a standard topology preset.
type Tier struct {
	Name   string
	Shards int
	Hops   int
}

// Tiers returns the three named topology presets, parameterized by
// configuration rather than hardcoded, so an operator can retune
// shard/hop counts without a code change.
func Tiers(standardS, standardH, enhancedS, enhancedH, strongS, strongH int) []Tier {
	return []Tier{
		{Name: "standard", Shards: standardS, Hops: standardH},
		{Name: "enhanced", Shards: enhancedS, Hops: enhancedH},
		{Name: "strong", Shards: strongS, Hops: strongH},
	}
}

// Quote is the full fee breakdown for one (amount, S, H) combination.
type Quote struct {
	Amount          coins.Amount `json:"amount"`
	Shards          int          `json:"shards"`
	Hops            int          `json:"hops"`
	Percent         float64      `json:"percent"`
	TxCount         int          `json:"tx_count"`
	AbsFeeRaw       coins.Amount `json:"abs_fee_raw"`
	MinerFeeEst     coins.Amount `json:"miner_fee_est"`
	MinerFee        coins.Amount `json:"miner_fee"`
	ExtraToService  coins.Amount `json:"extra_to_service"`
	AbsFee          coins.Amount `json:"abs_fee"`
	NetAmount       coins.Amount `json:"net_amount"`
}

// Compute runs the fee formula from §4.1 against amount a for a
// topology of S shards and H hops per shard.
func Compute(p Params, a coins.Amount, shards, hops int) (Quote, error) {
	if shards <= 0 {
		return Quote{}, fmt.Errorf("feemodel: shards must be positive, got %d", shards)
	}
	if hops < 0 {
		return Quote{}, fmt.Errorf("feemodel: hops must be non-negative, got %d", hops)
	}
	if a <= 0 {
		return Quote{}, fmt.Errorf("feemodel: amount must be positive")
	}

	S, H := shards, hops

	percent := p.BaseP + float64(S)*p.ShardP + float64(H)*p.HopP
	if percent < p.MinP {
		percent = p.MinP
	}

	txCount := 2*S + S*H

	absFeeRaw := a.MulPercent(percent)
	absFeeRaw = coins.Max(absFeeRaw, p.AbsFeeFloor)

	minerFeeEst := coins.Amount(int64(txCount)) * p.TxFeePerTx

	minerFee := minerFeeEst
	if minerFee < p.MinRelayFeeFloor {
		minerFee = p.MinRelayFeeFloor
	}
	if minerFee > p.MinerFeeCap {
		minerFee = p.MinerFeeCap
	}

	extraToService := coins.Zero
	if minerFeeEst > p.MinerFeeCap {
		extraToService = minerFeeEst - p.MinerFeeCap
	}

	absFee := absFeeRaw + extraToService

	net := a - absFee - minerFee
	if net < 0 {
		net = 0
	}

	return Quote{
		Amount:         a,
		Shards:         S,
		Hops:           H,
		Percent:        percent,
		TxCount:        txCount,
		AbsFeeRaw:      absFeeRaw,
		MinerFeeEst:    minerFeeEst,
		MinerFee:       minerFee,
		ExtraToService: extraToService,
		AbsFee:         absFee,
		NetAmount:      net,
	}, nil
}

// ComputeTier is a convenience wrapper applying Compute to a named
// Tier.
func ComputeTier(p Params, a coins.Amount, t Tier) (Quote, error) {
	q, err := Compute(p, a, t.Shards, t.Hops)
	if err != nil {
		return Quote{}, err
	}
	return q, nil
}
