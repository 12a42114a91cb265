// Package models holds the wire/storage data shapes shared between
// the engine, the job store and the API adapter.
package models

import (
	"time"

	"github.com/mixdao/mixd/internal/coins"
)

// Status is a Job's lifecycle state, per spec.md §4.4.
type Status string

const (
	StatusPending              Status = "pending"
	StatusWaitingDeposit       Status = "waiting_deposit"
	StatusDepositReceived      Status = "deposit_received"
	StatusMixingStep1          Status = "mixing_step1"
	StatusWaitingConfirmations Status = "waiting_confirmations"
	StatusMixingStep2          Status = "mixing_step2"
	StatusCompleted            Status = "completed"
	StatusError                Status = "error"
)

// Job is the unit of work the engine drives from deposit to
// delivery. Every engine-visible mutation is followed by a store
// write, per spec.md §4.3/§5.
type Job struct {
	JobID          string `json:"job_id"`
	TargetAddress  string `json:"target_address"`
	Amount         coins.Amount `json:"amount"`
	DepositAddress string `json:"deposit_address"`

	DepositRequired coins.Amount `json:"deposit_required"`
	DepositReceived coins.Amount `json:"deposit_received"`

	FeePercent      float64      `json:"fee_percent"`
	AbsFee          coins.Amount `json:"abs_fee"`
	MinerFee        coins.Amount `json:"miner_fee"`
	TxCount         int          `json:"tx_count"`
	NetAmount       coins.Amount `json:"net_amount"`
	ExtraServiceFee coins.Amount `json:"extra_service_fee"`

	ShardCount int `json:"shard_count"`
	HopCount   int `json:"hop_count"`

	MixAddress string `json:"mix_address"`
	Txid1      string `json:"txid1"`

	Confirmations int64 `json:"confirmations"`

	ShardTxidsFanout []string   `json:"shard_txids_fanout"`
	ShardTxidsHops   [][]string `json:"shard_txids_hops"`
	ShardTxidsFinal  []string   `json:"shard_txids_final"`
	Txid2            string     `json:"txid2"`

	// ShardDegraded marks shards that stopped hopping early because
	// their remaining amount could not cover another send fee — they
	// count toward ShardProgressCompleted without a final txid.
	ShardDegraded          []bool `json:"shard_degraded"`
	ShardProgressCompleted int    `json:"shard_progress_completed"`

	DepositSpentUnresolved bool `json:"deposit_spent_unresolved"`

	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastPollAt   time.Time `json:"last_poll_at"`
	LastUpdateAt time.Time `json:"last_update_at"`
}

// EnsureShardSlices grows the per-shard hop slice to ShardCount
// entries, lazily, so callers can index shard i's hop list without a
// separate initialization pass.
func (j *Job) EnsureShardSlices() {
	for len(j.ShardTxidsHops) < j.ShardCount {
		j.ShardTxidsHops = append(j.ShardTxidsHops, nil)
	}
	for len(j.ShardTxidsFinal) < j.ShardCount {
		j.ShardTxidsFinal = append(j.ShardTxidsFinal, "")
	}
	for len(j.ShardDegraded) < j.ShardCount {
		j.ShardDegraded = append(j.ShardDegraded, false)
	}
}

// IsTerminal reports whether the job has reached a state the engine
// no longer actively drives forward on its own (still resumable from
// error via the guardian, but not "running" right now).
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted
}

// FeeQuote is an API-facing shape of the derived fee quote, mirroring
// feemodel.Quote with a few extras attached (spec.md "Fee Quote (value
// object, derived)"). /mix/quote does not use it: that handler returns
// feemodel.Quote with feeSource as a separate field.
type FeeQuote struct {
	Amount          coins.Amount `json:"amount"`
	Shards          int          `json:"shards"`
	Hops            int          `json:"hops"`
	FeePercent      float64      `json:"fee_percent"`
	AbsFee          coins.Amount `json:"abs_fee"`
	MinerFee        coins.Amount `json:"miner_fee"`
	MinerFeeCap     coins.Amount `json:"miner_fee_cap"`
	TxCount         int          `json:"tx_count"`
	NetAmount       coins.Amount `json:"net_amount"`
	ExtraServiceFee coins.Amount `json:"extra_service_fee"`
	FeeSource       string       `json:"fee_source"`
}
