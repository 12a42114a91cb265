// Package engine implements the Job Engine: the state machine,
// deposit monitor, confirmation watcher, shard worker and guardian
// that together drive a mixing job from deposit to delivery. The
// long-lived-goroutine-on-a-ticker shape follows the teacher's
// mempool.Poller.Run and the corpus's service-layer mixer
// (resumeRequests/runMixingLoop/runDeliveryChecker).
package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mixdao/mixd/internal/addresspool"
	"github.com/mixdao/mixd/internal/coins"
	"github.com/mixdao/mixd/internal/config"
	"github.com/mixdao/mixd/internal/feemodel"
	"github.com/mixdao/mixd/internal/store"
	"github.com/mixdao/mixd/internal/wallet"
	"github.com/mixdao/mixd/pkg/models"
)

// Broadcaster pushes job-event payloads to subscribers, matching the
// teacher dashboard Hub's shape.
type Broadcaster interface {
	Broadcast(data []byte)
}

// AuditRecorder mirrors job transitions into the optional ledger. A
// nil AuditRecorder is valid — all calls become no-ops.
type AuditRecorder interface {
	RecordTransition(job *models.Job, txid, detail string)
}

// Role names a worker kind, used both for the job_id→role map and for
// log tags.
type Role string

const (
	RoleDepositMonitor Role = "deposit_monitor"
	RoleConfirmWatcher Role = "confirm_watcher"
	RoleShardWorker    Role = "shard_worker"
)

// Engine owns the jobs table, the worker-ownership map and every
// collaborator a worker needs.
type Engine struct {
	Wallet *wallet.Wallet
	Pool   *addresspool.Pool
	Store  *store.Store
	Cfg    *config.Config
	Hub    Broadcaster
	Ledger AuditRecorder

	FeeParams feemodel.Params
	Tiers     []feemodel.Tier

	mu      sync.Mutex
	workers map[string]Role
}

// New constructs an Engine. Hub and Ledger may be nil.
func New(w *wallet.Wallet, pool *addresspool.Pool, st *store.Store, cfg *config.Config, hub Broadcaster, ledger AuditRecorder) *Engine {
	feeParams := feemodel.Params{
		BaseP:            cfg.FeeBaseP,
		ShardP:           cfg.FeeShardP,
		HopP:             cfg.FeeHopP,
		MinP:             cfg.FeeMinP,
		AbsFeeFloor:      cfg.AbsFeeFloor,
		TxFeePerTx:       cfg.TxFeePerTx,
		MinRelayFeeFloor: cfg.MinRelayFeeFloor,
		MinerFeeCap:      cfg.MinerFeeCap,
	}
	tiers := feemodel.Tiers(
		cfg.TierStandardShards, cfg.TierStandardHops,
		cfg.TierEnhancedShards, cfg.TierEnhancedHops,
		cfg.TierStrongShards, cfg.TierStrongHops,
	)
	return &Engine{
		Wallet:    w,
		Pool:      pool,
		Store:     st,
		Cfg:       cfg,
		Hub:       hub,
		Ledger:    ledger,
		FeeParams: feeParams,
		Tiers:     tiers,
		workers:   make(map[string]Role),
	}
}

// claim marks role as running for jobID, returning false if a worker
// is already assigned to that job (spec.md §5: "a job may be running
// exactly one worker at a time").
func (e *Engine) claim(jobID string, role Role) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.workers[jobID]; busy {
		return false
	}
	e.workers[jobID] = role
	return true
}

func (e *Engine) release(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.workers, jobID)
}

// runningRole reports the worker role currently assigned to jobID, if
// any.
func (e *Engine) runningRole(jobID string) (Role, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.workers[jobID]
	return r, ok
}

// persist saves job, broadcasts its new state to websocket
// subscribers and mirrors the transition into the ledger. Called
// after every engine-visible field mutation, per spec.md §4.3/§5.
func (e *Engine) persist(job *models.Job, txid, detail string) {
	job.LastUpdateAt = time.Now().UTC()
	if err := e.Store.Put(job); err != nil {
		log.Printf("[engine] persist job %s failed: %v", job.JobID, err)
	}
	if e.Hub != nil {
		if b, err := json.Marshal(job); err == nil {
			e.Hub.Broadcast(b)
		}
	}
	if e.Ledger != nil {
		e.Ledger.RecordTransition(job, txid, detail)
	}
}

// resolveTier applies the tier-default fallback: explicit shard/hop
// counts win; a non-positive shard count or a negative hop count falls
// back to the "standard" tier's value (zero hops is kept as explicit).
func (e *Engine) resolveTier(shards, hops int) (int, int) {
	if shards > 0 {
		if hops >= 0 {
			return shards, hops
		}
	}
	for _, t := range e.Tiers {
		if t.Name == "standard" {
			if shards <= 0 {
				shards = t.Shards
			}
			if hops < 0 {
				hops = t.Hops
			}
			return shards, hops
		}
	}
	return shards, hops
}

// CreateJob allocates a deposit address, computes the fee quote and
// persists a new job in waiting_deposit, then spawns its deposit
// monitor.
func (e *Engine) CreateJob(targetAddress string, amount coins.Amount, shards, hops int) (*models.Job, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("engine: amount must be positive")
	}
	if v, err := e.Wallet.Node.ValidateAddress(targetAddress); err != nil || !v.IsValid {
		return nil, fmt.Errorf("engine: invalid target_address %q", targetAddress)
	}

	shards, hops = e.resolveTier(shards, hops)

	quote, err := feemodel.Compute(e.FeeParams, amount, shards, hops)
	if err != nil {
		return nil, err
	}

	depositAddr, err := e.Wallet.NewAddress(string(addresspool.RoleDeposit))
	if err != nil {
		return nil, fmt.Errorf("engine: allocate deposit address: %w", err)
	}
	if v, err := e.Wallet.Node.ValidateAddress(depositAddr); err != nil || !v.IsValid {
		return nil, fmt.Errorf("engine: newly minted deposit address failed validation")
	}

	now := time.Now().UTC()
	job := &models.Job{
		JobID:           uuid.NewString(),
		TargetAddress:   targetAddress,
		Amount:          amount,
		DepositAddress:  depositAddr,
		DepositRequired: amount + e.Cfg.DepositExtra + quote.ExtraToService,
		FeePercent:      quote.Percent,
		AbsFee:          quote.AbsFee,
		MinerFee:        quote.MinerFee,
		TxCount:         quote.TxCount,
		NetAmount:       quote.NetAmount,
		ExtraServiceFee: quote.ExtraToService,
		ShardCount:      shards,
		HopCount:        hops,
		Status:          models.StatusWaitingDeposit,
		CreatedAt:       now,
		LastPollAt:      now,
		LastUpdateAt:    now,
	}
	job.EnsureShardSlices()

	e.persist(job, "", "job created")
	go e.RunDepositMonitor(job.JobID)
	return job, nil
}

// Resume starts the worker appropriate to job's current state unless
// one is already running, per spec.md §4.5 ("Resume (explicit)").
func (e *Engine) Resume(jobID string) (bool, error) {
	job, ok := e.Store.Get(jobID)
	if !ok {
		return false, fmt.Errorf("engine: unknown job %s", jobID)
	}
	if _, busy := e.runningRole(jobID); busy {
		return true, nil
	}
	role := workerFor(job)
	if role == "" {
		return false, nil
	}
	e.spawn(jobID, role)
	return true, nil
}

// workerFor implements the guardian's state-to-worker map from
// spec.md §4.5.
func workerFor(job *models.Job) Role {
	switch {
	case job.Status == models.StatusWaitingDeposit && job.Txid1 != "":
		return RoleConfirmWatcher
	case job.Status == models.StatusWaitingDeposit || job.Status == models.StatusDepositReceived:
		return RoleDepositMonitor
	case job.Status == models.StatusWaitingConfirmations && job.Txid1 != "":
		return RoleConfirmWatcher
	case job.Status == models.StatusMixingStep2 && len(job.ShardTxidsFanout) > 0:
		return RoleShardWorker
	case job.Status == models.StatusError && len(job.ShardTxidsFanout) > 0:
		return RoleShardWorker
	case job.Status == models.StatusError && job.Txid1 != "":
		return RoleConfirmWatcher
	case job.Status == models.StatusError:
		return RoleDepositMonitor
	default:
		return ""
	}
}

func (e *Engine) spawn(jobID string, role Role) {
	switch role {
	case RoleDepositMonitor:
		go e.RunDepositMonitor(jobID)
	case RoleConfirmWatcher:
		go e.RunConfirmWatcher(jobID)
	case RoleShardWorker:
		go e.RunShardWorker(jobID)
	}
}

// RunGuardian scans every job every 10s and re-spawns whatever
// worker its current state and the state-to-worker map demand but
// which isn't already running. It is the engine's universal
// continuation (spec.md §7: "the guardian is the universal
// continuation").
func (e *Engine) RunGuardian(stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.guardianTick()
		}
	}
}

func (e *Engine) guardianTick() {
	for _, job := range e.Store.All() {
		if job.IsTerminal() {
			continue
		}
		if _, busy := e.runningRole(job.JobID); busy {
			continue
		}
		role := workerFor(job)
		if role == "" {
			continue
		}
		log.Printf("[Guardian] job %s has no worker, respawning %s", job.JobID, role)
		if job.DepositSpentUnresolved {
			e.tryRecoverTxid1(job)
		}
		e.spawn(job.JobID, role)
	}
	_ = e.Store.Save()
}
