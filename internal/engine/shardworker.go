package engine

import (
	"log"
	"time"

	"github.com/mixdao/mixd/internal/addresspool"
	"github.com/mixdao/mixd/internal/coins"
	"github.com/mixdao/mixd/internal/wallet"
	"github.com/mixdao/mixd/pkg/models"
)

// RunShardWorker owns T8-T10: fan the consolidated mix balance out
// across S shards, walk each shard through up to H obfuscation hops,
// then deliver it to the target address. Shard failures are isolated
// — one shard's error never stops the others (spec.md §7).
func (e *Engine) RunShardWorker(jobID string) {
	if !e.claim(jobID, RoleShardWorker) {
		return
	}
	defer e.release(jobID)

	for {
		job, ok := e.Store.Get(jobID)
		if !ok {
			return
		}
		if job.Status == models.StatusError {
			// Re-entering from the guardian's error+fanouts-present
			// path: progress already exists, simply resume.
			job.Status = models.StatusMixingStep2
		}
		if job.Status != models.StatusMixingStep2 {
			return
		}
		job.EnsureShardSlices()

		e.resumeExistingShards(job)
		e.createNewFanouts(job)

		if job.ShardProgressCompleted >= job.ShardCount {
			job.Status = models.StatusCompleted
			e.persist(job, job.Txid2, "all shards delivered")
			return
		}

		e.persist(job, "", "")
		time.Sleep(e.Cfg.ConfPollInterval)
	}
}

// resumeExistingShards re-derives in-flight shard positions from
// current wallet UTXOs, matching spec.md §4.4 T8 step 1: intersect
// list_unspent(MINCONF_SHARD) with the union of known fanout and hop
// txids, and drive whatever's found forward.
func (e *Engine) resumeExistingShards(job *models.Job) {
	utxos, err := e.Wallet.ListUnspent(e.Cfg.MinConfShard)
	if err != nil {
		log.Printf("[ShardWorker] job %s: list_unspent failed: %v", job.JobID, err)
		return
	}
	known := knownShardTxids(job)
	for _, u := range utxos {
		if !known[u.TxID] {
			continue
		}
		e.processShardSequence(job, u)
	}
}

func knownShardTxids(job *models.Job) map[string]bool {
	set := make(map[string]bool)
	for _, t := range job.ShardTxidsFanout {
		if t != "" {
			set[t] = true
		}
	}
	for _, hops := range job.ShardTxidsHops {
		for _, t := range hops {
			if t != "" {
				set[t] = true
			}
		}
	}
	return set
}

// createNewFanouts implements T8 step 2: while the mix address still
// holds spendable funds and fewer than S fanouts exist, split the
// balance near-equally across the remaining shards.
func (e *Engine) createNewFanouts(job *models.Job) {
	if len(job.ShardTxidsFanout) >= job.ShardCount {
		return
	}
	mixUTXOs, err := e.Wallet.ListUnspentFor([]string{job.MixAddress}, e.Cfg.MinConfStep2, 9999999)
	if err != nil || len(mixUTXOs) == 0 {
		return
	}
	available := wallet.Sum(mixUTXOs)
	remaining := job.ShardCount - len(job.ShardTxidsFanout)
	if remaining < 1 {
		remaining = 1
	}
	splits := wallet.SplitNearEqual(available, remaining)

	fee := e.perTxFee()

	for _, amount := range splits {
		if amount <= fee {
			continue
		}
		shardAddr, err := e.Pool.Take(addresspool.RoleShard)
		if err != nil {
			log.Printf("[ShardWorker] job %s: shard address: %v", job.JobID, err)
			return
		}
		// SplitNearEqual already folds all rounding dust into the last
		// share, so fanout sends never need drain mode; only the final
		// delivery hop of a shard sets allowDrain.
		result, err := e.Wallet.SingleSendFrom([]string{job.MixAddress}, amount-fee, fee, shardAddr, e.Cfg.MinConfStep2, false, e.Pool)
		if err != nil {
			log.Printf("[ShardWorker] job %s: fanout send failed: %v", job.JobID, err)
			return
		}
		job.ShardTxidsFanout = append(job.ShardTxidsFanout, result.TxID)
		e.persist(job, result.TxID, "fanout sent")

		entry := wallet.UTXO{TxID: result.TxID, Address: shardAddr, Amount: result.AmountSent}
		e.processShardSequence(job, entry)
	}
}

func (e *Engine) perTxFee() coins.Amount {
	fee := e.Cfg.TxFeePerTx
	if fee <= 0 {
		fee = e.Cfg.FixedFee
	}
	return fee
}

// processShardSequence drives one shard's remaining hops and, if it
// still has value left, its final delivery — spec.md §4.4 T8 step 3.
func (e *Engine) processShardSequence(job *models.Job, entry wallet.UTXO) {
	idx := shardIndexFor(job, entry.TxID)
	if idx < 0 {
		return
	}
	if job.ShardTxidsFinal[idx] != "" || job.ShardDegraded[idx] {
		return // already resolved
	}

	fee := e.perTxFee()
	currentAddr := entry.Address
	currentAmount := entry.Amount
	hopsDone := len(job.ShardTxidsHops[idx])

	for hopsDone < job.HopCount {
		if currentAmount <= fee {
			e.degradeShard(job, idx)
			return
		}
		hopAddr, err := e.Pool.Take(addresspool.RoleHop)
		if err != nil {
			log.Printf("[ShardWorker] job %s shard %d: hop address: %v", job.JobID, idx, err)
			return
		}
		result, err := e.Wallet.SingleSendFrom([]string{currentAddr}, currentAmount-fee, fee, hopAddr, e.Cfg.MinConfShard, false, e.Pool)
		if err != nil {
			log.Printf("[ShardWorker] job %s shard %d: hop send failed: %v", job.JobID, idx, err)
			return
		}
		job.ShardTxidsHops[idx] = append(job.ShardTxidsHops[idx], result.TxID)
		e.persist(job, result.TxID, "hop sent")

		currentAddr = hopAddr
		currentAmount = result.AmountSent
		hopsDone++
	}

	if currentAmount <= fee {
		e.degradeShard(job, idx)
		return
	}

	// Final delivery allows the drain path: the last hop mops up any
	// residual dust rather than leaving it unspendable.
	result, err := e.Wallet.SingleSendFrom([]string{currentAddr}, currentAmount-fee, fee, job.TargetAddress, e.Cfg.MinConfShard, true, e.Pool)
	if err != nil {
		log.Printf("[ShardWorker] job %s shard %d: final send failed: %v", job.JobID, idx, err)
		return
	}
	job.ShardTxidsFinal[idx] = result.TxID
	job.Txid2 = result.TxID
	job.ShardProgressCompleted++
	e.persist(job, result.TxID, "shard delivered")
}

func (e *Engine) degradeShard(job *models.Job, idx int) {
	job.ShardDegraded[idx] = true
	job.ShardProgressCompleted++
	e.persist(job, "", "shard degraded: exhausted by fees before delivery")
}

func shardIndexFor(job *models.Job, txid string) int {
	for i, t := range job.ShardTxidsFanout {
		if t == txid {
			return i
		}
	}
	for i, hops := range job.ShardTxidsHops {
		for _, t := range hops {
			if t == txid {
				return i
			}
		}
	}
	return -1
}
