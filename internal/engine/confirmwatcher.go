package engine

import (
	"log"
	"time"

	"github.com/mixdao/mixd/pkg/models"
)

// RunConfirmWatcher owns T5-T7: poll txid1 until it has matured past
// max(REQUIRED_CONF, MINCONF_STEP2) confirmations, then wait
// separately until the mix address reports spendable UTXOs at that
// same minconf, before handing off to the shard worker.
func (e *Engine) RunConfirmWatcher(jobID string) {
	if !e.claim(jobID, RoleConfirmWatcher) {
		return
	}
	defer e.release(jobID)

	target := e.Cfg.RequiredConf
	if e.Cfg.MinConfStep2 > target {
		target = e.Cfg.MinConfStep2
	}

	for {
		job, ok := e.Store.Get(jobID)
		if !ok {
			return
		}
		if (job.Status == models.StatusError || job.Status == models.StatusWaitingDeposit) && job.Txid1 != "" {
			// Re-entering from the guardian's txid1-present path: step-1
			// is already broadcast, so resume waiting on it.
			job.Status = models.StatusWaitingConfirmations
		}
		if job.Status != models.StatusWaitingConfirmations {
			return
		}
		if job.Txid1 == "" {
			e.fail(job, "confirm-watcher: job has no txid1 to track")
			return
		}

		tx, err := e.Wallet.GetTransaction(job.Txid1)
		if err != nil {
			log.Printf("[ConfirmWatcher] job %s: get_transaction(%s) failed: %v", jobID, job.Txid1, err)
			time.Sleep(e.Cfg.ConfPollInterval)
			continue
		}

		job.Confirmations = tx.Confirmations
		job.LastPollAt = time.Now().UTC()

		if tx.Confirmations >= target {
			mixUTXOs, err := e.Wallet.ListUnspentFor([]string{job.MixAddress}, target, 9999999)
			if err == nil && len(mixUTXOs) > 0 {
				job.Status = models.StatusMixingStep2
				e.persist(job, "", "step-1 matured, entering fanout")
				e.release(jobID)
				go e.RunShardWorker(jobID)
				return
			}
		}

		e.persist(job, "", "")
		time.Sleep(e.Cfg.ConfPollInterval)
	}
}
