package engine

import (
	"log"
	"time"

	"github.com/mixdao/mixd/internal/coins"
	"github.com/mixdao/mixd/internal/wallet"
	"github.com/mixdao/mixd/pkg/models"
)

// RunDepositMonitor owns transitions T1-T2 (spec.md §4.4/§4.5): it
// watches the deposit address until the required amount has arrived
// and matured, then drives step-1 construction itself before handing
// off to the confirmation watcher.
func (e *Engine) RunDepositMonitor(jobID string) {
	if !e.claim(jobID, RoleDepositMonitor) {
		return
	}
	defer e.release(jobID)

	for {
		job, ok := e.Store.Get(jobID)
		if !ok {
			return
		}
		if job.Status == models.StatusError && job.Txid1 == "" {
			// Re-entering from the guardian's error-without-txid1 path:
			// nothing was broadcast yet, so resume watching the deposit.
			job.Status = models.StatusWaitingDeposit
		}
		if job.Status != models.StatusWaitingDeposit && job.Status != models.StatusDepositReceived {
			return
		}

		job.LastPollAt = time.Now().UTC()

		mempoolUTXOs, err := e.Wallet.ListUnspentFor([]string{job.DepositAddress}, 0, 9999999)
		if err != nil {
			log.Printf("[DepositMonitor] job %s: list_unspent_for failed: %v", jobID, err)
			time.Sleep(e.Cfg.ConfPollInterval)
			continue
		}
		total := sumUTXOs(mempoolUTXOs)

		if total == 0 {
			received, err := e.Wallet.ReceivedBy(job.DepositAddress, 0)
			if err == nil && received >= job.DepositRequired {
				if job.Txid1 == "" {
					e.tryRecoverTxid1(job)
					if job.Txid1 != "" {
						e.release(jobID)
						go e.RunConfirmWatcher(jobID)
						return
					}
				}
				log.Printf("[DepositMonitor] job %s: deposit already spent in a prior incarnation, recovering", jobID)
				job.DepositReceived = received
				job.Status = models.StatusDepositReceived
				e.persist(job, "", "deposit already spent, resuming step-1")
				e.runStep1(job)
				return
			}
			e.persist(job, "", "")
			time.Sleep(e.Cfg.ConfPollInterval)
			continue
		}

		job.DepositReceived = total
		if total >= job.DepositRequired {
			confirmedUTXOs, err := e.Wallet.ListUnspentFor([]string{job.DepositAddress}, e.Cfg.MinConf, 9999999)
			if err == nil && sumUTXOs(confirmedUTXOs) >= job.DepositRequired {
				job.Status = models.StatusDepositReceived
				e.persist(job, "", "deposit matured, starting step-1")
				e.runStep1(job)
				return
			}
		}

		e.persist(job, "", "")
		time.Sleep(e.Cfg.ConfPollInterval)
	}
}

func sumUTXOs(utxos []wallet.UTXO) coins.Amount {
	var total coins.Amount
	for _, u := range utxos {
		total += u.Amount
	}
	return total
}
