package engine

import (
	"log"

	"github.com/mixdao/mixd/internal/addresspool"
	"github.com/mixdao/mixd/internal/coins"
	"github.com/mixdao/mixd/internal/wallet"
	"github.com/mixdao/mixd/pkg/models"
)

// runStep1 implements T3 (spec.md §4.4): consolidate the deposit's
// confirmed UTXOs into a freshly allocated mix address, splicing in
// the service-fee deduction, then broadcast and advance to
// waiting_confirmations.
func (e *Engine) runStep1(job *models.Job) {
	job.Status = models.StatusMixingStep1
	e.persist(job, "", "step-1: building consolidation tx")

	mixAddr, err := e.Wallet.NewAddress(string(addresspool.RoleMix))
	if err != nil {
		e.fail(job, "step-1: allocate mix address: "+err.Error())
		return
	}
	job.MixAddress = mixAddr

	outputs := map[string]coins.Amount{mixAddr: job.Amount}
	outputs = e.Wallet.ApplyDeductionOutputs(job.Amount, outputs, mixAddr)
	if job.ExtraServiceFee > 0 && e.Cfg.FeeAddress != "" {
		if v, err := e.Wallet.Node.ValidateAddress(e.Cfg.FeeAddress); err == nil && v.IsValid {
			outputs[e.Cfg.FeeAddress] = outputs[e.Cfg.FeeAddress] + job.ExtraServiceFee
		}
	}

	utxos, err := e.Wallet.ListUnspentFor([]string{job.DepositAddress}, e.Cfg.MinConf, 9999999)
	if err != nil || len(utxos) == 0 {
		e.fail(job, "step-1: no confirmed deposit utxos available")
		return
	}

	outputsTotal := sumOutputs(outputs)
	feeEstimate := e.Wallet.EstimateFee(len(utxos), len(outputs)+1)
	selected, total := wallet.SelectDescending(utxos, outputsTotal+feeEstimate)
	if total < outputsTotal+feeEstimate {
		e.fail(job, "step-1: insufficient deposit funds: have "+total.String()+", need "+(outputsTotal + feeEstimate).String())
		return
	}

	change := total - outputsTotal - feeEstimate
	if change > 0 {
		if change <= e.Cfg.DustCoinsFloor {
			outputs[mixAddr] = outputs[mixAddr] + change
		} else {
			changeAddr, err := e.Pool.Take(addresspool.RoleChange)
			if err != nil {
				e.fail(job, "step-1: change address: "+err.Error())
				return
			}
			outputs[changeAddr] = change
		}
	}

	rawHex, err := e.Wallet.CreateRaw(selected, outputs)
	if err != nil {
		e.fail(job, "step-1: create_raw: "+err.Error())
		return
	}
	signedHex, complete, err := e.Wallet.SignRaw(rawHex)
	if err != nil || !complete {
		e.fail(job, "step-1: sign_raw failed or incomplete")
		return
	}
	txid, err := e.Wallet.BroadcastRaw(signedHex)
	if err != nil {
		e.fail(job, "step-1: broadcast_raw: "+err.Error())
		return
	}

	job.Txid1 = txid
	job.Status = models.StatusWaitingConfirmations
	job.Error = ""
	e.persist(job, txid, "step-1 broadcast")

	e.release(job.JobID)
	go e.RunConfirmWatcher(job.JobID)
}

func sumOutputs(outputs map[string]coins.Amount) coins.Amount {
	var total coins.Amount
	for _, v := range outputs {
		total += v
	}
	return total
}

// fail moves job into the resumable error state. The guardian is the
// universal continuation from here (spec.md §7).
func (e *Engine) fail(job *models.Job, msg string) {
	job.Status = models.StatusError
	job.Error = msg
	e.persist(job, "", msg)
	e.release(job.JobID)
	log.Printf("[engine] job %s failed: %s", job.JobID, msg)
}
