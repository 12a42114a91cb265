package wallet

import (
	"fmt"
	"log"
	"time"

	"github.com/mixdao/mixd/internal/addresspool"
	"github.com/mixdao/mixd/internal/coins"
)

// SingleSendResult reports the outcome of SingleSendFrom, including
// the amount actually delivered (which may be less than requested if
// the drain path engaged).
type SingleSendResult struct {
	TxID           string
	AmountSent     coins.Amount
	Drained        bool
	ChangeAddress  string
}

// SingleSendFrom implements the single-send algorithm of spec.md
// §4.4: select UTXOs at sources, build an output to dest for amount
// a (draining down to what's available if allowDrain and funds are
// short), fold or route change, then build/sign/broadcast.
//
// On failure with minConfirms == 0 it retries up to maxAttempts times,
// waiting ConfPollInterval between attempts and upgrading to
// minConfirms == 1 on the final attempt — this
// handles nodes that cap unconfirmed-ancestor chain depth.
func (w *Wallet) SingleSendFrom(sources []string, amount coins.Amount, feeHint coins.Amount, dest string, minConfirms int64, allowDrain bool, pool *addresspool.Pool) (*SingleSendResult, error) {
	const maxAttempts = 6

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		effectiveMinConf := minConfirms
		if attempt == maxAttempts-1 && minConfirms == 0 {
			effectiveMinConf = 1
		}

		res, err := w.attemptSingleSend(sources, amount, feeHint, dest, effectiveMinConf, allowDrain, pool)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if minConfirms != 0 {
			// Only the unconfirmed-chain workaround retries; any
			// other minconfirms policy surfaces the error directly.
			break
		}
		log.Printf("wallet: single_send_from attempt %d/%d failed: %v", attempt+1, maxAttempts, err)
		time.Sleep(w.Cfg.ConfPollInterval)
	}
	return nil, lastErr
}

func (w *Wallet) attemptSingleSend(sources []string, amount, feeHint coins.Amount, dest string, minConfirms int64, allowDrain bool, pool *addresspool.Pool) (*SingleSendResult, error) {
	utxos, err := w.ListUnspentFor(sources, minConfirms, 9999999)
	if err != nil {
		return nil, fmt.Errorf("single_send_from: list_unspent: %w", err)
	}
	if len(utxos) == 0 {
		return nil, fmt.Errorf("single_send_from: no spendable utxos at min_confirms=%d", minConfirms)
	}

	target := amount + feeHint
	selected, total := SelectDescending(utxos, target)

	drained := false
	sendAmount := amount
	if total < target {
		if !allowDrain {
			return nil, fmt.Errorf("single_send_from: insufficient funds: have %s, need %s", total, target)
		}
		sendAmount = coins.Max(0, total-feeHint)
		drained = true
		selected, total = utxos, Sum(utxos)
	}

	minerFee := w.EstimateFee(len(selected), 2)
	for total < sendAmount+minerFee && len(selected) < len(utxos) {
		selected, total = SelectDescending(utxos, sendAmount+minerFee)
		minerFee = w.EstimateFee(len(selected), 2)
	}
	if total < sendAmount+minerFee {
		if !allowDrain {
			return nil, fmt.Errorf("single_send_from: insufficient funds after fee: have %s, need %s", total, sendAmount+minerFee)
		}
		sendAmount = coins.Max(0, total-minerFee)
		drained = true
	}

	outputs := map[string]coins.Amount{dest: sendAmount}
	change := total - sendAmount - minerFee
	changeAddr := ""
	if change > 0 {
		if change <= w.Cfg.DustCoinsFloor {
			outputs[dest] += change
		} else {
			changeAddr, err = pool.Take(addresspool.RoleChange)
			if err != nil {
				return nil, fmt.Errorf("single_send_from: change address: %w", err)
			}
			outputs[changeAddr] = change
		}
	}

	rawHex, err := w.CreateRaw(selected, outputs)
	if err != nil {
		return nil, fmt.Errorf("single_send_from: create_raw: %w", err)
	}
	signedHex, complete, err := w.SignRaw(rawHex)
	if err != nil {
		return nil, fmt.Errorf("single_send_from: sign_raw: %w", err)
	}
	if !complete {
		return nil, fmt.Errorf("single_send_from: signing incomplete")
	}
	txid, err := w.BroadcastRaw(signedHex)
	if err != nil {
		return nil, fmt.Errorf("single_send_from: broadcast_raw: %w", err)
	}

	return &SingleSendResult{TxID: txid, AmountSent: sendAmount, Drained: drained, ChangeAddress: changeAddr}, nil
}
