package wallet

import (
	"github.com/btcsuite/btcd/btcjson"

	"github.com/mixdao/mixd/internal/coins"
)

// UTXO is the wallet façade's normalized view of a spendable output,
// amounts converted to exact coins.Amount rather than btcjson's
// float64.
type UTXO struct {
	TxID          string
	Vout          uint32
	Address       string
	ScriptPubKey  string
	Amount        coins.Amount
	Confirmations int64
	Spendable     bool
}

func fromListUnspentResult(r btcjson.ListUnspentResult) UTXO {
	return UTXO{
		TxID:          r.TxID,
		Vout:          r.Vout,
		Address:       r.Address,
		ScriptPubKey:  r.ScriptPubKey,
		Amount:        coins.FromCoins(r.Amount),
		Confirmations: int64(r.Confirmations),
		Spendable:     r.Spendable,
	}
}

// Sum totals the amounts of a UTXO slice.
func Sum(utxos []UTXO) coins.Amount {
	var total coins.Amount
	for _, u := range utxos {
		total += u.Amount
	}
	return total
}
