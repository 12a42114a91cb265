// Package wallet implements the Wallet Façade: the engine's only
// window onto the node, wrapping internal/node with the coin
// selection, deduction-splice and transaction-policy-gate business
// logic spec.md §4.2 assigns to it.
package wallet

import (
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/mixdao/mixd/internal/coins"
	"github.com/mixdao/mixd/internal/config"
	"github.com/mixdao/mixd/internal/node"
)

// Wallet wraps a node.Client with the façade's domain logic.
type Wallet struct {
	Node *node.Client
	Cfg  *config.Config
}

// New constructs a Wallet façade over an already-connected node
// client.
func New(n *node.Client, cfg *config.Config) *Wallet {
	return &Wallet{Node: n, Cfg: cfg}
}

// NewAddress mints a fresh address tagged with role. Failure here is
// fatal to whatever step called it, per spec.md §4.2.
func (w *Wallet) NewAddress(role string) (string, error) {
	addr, err := w.Node.NewAddress(role)
	if err != nil {
		return "", fmt.Errorf("wallet: new_address(%s): %w", role, err)
	}
	return addr, nil
}

// ListUnspent lists every spendable UTXO in the wallet with at least
// minConfirms confirmations.
func (w *Wallet) ListUnspent(minConfirms int64) ([]UTXO, error) {
	res, err := w.Node.ListUnspent(minConfirms, 9999999, nil)
	if err != nil {
		return nil, err
	}
	out := make([]UTXO, 0, len(res))
	for _, r := range res {
		out = append(out, fromListUnspentResult(r))
	}
	return out, nil
}

// ListUnspentFor lists UTXOs at the given addresses within the
// [minConfirms, maxConfirms] window.
func (w *Wallet) ListUnspentFor(addrs []string, minConfirms, maxConfirms int64) ([]UTXO, error) {
	res, err := w.Node.ListUnspent(minConfirms, maxConfirms, addrs)
	if err != nil {
		return nil, err
	}
	out := make([]UTXO, 0, len(res))
	for _, r := range res {
		out = append(out, fromListUnspentResult(r))
	}
	return out, nil
}

// ReceivedBy returns the cumulative amount ever received at addr.
func (w *Wallet) ReceivedBy(addr string, minConfirms int64) (coins.Amount, error) {
	amt, err := w.Node.ReceivedByAddress(addr, minConfirms)
	if err != nil {
		return 0, err
	}
	return coins.FromCoins(amt.ToBTC()), nil
}

// TxInfo is the façade's normalized view of get_transaction.
type TxInfo struct {
	TxID          string
	Confirmations int64
	Amount        coins.Amount
	Hex           string
}

// GetTransaction returns the wallet's view of txid, including its
// confirmation count (0 for mempool-only).
func (w *Wallet) GetTransaction(txid string) (*TxInfo, error) {
	res, err := w.Node.GetTransaction(txid)
	if err != nil {
		return nil, err
	}
	return &TxInfo{
		TxID:          res.TxID,
		Confirmations: int64(res.Confirmations),
		Amount:        coins.FromCoins(res.Amount),
		Hex:           res.Hex,
	}, nil
}

// DecodeRaw decodes a raw hex transaction without broadcasting it.
func (w *Wallet) DecodeRaw(hexTx string) (*btcjson.TxRawResult, error) {
	return w.Node.DecodeRawTransaction(hexTx)
}

// TxSummary is the façade's normalized view of one
// listtransactions entry, used by the recovery scan.
type TxSummary struct {
	TxID          string
	Address       string
	Category      string
	Amount        coins.Amount
	Confirmations int64
}

// ListTransactions returns the count most recent wallet transactions,
// used by the crash-recovery scan.
func (w *Wallet) ListTransactions(count int) ([]TxSummary, error) {
	res, err := w.Node.ListTransactions(count, 0, false)
	if err != nil {
		return nil, err
	}
	out := make([]TxSummary, 0, len(res))
	for _, r := range res {
		out = append(out, TxSummary{
			TxID:          r.TxID,
			Address:       r.Address,
			Category:      r.Category,
			Amount:        coins.FromCoins(r.Amount),
			Confirmations: int64(r.Confirmations),
		})
	}
	return out, nil
}

// CreateRaw builds an unsigned transaction. Outputs are serialized as
// decimal strings on the wire to preserve precision, per spec.md
// §4.2 and §6.1.
func (w *Wallet) CreateRaw(inputs []UTXO, outputs map[string]coins.Amount) (string, error) {
	txInputs := make([]btcjson.TransactionInput, 0, len(inputs))
	for _, in := range inputs {
		txInputs = append(txInputs, btcjson.TransactionInput{Txid: in.TxID, Vout: in.Vout})
	}
	strOutputs := make(map[string]string, len(outputs))
	for addr, amt := range outputs {
		strOutputs[addr] = amt.String()
	}
	return w.Node.CreateRawTransaction(txInputs, strOutputs)
}

// SignRaw signs a raw transaction hex with the wallet's own keys.
func (w *Wallet) SignRaw(hexTx string) (signedHex string, complete bool, err error) {
	return w.Node.SignRawTransaction(hexTx)
}

// BroadcastRaw runs the transaction-policy gate and, if it passes,
// submits hexTx to the network.
func (w *Wallet) BroadcastRaw(hexTx string) (string, error) {
	if err := w.EnforceTxProtections(hexTx); err != nil {
		return "", err
	}
	return w.Node.BroadcastRawTransaction(hexTx)
}

// EstimateFee returns the miner fee for a transaction with nInputs
// inputs and nOutputs outputs: the configured TxFeePerTx (FixedFee
// when that is not positive), floored to the relay-minimum. The node
// is not queried for a fee hint, and nInputs/nOutputs do not change
// the result.
func (w *Wallet) EstimateFee(nInputs, nOutputs int) coins.Amount {
	_ = nInputs
	_ = nOutputs
	est := w.Cfg.TxFeePerTx
	if est <= 0 {
		est = w.Cfg.FixedFee
	}
	if est < w.Cfg.MinRelayFeeFloor {
		est = w.Cfg.MinRelayFeeFloor
	}
	return est
}

// ApplyDeductionOutputs splices a service-fee output into outputs,
// per the deduct/add semantics of spec.md §4.2. primary is the
// engine-provided "primary" hint; if empty or absent from outputs,
// the lexicographically-stable first output key is used instead so
// the splice is deterministic across retries.
func (w *Wallet) ApplyDeductionOutputs(sendAmount coins.Amount, outputs map[string]coins.Amount, primary string) map[string]coins.Amount {
	if !w.Cfg.DeductionEnabled || w.Cfg.DeductionPercent <= 0 || w.Cfg.DeductionAddress == "" {
		return outputs
	}

	primaryAddr := primary
	if primaryAddr == "" || outputs[primaryAddr] == 0 {
		primaryAddr = firstOutputKey(outputs)
	}
	if primaryAddr == "" {
		return outputs
	}

	deduction := sendAmount.MulPercent(w.Cfg.DeductionPercent)

	result := make(map[string]coins.Amount, len(outputs)+1)
	for k, v := range outputs {
		result[k] = v
	}

	if w.Cfg.DeductionMode == "deduct" {
		residual := result[primaryAddr] - deduction
		if residual > w.Cfg.DustCoinsFloor && deduction > w.Cfg.DustCoinsFloor {
			result[primaryAddr] = residual
		}
		// else: promotes to add semantics — primary is left untouched,
		// matching the dust-floor promotion path.
	}
	// In add mode the primary output is left untouched; the service
	// fee is folded entirely into the deduction-address output below.

	result[w.Cfg.DeductionAddress] = coins.Max(result[w.Cfg.DeductionAddress]+deduction, w.Cfg.DustCoinsFloor)
	return result
}

func firstOutputKey(outputs map[string]coins.Amount) string {
	best := ""
	for k := range outputs {
		if best == "" || k < best {
			best = k
		}
	}
	return best
}

// --- Transaction-policy gate ---

var rainbowHintRE = regexp.MustCompile(`fork height:\s*(\d+).*?version after fork:\s*(\d+)`)

// parseVersionHint parses the node's "fork height: F, Transaction
// version after fork: V" hint string.
func parseVersionHint(hint string) (forkHeight int64, postForkVersion uint32, ok bool) {
	m := rainbowHintRE.FindStringSubmatch(strings.ToLower(hint))
	if m == nil {
		return 0, 0, false
	}
	f, err1 := strconv.ParseInt(m[1], 10, 64)
	v, err2 := strconv.ParseUint(m[2], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return f, uint32(v), true
}

func containsVersion(versions []uint32, v uint32) bool {
	for _, x := range versions {
		if x == v {
			return true
		}
	}
	return false
}

// EnforceTxProtections decodes hexTx and enforces the version,
// finality and output-script rules of spec.md §4.2. Any failure is a
// structured error and the transaction must never be sent.
func (w *Wallet) EnforceTxProtections(hexTx string) error {
	tx, err := w.Node.DecodeRawTransaction(hexTx)
	if err != nil {
		return fmt.Errorf("tx-policy: decode: %w", err)
	}

	if err := w.checkVersion(uint32(tx.Version)); err != nil {
		return err
	}
	if w.Cfg.TxRequireFinality {
		if err := checkFinality(tx); err != nil {
			return err
		}
	}
	if err := checkOutputScripts(tx); err != nil {
		return err
	}
	return nil
}

func (w *Wallet) checkVersion(v uint32) error {
	hint, err := w.Node.GetInfoHint()
	if err != nil {
		log.Printf("wallet: could not fetch version hint, falling back to strict defaults: %v", err)
		hint = &node.GetInfoHint{}
	}

	forkHeight, hintedVersion, hasHint := parseVersionHint(hint.VersionHint)
	postFork := hasHint && hint.Height > forkHeight+20

	switch w.Cfg.TxVersionMode {
	case "strict":
		if postFork {
			if v != 101 {
				return fmt.Errorf("tx-policy: strict postfork requires version 101, got %d", v)
			}
			return nil
		}
		if v != 1 && v != 101 {
			return fmt.Errorf("tx-policy: strict prefork requires version in {1,101}, got %d", v)
		}
		return nil

	case "postfork":
		target := uint32(101)
		if hasHint && hintedVersion != 0 {
			target = hintedVersion
		}
		if v == target || containsVersion(w.Cfg.TxAllowedVersions, v) {
			return nil
		}
		return fmt.Errorf("tx-policy: postfork requires version %d (or allow-listed), got %d", target, v)

	case "allow":
		if postFork {
			if v == hintedVersion || containsVersion(w.Cfg.TxAllowedVersions, v) {
				return nil
			}
			return fmt.Errorf("tx-policy: allow-mode postfork rejects version %d", v)
		}
		if v == 1 || v == 101 || containsVersion(w.Cfg.TxAllowedVersions, v) {
			return nil
		}
		return fmt.Errorf("tx-policy: allow-mode prefork rejects version %d", v)

	default:
		return fmt.Errorf("tx-policy: unknown ABCMINT_TX_VERSION_MODE %q", w.Cfg.TxVersionMode)
	}
}

const maxSequence = 0xffffffff

func checkFinality(tx *btcjson.TxRawResult) error {
	if tx.LockTime != 0 {
		return fmt.Errorf("tx-policy: locktime must be 0, got %d", tx.LockTime)
	}
	for i, in := range tx.Vin {
		if in.Sequence != maxSequence {
			return fmt.Errorf("tx-policy: input %d sequence must be final, got %d", i, in.Sequence)
		}
	}
	return nil
}

func checkOutputScripts(tx *btcjson.TxRawResult) error {
	for i, out := range tx.Vout {
		switch out.ScriptPubKey.Type {
		case "pubkeyhash", "scripthash", "pubkey":
			continue
		case "multisig":
			if out.ScriptPubKey.ReqSigs < 1 || out.ScriptPubKey.ReqSigs > 3 {
				return fmt.Errorf("tx-policy: output %d multisig reqSigs out of range: %d", i, out.ScriptPubKey.ReqSigs)
			}
		default:
			return fmt.Errorf("tx-policy: output %d has non-standard script type %q", i, out.ScriptPubKey.Type)
		}
	}
	return nil
}
