package wallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/mixdao/mixd/internal/coins"
	"github.com/mixdao/mixd/internal/config"
)

func testWallet(cfgFn func(*config.Config)) *Wallet {
	cfg := &config.Config{
		DeductionEnabled: true,
		DeductionMode:    "deduct",
		DeductionPercent: 0.01,
		DeductionAddress: "fee-addr",
		DustCoinsFloor:   coins.FromCoins(0.000055),
	}
	if cfgFn != nil {
		cfgFn(cfg)
	}
	return &Wallet{Cfg: cfg}
}

func TestApplyDeductionOutputsDisabled(t *testing.T) {
	w := testWallet(func(c *config.Config) { c.DeductionEnabled = false })
	outputs := map[string]coins.Amount{"dest": coins.OneCoin}
	got := w.ApplyDeductionOutputs(coins.OneCoin, outputs, "dest")
	if len(got) != 1 || got["dest"] != coins.OneCoin {
		t.Errorf("expected outputs unchanged when deduction disabled, got %v", got)
	}
}

func TestApplyDeductionOutputsDeductMode(t *testing.T) {
	w := testWallet(nil)
	send := coins.Amount(1 * coins.OneCoin)
	outputs := map[string]coins.Amount{"dest": send}
	got := w.ApplyDeductionOutputs(send, outputs, "dest")

	deduction := send.MulPercent(0.01)
	if got["dest"] != send-deduction {
		t.Errorf("dest = %d, want %d", got["dest"], send-deduction)
	}
	if got["fee-addr"] != deduction {
		t.Errorf("fee-addr = %d, want %d", got["fee-addr"], deduction)
	}
}

func TestApplyDeductionOutputsPromotesToAddOnDust(t *testing.T) {
	w := testWallet(nil)
	// A deduction at or below the dust floor must not be carved out of
	// the primary output: "deduct" promotes to "add" instead.
	send := coins.Amount(60000) // 0.0006, deduction = 600 sats, below the 5500-sat dust floor
	outputs := map[string]coins.Amount{"dest": coins.Amount(60000)}
	got := w.ApplyDeductionOutputs(send, outputs, "dest")

	if got["dest"] != outputs["dest"] {
		t.Errorf("expected promotion to add mode to leave dest unchanged, got %d (was %d)", got["dest"], outputs["dest"])
	}
}

func TestApplyDeductionOutputsAddMode(t *testing.T) {
	w := testWallet(func(c *config.Config) { c.DeductionMode = "add" })
	send := coins.Amount(1 * coins.OneCoin)
	outputs := map[string]coins.Amount{"dest": send}
	got := w.ApplyDeductionOutputs(send, outputs, "dest")

	// Add mode never touches the primary output; the service fee is
	// funded entirely by the deduction-address output.
	if got["dest"] != send {
		t.Errorf("dest = %d, want %d (primary unchanged)", got["dest"], send)
	}
	deduction := send.MulPercent(0.01)
	if got["fee-addr"] != deduction {
		t.Errorf("fee-addr = %d, want %d", got["fee-addr"], deduction)
	}
}

func TestApplyDeductionOutputsFallsBackToFirstKey(t *testing.T) {
	w := testWallet(nil)
	send := coins.Amount(1 * coins.OneCoin)
	outputs := map[string]coins.Amount{"zzz": send, "aaa": send}
	got := w.ApplyDeductionOutputs(send, outputs, "")

	deduction := send.MulPercent(0.01)
	if got["aaa"] != send-deduction {
		t.Errorf("expected deterministic fallback to lexicographically smallest key 'aaa', got outputs %v", got)
	}
	if got["zzz"] != send {
		t.Errorf("non-primary output should be untouched, got %d", got["zzz"])
	}
}

func TestParseVersionHint(t *testing.T) {
	tests := []struct {
		hint       string
		wantHeight int64
		wantVer    uint32
		wantOK     bool
	}{
		{"fork height: 500000, transaction version after fork: 101", 500000, 101, true},
		{"Fork Height: 1234, Version After Fork: 2", 1234, 2, true},
		{"no hint here", 0, 0, false},
	}
	for _, tt := range tests {
		height, ver, ok := parseVersionHint(tt.hint)
		if ok != tt.wantOK {
			t.Errorf("parseVersionHint(%q) ok = %v, want %v", tt.hint, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if height != tt.wantHeight || ver != tt.wantVer {
			t.Errorf("parseVersionHint(%q) = (%d,%d), want (%d,%d)", tt.hint, height, ver, tt.wantHeight, tt.wantVer)
		}
	}
}

func TestContainsVersion(t *testing.T) {
	versions := []uint32{1, 2, 101}
	if !containsVersion(versions, 101) {
		t.Error("expected 101 to be found")
	}
	if containsVersion(versions, 99) {
		t.Error("expected 99 not to be found")
	}
}

func TestCheckFinality(t *testing.T) {
	final := &btcjson.TxRawResult{
		LockTime: 0,
		Vin:      []btcjson.Vin{{Sequence: maxSequence}},
	}
	if err := checkFinality(final); err != nil {
		t.Errorf("expected final tx to pass, got %v", err)
	}

	nonFinalLocktime := &btcjson.TxRawResult{LockTime: 500000, Vin: []btcjson.Vin{{Sequence: maxSequence}}}
	if err := checkFinality(nonFinalLocktime); err == nil {
		t.Error("expected non-zero locktime to fail")
	}

	nonFinalSeq := &btcjson.TxRawResult{LockTime: 0, Vin: []btcjson.Vin{{Sequence: maxSequence - 1}}}
	if err := checkFinality(nonFinalSeq); err == nil {
		t.Error("expected non-final sequence to fail")
	}
}

func TestCheckOutputScripts(t *testing.T) {
	ok := &btcjson.TxRawResult{Vout: []btcjson.Vout{
		{ScriptPubKey: btcjson.ScriptPubKeyResult{Type: "pubkeyhash"}},
		{ScriptPubKey: btcjson.ScriptPubKeyResult{Type: "scripthash"}},
		{ScriptPubKey: btcjson.ScriptPubKeyResult{Type: "multisig", ReqSigs: 2}},
	}}
	if err := checkOutputScripts(ok); err != nil {
		t.Errorf("expected standard outputs to pass, got %v", err)
	}

	badMultisig := &btcjson.TxRawResult{Vout: []btcjson.Vout{
		{ScriptPubKey: btcjson.ScriptPubKeyResult{Type: "multisig", ReqSigs: 5}},
	}}
	if err := checkOutputScripts(badMultisig); err == nil {
		t.Error("expected out-of-range multisig reqSigs to fail")
	}

	witness := &btcjson.TxRawResult{Vout: []btcjson.Vout{
		{ScriptPubKey: btcjson.ScriptPubKeyResult{Type: "witness_v0_keyhash"}},
	}}
	if err := checkOutputScripts(witness); err == nil {
		t.Error("expected witness script type to be rejected")
	}
}
