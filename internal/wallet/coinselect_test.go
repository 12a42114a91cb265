package wallet

import (
	"testing"

	"github.com/mixdao/mixd/internal/coins"
)

func TestSelectDescending(t *testing.T) {
	utxos := []UTXO{
		{TxID: "a", Amount: coins.Amount(100)},
		{TxID: "b", Amount: coins.Amount(500)},
		{TxID: "c", Amount: coins.Amount(300)},
	}
	selected, total := SelectDescending(utxos, coins.Amount(600))
	if total < 600 {
		t.Fatalf("total %d did not reach target 600", total)
	}
	if len(selected) != 2 || selected[0].TxID != "b" || selected[1].TxID != "c" {
		t.Errorf("expected largest-first selection [b,c], got %+v", selected)
	}
}

func TestSelectDescendingExhaustsSet(t *testing.T) {
	utxos := []UTXO{{TxID: "a", Amount: coins.Amount(10)}}
	selected, total := SelectDescending(utxos, coins.Amount(1000))
	if total != 10 || len(selected) != 1 {
		t.Errorf("expected to select everything and fall short, got total=%d selected=%v", total, selected)
	}
}

func TestSplitNearEqual(t *testing.T) {
	splits := SplitNearEqual(coins.Amount(1000), 3)
	var sum coins.Amount
	for _, s := range splits {
		sum += s
	}
	if sum != 1000 {
		t.Errorf("splits do not sum to total: got %d, want 1000", sum)
	}
	if len(splits) != 3 {
		t.Fatalf("expected 3 shares, got %d", len(splits))
	}
	last := splits[len(splits)-1]
	if last < splits[0] {
		t.Errorf("expected last share to absorb the remainder and be >= the others, got %v", splits)
	}
}

func TestSplitNearEqualZeroN(t *testing.T) {
	if got := SplitNearEqual(coins.Amount(100), 0); got != nil {
		t.Errorf("expected nil for n<=0, got %v", got)
	}
}
