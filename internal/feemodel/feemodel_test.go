package feemodel

import (
	"testing"

	"github.com/mixdao/mixd/internal/coins"
)

func testParams() Params {
	return Params{
		BaseP:            0.0020,
		ShardP:           0.0003,
		HopP:             0.0002,
		MinP:             0.0025,
		AbsFeeFloor:      coins.FromCoins(0.0002),
		TxFeePerTx:       coins.FromCoins(0.01),
		MinRelayFeeFloor: coins.FromCoins(0.00001),
		MinerFeeCap:      coins.FromCoins(0.09),
	}
}

func TestComputeTxCount(t *testing.T) {
	tests := []struct {
		shards, hops, want int
	}{
		{3, 1, 9},  // 2*3 + 3*1
		{5, 2, 20}, // 2*5 + 5*2
		{8, 3, 40}, // 2*8 + 8*3
	}
	p := testParams()
	for _, tt := range tests {
		q, err := Compute(p, coins.OneCoin, tt.shards, tt.hops)
		if err != nil {
			t.Fatalf("Compute(%d,%d) error: %v", tt.shards, tt.hops, err)
		}
		if q.TxCount != tt.want {
			t.Errorf("Compute(%d,%d).TxCount = %d, want %d", tt.shards, tt.hops, q.TxCount, tt.want)
		}
	}
}

func TestComputePercentFloor(t *testing.T) {
	p := testParams()
	// shards=1, hops=0 => base percent 0.002+0.0003 = 0.0023 < MinP 0.0025
	q, err := Compute(p, coins.OneCoin, 1, 0)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if q.Percent != p.MinP {
		t.Errorf("Percent = %v, want floor %v", q.Percent, p.MinP)
	}
}

func TestComputeNetAmountNeverNegative(t *testing.T) {
	p := testParams()
	dust := coins.Amount(1000)
	q, err := Compute(p, dust, 8, 3)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if q.NetAmount < 0 {
		t.Errorf("NetAmount went negative: %d", q.NetAmount)
	}
	if q.NetAmount != 0 {
		t.Errorf("expected fees to exhaust a dust amount, got net %d", q.NetAmount)
	}
}

func TestComputeMinerFeeCapAndOverflow(t *testing.T) {
	p := testParams()
	p.TxFeePerTx = coins.FromCoins(0.02) // force miner_fee_est above the cap
	q, err := Compute(p, 10*coins.OneCoin, 8, 3)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if q.MinerFee != p.MinerFeeCap {
		t.Errorf("MinerFee = %d, want capped at %d", q.MinerFee, p.MinerFeeCap)
	}
	if q.ExtraToService <= 0 {
		t.Errorf("expected ExtraToService > 0 when miner_fee_est (%d) exceeds cap (%d)", q.MinerFeeEst, p.MinerFeeCap)
	}
	if q.AbsFee != q.AbsFeeRaw+q.ExtraToService {
		t.Errorf("AbsFee should equal AbsFeeRaw + ExtraToService")
	}
}

func TestComputeConservesAmount(t *testing.T) {
	p := testParams()
	amount := coins.Amount(50 * coins.OneCoin)
	q, err := Compute(p, amount, 5, 2)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if q.NetAmount+q.AbsFee+q.MinerFee > amount {
		t.Errorf("net+absFee+minerFee (%d) exceeds amount (%d)", q.NetAmount+q.AbsFee+q.MinerFee, amount)
	}
}

func TestComputeRejectsBadInputs(t *testing.T) {
	p := testParams()
	if _, err := Compute(p, coins.OneCoin, 0, 1); err == nil {
		t.Error("expected error for zero shards")
	}
	if _, err := Compute(p, coins.OneCoin, 3, -1); err == nil {
		t.Error("expected error for negative hops")
	}
	if _, err := Compute(p, 0, 3, 1); err == nil {
		t.Error("expected error for zero amount")
	}
}

// TestComputeSeedScenario1 pins the seed-suite worked example against
// the parameters actually wired as config.Config's defaults (FeeBaseP
// 0.0020, FeeShardP 0.0006, FeeHopP 0.0003, MinerFeeCap 0.09,
// TxFeePerTx 0.01): Quote(amount=40, S=3, H=1).
func TestComputeSeedScenario1(t *testing.T) {
	p := Params{
		BaseP:            0.0020,
		ShardP:           0.0006,
		HopP:             0.0003,
		MinP:             0.0025,
		AbsFeeFloor:      coins.FromCoins(0.0002),
		TxFeePerTx:       coins.FromCoins(0.01),
		MinRelayFeeFloor: coins.FromCoins(0.00001),
		MinerFeeCap:      coins.FromCoins(0.09),
	}
	q, err := Compute(p, coins.FromCoins(40), 3, 1)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if q.TxCount != 9 {
		t.Errorf("TxCount = %d, want 9", q.TxCount)
	}
	if q.Percent < 0.0041 {
		t.Errorf("Percent = %v, want >= 0.0041", q.Percent)
	}
	if q.AbsFee != coins.FromCoins(0.164) {
		t.Errorf("AbsFee = %s, want 0.164", q.AbsFee)
	}
	if q.MinerFeeEst != coins.FromCoins(0.09) {
		t.Errorf("MinerFeeEst = %s, want 0.09", q.MinerFeeEst)
	}
	if q.MinerFee != coins.FromCoins(0.09) {
		t.Errorf("MinerFee = %s, want 0.09", q.MinerFee)
	}
	if q.NetAmount != coins.FromCoins(39.746) {
		t.Errorf("NetAmount = %s, want 39.746", q.NetAmount)
	}
}

func TestTiersAndComputeTier(t *testing.T) {
	tiers := Tiers(3, 1, 5, 2, 8, 3)
	if len(tiers) != 3 {
		t.Fatalf("expected 3 tiers, got %d", len(tiers))
	}
	p := testParams()
	for _, tier := range tiers {
		if _, err := ComputeTier(p, coins.OneCoin, tier); err != nil {
			t.Errorf("ComputeTier(%s) error: %v", tier.Name, err)
		}
	}
}
