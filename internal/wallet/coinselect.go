package wallet

import (
	"sort"

	"github.com/mixdao/mixd/internal/coins"
)

// SelectDescending greedily picks UTXOs, largest first, until their
// sum reaches target or the set is exhausted. Grounded in the
// sweeper's selectUTXOsFor: descending order keeps the input count
// (and thus the fee) as small as possible for a given target.
func SelectDescending(utxos []UTXO, target coins.Amount) (selected []UTXO, total coins.Amount) {
	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Amount > sorted[j].Amount })

	for _, u := range sorted {
		if total >= target {
			break
		}
		selected = append(selected, u)
		total += u.Amount
	}
	return selected, total
}

// SplitNearEqual divides total into n shares, each floored to the
// satoshi, with the last share absorbing the rounding remainder.
// Zero-value shares are dropped, matching the fanout-split rule in
// spec.md §4.4 T8.
func SplitNearEqual(total coins.Amount, n int) []coins.Amount {
	if n <= 0 {
		return nil
	}
	base := coins.Amount(int64(total) / int64(n))
	out := make([]coins.Amount, 0, n)
	running := coins.Zero
	for i := 0; i < n-1; i++ {
		if base <= 0 {
			continue
		}
		out = append(out, base)
		running += base
	}
	last := total - running
	if last > 0 {
		out = append(out, last)
	}
	return out
}
