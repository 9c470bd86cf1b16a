/*
Package tier classifies users into loyalty tiers by cumulative spend.

PURPOSE:
  A user's tier is a pure function of how much they have spent over the
  lifetime of the account. The purchase engine recomputes the tier after
  every successful purchase; nothing else writes it.

DESIGN:
  Classification is a total function over an ordered threshold table,
  evaluated highest-first. Cumulative spend never decreases, so the tier
  never downgrades.

THRESHOLDS (inclusive lower bounds, minor currency units):
  500,000+  TierVVIP
  300,000+  TierVIP
  1+        TierBuyer
  0         TierNone (default at registration)

SEE ALSO:
  - engine/purchase.go: Invokes Classify with the post-purchase spend
*/
package tier

// Tier is a loyalty level derived from cumulative spend.
type Tier string

const (
	TierNone  Tier = "none"  // never purchased
	TierBuyer Tier = "buyer" // has purchased at least once
	TierVIP   Tier = "vip"
	TierVVIP  Tier = "vvip"
)

// threshold maps a minimum cumulative spend to the tier it grants.
type threshold struct {
	MinSpend int64
	Tier     Tier
}

// thresholds is ordered highest-first; Classify returns the first match.
var thresholds = []threshold{
	{MinSpend: 500_000, Tier: TierVVIP},
	{MinSpend: 300_000, Tier: TierVIP},
	{MinSpend: 1, Tier: TierBuyer},
}

// Classify returns the tier for a cumulative spend amount.
// Negative spend cannot occur (spend is monotonically non-decreasing);
// it is treated as zero.
func Classify(cumulativeSpend int64) Tier {
	for _, t := range thresholds {
		if cumulativeSpend >= t.MinSpend {
			return t.Tier
		}
	}
	return TierNone
}

// Valid reports whether t is a known tier value. Used when decoding
// stored rows and admin role edits.
func (t Tier) Valid() bool {
	switch t {
	case TierNone, TierBuyer, TierVIP, TierVVIP:
		return true
	}
	return false
}
