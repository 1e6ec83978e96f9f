package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ─── Credit Packs ───────────────────────────────────────────────────────────
// Purchasable packs and the wallet credits each one grants. An unknown pack
// grants nothing but is still recorded: the provider has already captured
// the money.

// Pack names.
const (
	PackStarter = "starter"
	PackPro     = "pro"
	PackStudio  = "studio"
)

var packCredits = map[string]int64{
	PackStarter: 25,
	PackPro:     120,
	PackStudio:  400,
}

// CreditsForPack returns the credits granted by pack and whether the pack
// is known.
func CreditsForPack(pack string) (int64, bool) {
	c, ok := packCredits[pack]
	return c, ok
}

// ─── Affiliate Tiers ────────────────────────────────────────────────────────

// Tier classifies an affiliate partner and fixes its commission rate.
type Tier string

const (
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
	TierPower   Tier = "power"
)

var tierRates = map[Tier]decimal.Decimal{
	TierStarter: decimal.RequireFromString("0.10"),
	TierPro:     decimal.RequireFromString("0.20"),
	TierPower:   decimal.RequireFromString("0.25"),
}

// ParseTier normalizes a stored tier name; anything unrecognized is starter.
func ParseTier(s string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tierRates[t]; ok {
		return t
	}
	return TierStarter
}

// Rate returns the commission rate for the tier.
func (t Tier) Rate() decimal.Decimal {
	if r, ok := tierRates[t]; ok {
		return r
	}
	return tierRates[TierStarter]
}

// Commission computes round(amountCents × rate), rounding half away from zero.
func Commission(amountCents int64, tier Tier) int64 {
	return decimal.NewFromInt(amountCents).Mul(tier.Rate()).Round(0).IntPart()
}
