package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Asset identifies a tradable commodity.
type Asset string

const (
	AssetGold      Asset = "gold"
	AssetSilver    Asset = "silver"
	AssetPlatinum  Asset = "platinum"
	AssetPalladium Asset = "palladium"
)

// AllAssets lists every supported asset in canonical order.
func AllAssets() []Asset {
	return []Asset{AssetGold, AssetSilver, AssetPlatinum, AssetPalladium}
}

// ParseAsset validates a user-supplied asset name.
func ParseAsset(s string) (Asset, error) {
	for _, a := range AllAssets() {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown asset %q", s)
}

// Symbol returns the ISO 4217 metal code for the asset.
func (a Asset) Symbol() string {
	switch a {
	case AssetGold:
		return "XAU"
	case AssetSilver:
		return "XAG"
	case AssetPlatinum:
		return "XPT"
	case AssetPalladium:
		return "XPD"
	}
	return ""
}

// Provenance names the tier a resolved price came from: a live source
// name, "cached", or "static".
type Provenance string

const (
	ProvenanceCached Provenance = "cached"
	ProvenanceStatic Provenance = "static"
)

// Live reports whether the price came from an upstream source this cycle.
func (p Provenance) Live() bool {
	return p != ProvenanceCached && p != ProvenanceStatic
}

// Change describes the day-over-day delta of a resolved price. A zero
// BaselineDate means the delta was reported natively by the source.
type Change struct {
	Amount       decimal.Decimal
	Percent      decimal.Decimal
	BaselineDate time.Time
}

// ResolvedPrice is the immutable per-asset outcome of one resolution
// cycle. Change is nil when no baseline could be established.
type ResolvedPrice struct {
	Asset      Asset
	Amount     decimal.Decimal
	Timestamp  time.Time
	Provenance Provenance
	Change     *Change
}
