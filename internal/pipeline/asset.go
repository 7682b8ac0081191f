package pipeline

// CashoutAsset is a holding eligible for cash-out.
type CashoutAsset struct {
	Mint       string  `json:"mint" validate:"required"`
	Symbol     string  `json:"symbol" validate:"required"`
	Decimals   uint8   `json:"decimals" validate:"lte=18"`
	Balance    uint64  `json:"balance"` // base units
	USDValue   float64 `json:"usd_value"`
	IsShielded bool    `json:"is_shielded"`
	IsUSDC     bool    `json:"is_usdc"`
	IsRwa      bool    `json:"is_rwa"`
}

// Classify picks the cash-out path for an asset. Shielded funds skip
// everything up to the cash-out address; wallet USDC skips the swap and
// jitter; anything else takes the full route.
func Classify(asset CashoutAsset) Path {
	if asset.IsShielded {
		return PathUSDCPool
	}
	if asset.IsUSDC {
		return PathUSDCWallet
	}
	return PathXStockFull
}
