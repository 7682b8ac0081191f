package pipeline

import "fmt"

// Phase is the current state of a cash-out attempt.
type Phase string

const (
	PhaseIdle                   Phase = "idle"
	PhaseCompliancePrescreen    Phase = "compliance_prescreen"
	PhaseCreatingSwapAddress    Phase = "creating_swap_address"
	PhaseSwapping               Phase = "swapping"
	PhaseSwapComplete           Phase = "swap_complete" // jitter delay runs here
	PhaseShielding              Phase = "shielding"
	PhaseCreatingCashoutAddress Phase = "creating_cashout_address"
	PhaseUnshielding            Phase = "unshielding"
	PhaseSendingToMoonpay       Phase = "sending_to_moonpay"
	PhaseAwaitingFiat           Phase = "awaiting_fiat"
	PhaseCompleted              Phase = "completed"
	PhaseError                  Phase = "error"
	PhaseCancelled              Phase = "cancelled"
)

// allPhases lists every phase in state-machine order.
var allPhases = []Phase{
	PhaseIdle,
	PhaseCompliancePrescreen,
	PhaseCreatingSwapAddress,
	PhaseSwapping,
	PhaseSwapComplete,
	PhaseShielding,
	PhaseCreatingCashoutAddress,
	PhaseUnshielding,
	PhaseSendingToMoonpay,
	PhaseAwaitingFiat,
	PhaseCompleted,
	PhaseError,
	PhaseCancelled,
}

// Phases returns every known phase in state-machine order.
func Phases() []Phase {
	out := make([]Phase, len(allPhases))
	copy(out, allPhases)
	return out
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	for _, known := range allPhases {
		if p == known {
			return true
		}
	}
	return false
}

// Terminal reports whether p ends an attempt with no persisted record.
func (p Phase) Terminal() bool {
	return p == PhaseIdle || p == PhaseCompleted || p == PhaseCancelled
}

// InFlight reports whether a stage may have been running in phase p.
// A persisted record found in one of these phases at startup was interrupted.
func (p Phase) InFlight() bool {
	switch p {
	case PhaseCompliancePrescreen,
		PhaseCreatingSwapAddress,
		PhaseSwapping,
		PhaseSwapComplete,
		PhaseShielding,
		PhaseCreatingCashoutAddress,
		PhaseUnshielding,
		PhaseSendingToMoonpay:
		return true
	}
	return false
}

// ParsePhase converts s to a Phase, rejecting unknown values.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// UnmarshalText rejects unknown phases so a corrupt snapshot cannot be loaded.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Path is the cash-out route chosen for an asset.
type Path string

const (
	// PathUSDCPool: funds already in the privacy pool.
	PathUSDCPool Path = "usdc_pool"
	// PathUSDCWallet: USDC held in the wallet, needs shielding.
	PathUSDCWallet Path = "usdc_wallet"
	// PathXStockFull: tokenized asset, needs compliance, swap, jitter and shielding.
	PathXStockFull Path = "xstock_full"
)

// Valid reports whether p is a known path.
func (p Path) Valid() bool {
	switch p {
	case PathUSDCPool, PathUSDCWallet, PathXStockFull:
		return true
	}
	return false
}

// UnmarshalText rejects unknown paths. An empty path is allowed for idle records.
func (p *Path) UnmarshalText(text []byte) error {
	v := Path(text)
	if v != "" && !v.Valid() {
		return fmt.Errorf("unknown path %q", string(text))
	}
	*p = v
	return nil
}

// Stages returns the ordered stage phases a path runs through before it
// parks in awaiting_fiat. PhaseSendingToMoonpay is conditional and is not
// listed; the controller enters it only when the unshield result lacks a
// hosted off-ramp URL.
func (p Path) Stages() []Phase {
	switch p {
	case PathUSDCPool:
		return []Phase{
			PhaseCreatingCashoutAddress,
			PhaseUnshielding,
		}
	case PathUSDCWallet:
		return []Phase{
			PhaseCompliancePrescreen,
			PhaseShielding,
			PhaseCreatingCashoutAddress,
			PhaseUnshielding,
		}
	case PathXStockFull:
		return []Phase{
			PhaseCompliancePrescreen,
			PhaseCreatingSwapAddress,
			PhaseSwapping,
			PhaseSwapComplete,
			PhaseShielding,
			PhaseCreatingCashoutAddress,
			PhaseUnshielding,
		}
	}
	return nil
}

// RequiresCompliance reports whether the path touches an unshielded wallet balance.
func (p Path) RequiresCompliance() bool {
	return p == PathUSDCWallet || p == PathXStockFull
}
