package pipeline

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		asset CashoutAsset
		want  Path
	}{
		{"shielded usdc", CashoutAsset{IsShielded: true, IsUSDC: true}, PathUSDCPool},
		{"shielded flag wins over rwa", CashoutAsset{IsShielded: true, IsRwa: true}, PathUSDCPool},
		{"wallet usdc", CashoutAsset{IsUSDC: true}, PathUSDCWallet},
		{"usdc flag wins over rwa", CashoutAsset{IsUSDC: true, IsRwa: true}, PathUSDCWallet},
		{"xstock", CashoutAsset{IsRwa: true}, PathXStockFull},
		{"no flags", CashoutAsset{}, PathXStockFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.asset); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPathStagesSkipPrefixes(t *testing.T) {
	pool := PathUSDCPool.Stages()
	for _, p := range pool {
		switch p {
		case PhaseCompliancePrescreen, PhaseCreatingSwapAddress, PhaseSwapping, PhaseSwapComplete, PhaseShielding:
			t.Errorf("usdc_pool should not include %q", p)
		}
	}

	wallet := PathUSDCWallet.Stages()
	if wallet[0] != PhaseCompliancePrescreen || wallet[1] != PhaseShielding {
		t.Errorf("usdc_wallet stages = %v, want compliance then shielding", wallet)
	}

	full := PathXStockFull.Stages()
	// Each shorter path is a suffix of the full path.
	if !hasSuffix(full, wallet[1:]) || !hasSuffix(full, pool) {
		t.Errorf("paths are not prefix-skips of xstock_full: %v", full)
	}
}

func hasSuffix(full, suffix []Phase) bool {
	if len(suffix) > len(full) {
		return false
	}
	off := len(full) - len(suffix)
	for i := range suffix {
		if full[off+i] != suffix[i] {
			return false
		}
	}
	return true
}

func TestRequiresCompliance(t *testing.T) {
	if PathUSDCPool.RequiresCompliance() {
		t.Error("usdc_pool must not require compliance")
	}
	if !PathUSDCWallet.RequiresCompliance() || !PathXStockFull.RequiresCompliance() {
		t.Error("wallet paths must require compliance")
	}
}

func TestCanRetry(t *testing.T) {
	tests := []struct {
		name string
		ps   PipelineState
		want bool
	}{
		{"not error", PipelineState{Phase: PhaseShielding}, false},
		{"stage failure", PipelineState{Phase: PhaseError, FailedAtPhase: PhaseSwapping, Error: "Swap failed"}, true},
		{
			"terminal compliance",
			PipelineState{
				Phase: PhaseError, FailedAtPhase: PhaseCompliancePrescreen,
				ComplianceResult: &ComplianceResult{Passed: false, Reason: "sanctioned", IsTerminal: true},
			},
			false,
		},
		{
			"non-terminal compliance",
			PipelineState{
				Phase: PhaseError, FailedAtPhase: PhaseCompliancePrescreen,
				ComplianceResult: &ComplianceResult{Passed: false, Reason: "service busy"},
			},
			true,
		},
		{
			"compliance outage without result",
			PipelineState{Phase: PhaseError, FailedAtPhase: PhaseCompliancePrescreen, Error: "Compliance check unavailable"},
			true,
		},
		{"quarantined funds", PipelineState{Phase: PhaseError, FailedAtPhase: PhaseUnshielding, Error: "Unshield failed: funds in QUARANTINE"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanRetry(tt.ps); got != tt.want {
				t.Errorf("CanRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanCancel(t *testing.T) {
	want := map[Phase]bool{
		PhaseIdle:                   false,
		PhaseCompliancePrescreen:    true,
		PhaseCreatingSwapAddress:    true,
		PhaseSwapping:               true,
		PhaseSwapComplete:           true,
		PhaseShielding:              true,
		PhaseCreatingCashoutAddress: true,
		PhaseUnshielding:            true,
		PhaseSendingToMoonpay:       true,
		PhaseAwaitingFiat:           false,
		PhaseCompleted:              false,
		PhaseError:                  true,
		PhaseCancelled:              false,
	}
	for _, p := range Phases() {
		if got := CanCancel(PipelineState{Phase: p}); got != want[p] {
			t.Errorf("CanCancel(%s) = %v, want %v", p, got, want[p])
		}
	}
}

func TestIsActive(t *testing.T) {
	for _, p := range Phases() {
		got := IsActive(PipelineState{Phase: p})
		want := !(p == PhaseIdle || p == PhaseCompleted || p == PhaseCancelled)
		if got != want {
			t.Errorf("IsActive(%s) = %v, want %v", p, got, want)
		}
	}
}

func TestInFlight(t *testing.T) {
	for _, p := range []Phase{PhaseIdle, PhaseAwaitingFiat, PhaseCompleted, PhaseError, PhaseCancelled} {
		if p.InFlight() {
			t.Errorf("%s should not be in flight", p)
		}
	}
	if !PhaseShielding.InFlight() || !PhaseSwapComplete.InFlight() {
		t.Error("stage phases should be in flight")
	}
}

func TestParsePhase(t *testing.T) {
	if _, err := ParsePhase("unshielding"); err != nil {
		t.Errorf("ParsePhase(unshielding): %v", err)
	}
	if _, err := ParsePhase("bogus"); err == nil {
		t.Error("expected error for bogus phase")
	}
}
