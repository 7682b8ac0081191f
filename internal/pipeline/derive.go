package pipeline

import "strings"

// QuarantineKeyword marks errors for funds the pool has quarantined. Those
// attempts need manual review and are never retried automatically.
const QuarantineKeyword = "quarantine"

// cancellable is the allow-list of phases a user may cancel from.
var cancellable = map[Phase]bool{
	PhaseCompliancePrescreen:    true,
	PhaseCreatingSwapAddress:    true,
	PhaseSwapping:               true,
	PhaseSwapComplete:           true,
	PhaseShielding:              true,
	PhaseCreatingCashoutAddress: true,
	PhaseUnshielding:            true,
	PhaseSendingToMoonpay:       true,
	PhaseError:                  true,
}

// IsActive reports whether an attempt is underway: anything that is not
// idle, completed or cancelled. Callers disable new starts while true.
func IsActive(ps PipelineState) bool {
	return !ps.Phase.Terminal()
}

// IsTerminalComplianceFailure reports whether the attempt failed a
// compliance prescreen that must never be retried.
func IsTerminalComplianceFailure(ps PipelineState) bool {
	return ps.FailedAtPhase == PhaseCompliancePrescreen &&
		ps.ComplianceResult != nil &&
		!ps.ComplianceResult.Passed &&
		ps.ComplianceResult.IsTerminal
}

// CanRetry reports whether RetryFromFailure is allowed for ps.
func CanRetry(ps PipelineState) bool {
	if ps.Phase != PhaseError {
		return false
	}
	if IsTerminalComplianceFailure(ps) {
		return false
	}
	return !strings.Contains(strings.ToLower(ps.Error), QuarantineKeyword)
}

// CanCancel reports whether the attempt may be cancelled in its current phase.
func CanCancel(ps PipelineState) bool {
	return cancellable[ps.Phase]
}
