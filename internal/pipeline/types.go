package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is the version written into every persisted snapshot.
const SchemaVersion = 1

// PipelineState is the single mutable record for one cash-out attempt.
type PipelineState struct {
	Version    int    `json:"version"`
	PipelineID string `json:"pipeline_id"`
	Phase      Phase  `json:"phase"`
	Path       Path   `json:"path,omitempty"`

	// Request parameters, fixed once the attempt starts.
	Asset         *CashoutAsset `json:"asset,omitempty"`
	Amount        uint64        `json:"amount"`
	FiatCurrency  string        `json:"fiat_currency,omitempty"`
	WalletAddress string        `json:"wallet_address,omitempty"`
	SubOrgID      string        `json:"sub_org_id,omitempty"`
	UserID        string        `json:"user_id,omitempty"`

	ComplianceResult *ComplianceResult `json:"compliance_result,omitempty"`

	SwapOutputAddress string     `json:"swap_output_address,omitempty"`
	SwapSessionKeyID  string     `json:"swap_session_key_id,omitempty"`
	SwapQuote         *SwapQuote `json:"swap_quote,omitempty"`
	SwapTxSignature   string     `json:"swap_tx_signature,omitempty"`

	// SettlementAmount is the USDC amount (base units) carried into the pool.
	SettlementAmount uint64 `json:"settlement_amount,omitempty"`

	ShieldTxSignature   string          `json:"shield_tx_signature,omitempty"`
	Commitment          string          `json:"commitment,omitempty"`
	CashoutAddress      string          `json:"cashout_address,omitempty"`
	UnshieldTxSignature string          `json:"unshield_tx_signature,omitempty"`
	Offramp             *OfframpHandoff `json:"offramp,omitempty"`
	OfframpTxSignature  string          `json:"offramp_tx_signature,omitempty"`
	OfframpURL          string          `json:"offramp_url,omitempty"`

	JitterTotalMs     int64 `json:"jitter_total_ms,omitempty"`
	JitterRemainingMs int64 `json:"jitter_remaining_ms,omitempty"`

	Error         string `json:"error,omitempty"`
	FailedAtPhase Phase  `json:"failed_at_phase,omitempty"`

	StageHistory []StageHistoryEntry `json:"stage_history,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ComplianceResult is the prescreen answer recorded for an attempt.
type ComplianceResult struct {
	Passed     bool   `json:"passed"`
	Reason     string `json:"reason,omitempty"`
	IsTerminal bool   `json:"is_terminal,omitempty"`
}

// SwapQuote is the confidential swap quote the attempt executed.
type SwapQuote struct {
	QuoteID      string `json:"quote_id"`
	InputMint    string `json:"input_mint"`
	OutputMint   string `json:"output_mint"`
	InAmount     uint64 `json:"in_amount"`
	OutAmountMin uint64 `json:"out_amount_min"`
	OutAmountMax uint64 `json:"out_amount_max"`
	Destination  string `json:"destination"`
}

// OfframpHandoff carries the parameters handed to the fiat off-ramp.
type OfframpHandoff struct {
	FiatCurrency          string `json:"fiat_currency"`
	Amount                uint64 `json:"amount"`
	RefundAddress         string `json:"refund_address"`
	ExternalTransactionID string `json:"external_transaction_id"`
}

// StageHistoryEntry records the outcome of one stage.
type StageHistoryEntry struct {
	Phase    Phase  `json:"phase"`
	Outcome  string `json:"outcome"` // "success", "fail", "cancelled"
	Duration string `json:"duration"`
}

// NewIdleState returns the zero state of a controller with no attempt.
func NewIdleState() *PipelineState {
	return &PipelineState{Version: SchemaVersion, Phase: PhaseIdle}
}

// Clone returns a deep copy safe to hand to observers.
func (ps *PipelineState) Clone() *PipelineState {
	if ps == nil {
		return nil
	}
	cp := *ps
	if ps.Asset != nil {
		a := *ps.Asset
		cp.Asset = &a
	}
	if ps.ComplianceResult != nil {
		c := *ps.ComplianceResult
		cp.ComplianceResult = &c
	}
	if ps.SwapQuote != nil {
		q := *ps.SwapQuote
		cp.SwapQuote = &q
	}
	if ps.Offramp != nil {
		o := *ps.Offramp
		cp.Offramp = &o
	}
	if ps.CompletedAt != nil {
		t := *ps.CompletedAt
		cp.CompletedAt = &t
	}
	if ps.StageHistory != nil {
		cp.StageHistory = make([]StageHistoryEntry, len(ps.StageHistory))
		copy(cp.StageHistory, ps.StageHistory)
	}
	return &cp
}

// Marshal encodes the state as the persisted snapshot format.
func Marshal(ps *PipelineState) ([]byte, error) {
	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal pipeline state: %w", err)
	}
	return append(data, '\n'), nil
}

// Unmarshal decodes a persisted snapshot, rejecting unknown phases, paths
// and snapshots written by a newer schema.
func Unmarshal(data []byte) (*PipelineState, error) {
	var ps PipelineState
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline state: %w", err)
	}
	if ps.Version > SchemaVersion {
		return nil, fmt.Errorf("unsupported pipeline state version %d (max %d)", ps.Version, SchemaVersion)
	}
	if ps.Phase == "" {
		return nil, fmt.Errorf("pipeline state has no phase")
	}
	return &ps, nil
}
