package stage

import (
	"context"
	"errors"

	"github.com/lucasnoah/cashout/internal/pipeline"
)

// Cashout locates a pool commitment and unshields it to a single-use address.
type Cashout struct {
	pool Pool
}

// NewCashout creates the cash-out stage.
func NewCashout(pool Pool) *Cashout {
	return &Cashout{pool: pool}
}

// CommitmentResult is the output of FindCommitment.
type CommitmentResult struct {
	Commitment string
	Amount     uint64
}

// Apply records the selected commitment on ps.
func (r *CommitmentResult) Apply(ps *pipeline.PipelineState) {
	ps.Commitment = r.Commitment
}

// FindCommitment returns the first commitment, in pool order, that covers
// amount.
func (c *Cashout) FindCommitment(ctx context.Context, userID string, amount uint64) (*CommitmentResult, error) {
	bal, err := c.pool.FetchShieldedBalance(ctx, userID)
	if err != nil {
		return nil, fail(pipeline.PhaseCreatingCashoutAddress, err, "Could not load shielded balance: %v", err)
	}
	for _, cm := range bal.Commitments {
		if cm.ID != "" && cm.Amount >= amount {
			return &CommitmentResult{Commitment: cm.ID, Amount: cm.Amount}, nil
		}
	}
	return nil, &Error{
		Phase:   pipeline.PhaseCreatingCashoutAddress,
		Message: ErrNoCommitment.Error(),
		Err:     ErrNoCommitment,
	}
}

// UnshieldResult is the output of Unshield.
type UnshieldResult struct {
	CashoutAddress      string
	UnshieldTxSignature string
	OfframpTxSignature  string
	Offramp             pipeline.OfframpHandoff
	HostedURL           string
}

// Apply records the unshield and off-ramp parameters on ps.
func (r *UnshieldResult) Apply(ps *pipeline.PipelineState) {
	ps.CashoutAddress = r.CashoutAddress
	ps.UnshieldTxSignature = r.UnshieldTxSignature
	ps.OfframpTxSignature = r.OfframpTxSignature
	h := r.Offramp
	ps.Offramp = &h
	ps.OfframpURL = r.HostedURL
}

// Unshield spends req.Commitment into a fresh cash-out address. Missing
// hand-off fields are filled from the request.
func (c *Cashout) Unshield(ctx context.Context, req QuickCashoutRequest) (*UnshieldResult, error) {
	if req.Commitment == "" {
		return nil, fail(pipeline.PhaseUnshielding, ErrNoCommitment, "Unshield failed: %v", ErrNoCommitment)
	}

	res, err := c.pool.QuickCashout(ctx, req)
	if err != nil {
		return nil, fail(pipeline.PhaseUnshielding, err, "Unshield failed: %v", err)
	}
	if res.CashoutAddress == "" {
		err := errors.New("pool returned no cash-out address")
		return nil, fail(pipeline.PhaseUnshielding, err, "Unshield failed: %v", err)
	}

	h := res.Offramp
	if h.FiatCurrency == "" {
		h.FiatCurrency = req.FiatCurrency
	}
	if h.Amount == 0 {
		h.Amount = req.Amount
	}
	if h.RefundAddress == "" {
		h.RefundAddress = res.CashoutAddress
	}
	if h.ExternalTransactionID == "" {
		h.ExternalTransactionID = req.ExternalTransactionID
	}

	return &UnshieldResult{
		CashoutAddress:      res.CashoutAddress,
		UnshieldTxSignature: res.UnshieldTxSignature,
		OfframpTxSignature:  res.OfframpTxSignature,
		Offramp:             h,
		HostedURL:           res.MoonPayURL,
	}, nil
}
