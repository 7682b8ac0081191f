package stage

import (
	"context"
	"errors"

	"github.com/lucasnoah/cashout/internal/pipeline"
)

// Shield moves USDC into the privacy pool.
type Shield struct {
	pool     Pool
	usdcMint string
}

// NewShield creates the shield stage.
func NewShield(pool Pool, usdcMint string) *Shield {
	return &Shield{pool: pool, usdcMint: usdcMint}
}

// ShieldResult is the output of Run.
type ShieldResult struct {
	Signature string
	Amount    uint64
}

// Apply records the shield transaction on ps.
func (r *ShieldResult) Apply(ps *pipeline.PipelineState) {
	ps.ShieldTxSignature = r.Signature
	ps.SettlementAmount = r.Amount
}

// Run shields req.Amount from req.Source. An empty mint uses USDC.
func (s *Shield) Run(ctx context.Context, req ShieldRequest) (*ShieldResult, error) {
	if req.Amount == 0 {
		err := errors.New("nothing to shield")
		return nil, fail(pipeline.PhaseShielding, err, "Shielding failed: %v", err)
	}
	if req.Mint == "" {
		req.Mint = s.usdcMint
	}
	if req.Source == "" {
		req.Source = req.Owner
	}

	sig, err := s.pool.Shield(ctx, req)
	if err != nil {
		return nil, fail(pipeline.PhaseShielding, err, "Shielding failed: %v", err)
	}
	if sig == "" {
		err := errors.New("pool returned no signature")
		return nil, fail(pipeline.PhaseShielding, err, "Shielding failed: %v", err)
	}
	return &ShieldResult{Signature: sig, Amount: req.Amount}, nil
}
