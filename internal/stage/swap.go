package stage

import (
	"context"
	"errors"

	"github.com/lucasnoah/cashout/internal/pipeline"
)

// Swap converts a tokenized asset into USDC at a fresh stealth address.
type Swap struct {
	custody  Custody
	swapper  Swapper
	usdcMint string
}

// NewSwap creates the swap stage. usdcMint is the swap's output mint.
func NewSwap(custody Custody, swapper Swapper, usdcMint string) *Swap {
	return &Swap{custody: custody, swapper: swapper, usdcMint: usdcMint}
}

// AddressResult is the output of CreateOutputAddress.
type AddressResult struct {
	Address      string
	SessionKeyID string
}

// Apply records the stealth address on ps.
func (r *AddressResult) Apply(ps *pipeline.PipelineState) {
	ps.SwapOutputAddress = r.Address
	ps.SwapSessionKeyID = r.SessionKeyID
}

// CreateOutputAddress requests a stealth address for subOrgID.
func (s *Swap) CreateOutputAddress(ctx context.Context, subOrgID string) (*AddressResult, error) {
	addr, err := s.custody.CreateSwapOutputAddress(ctx, subOrgID)
	if err != nil {
		return nil, fail(pipeline.PhaseCreatingSwapAddress, err, "Could not create swap address: %v. Your tokens are still in your wallet.", err)
	}
	if addr.Address == "" {
		err := errors.New("custody returned an empty address")
		return nil, fail(pipeline.PhaseCreatingSwapAddress, err, "Could not create swap address: %v. Your tokens are still in your wallet.", err)
	}
	return &AddressResult{Address: addr.Address, SessionKeyID: addr.SessionKeyID}, nil
}

// SwapInput is what QuoteAndExecute needs from the attempt.
type SwapInput struct {
	InputMint    string
	Amount       uint64
	Destination  string
	SessionKeyID string
}

// SwapResult is the output of QuoteAndExecute.
type SwapResult struct {
	Quote     pipeline.SwapQuote
	Signature string
	// Settlement is the USDC amount that reached the stealth address.
	Settlement uint64
}

// Apply records the executed swap on ps.
func (r *SwapResult) Apply(ps *pipeline.PipelineState) {
	q := r.Quote
	ps.SwapQuote = &q
	ps.SwapTxSignature = r.Signature
	ps.SettlementAmount = r.Settlement
}

// QuoteAndExecute quotes the swap to in.Destination and executes it.
func (s *Swap) QuoteAndExecute(ctx context.Context, in SwapInput) (*SwapResult, error) {
	if in.Destination == "" {
		err := errors.New("no swap output address")
		return nil, swapFailed(err)
	}

	quote, err := s.swapper.Quote(ctx, QuoteRequest{
		InputMint:   in.InputMint,
		OutputMint:  s.usdcMint,
		Amount:      in.Amount,
		Destination: in.Destination,
	})
	if err != nil {
		return nil, swapFailed(err)
	}
	if quote.Destination == "" {
		quote.Destination = in.Destination
	}
	if quote.Destination != in.Destination {
		return nil, swapFailed(errors.New("quote destination does not match the stealth address"))
	}

	res, err := s.swapper.Execute(ctx, quote, in.SessionKeyID)
	if err != nil {
		return nil, swapFailed(err)
	}
	if res.Signature == "" {
		return nil, swapFailed(errors.New("swap returned no signature"))
	}

	settled := res.OutAmount
	if settled == 0 {
		settled = quote.OutAmountMin
	}
	return &SwapResult{Quote: quote, Signature: res.Signature, Settlement: settled}, nil
}

func swapFailed(err error) *Error {
	return fail(pipeline.PhaseSwapping, err, "Swap failed: %v. Your tokens are still in your wallet.", err)
}
