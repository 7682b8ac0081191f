package stage

import (
	"context"
	"errors"

	"github.com/lucasnoah/cashout/internal/pipeline"
)

// Offramp hands the unshielded funds to the fiat off-ramp.
type Offramp struct {
	provider OfframpProvider
}

// NewOfframp creates the off-ramp stage.
func NewOfframp(provider OfframpProvider) *Offramp {
	return &Offramp{provider: provider}
}

// HandOffResult is the output of HandOff.
type HandOffResult struct {
	URL string
}

// Apply records the hosted-flow URL on ps.
func (r *HandOffResult) Apply(ps *pipeline.PipelineState) {
	ps.OfframpURL = r.URL
}

// HandOff requests the hosted-flow URL for h.
func (o *Offramp) HandOff(ctx context.Context, h pipeline.OfframpHandoff) (*HandOffResult, error) {
	if o.provider == nil {
		err := errors.New("no off-ramp provider configured")
		return nil, fail(pipeline.PhaseSendingToMoonpay, err, "Off-ramp hand-off failed: %v", err)
	}
	if h.RefundAddress == "" || h.Amount == 0 {
		err := errors.New("incomplete hand-off parameters")
		return nil, fail(pipeline.PhaseSendingToMoonpay, err, "Off-ramp hand-off failed: %v", err)
	}
	url, err := o.provider.HostedURL(ctx, h)
	if err != nil {
		return nil, fail(pipeline.PhaseSendingToMoonpay, err, "Off-ramp hand-off failed: %v", err)
	}
	return &HandOffResult{URL: url}, nil
}
