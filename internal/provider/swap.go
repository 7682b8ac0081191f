package provider

import (
	"context"
	"net/http"
	"net/url"

	"github.com/lucasnoah/cashout/internal/pipeline"
	"github.com/lucasnoah/cashout/internal/stage"
)

// SwapClient talks to the confidential swap network.
type SwapClient struct {
	*Client
}

// NewSwapClient creates a swap client.
func NewSwapClient(opts Options) *SwapClient {
	return &SwapClient{Client: New(opts)}
}

type quoteResponse struct {
	QuoteID      string `json:"quoteId"`
	InputMint    string `json:"inputMint"`
	OutputMint   string `json:"outputMint"`
	InAmount     uint64 `json:"inAmount,string"`
	OutAmountMin uint64 `json:"outAmountMin,string"`
	OutAmountMax uint64 `json:"outAmountMax,string"`
	Destination  string `json:"destination"`
}

// Quote requests a swap quote. Amounts travel as decimal strings.
func (c *SwapClient) Quote(ctx context.Context, req stage.QuoteRequest) (pipeline.SwapQuote, error) {
	body := struct {
		InputMint   string `json:"inputMint"`
		OutputMint  string `json:"outputMint"`
		Amount      uint64 `json:"amount,string"`
		Destination string `json:"destination"`
	}{req.InputMint, req.OutputMint, req.Amount, req.Destination}

	var out quoteResponse
	if err := c.do(ctx, http.MethodPost, "/v1/quote", body, &out); err != nil {
		return pipeline.SwapQuote{}, err
	}
	return pipeline.SwapQuote{
		QuoteID:      out.QuoteID,
		InputMint:    out.InputMint,
		OutputMint:   out.OutputMint,
		InAmount:     out.InAmount,
		OutAmountMin: out.OutAmountMin,
		OutAmountMax: out.OutAmountMax,
		Destination:  out.Destination,
	}, nil
}

// Execute executes a quoted swap, signed by the session key.
func (c *SwapClient) Execute(ctx context.Context, quote pipeline.SwapQuote, sessionKeyID string) (stage.ExecuteResult, error) {
	body := map[string]string{
		"quoteId":      quote.QuoteID,
		"sessionKeyId": sessionKeyID,
	}
	var out struct {
		Signature string `json:"signature"`
		OutAmount uint64 `json:"outAmount,string,omitempty"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/execute", body, &out); err != nil {
		return stage.ExecuteResult{}, err
	}
	return stage.ExecuteResult{Signature: out.Signature, OutAmount: out.OutAmount}, nil
}

// CancelSession releases the swap session for sessionKeyID.
func (c *SwapClient) CancelSession(ctx context.Context, sessionKeyID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(sessionKeyID), nil, nil)
}
