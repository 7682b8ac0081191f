// Package stage wraps each external cash-out operation and turns provider
// answers into pipeline state deltas.
package stage

import (
	"context"

	"github.com/lucasnoah/cashout/internal/pipeline"
)

// StealthAddress is a fresh swap destination scoped to a sub-organization.
type StealthAddress struct {
	Address      string `json:"address"`
	SessionKeyID string `json:"sessionKeyId"`
}

// Custody creates stealth output addresses.
type Custody interface {
	CreateSwapOutputAddress(ctx context.Context, subOrgID string) (StealthAddress, error)
}

// QuoteRequest asks for a confidential swap quote.
type QuoteRequest struct {
	InputMint   string `json:"inputMint"`
	OutputMint  string `json:"outputMint"`
	Amount      uint64 `json:"amount"`
	Destination string `json:"destination"`
}

// ExecuteResult is the outcome of an executed swap. OutAmount is zero when
// the provider does not report the settled amount.
type ExecuteResult struct {
	Signature string `json:"signature"`
	OutAmount uint64 `json:"outAmount,omitempty"`
}

// Swapper quotes and executes confidential swaps.
type Swapper interface {
	Quote(ctx context.Context, req QuoteRequest) (pipeline.SwapQuote, error)
	Execute(ctx context.Context, quote pipeline.SwapQuote, sessionKeyID string) (ExecuteResult, error)
}

// SessionCanceller releases a swap session. Called best-effort on cancel.
type SessionCanceller interface {
	CancelSession(ctx context.Context, sessionKeyID string) error
}

// ShieldRequest moves USDC from Source into the pool for Owner. SessionKeyID
// is set when Source is a stealth address the custody service signs for.
type ShieldRequest struct {
	Owner        string `json:"owner"`
	Source       string `json:"source"`
	SessionKeyID string `json:"sessionKeyId,omitempty"`
	Mint         string `json:"mint"`
	Amount       uint64 `json:"amount"`
}

// Commitment is one spendable note in the pool.
type Commitment struct {
	ID     string `json:"commitment"`
	Amount uint64 `json:"amount"`
}

// ShieldedBalance is the user's pool balance.
type ShieldedBalance struct {
	Total       uint64       `json:"total"`
	Commitments []Commitment `json:"commitments"`
}

// QuickCashoutRequest spends a commitment into a fresh single-use address.
type QuickCashoutRequest struct {
	UserID                string `json:"userId"`
	Amount                uint64 `json:"amount"`
	FiatCurrency          string `json:"fiatCurrency"`
	Commitment            string `json:"commitment"`
	ExternalTransactionID string `json:"externalTransactionId"`
}

// QuickCashoutResult is the pool's answer. MoonPayURL is empty when the pool
// leaves the hosted-flow URL to the caller.
type QuickCashoutResult struct {
	CashoutAddress      string                  `json:"cashoutAddress"`
	UnshieldTxSignature string                  `json:"unshieldTxSignature"`
	OfframpTxSignature  string                  `json:"offrampTxSignature,omitempty"`
	Offramp             pipeline.OfframpHandoff `json:"offramp"`
	MoonPayURL          string                  `json:"moonPayUrl,omitempty"`
}

// Pool is the privacy pool.
type Pool interface {
	Shield(ctx context.Context, req ShieldRequest) (string, error)
	FetchShieldedBalance(ctx context.Context, userID string) (ShieldedBalance, error)
	QuickCashout(ctx context.Context, req QuickCashoutRequest) (QuickCashoutResult, error)
}

// OfframpProvider builds the hosted fiat off-ramp flow.
type OfframpProvider interface {
	HostedURL(ctx context.Context, handoff pipeline.OfframpHandoff) (string, error)
}
