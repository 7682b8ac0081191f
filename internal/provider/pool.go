package provider

import (
	"context"
	"net/http"
	"net/url"

	"github.com/lucasnoah/cashout/internal/pipeline"
	"github.com/lucasnoah/cashout/internal/stage"
)

// PoolClient talks to the privacy pool relayer.
type PoolClient struct {
	*Client
}

// NewPoolClient creates a pool client.
func NewPoolClient(opts Options) *PoolClient {
	return &PoolClient{Client: New(opts)}
}

// Shield deposits USDC into the pool and returns the transaction signature.
func (c *PoolClient) Shield(ctx context.Context, req stage.ShieldRequest) (string, error) {
	body := struct {
		Owner        string `json:"owner"`
		Source       string `json:"source"`
		SessionKeyID string `json:"sessionKeyId,omitempty"`
		Mint         string `json:"mint"`
		Amount       uint64 `json:"amount,string"`
	}{req.Owner, req.Source, req.SessionKeyID, req.Mint, req.Amount}

	var out struct {
		Signature string `json:"signature"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/shield", body, &out); err != nil {
		return "", err
	}
	return out.Signature, nil
}

// FetchShieldedBalance returns the user's pool balance and commitments.
func (c *PoolClient) FetchShieldedBalance(ctx context.Context, userID string) (stage.ShieldedBalance, error) {
	var out struct {
		Total       uint64 `json:"total,string"`
		Commitments []struct {
			Commitment string `json:"commitment"`
			Amount     uint64 `json:"amount,string"`
		} `json:"commitments"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/balances/"+url.PathEscape(userID), nil, &out); err != nil {
		return stage.ShieldedBalance{}, err
	}
	bal := stage.ShieldedBalance{Total: out.Total}
	for _, cm := range out.Commitments {
		bal.Commitments = append(bal.Commitments, stage.Commitment{ID: cm.Commitment, Amount: cm.Amount})
	}
	return bal, nil
}

// QuickCashout creates a single-use address and unshields into it.
func (c *PoolClient) QuickCashout(ctx context.Context, req stage.QuickCashoutRequest) (stage.QuickCashoutResult, error) {
	body := struct {
		UserID                string `json:"userId"`
		Amount                uint64 `json:"amount,string"`
		FiatCurrency          string `json:"fiatCurrency"`
		Commitment            string `json:"commitment"`
		ExternalTransactionID string `json:"externalTransactionId"`
	}{req.UserID, req.Amount, req.FiatCurrency, req.Commitment, req.ExternalTransactionID}

	var out struct {
		Result struct {
			CashoutAddress      string `json:"cashoutAddress"`
			UnshieldTxSignature string `json:"unshieldSignature"`
			OfframpTxSignature  string `json:"offrampSignature"`
			Offramp             struct {
				FiatCurrency          string `json:"fiatCurrency"`
				Amount                uint64 `json:"amount,string"`
				RefundAddress         string `json:"refundAddress"`
				ExternalTransactionID string `json:"externalTransactionId"`
			} `json:"offramp"`
		} `json:"result"`
		MoonPayURL string `json:"moonPayUrl"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/quick-cashout", body, &out); err != nil {
		return stage.QuickCashoutResult{}, err
	}
	r := out.Result
	return stage.QuickCashoutResult{
		CashoutAddress:      r.CashoutAddress,
		UnshieldTxSignature: r.UnshieldTxSignature,
		OfframpTxSignature:  r.OfframpTxSignature,
		Offramp: pipeline.OfframpHandoff{
			FiatCurrency:          r.Offramp.FiatCurrency,
			Amount:                r.Offramp.Amount,
			RefundAddress:         r.Offramp.RefundAddress,
			ExternalTransactionID: r.Offramp.ExternalTransactionID,
		},
		MoonPayURL: out.MoonPayURL,
	}, nil
}
