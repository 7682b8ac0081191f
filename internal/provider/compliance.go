package provider

import (
	"context"
	"net/http"

	"github.com/lucasnoah/cashout/internal/compliance"
)

// ComplianceClient calls the wallet screening service.
type ComplianceClient struct {
	*Client
}

// NewComplianceClient creates a compliance screen client.
func NewComplianceClient(opts Options) *ComplianceClient {
	return &ComplianceClient{Client: New(opts)}
}

// PrescreenWallet screens walletAddress.
func (c *ComplianceClient) PrescreenWallet(ctx context.Context, walletAddress string) (compliance.Result, error) {
	var out compliance.Result
	err := c.do(ctx, http.MethodPost, "/v1/prescreen", map[string]string{"walletAddress": walletAddress}, &out)
	return out, err
}
