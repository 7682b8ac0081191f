package provider

import (
	"context"
	"net/http"
	"net/url"

	"github.com/lucasnoah/cashout/internal/stage"
)

// CustodyClient creates stealth swap addresses.
type CustodyClient struct {
	*Client
}

// NewCustodyClient creates a custody client.
func NewCustodyClient(opts Options) *CustodyClient {
	return &CustodyClient{Client: New(opts)}
}

// CreateSwapOutputAddress requests a fresh stealth address for subOrgID.
func (c *CustodyClient) CreateSwapOutputAddress(ctx context.Context, subOrgID string) (stage.StealthAddress, error) {
	var out stage.StealthAddress
	err := c.do(ctx, http.MethodPost, "/v1/sub-orgs/"+url.PathEscape(subOrgID)+"/stealth-addresses", struct{}{}, &out)
	return out, err
}
