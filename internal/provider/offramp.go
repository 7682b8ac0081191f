package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lucasnoah/cashout/internal/pipeline"
)

// Off-ramp transaction statuses reported by TransactionStatus.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// OfframpOptions configures the fiat off-ramp client.
type OfframpOptions struct {
	Options
	// HostedBaseURL is the browser flow, e.g. https://sell.moonpay.com.
	HostedBaseURL string
	// SecretKey signs hosted URLs. Empty leaves them unsigned.
	SecretKey string
	// CryptoCode is the off-ramp's code for the settled asset.
	CryptoCode string
	// Decimals of the settled asset, used to format base units.
	Decimals uint8
}

// OfframpClient builds hosted sell URLs and polls transaction status.
type OfframpClient struct {
	*Client
	hostedBase string
	secret     []byte
	cryptoCode string
	decimals   uint8
}

// NewOfframpClient creates an off-ramp client.
func NewOfframpClient(opts OfframpOptions) *OfframpClient {
	code := opts.CryptoCode
	if code == "" {
		code = "usdc_sol"
	}
	dec := opts.Decimals
	if dec == 0 {
		dec = 6
	}
	return &OfframpClient{
		Client:     New(opts.Options),
		hostedBase: strings.TrimRight(opts.HostedBaseURL, "/"),
		secret:     []byte(opts.SecretKey),
		cryptoCode: code,
		decimals:   dec,
	}
}

// HostedURL returns the hosted sell flow for h. The URL is signed with
// HMAC-SHA256 over its query string when a secret key is configured.
func (c *OfframpClient) HostedURL(ctx context.Context, h pipeline.OfframpHandoff) (string, error) {
	if c.hostedBase == "" {
		return "", fmt.Errorf("off-ramp hosted URL not configured")
	}
	q := url.Values{}
	if c.apiKey != "" {
		q.Set("apiKey", c.apiKey)
	}
	q.Set("baseCurrencyCode", c.cryptoCode)
	q.Set("baseCurrencyAmount", FormatUnits(h.Amount, c.decimals))
	q.Set("quoteCurrencyCode", strings.ToLower(h.FiatCurrency))
	q.Set("refundWalletAddress", h.RefundAddress)
	q.Set("externalTransactionId", h.ExternalTransactionID)

	query := "?" + q.Encode()
	if len(c.secret) > 0 {
		query += "&signature=" + url.QueryEscape(Sign(c.secret, query))
	}
	return c.hostedBase + query, nil
}

// Sign returns the base64 HMAC-SHA256 of message under secret.
func Sign(secret []byte, message string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyURL reports whether rawURL carries a valid signature for secret.
func VerifyURL(secret []byte, rawURL string) bool {
	i := strings.Index(rawURL, "&signature=")
	if i < 0 {
		return false
	}
	q := strings.Index(rawURL, "?")
	if q < 0 || q > i {
		return false
	}
	sig, err := url.QueryUnescape(rawURL[i+len("&signature="):])
	if err != nil {
		return false
	}
	want := Sign(secret, rawURL[q:i])
	return hmac.Equal([]byte(sig), []byte(want))
}

// TransactionStatus returns the normalized status of the most recent
// off-ramp transaction for externalID. No transaction yet is pending.
func (c *OfframpClient) TransactionStatus(ctx context.Context, externalID string) (string, error) {
	var out []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	path := "/v1/sell_transactions/ext/" + url.PathEscape(externalID)
	if c.apiKey != "" {
		path += "?apiKey=" + url.QueryEscape(c.apiKey)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return StatusPending, nil
		}
		return "", err
	}
	if len(out) == 0 {
		return StatusPending, nil
	}
	return normalizeStatus(out[len(out)-1].Status), nil
}

func normalizeStatus(s string) string {
	switch strings.ToLower(s) {
	case "completed":
		return StatusCompleted
	case "failed", "refunded", "cancelled":
		return StatusFailed
	default:
		return StatusPending
	}
}

// FormatUnits renders base units as a decimal string with trailing zeros
// trimmed: 1500000 with 6 decimals is "1.5".
func FormatUnits(amount uint64, decimals uint8) string {
	s := strconv.FormatUint(amount, 10)
	if decimals == 0 {
		return s
	}
	d := int(decimals)
	if len(s) <= d {
		s = strings.Repeat("0", d-len(s)+1) + s
	}
	whole, frac := s[:len(s)-d], strings.TrimRight(s[len(s)-d:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
