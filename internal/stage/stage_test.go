package stage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lucasnoah/cashout/internal/pipeline"
)

const usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// --- Mocks ---

type mockCustody struct {
	addr StealthAddress
	err  error
	got  string
}

func (m *mockCustody) CreateSwapOutputAddress(ctx context.Context, subOrgID string) (StealthAddress, error) {
	m.got = subOrgID
	return m.addr, m.err
}

type mockSwapper struct {
	quote      pipeline.SwapQuote
	quoteErr   error
	exec       ExecuteResult
	execErr    error
	gotReq     QuoteRequest
	gotSession string
	executed   bool
}

func (m *mockSwapper) Quote(ctx context.Context, req QuoteRequest) (pipeline.SwapQuote, error) {
	m.gotReq = req
	return m.quote, m.quoteErr
}

func (m *mockSwapper) Execute(ctx context.Context, q pipeline.SwapQuote, sessionKeyID string) (ExecuteResult, error) {
	m.executed = true
	m.gotSession = sessionKeyID
	return m.exec, m.execErr
}

type mockPool struct {
	shieldSig  string
	shieldErr  error
	shieldReq  ShieldRequest
	balance    ShieldedBalance
	balanceErr error
	cashout    QuickCashoutResult
	cashoutErr error
	cashoutReq QuickCashoutRequest
}

func (m *mockPool) Shield(ctx context.Context, req ShieldRequest) (string, error) {
	m.shieldReq = req
	return m.shieldSig, m.shieldErr
}

func (m *mockPool) FetchShieldedBalance(ctx context.Context, userID string) (ShieldedBalance, error) {
	return m.balance, m.balanceErr
}

func (m *mockPool) QuickCashout(ctx context.Context, req QuickCashoutRequest) (QuickCashoutResult, error) {
	m.cashoutReq = req
	return m.cashout, m.cashoutErr
}

type mockOfframp struct {
	url string
	err error
}

func (m *mockOfframp) HostedURL(ctx context.Context, h pipeline.OfframpHandoff) (string, error) {
	return m.url, m.err
}

func stageError(t *testing.T, err error) *Error {
	t.Helper()
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a *stage.Error", err)
	}
	return se
}

// --- Swap ---

func TestCreateOutputAddress(t *testing.T) {
	c := &mockCustody{addr: StealthAddress{Address: "stealth-1", SessionKeyID: "sk-1"}}
	s := NewSwap(c, &mockSwapper{}, usdcMint)

	res, err := s.CreateOutputAddress(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("CreateOutputAddress: %v", err)
	}
	if c.got != "org-1" {
		t.Errorf("sub-org = %q, want org-1", c.got)
	}

	var ps pipeline.PipelineState
	res.Apply(&ps)
	if ps.SwapOutputAddress != "stealth-1" || ps.SwapSessionKeyID != "sk-1" {
		t.Errorf("applied = %q/%q, want stealth-1/sk-1", ps.SwapOutputAddress, ps.SwapSessionKeyID)
	}
}

func TestCreateOutputAddressFailure(t *testing.T) {
	s := NewSwap(&mockCustody{err: errors.New("mpc offline")}, &mockSwapper{}, usdcMint)
	_, err := s.CreateOutputAddress(context.Background(), "org-1")
	se := stageError(t, err)
	if se.Phase != pipeline.PhaseCreatingSwapAddress {
		t.Errorf("Phase = %q, want creating_swap_address", se.Phase)
	}
	if !strings.Contains(se.Message, "mpc offline") {
		t.Errorf("Message = %q", se.Message)
	}
	if !strings.HasSuffix(se.Message, "Your tokens are still in your wallet.") {
		t.Errorf("Message = %q, want the tokens-safe notice", se.Message)
	}
}

func TestCreateOutputAddressEmptyKeepsTokensMessage(t *testing.T) {
	s := NewSwap(&mockCustody{}, &mockSwapper{}, usdcMint)
	_, err := s.CreateOutputAddress(context.Background(), "org-1")
	se := stageError(t, err)
	want := "Could not create swap address: custody returned an empty address. Your tokens are still in your wallet."
	if se.Message != want {
		t.Errorf("Message = %q, want %q", se.Message, want)
	}
}

func TestQuoteAndExecute(t *testing.T) {
	sw := &mockSwapper{
		quote: pipeline.SwapQuote{QuoteID: "q-1", InAmount: 10, OutAmountMin: 990, OutAmountMax: 1010},
		exec:  ExecuteResult{Signature: "sig-swap"},
	}
	s := NewSwap(&mockCustody{}, sw, usdcMint)

	res, err := s.QuoteAndExecute(context.Background(), SwapInput{
		InputMint: "xTSLA", Amount: 10, Destination: "stealth-1", SessionKeyID: "sk-1",
	})
	if err != nil {
		t.Fatalf("QuoteAndExecute: %v", err)
	}
	if sw.gotReq.OutputMint != usdcMint {
		t.Errorf("OutputMint = %q, want USDC", sw.gotReq.OutputMint)
	}
	if sw.gotReq.Destination != "stealth-1" {
		t.Errorf("Destination = %q, want stealth-1", sw.gotReq.Destination)
	}
	if sw.gotSession != "sk-1" {
		t.Errorf("session = %q, want sk-1", sw.gotSession)
	}
	if res.Settlement != 990 {
		t.Errorf("Settlement = %d, want quote minimum 990", res.Settlement)
	}

	var ps pipeline.PipelineState
	res.Apply(&ps)
	if ps.SwapTxSignature != "sig-swap" || ps.SwapQuote == nil || ps.SwapQuote.QuoteID != "q-1" {
		t.Errorf("applied state = %+v", ps)
	}
}

func TestQuoteAndExecutePrefersReportedOutAmount(t *testing.T) {
	sw := &mockSwapper{
		quote: pipeline.SwapQuote{OutAmountMin: 990},
		exec:  ExecuteResult{Signature: "sig", OutAmount: 1003},
	}
	res, err := NewSwap(&mockCustody{}, sw, usdcMint).QuoteAndExecute(context.Background(),
		SwapInput{InputMint: "x", Amount: 1, Destination: "d"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Settlement != 1003 {
		t.Errorf("Settlement = %d, want 1003", res.Settlement)
	}
}

func TestQuoteAndExecuteFailureKeepsTokensMessage(t *testing.T) {
	tests := []struct {
		name string
		sw   *mockSwapper
	}{
		{"quote error", &mockSwapper{quoteErr: errors.New("no route")}},
		{"execute error", &mockSwapper{execErr: errors.New("slippage")}},
		{"no signature", &mockSwapper{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSwap(&mockCustody{}, tt.sw, usdcMint).QuoteAndExecute(context.Background(),
				SwapInput{InputMint: "x", Amount: 1, Destination: "d"})
			se := stageError(t, err)
			if se.Phase != pipeline.PhaseSwapping {
				t.Errorf("Phase = %q, want swapping", se.Phase)
			}
			if !strings.HasSuffix(se.Message, "Your tokens are still in your wallet.") {
				t.Errorf("Message = %q", se.Message)
			}
		})
	}
}

func TestQuoteDestinationMismatchDoesNotExecute(t *testing.T) {
	sw := &mockSwapper{quote: pipeline.SwapQuote{Destination: "elsewhere"}}
	_, err := NewSwap(&mockCustody{}, sw, usdcMint).QuoteAndExecute(context.Background(),
		SwapInput{InputMint: "x", Amount: 1, Destination: "stealth-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if sw.executed {
		t.Error("swap executed against a foreign destination")
	}
}

// --- Shield ---

func TestShieldRun(t *testing.T) {
	p := &mockPool{shieldSig: "sig-shield"}
	res, err := NewShield(p, usdcMint).Run(context.Background(), ShieldRequest{Owner: "wallet", Amount: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.shieldReq.Mint != usdcMint {
		t.Errorf("Mint = %q, want USDC default", p.shieldReq.Mint)
	}
	if p.shieldReq.Source != "wallet" {
		t.Errorf("Source = %q, want owner", p.shieldReq.Source)
	}
	var ps pipeline.PipelineState
	res.Apply(&ps)
	if ps.ShieldTxSignature != "sig-shield" || ps.SettlementAmount != 5 {
		t.Errorf("applied = %q/%d", ps.ShieldTxSignature, ps.SettlementAmount)
	}
}

func TestShieldFailure(t *testing.T) {
	_, err := NewShield(&mockPool{shieldErr: errors.New("rpc down")}, usdcMint).
		Run(context.Background(), ShieldRequest{Owner: "wallet", Amount: 5})
	se := stageError(t, err)
	if se.Phase != pipeline.PhaseShielding {
		t.Errorf("Phase = %q, want shielding", se.Phase)
	}
	if se.Message != "Shielding failed: rpc down" {
		t.Errorf("Message = %q", se.Message)
	}
}

func TestShieldZeroAmount(t *testing.T) {
	p := &mockPool{shieldSig: "sig"}
	if _, err := NewShield(p, usdcMint).Run(context.Background(), ShieldRequest{Owner: "w"}); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

// --- Cashout ---

func TestFindCommitmentPicksFirstCovering(t *testing.T) {
	p := &mockPool{balance: ShieldedBalance{Commitments: []Commitment{
		{ID: "c-small", Amount: 3},
		{ID: "c-big", Amount: 50},
		{ID: "c-bigger", Amount: 80},
	}}}
	res, err := NewCashout(p).FindCommitment(context.Background(), "user", 10)
	if err != nil {
		t.Fatalf("FindCommitment: %v", err)
	}
	if res.Commitment != "c-big" {
		t.Errorf("Commitment = %q, want c-big", res.Commitment)
	}
}

func TestFindCommitmentNone(t *testing.T) {
	p := &mockPool{balance: ShieldedBalance{Commitments: []Commitment{{ID: "c", Amount: 1}}}}
	_, err := NewCashout(p).FindCommitment(context.Background(), "user", 10)
	if !errors.Is(err, ErrNoCommitment) {
		t.Fatalf("err = %v, want ErrNoCommitment", err)
	}
	se := stageError(t, err)
	if se.Message != "no shielded balance commitment found" {
		t.Errorf("Message = %q", se.Message)
	}
	if se.Phase != pipeline.PhaseCreatingCashoutAddress {
		t.Errorf("Phase = %q, want creating_cashout_address", se.Phase)
	}
}

func TestUnshieldFillsHandoff(t *testing.T) {
	p := &mockPool{cashout: QuickCashoutResult{
		CashoutAddress:      "fresh-1",
		UnshieldTxSignature: "sig-unshield",
		MoonPayURL:          "https://buy.example/flow",
	}}
	res, err := NewCashout(p).Unshield(context.Background(), QuickCashoutRequest{
		UserID: "user", Amount: 7, FiatCurrency: "usd", Commitment: "c-1", ExternalTransactionID: "pid",
	})
	if err != nil {
		t.Fatalf("Unshield: %v", err)
	}
	want := pipeline.OfframpHandoff{FiatCurrency: "usd", Amount: 7, RefundAddress: "fresh-1", ExternalTransactionID: "pid"}
	if res.Offramp != want {
		t.Errorf("Offramp = %+v, want %+v", res.Offramp, want)
	}

	var ps pipeline.PipelineState
	res.Apply(&ps)
	if ps.CashoutAddress != "fresh-1" || ps.OfframpURL != "https://buy.example/flow" || ps.Offramp == nil {
		t.Errorf("applied = %+v", ps)
	}
}

func TestUnshieldFailure(t *testing.T) {
	_, err := NewCashout(&mockPool{cashoutErr: errors.New("relayer busy")}).Unshield(context.Background(),
		QuickCashoutRequest{Amount: 1, Commitment: "c"})
	se := stageError(t, err)
	if se.Phase != pipeline.PhaseUnshielding || se.Message != "Unshield failed: relayer busy" {
		t.Errorf("error = %+v", se)
	}
}

func TestUnshieldRequiresCommitment(t *testing.T) {
	p := &mockPool{}
	if _, err := NewCashout(p).Unshield(context.Background(), QuickCashoutRequest{Amount: 1}); err == nil {
		t.Fatal("expected error without commitment")
	}
	if p.cashoutReq.Amount != 0 {
		t.Error("pool called without a commitment")
	}
}

// --- Offramp ---

func TestHandOff(t *testing.T) {
	o := NewOfframp(&mockOfframp{url: "https://buy.example/x"})
	res, err := o.HandOff(context.Background(), pipeline.OfframpHandoff{Amount: 1, RefundAddress: "a"})
	if err != nil {
		t.Fatalf("HandOff: %v", err)
	}
	if res.URL != "https://buy.example/x" {
		t.Errorf("URL = %q", res.URL)
	}
}

func TestHandOffFailure(t *testing.T) {
	o := NewOfframp(&mockOfframp{err: errors.New("403")})
	_, err := o.HandOff(context.Background(), pipeline.OfframpHandoff{Amount: 1, RefundAddress: "a"})
	se := stageError(t, err)
	if se.Phase != pipeline.PhaseSendingToMoonpay {
		t.Errorf("Phase = %q", se.Phase)
	}
}
