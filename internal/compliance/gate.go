// Package compliance wraps the wallet screening service behind a fail-closed
// gate. Any answer other than an explicit pass halts the attempt.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Result is the screening service's answer for one wallet.
type Result struct {
	Passed     bool   `json:"passed"`
	Reason     string `json:"reason,omitempty"`
	IsTerminal bool   `json:"isTerminal,omitempty"`
}

// Screener is the external compliance screen.
type Screener interface {
	PrescreenWallet(ctx context.Context, walletAddress string) (Result, error)
}

// Decision is the gate's verdict. Err is set when the screen could not be
// reached; such a decision never passes and is never terminal.
type Decision struct {
	Passed     bool
	Reason     string
	IsTerminal bool
	Err        error
}

// Message returns the user-facing failure message, or "" when passed.
func (d Decision) Message() string {
	switch {
	case d.Passed:
		return ""
	case d.Err != nil:
		return fmt.Sprintf("Compliance check unavailable: %v", d.Err)
	case d.Reason != "":
		return fmt.Sprintf("Compliance check failed: %s", d.Reason)
	default:
		return "Compliance check failed"
	}
}

// Gate runs the prescreen with a bounded timeout.
type Gate struct {
	screener Screener
	timeout  time.Duration
	logger   *slog.Logger
}

// DefaultTimeout bounds a single prescreen call.
const DefaultTimeout = 30 * time.Second

// NewGate creates a Gate. A zero timeout uses DefaultTimeout.
func NewGate(s Screener, timeout time.Duration, logger *slog.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{screener: s, timeout: timeout, logger: logger}
}

// Prescreen screens walletAddress. Errors, timeouts and a missing screener
// all produce a failed decision.
func (g *Gate) Prescreen(ctx context.Context, walletAddress string) Decision {
	if g.screener == nil {
		return Decision{Err: fmt.Errorf("no compliance screener configured")}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.screener.PrescreenWallet(ctx, walletAddress)
	if err != nil {
		g.logger.Warn("compliance prescreen unavailable", "error", err)
		return Decision{Err: err}
	}
	if !res.Passed {
		g.logger.Info("compliance prescreen rejected",
			"reason", res.Reason,
			"terminal", res.IsTerminal,
		)
		return Decision{Reason: res.Reason, IsTerminal: res.IsTerminal}
	}
	return Decision{Passed: true, Reason: res.Reason}
}
