package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lucasnoah/cashout/internal/db"
	"github.com/lucasnoah/cashout/internal/pipeline"
	"github.com/lucasnoah/cashout/internal/stage"
)

// applier is a stage result that knows how to record itself on the state.
type applier interface {
	Apply(ps *pipeline.PipelineState)
}

type applyFunc func(ps *pipeline.PipelineState)

func (f applyFunc) Apply(ps *pipeline.PipelineState) { f(ps) }

// complianceFailure carries the screen's answer into the error state.
type complianceFailure struct {
	msg    string
	result pipeline.ComplianceResult
}

func (e *complianceFailure) Error() string { return e.msg }

func notConfigured(phase pipeline.Phase, what string) error {
	return &stage.Error{Phase: phase, Message: fmt.Sprintf("%s is not configured", what)}
}

// live reports whether a is still the attempt whose results count.
// Caller holds c.mu.
func (c *Controller) live(a *attempt) bool {
	return c.current == a && !a.cancelled
}

// run drives one attempt from the first stage to awaiting_fiat. It stops at
// the first failure or as soon as the attempt is cancelled or superseded.
func (c *Controller) run(a *attempt, req pipeline.PipelineState) {
	defer close(a.done)
	defer a.cancel()

	ctx, span := tracer.Start(a.ctx, "cashout.pipeline",
		trace.WithAttributes(
			attribute.String("pipeline.id", req.PipelineID),
			attribute.String("pipeline.path", string(req.Path)),
		),
	)
	defer span.End()

	path := req.Path

	if path.RequiresCompliance() {
		ok := c.runStage(ctx, a, pipeline.PhaseCompliancePrescreen, func(ctx context.Context) (applier, error) {
			d := c.deps.Gate.Prescreen(ctx, req.WalletAddress)
			result := pipeline.ComplianceResult{Passed: d.Passed, Reason: d.Reason, IsTerminal: d.IsTerminal}
			if !d.Passed {
				return nil, &complianceFailure{msg: d.Message(), result: result}
			}
			return applyFunc(func(ps *pipeline.PipelineState) { ps.ComplianceResult = &result }), nil
		})
		if !ok {
			return
		}
	}

	if path == pipeline.PathXStockFull {
		if !c.runSwap(ctx, a, req) {
			return
		}
	}

	if path != pipeline.PathUSDCPool {
		ok := c.runStage(ctx, a, pipeline.PhaseShielding, func(ctx context.Context) (applier, error) {
			if c.deps.Shield == nil {
				return nil, notConfigured(pipeline.PhaseShielding, "shielding")
			}
			ps := c.Snapshot()
			sr := stage.ShieldRequest{
				Owner:  ps.WalletAddress,
				Source: ps.WalletAddress,
				Amount: ps.Amount,
			}
			if path == pipeline.PathXStockFull {
				sr.Source = ps.SwapOutputAddress
				sr.SessionKeyID = ps.SwapSessionKeyID
				sr.Amount = ps.SettlementAmount
			}
			return c.deps.Shield.Run(ctx, sr)
		})
		if !ok {
			return
		}
	}

	ok := c.runStage(ctx, a, pipeline.PhaseCreatingCashoutAddress, func(ctx context.Context) (applier, error) {
		if c.deps.Cashout == nil {
			return nil, notConfigured(pipeline.PhaseCreatingCashoutAddress, "cash-out")
		}
		ps := c.Snapshot()
		return c.deps.Cashout.FindCommitment(ctx, ps.UserID, cashoutAmount(ps))
	})
	if !ok {
		return
	}

	ok = c.runStage(ctx, a, pipeline.PhaseUnshielding, func(ctx context.Context) (applier, error) {
		if c.deps.Cashout == nil {
			return nil, notConfigured(pipeline.PhaseUnshielding, "cash-out")
		}
		ps := c.Snapshot()
		return c.deps.Cashout.Unshield(ctx, stage.QuickCashoutRequest{
			UserID:                ps.UserID,
			Amount:                cashoutAmount(ps),
			FiatCurrency:          ps.FiatCurrency,
			Commitment:            ps.Commitment,
			ExternalTransactionID: ps.PipelineID,
		})
	})
	if !ok {
		return
	}

	if c.Snapshot().OfframpURL == "" {
		ok = c.runStage(ctx, a, pipeline.PhaseSendingToMoonpay, func(ctx context.Context) (applier, error) {
			if c.deps.Offramp == nil {
				return nil, notConfigured(pipeline.PhaseSendingToMoonpay, "off-ramp")
			}
			ps := c.Snapshot()
			if ps.Offramp == nil {
				return nil, &stage.Error{Phase: pipeline.PhaseSendingToMoonpay, Message: "Off-ramp hand-off failed: no hand-off parameters"}
			}
			return c.deps.Offramp.HandOff(ctx, *ps.Offramp)
		})
		if !ok {
			return
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live(a) {
		return
	}
	if err := c.transitionLocked(func(ps *pipeline.PipelineState) {
		ps.Phase = pipeline.PhaseAwaitingFiat
	}); err != nil {
		c.failLocked(pipeline.PhaseAwaitingFiat, err, 0)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	st := c.state
	c.logger.Info("cash-out awaiting fiat", "pipeline_id", st.PipelineID, "path", st.Path, "offramp_url", st.OfframpURL != "")
	c.logf("awaiting fiat payout")
	c.record(st.PipelineID, db.EventAwaitingFiat, pipeline.PhaseAwaitingFiat, st.Path, st.OfframpURL)
	pipelinesTotal.WithLabelValues(string(st.Path), outcomeAwaiting).Inc()
	span.SetStatus(codes.Ok, "")
}

// runSwap runs the stealth address, swap and jitter stages.
func (c *Controller) runSwap(ctx context.Context, a *attempt, req pipeline.PipelineState) bool {
	ok := c.runStage(ctx, a, pipeline.PhaseCreatingSwapAddress, func(ctx context.Context) (applier, error) {
		if c.deps.Swap == nil {
			return nil, notConfigured(pipeline.PhaseCreatingSwapAddress, "swap")
		}
		return c.deps.Swap.CreateOutputAddress(ctx, req.SubOrgID)
	})
	if !ok {
		return false
	}

	ok = c.runStage(ctx, a, pipeline.PhaseSwapping, func(ctx context.Context) (applier, error) {
		if c.deps.Swap == nil {
			return nil, notConfigured(pipeline.PhaseSwapping, "swap")
		}
		ps := c.Snapshot()
		return c.deps.Swap.QuoteAndExecute(ctx, stage.SwapInput{
			InputMint:    req.Asset.Mint,
			Amount:       req.Amount,
			Destination:  ps.SwapOutputAddress,
			SessionKeyID: ps.SwapSessionKeyID,
		})
	})
	if !ok {
		return false
	}

	return c.runStage(ctx, a, pipeline.PhaseSwapComplete, func(ctx context.Context) (applier, error) {
		return c.runJitter(ctx, a)
	})
}

// runJitter waits a random delay between the swap and the shield so the two
// transactions cannot be linked by timing. The remaining time is published
// on every tick.
func (c *Controller) runJitter(ctx context.Context, a *attempt) (applier, error) {
	d, err := c.jitter.Next()
	if err != nil {
		return nil, &stage.Error{Phase: pipeline.PhaseSwapComplete, Message: fmt.Sprintf("Could not schedule jitter delay: %v", err), Err: err}
	}
	jitterDelay.Observe(d.Seconds())
	c.logf("jitter delay %s", d.Round(time.Second))

	c.mu.Lock()
	if c.live(a) {
		c.updateLocked(func(ps *pipeline.PipelineState) {
			ps.JitterTotalMs = d.Milliseconds()
			ps.JitterRemainingMs = d.Milliseconds()
		})
	}
	c.mu.Unlock()

	err = c.jitter.Wait(ctx, d, func(remaining time.Duration) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.live(a) {
			return
		}
		c.updateLocked(func(ps *pipeline.PipelineState) {
			ps.JitterRemainingMs = remaining.Milliseconds()
		})
	})
	if err != nil {
		return nil, err
	}
	return applyFunc(func(ps *pipeline.PipelineState) { ps.JitterRemainingMs = 0 }), nil
}

// runStage enters phase, runs fn and applies its result. It returns false
// when the attempt failed or is no longer live.
func (c *Controller) runStage(ctx context.Context, a *attempt, phase pipeline.Phase, fn func(ctx context.Context) (applier, error)) bool {
	c.mu.Lock()
	if !c.live(a) {
		c.mu.Unlock()
		return false
	}
	if err := c.transitionLocked(func(ps *pipeline.PipelineState) {
		ps.Phase = phase
	}); err != nil {
		c.failLocked(phase, err, 0)
		c.mu.Unlock()
		return false
	}
	pid, path := c.state.PipelineID, c.state.Path
	c.mu.Unlock()

	c.record(pid, db.EventStageEntered, phase, path, "")
	c.logger.Debug("stage entered", "pipeline_id", pid, "phase", phase)
	c.logf("%s", phase)

	sctx, span := tracer.Start(ctx, "cashout.stage."+string(phase),
		trace.WithAttributes(
			attribute.String("pipeline.id", pid),
			attribute.String("pipeline.path", string(path)),
		),
	)
	start := c.now()
	res, err := fn(sctx)
	elapsed := c.now().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live(a) {
		return false
	}
	if err != nil {
		c.failLocked(phase, err, elapsed)
		return false
	}

	if err := c.transitionLocked(func(ps *pipeline.PipelineState) {
		if res != nil {
			res.Apply(ps)
		}
		ps.StageHistory = append(ps.StageHistory, pipeline.StageHistoryEntry{
			Phase:    phase,
			Outcome:  "success",
			Duration: elapsed.Round(time.Millisecond).String(),
		})
	}); err != nil {
		c.failLocked(phase, err, elapsed)
		return false
	}
	stageTotal.WithLabelValues(string(phase), "success").Inc()
	stageDuration.WithLabelValues(string(phase)).Observe(elapsed.Seconds())
	return true
}

// transitionLocked applies mutate to a copy of the state, persists it and
// publishes it. The in-memory state is unchanged when persisting fails.
func (c *Controller) transitionLocked(mutate func(ps *pipeline.PipelineState)) error {
	next := c.state.Clone()
	mutate(next)
	next.UpdatedAt = c.now()
	if err := c.persist(next); err != nil {
		return &stage.Error{Phase: next.Phase, Message: fmt.Sprintf("Could not save pipeline state: %v", err), Err: err}
	}
	c.state = next
	c.notifyLocked()
	return nil
}

// updateLocked is transitionLocked for progress fields: a failed save is
// logged and the update is still published.
func (c *Controller) updateLocked(mutate func(ps *pipeline.PipelineState)) {
	next := c.state.Clone()
	mutate(next)
	next.UpdatedAt = c.now()
	if err := c.persist(next); err != nil {
		c.logger.Warn("save pipeline progress", "pipeline_id", next.PipelineID, "error", err)
	}
	c.state = next
	c.notifyLocked()
}

func (c *Controller) persist(ps *pipeline.PipelineState) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if ps.Phase.Terminal() {
		return c.deps.Store.Remove(ctx)
	}
	return c.deps.Store.Save(ctx, ps)
}

// failLocked moves the attempt to error at phase.
func (c *Controller) failLocked(phase pipeline.Phase, err error, elapsed time.Duration) {
	next := c.state.Clone()
	next.Phase = pipeline.PhaseError
	next.FailedAtPhase = phase
	next.Error = err.Error()
	next.JitterRemainingMs = 0
	next.UpdatedAt = c.now()

	var se *stage.Error
	if errors.As(err, &se) {
		next.Error = se.Message
	}
	var cf *complianceFailure
	if errors.As(err, &cf) {
		r := cf.result
		next.ComplianceResult = &r
	}
	next.StageHistory = append(next.StageHistory, pipeline.StageHistoryEntry{
		Phase:    phase,
		Outcome:  "fail",
		Duration: elapsed.Round(time.Millisecond).String(),
	})

	if perr := c.persist(next); perr != nil {
		c.logger.Error("save failed pipeline state", "pipeline_id", next.PipelineID, "error", perr)
	}
	c.state = next
	c.notifyLocked()

	c.logger.Error("stage failed",
		"pipeline_id", next.PipelineID,
		"phase", phase,
		"error", err,
	)
	c.logf("%s failed: %s", phase, next.Error)
	c.record(next.PipelineID, db.EventStageFailed, phase, next.Path, next.Error)
	stageTotal.WithLabelValues(string(phase), "fail").Inc()
	if elapsed > 0 {
		stageDuration.WithLabelValues(string(phase)).Observe(elapsed.Seconds())
	}
	pipelinesTotal.WithLabelValues(string(next.Path), outcomeFailed).Inc()
}

// cashoutAmount is the USDC amount to take out of the pool.
func cashoutAmount(ps pipeline.PipelineState) uint64 {
	if ps.SettlementAmount > 0 {
		return ps.SettlementAmount
	}
	return ps.Amount
}
