// Package watcher polls the off-ramp for the fiat payout of an attempt
// parked in awaiting_fiat and completes it when the payout lands.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lucasnoah/cashout/internal/pipeline"
	"github.com/lucasnoah/cashout/internal/provider"
)

// DefaultSchedule polls every 30 seconds.
const DefaultSchedule = "*/30 * * * * *"

// StatusChecker reports the off-ramp status of a transaction.
type StatusChecker interface {
	TransactionStatus(ctx context.Context, externalID string) (string, error)
}

// Pipeline is the part of the controller the watcher drives.
type Pipeline interface {
	Snapshot() pipeline.PipelineState
	MarkComplete(ctx context.Context) error
}

// Watcher runs the status poll on a cron schedule.
type Watcher struct {
	Cron     *cron.Cron
	pipeline Pipeline
	checker  StatusChecker
	logger   *slog.Logger
	timeout  time.Duration
	ctx      context.Context
}

// New creates a Watcher. ctx bounds every scheduled check.
func New(ctx context.Context, p Pipeline, checker StatusChecker, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		Cron:     cron.New(cron.WithSeconds()),
		pipeline: p,
		checker:  checker,
		logger:   logger,
		timeout:  15 * time.Second,
		ctx:      ctx,
	}
}

// Register adds the poll with the given six-field cron schedule. An empty
// schedule uses DefaultSchedule.
func (w *Watcher) Register(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := w.Cron.AddFunc(schedule, w.tick); err != nil {
		return fmt.Errorf("register payout watcher: %w", err)
	}
	return nil
}

// Start starts the scheduler.
func (w *Watcher) Start() {
	w.Cron.Start()
	w.logger.Info("payout watcher started")
}

// Stop stops the scheduler and waits for a running check to finish.
func (w *Watcher) Stop() {
	<-w.Cron.Stop().Done()
	w.logger.Info("payout watcher stopped")
}

func (w *Watcher) tick() {
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()
	if _, err := w.CheckNow(ctx); err != nil {
		w.logger.Warn("payout check failed", "error", err)
	}
}

// CheckNow checks the payout once. It returns the off-ramp status, or ""
// when nothing is awaiting fiat.
func (w *Watcher) CheckNow(ctx context.Context) (string, error) {
	ps := w.pipeline.Snapshot()
	if ps.Phase != pipeline.PhaseAwaitingFiat {
		return "", nil
	}

	externalID := ps.PipelineID
	if ps.Offramp != nil && ps.Offramp.ExternalTransactionID != "" {
		externalID = ps.Offramp.ExternalTransactionID
	}

	status, err := w.checker.TransactionStatus(ctx, externalID)
	if err != nil {
		return "", fmt.Errorf("check payout %s: %w", externalID, err)
	}

	switch status {
	case provider.StatusCompleted:
		if err := w.pipeline.MarkComplete(ctx); err != nil {
			return status, fmt.Errorf("mark complete: %w", err)
		}
		w.logger.Info("fiat payout received", "pipeline_id", ps.PipelineID)
	case provider.StatusFailed:
		// The funds sit with the off-ramp; a refund goes to the cash-out
		// address. Leave the attempt parked for the user to resolve.
		w.logger.Error("off-ramp reported payout failure",
			"pipeline_id", ps.PipelineID,
			"external_id", externalID,
		)
	default:
		w.logger.Debug("payout pending", "pipeline_id", ps.PipelineID)
	}
	return status, nil
}
