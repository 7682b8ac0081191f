package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/lucasnoah/cashout/internal/compliance"
	"github.com/lucasnoah/cashout/internal/db"
	"github.com/lucasnoah/cashout/internal/jitter"
	"github.com/lucasnoah/cashout/internal/pipeline"
	"github.com/lucasnoah/cashout/internal/stage"
)

var (
	ErrAttemptActive   = errors.New("a cash-out attempt is already active")
	ErrInvalidRequest  = errors.New("invalid cash-out request")
	ErrCannotCancel    = errors.New("cash-out cannot be cancelled in its current phase")
	ErrCannotRetry     = errors.New("cash-out cannot be retried")
	ErrNotAwaitingFiat = errors.New("cash-out is not awaiting fiat")
)

var validate = validator.New()

// Deps are the collaborators a Controller drives.
type Deps struct {
	Store    pipeline.Store
	Gate     *compliance.Gate
	Swap     *stage.Swap
	Shield   *stage.Shield
	Cashout  *stage.Cashout
	Offramp  *stage.Offramp
	Sessions stage.SessionCanceller // optional
	Jitter   *jitter.Scheduler
	Recorder db.Recorder // optional
	Logger   *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator overrides pipeline id generation (for testing).
func WithIDGenerator(f func() string) Option {
	return func(c *Controller) { c.newID = f }
}

// WithProgress sets a writer for live progress output (e.g. os.Stderr).
func WithProgress(w io.Writer) Option {
	return func(c *Controller) { c.progress = w }
}

// StartRequest is the input to StartCashout.
type StartRequest struct {
	Asset         pipeline.CashoutAsset `json:"asset"`
	Amount        uint64                `json:"amount" validate:"gt=0"`
	FiatCurrency  string                `json:"fiat_currency" validate:"omitempty,len=3,alpha"`
	WalletAddress string                `json:"wallet_address" validate:"required"`
	SubOrgID      string                `json:"sub_org_id" validate:"required"`
	UserID        string                `json:"user_id"`
}

// Controller owns the single active cash-out attempt: it sequences stages,
// persists after every transition and notifies listeners.
type Controller struct {
	deps     Deps
	logger   *slog.Logger
	recorder db.Recorder
	jitter   *jitter.Scheduler
	now      func() time.Time
	newID    func() string
	progress io.Writer

	mu        sync.Mutex
	state     *pipeline.PipelineState
	current   *attempt
	listeners []listener
	nextLID   int

	// interrupted is the stage of a recovered attempt not yet acted on.
	interrupted pipeline.Phase
}

type listener struct {
	id int
	fn func(pipeline.PipelineState)
}

// attempt is one run of the stage sequence. cancelled is guarded by
// Controller.mu; done closes when the run goroutine exits.
type attempt struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
}

func (a *attempt) finished() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// New creates a Controller in the idle phase. Call Recover to load any
// persisted attempt.
func New(deps Deps, opts ...Option) *Controller {
	c := &Controller{
		deps:     deps,
		logger:   deps.Logger,
		recorder: deps.Recorder,
		jitter:   deps.Jitter,
		now:      time.Now,
		newID:    uuid.NewString,
		state:    pipeline.NewIdleState(),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.recorder == nil {
		c.recorder = db.NoopRecorder{}
	}
	if c.jitter == nil {
		c.jitter = jitter.New(jitter.DefaultTick)
	}
	if c.deps.Store == nil {
		c.deps.Store = pipeline.NewMemoryStore()
	}
	if c.deps.Gate == nil {
		c.deps.Gate = compliance.NewGate(nil, 0, c.logger)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// logf prints a progress line if a progress writer is configured.
func (c *Controller) logf(format string, args ...interface{}) {
	if c.progress != nil {
		fmt.Fprintf(c.progress, "  → "+format+"\n", args...)
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() pipeline.PipelineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.state.Clone()
}

// Subscribe registers fn for every state change and returns a function
// that removes it. fn runs synchronously under the controller lock: it must
// not block or call back into the Controller.
func (c *Controller) Subscribe(fn func(pipeline.PipelineState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextLID++
	id := c.nextLID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Controller) notifyLocked() {
	for _, l := range c.listeners {
		l.fn(*c.state.Clone())
	}
}

func (c *Controller) record(pipelineID, event string, phase pipeline.Phase, path pipeline.Path, detail string) {
	if err := c.recorder.LogPipelineEvent(pipelineID, event, string(phase), string(path), detail); err != nil {
		c.logger.Warn("record pipeline event", "event", event, "error", err)
	}
}

// StartCashout validates req, classifies the asset and runs the stage
// sequence in the background. It returns the new pipeline id. Progress is
// observed through Subscribe, Snapshot and Wait.
func (c *Controller) StartCashout(ctx context.Context, req StartRequest) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(ctx, req)
}

func validateRequest(req StartRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Asset.Balance > 0 && req.Amount > req.Asset.Balance {
		return fmt.Errorf("%w: amount %d exceeds balance %d", ErrInvalidRequest, req.Amount, req.Asset.Balance)
	}
	return nil
}

func (c *Controller) busyLocked() bool {
	if pipeline.IsActive(*c.state) {
		return true
	}
	a := c.current
	return a != nil && !a.cancelled && !a.finished()
}

func (c *Controller) startLocked(ctx context.Context, req StartRequest) (string, error) {
	if c.busyLocked() {
		return "", ErrAttemptActive
	}

	fiat := req.FiatCurrency
	if fiat == "" {
		fiat = "usd"
	}
	userID := req.UserID
	if userID == "" {
		userID = req.WalletAddress
	}
	asset := req.Asset
	now := c.now()

	ps := &pipeline.PipelineState{
		Version:       pipeline.SchemaVersion,
		PipelineID:    c.newID(),
		Phase:         pipeline.PhaseIdle,
		Path:          pipeline.Classify(asset),
		Asset:         &asset,
		Amount:        req.Amount,
		FiatCurrency:  fiat,
		WalletAddress: req.WalletAddress,
		SubOrgID:      req.SubOrgID,
		UserID:        userID,
		StartedAt:     now,
		UpdatedAt:     now,
	}

	// The run outlives the caller's request but keeps its values.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &attempt{id: ps.PipelineID, ctx: runCtx, cancel: cancel, done: make(chan struct{})}

	c.state = ps
	c.current = a

	c.logger.Info("cash-out started",
		"pipeline_id", ps.PipelineID,
		"path", ps.Path,
		"symbol", asset.Symbol,
		"amount", ps.Amount,
	)
	c.logf("cash-out %s: %s %d via %s", ps.PipelineID, asset.Symbol, ps.Amount, ps.Path)
	c.record(ps.PipelineID, db.EventStarted, "", ps.Path, fmt.Sprintf("symbol=%s amount=%d", asset.Symbol, ps.Amount))
	pipelinesTotal.WithLabelValues(string(ps.Path), outcomeStarted).Inc()

	go c.run(a, *ps.Clone())
	return ps.PipelineID, nil
}

// Wait blocks until the latest attempt's run goroutine has exited, i.e. the
// attempt parked in awaiting_fiat, failed or was cancelled.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	a := c.current
	c.mu.Unlock()
	if a == nil {
		return nil
	}
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the active attempt. The jitter countdown stops before Cancel
// returns and no later stage result is applied. The swap session is released
// best-effort; its failure still ends in cancelled.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if !pipeline.CanCancel(*c.state) {
		phase := c.state.Phase
		c.mu.Unlock()
		return fmt.Errorf("%w (phase %s)", ErrCannotCancel, phase)
	}
	c.noteRecoveredLocked()
	if a := c.current; a != nil && a.id == c.state.PipelineID {
		a.cancelled = true
		a.cancel()
	}
	pid := c.state.PipelineID
	sessionKey := c.state.SwapSessionKeyID
	c.mu.Unlock()

	if sessionKey != "" && c.deps.Sessions != nil {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := c.deps.Sessions.CancelSession(cctx, sessionKey); err != nil {
			c.logger.Warn("cancel swap session", "pipeline_id", pid, "error", err)
		}
		cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.PipelineID != pid || !pipeline.CanCancel(*c.state) {
		// Reset or another cancel got there first.
		return nil
	}

	prev := c.state.Phase
	next := c.state.Clone()
	next.Phase = pipeline.PhaseCancelled
	next.UpdatedAt = c.now()
	if prev.InFlight() {
		next.StageHistory = append(next.StageHistory, pipeline.StageHistoryEntry{Phase: prev, Outcome: "cancelled"})
	}
	if err := c.deps.Store.Remove(ctx); err != nil {
		c.logger.Error("remove pipeline state after cancel", "pipeline_id", pid, "error", err)
	}
	c.state = next
	c.notifyLocked()

	c.logger.Info("cash-out cancelled", "pipeline_id", pid, "phase", prev)
	c.logf("cancelled during %s", prev)
	c.record(pid, db.EventCancelled, prev, next.Path, "")
	pipelinesTotal.WithLabelValues(string(next.Path), outcomeCancelled).Inc()
	return nil
}

// RetryFromFailure restarts a failed attempt from the top with a fresh
// pipeline id, using the original request.
func (c *Controller) RetryFromFailure(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ps := c.state
	if !pipeline.CanRetry(*ps) {
		return "", fmt.Errorf("%w (phase %s)", ErrCannotRetry, ps.Phase)
	}
	if ps.Asset == nil || ps.Amount == 0 {
		return "", fmt.Errorf("%w: original asset and amount are missing", ErrCannotRetry)
	}
	c.noteRecoveredLocked()
	if a := c.current; a != nil && !a.finished() {
		a.cancelled = true
		a.cancel()
	}

	req := StartRequest{
		Asset:         *ps.Asset,
		Amount:        ps.Amount,
		FiatCurrency:  ps.FiatCurrency,
		WalletAddress: ps.WalletAddress,
		SubOrgID:      ps.SubOrgID,
		UserID:        ps.UserID,
	}
	if err := validateRequest(req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCannotRetry, err)
	}

	oldID := ps.PipelineID
	failedAt := ps.FailedAtPhase
	c.state = pipeline.NewIdleState()
	c.current = nil

	id, err := c.startLocked(ctx, req)
	if err != nil {
		c.state = ps
		return "", err
	}
	c.record(oldID, db.EventRetried, failedAt, ps.Path, "retried as "+id)
	return id, nil
}

// Reset aborts any attempt, clears persisted state and returns to idle.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a := c.current; a != nil {
		a.cancelled = true
		a.cancel()
	}
	c.noteRecoveredLocked()
	prev := c.state
	err := c.deps.Store.Remove(ctx)

	c.state = pipeline.NewIdleState()
	c.notifyLocked()

	if prev.PipelineID != "" {
		c.record(prev.PipelineID, db.EventReset, prev.Phase, prev.Path, "")
	}
	c.logger.Info("pipeline reset", "pipeline_id", prev.PipelineID, "phase", prev.Phase)
	if err != nil {
		return fmt.Errorf("clear pipeline state: %w", err)
	}
	return nil
}

// MarkComplete records that the fiat payout arrived.
func (c *Controller) MarkComplete(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != pipeline.PhaseAwaitingFiat {
		return fmt.Errorf("%w (phase %s)", ErrNotAwaitingFiat, c.state.Phase)
	}
	if err := c.deps.Store.Remove(ctx); err != nil {
		return fmt.Errorf("clear pipeline state: %w", err)
	}

	now := c.now()
	next := c.state.Clone()
	next.Phase = pipeline.PhaseCompleted
	next.UpdatedAt = now
	next.CompletedAt = &now
	c.state = next
	c.notifyLocked()

	c.logger.Info("cash-out completed", "pipeline_id", next.PipelineID, "path", next.Path)
	c.logf("completed")
	c.record(next.PipelineID, db.EventCompleted, pipeline.PhaseCompleted, next.Path, "")
	pipelinesTotal.WithLabelValues(string(next.Path), outcomeCompleted).Inc()
	return nil
}

// Recover loads the persisted attempt. An attempt found in a stage phase
// was interrupted: it is surfaced in memory as an error at that phase and
// never resumed. error and awaiting_fiat records are restored as they are.
// Recover never writes the store; the next transition (cancel, retry, reset
// or a new start) does.
func (c *Controller) Recover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busyLocked() {
		return nil
	}

	ps, err := c.deps.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load pipeline state: %w", err)
	}
	if ps == nil || ps.Phase.Terminal() {
		return nil
	}

	if ps.Phase.InFlight() {
		interrupted := ps.Phase
		ps.FailedAtPhase = interrupted
		ps.Phase = pipeline.PhaseError
		ps.Error = fmt.Sprintf("Cash-out was interrupted during %s. Verify your balances before retrying.", interrupted)
		ps.JitterRemainingMs = 0
		ps.StageHistory = append(ps.StageHistory, pipeline.StageHistoryEntry{Phase: interrupted, Outcome: "interrupted"})
		c.interrupted = interrupted
		c.logger.Warn("found interrupted cash-out", "pipeline_id", ps.PipelineID, "phase", interrupted)
	}

	c.state = ps
	c.notifyLocked()
	return nil
}

// noteRecoveredLocked logs the recovery of an interrupted attempt the first
// time a command acts on it.
func (c *Controller) noteRecoveredLocked() {
	if c.interrupted == "" {
		return
	}
	c.record(c.state.PipelineID, db.EventRecovered, c.interrupted, c.state.Path, c.state.Error)
	c.interrupted = ""
}
