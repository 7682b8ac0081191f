package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lucasnoah/cashout/internal/orchestrator"
	"github.com/lucasnoah/cashout/internal/pipeline"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a cash-out and follow it until it awaits fiat",
	Long: `Start a cash-out of --amount base units of the asset described by the flags.

The command stays in the foreground until the attempt parks in awaiting_fiat,
fails or is cancelled. Ctrl-C cancels the attempt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := startRequestFromFlags(cmd)
		if err != nil {
			return err
		}

		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if req.WalletAddress == "" {
			req.WalletAddress = a.cfg.Wallet.Address
		}
		if req.SubOrgID == "" {
			req.SubOrgID = a.cfg.Wallet.SubOrgID
		}
		if req.UserID == "" {
			req.UserID = a.cfg.Wallet.UserID
		}
		if req.FiatCurrency == "" {
			req.FiatCurrency = a.cfg.Wallet.FiatCurrency
		}

		id, err := a.ctrl.StartCashout(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Started cash-out %s (%s)\n", id, pipeline.Classify(req.Asset))
		return follow(cmd, a.ctrl)
	},
}

func registerStartFlags(f *pflag.FlagSet) {
	f.String("mint", "", "token mint address")
	f.String("symbol", "", "token symbol")
	f.Uint8("decimals", 6, "token decimals")
	f.Uint64("amount", 0, "amount to cash out, in base units")
	f.Uint64("balance", 0, "wallet balance in base units (rejects amounts above it)")
	f.Bool("usdc", false, "the asset is USDC")
	f.Bool("shielded", false, "the funds are already in the privacy pool")
	f.Bool("rwa", false, "the asset is a tokenized real-world asset")
	f.String("fiat", "", "payout currency (default from config)")
	f.String("wallet", "", "wallet address (default from config)")
	f.String("sub-org", "", "custody sub-organization (default from config)")
}

// startRequestFromFlags builds the request from start's flags.
func startRequestFromFlags(cmd *cobra.Command) (orchestrator.StartRequest, error) {
	f := cmd.Flags()
	mint, _ := f.GetString("mint")
	symbol, _ := f.GetString("symbol")
	decimals, _ := f.GetUint8("decimals")
	amount, _ := f.GetUint64("amount")
	balance, _ := f.GetUint64("balance")
	isUSDC, _ := f.GetBool("usdc")
	shielded, _ := f.GetBool("shielded")
	rwa, _ := f.GetBool("rwa")
	fiat, _ := f.GetString("fiat")
	wallet, _ := f.GetString("wallet")
	subOrg, _ := f.GetString("sub-org")

	if amount == 0 {
		return orchestrator.StartRequest{}, fmt.Errorf("--amount is required")
	}
	return orchestrator.StartRequest{
		Asset: pipeline.CashoutAsset{
			Mint:       mint,
			Symbol:     symbol,
			Decimals:   decimals,
			Balance:    balance,
			IsShielded: shielded,
			IsUSDC:     isUSDC || shielded,
			IsRwa:      rwa,
		},
		Amount:        amount,
		FiatCurrency:  strings.ToLower(fiat),
		WalletAddress: wallet,
		SubOrgID:      subOrg,
	}, nil
}

// follow prints phase changes until the attempt stops running. SIGINT or
// SIGTERM cancels the attempt.
func follow(cmd *cobra.Command, ctrl *orchestrator.Controller) error {
	w := cmd.OutOrStdout()

	phases := make(chan pipeline.PipelineState, 64)
	unsubscribe := ctrl.Subscribe(func(ps pipeline.PipelineState) {
		select {
		case phases <- ps:
		default:
		}
	})
	defer unsubscribe()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan error, 1)
	go func() { done <- ctrl.Wait(context.Background()) }()

	last := ctrl.Snapshot().Phase
	for {
		select {
		case ps := <-phases:
			if ps.Phase != last {
				fmt.Fprintf(w, "  → %s\n", ps.Phase)
				last = ps.Phase
			}
		case <-sigCh:
			fmt.Fprintln(w, "Cancelling...")
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			err := ctrl.Cancel(ctx)
			cancel()
			if err != nil && !errors.Is(err, orchestrator.ErrCannotCancel) {
				return err
			}
		case err := <-done:
			if err != nil {
				return err
			}
			return printOutcome(cmd, ctrl.Snapshot())
		}
	}
}

func printOutcome(cmd *cobra.Command, ps pipeline.PipelineState) error {
	w := cmd.OutOrStdout()
	switch ps.Phase {
	case pipeline.PhaseAwaitingFiat:
		fmt.Fprintln(w, "Funds handed to the off-ramp. Waiting for the fiat payout.")
		if ps.OfframpURL != "" {
			fmt.Fprintf(w, "Complete the sale at: %s\n", ps.OfframpURL)
		}
		return nil
	case pipeline.PhaseError:
		fmt.Fprintf(w, "Failed during %s: %s\n", ps.FailedAtPhase, ps.Error)
		if pipeline.CanRetry(ps) {
			fmt.Fprintln(w, "Run `cashout retry` to try again.")
		}
		return fmt.Errorf("cash-out failed")
	case pipeline.PhaseCancelled:
		fmt.Fprintln(w, "Cash-out cancelled.")
		return nil
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current cash-out",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		// Read the record as stored: another process may own the attempt.
		saved, err := a.store.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("load pipeline state: %w", err)
		}
		ps := *pipeline.NewIdleState()
		if saved != nil && !saved.Phase.Terminal() {
			ps = *saved
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, ps)
		}
		printStatus(cmd, ps)
		if ps.Phase.InFlight() {
			fmt.Fprintln(cmd.OutOrStdout(), "\nThis stage is running in another cashout process, or that process exited mid-stage.")
		}
		return nil
	},
}

func printStatus(cmd *cobra.Command, ps pipeline.PipelineState) {
	out := cmd.OutOrStdout()
	if ps.Phase == pipeline.PhaseIdle {
		fmt.Fprintln(out, "No cash-out in progress.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Pipeline:\t%s\n", ps.PipelineID)
	fmt.Fprintf(w, "Phase:\t%s\n", ps.Phase)
	fmt.Fprintf(w, "Path:\t%s\n", ps.Path)
	if ps.Asset != nil {
		fmt.Fprintf(w, "Asset:\t%s (%d base units)\n", ps.Asset.Symbol, ps.Amount)
	}
	if ps.Phase == pipeline.PhaseSwapComplete && ps.JitterTotalMs > 0 {
		fmt.Fprintf(w, "Jitter:\t%s of %s remaining\n",
			time.Duration(ps.JitterRemainingMs)*time.Millisecond,
			time.Duration(ps.JitterTotalMs)*time.Millisecond)
	}
	if ps.Error != "" {
		fmt.Fprintf(w, "Error:\t%s (at %s)\n", ps.Error, ps.FailedAtPhase)
	}
	if ps.OfframpURL != "" {
		fmt.Fprintf(w, "Off-ramp:\t%s\n", ps.OfframpURL)
	}
	fmt.Fprintf(w, "Can retry:\t%v\n", pipeline.CanRetry(ps))
	fmt.Fprintf(w, "Can cancel:\t%v\n", pipeline.CanCancel(ps))
	w.Flush()

	if len(ps.StageHistory) > 0 {
		fmt.Fprintln(out)
		hw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(hw, "STAGE\tOUTCOME\tDURATION")
		for _, h := range ps.StageHistory {
			fmt.Fprintf(hw, "%s\t%s\t%s\n", h.Phase, h.Outcome, h.Duration)
		}
		hw.Flush()
	}
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the current cash-out",
	Long: `Cancel the persisted cash-out. An attempt found mid-stage was interrupted
when its process exited and is shown as an error; cancel clears it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := a.ctrl.Cancel(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cash-out cancelled.")
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Restart a failed cash-out from the beginning",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		id, err := a.ctrl.RetryFromFailure(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Retrying as %s\n", id)
		return follow(cmd, a.ctrl)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the current cash-out state and return to idle",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := a.ctrl.Reset(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Pipeline reset.")
		return nil
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete",
	Short: "Mark the cash-out complete once the fiat payout has arrived",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := a.ctrl.MarkComplete(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cash-out completed.")
		return nil
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Show the path and stages an asset would take",
	RunE: func(cmd *cobra.Command, args []string) error {
		isUSDC, _ := cmd.Flags().GetBool("usdc")
		shielded, _ := cmd.Flags().GetBool("shielded")
		path := pipeline.Classify(pipeline.CashoutAsset{IsUSDC: isUSDC, IsShielded: shielded})

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Path: %s\n", path)
		fmt.Fprintf(w, "Compliance prescreen: %v\n", path.RequiresCompliance())
		fmt.Fprintln(w, "Stages:")
		for _, p := range path.Stages() {
			fmt.Fprintf(w, "  %s\n", p)
		}
		return nil
	},
}

func init() {
	registerStartFlags(startCmd.Flags())
	startCmd.MarkFlagRequired("mint")
	startCmd.MarkFlagRequired("symbol")

	statusCmd.Flags().String("format", "text", "Output format: text or json")

	classifyCmd.Flags().Bool("usdc", false, "the asset is USDC")
	classifyCmd.Flags().Bool("shielded", false, "the funds are already in the privacy pool")
}
