package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/cashout/internal/watcher"
	"github.com/lucasnoah/cashout/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local control API and the payout watcher",
	Long: `Start the local HTTP API for starting, observing and controlling cash-outs.

Endpoints:
  GET  /health, /metrics
  GET  /api/pipeline, /api/pipeline/stream (SSE), /api/pipeline/history
  POST /api/pipeline, /api/pipeline/{cancel,retry,reset,complete}

Unless disabled, a watcher polls the off-ramp while a cash-out awaits fiat
and completes it when the payout lands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = a.cfg.Serve.Addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var history web.History
		if a.events != nil {
			history = a.events
		}
		srv := web.NewServer(a.ctrl, history, web.Defaults{
			WalletAddress: a.cfg.Wallet.Address,
			SubOrgID:      a.cfg.Wallet.SubOrgID,
			UserID:        a.cfg.Wallet.UserID,
			FiatCurrency:  a.cfg.Wallet.FiatCurrency,
		}, a.logger)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, addr)
		})

		if !a.cfg.Watcher.Disabled && a.cfg.Providers.Offramp.BaseURL != "" {
			w := watcher.New(gctx, a.ctrl, a.offramp, a.logger)
			if err := w.Register(a.cfg.Watcher.Schedule); err != nil {
				return err
			}
			g.Go(func() error {
				w.Start()
				<-gctx.Done()
				w.Stop()
				return nil
			})
		} else {
			a.logger.Info("payout watcher disabled")
		}

		err = g.Wait()
		// A running attempt is left persisted; the next start recovers it.
		if a.ctrl.Snapshot().Phase.InFlight() {
			a.logger.Warn("exiting with a cash-out in flight", "phase", a.ctrl.Snapshot().Phase)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default from config, 127.0.0.1:8547)")
}
