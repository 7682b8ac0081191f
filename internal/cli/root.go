package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configFile string
	logLevel   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "cashout",
	Short: "cashout: private crypto-to-fiat cash-out pipeline",
	Long: `cashout converts a wallet holding into fiat without linking the wallet
to the payout: it screens the wallet, swaps tokenized assets to USDC at a
stealth address, waits a random delay, shields into the privacy pool and
unshields to a single-use address handed to the fiat off-ramp.

Only one cash-out runs at a time. Its state is persisted after every step
(~/.cashout by default) and every transition is logged to SQLite.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file (default ./cashout.yaml or ~/.cashout/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print stage progress to stderr")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}
