package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	app := &app{}

	rootCmd := &cobra.Command{
		Use:   "pricewatch",
		Short: "Price alert monitor",
		Long: `pricewatch keeps market prices up to date on a fixed cadence and fires
user-defined price alerts the first time their condition holds.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.loadConfig()
		},
	}

	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "path to configuration file (defaults and PRICEWATCH_* environment only when empty)")
	rootCmd.PersistentFlags().BoolVar(&app.debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newOnceCmd(app))
	rootCmd.AddCommand(newSeedCmd(app))
	rootCmd.AddCommand(newPricesCmd(app))
	rootCmd.AddCommand(newAlertsCmd(app))

	return rootCmd
}
