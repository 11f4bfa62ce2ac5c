// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "salon-referral",
	Short: "Square referral and loyalty backend",
	Long: "Receives Square webhooks, attributes referrals, issues gift card rewards,\n" +
		"serves Apple Wallet passes and the admin analytics API.",
	SilenceUsage: true,
	RunE:         runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, reconcileCmd)
}
