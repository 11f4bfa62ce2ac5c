// cmd/reconcile.go
package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"salon-referral-system/services"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass and print what it found",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadEnv()
		if err != nil {
			return err
		}
		defer log.Sync()

		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		if err := migrate(db); err != nil {
			return err
		}

		pub := services.NewLogPublisher(log)
		report, err := services.NewReconcileService(db, pub, log).Run(cmd.Context())
		if err != nil {
			return err
		}

		kinds := make([]string, 0, len(report.Found))
		for kind := range report.Found {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		out := cmd.OutOrStdout()
		for _, kind := range kinds {
			fmt.Fprintf(out, "%-40s %d\n", kind, report.Found[kind])
		}
		fmt.Fprintf(out, "new alerts raised: %d\n", report.Raised)
		return nil
	},
}
