// cmd/migrate.go
package cmd

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables and exit",
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
		log.Info("[MIGRATE] done")
		return nil
	},
}
