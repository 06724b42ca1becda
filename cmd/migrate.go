package cmd

import (
	"knoweasy/config"
	"knoweasy/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the test engine tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		log := logger.NewLogger(serviceName, cfg.LogLevel)

		db, err := openDB(cfg, log, true)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	},
}
