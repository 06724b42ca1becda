package cmd

import (
	"fmt"
	"time"

	"knoweasy/config"
	"knoweasy/logger"
	"knoweasy/services"

	"github.com/spf13/cobra"
)

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire attempts whose time limit has run out",
	Long:  "Runs one attempt sweep, for deployments that schedule it externally instead of running the in-process sweeper.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		log := logger.NewLogger(serviceName, cfg.LogLevel)

		db, err := openDB(cfg, log, false)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}

		attempts := services.NewAttemptService(db, attemptPolicy(cfg), services.WithLogger(log.Entry))
		expired, err := attempts.ExpireStaleAttempts(cmd.Context(), time.Now().UTC())
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d attempts\n", expired)
		return err
	},
}
