package cmd

import (
	"knoweasy/config"
	"knoweasy/logger"
	"knoweasy/models"
	"knoweasy/services"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const serviceName = "knoweasy-tests"

var rootCmd = &cobra.Command{
	Use:   "knoweasy",
	Short: "KnowEasy test engine",
	Long:  "KnowEasy test engine: question bank, timed attempts and server-side scoring.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(linkParentCmd)
}

func attemptPolicy(cfg *config.Config) services.AttemptPolicy {
	return services.AttemptPolicy{
		AllowConcurrent:      cfg.Attempts.AllowConcurrent,
		FloorAtZero:          cfg.Attempts.FloorScoreAtZero,
		IncludeLateQuestions: cfg.Attempts.ScoreLateQuestions,
	}
}

// openDB connects to Postgres and migrates the schema when enabled.
func openDB(cfg *config.Config, log *logger.Logger, migrate bool) (*gorm.DB, error) {
	db, err := config.InitDB(cfg, log.Entry)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := models.AutoMigrate(db); err != nil {
			return nil, err
		}
		log.Info("Database schema migrated")
	}
	return db, nil
}
