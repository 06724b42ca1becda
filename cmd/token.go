package cmd

import (
	"fmt"
	"time"

	"knoweasy/config"
	"knoweasy/middleware"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed access token for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetUint("user")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		if userID == 0 {
			return fmt.Errorf("--user is required")
		}
		switch role {
		case middleware.RoleStudent, middleware.RoleParent, middleware.RoleAdmin:
		default:
			return fmt.Errorf("unknown role %q", role)
		}

		cfg := config.Load()
		token, err := middleware.GenerateToken(cfg.JWTSecret, userID, role, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Uint("user", 0, "User id to embed in the token")
	tokenCmd.Flags().String("role", middleware.RoleStudent, "Role: student, parent or admin")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}
