package cmd

import (
	"fmt"

	"knoweasy/config"
	"knoweasy/services"

	"github.com/spf13/cobra"
)

var linkParentCmd = &cobra.Command{
	Use:   "link-parent",
	Short: "Link a parent account to a student",
	RunE: func(cmd *cobra.Command, args []string) error {
		parentID, _ := cmd.Flags().GetUint("parent")
		studentID, _ := cmd.Flags().GetUint("student")
		if parentID == 0 || studentID == 0 {
			return fmt.Errorf("--parent and --student are required")
		}

		cfg := config.Load()
		client := config.InitRedis(cfg)
		defer client.Close()

		parents := services.NewRedisParentDirectory(client)
		if err := parents.Link(cmd.Context(), parentID, studentID); err != nil {
			return err
		}
		students, err := parents.LinkedStudents(cmd.Context(), parentID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "parent %d is linked to students %v\n", parentID, students)
		return nil
	},
}

func init() {
	linkParentCmd.Flags().Uint("parent", 0, "Parent user id")
	linkParentCmd.Flags().Uint("student", 0, "Student user id")
}
