package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RegisterActivityCommands adds suspicious-activity inspection and
// resolution.
func RegisterActivityCommands(root *cobra.Command) {
	activityCmd := &cobra.Command{
		Use:   "activity",
		Short: "Inspect suspicious-activity findings",
	}

	var userID string
	var unresolved bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List findings, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, err := buildOrchestrator()
			if err != nil {
				return err
			}
			findings := orch.SuspiciousActivities(userID, unresolved)
			if len(findings) == 0 {
				fmt.Println("No findings")
				return nil
			}
			for _, a := range findings {
				state := "open"
				if a.Resolved {
					state = "resolved"
				}
				fmt.Printf("%s  %-8s %-24s %-9s %s  %s\n",
					a.Timestamp.Format("2006-01-02 15:04:05"),
					a.Severity, a.ActivityType, state, a.UserID, a.ID)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&userID, "user", "", "filter by user id")
	listCmd.Flags().BoolVar(&unresolved, "unresolved", false, "only open findings")

	var resolvedBy string
	resolveCmd := &cobra.Command{
		Use:   "resolve <activity-id>",
		Short: "Mark a finding resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, err := buildOrchestrator()
			if err != nil {
				return err
			}
			if !orch.ResolveActivity(args[0], resolvedBy) {
				return fmt.Errorf("finding not found: %s", args[0])
			}
			fmt.Println("Resolved")
			return nil
		},
	}
	resolveCmd.Flags().StringVar(&resolvedBy, "by", "admin", "resolving actor")

	activityCmd.AddCommand(listCmd, resolveCmd)
	root.AddCommand(activityCmd)
}
