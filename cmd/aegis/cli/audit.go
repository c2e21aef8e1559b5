package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RegisterAuditCommands adds audit log inspection.
func RegisterAuditCommands(root *cobra.Command) {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the security audit log",
	}

	var userID string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, err := buildOrchestrator()
			if err != nil {
				return err
			}
			entries := orch.GetAuditLogs(userID, limit)
			if len(entries) == 0 {
				fmt.Println("No audit entries")
				return nil
			}
			for _, e := range entries {
				outcome := "ok"
				if !e.Success {
					outcome = "denied"
				}
				fmt.Printf("%s  %-26s %-16s %-8s %s\n",
					e.Timestamp.Format("2006-01-02 15:04:05"),
					e.Action, e.Resource, outcome, e.UserID)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&userID, "user", "", "filter by user id")
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")

	auditCmd.AddCommand(listCmd)
	root.AddCommand(auditCmd)
}
