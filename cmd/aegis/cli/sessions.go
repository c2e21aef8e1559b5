package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// RegisterSessionCommands adds session inspection and sensitive-action
// helpers.
func RegisterSessionCommands(root *cobra.Command) {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect the current security session",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the session is live",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, err := buildOrchestrator()
			if err != nil {
				return err
			}
			if orch.ValidateSecureSession() {
				fmt.Println("Session is live")
			} else {
				fmt.Println("No live session")
			}
			return nil
		},
	}

	var proof string
	sensitiveCmd := &cobra.Command{
		Use:   "sensitive <action> <resource>",
		Short: "Perform a step-up-gated action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, err := buildOrchestrator()
			if err != nil {
				return err
			}
			if proof == "" {
				// Step-up proof only needed when the window is closed.
				if p, perr := promptSecret("Proof (enter to skip)"); perr == nil {
					proof = p
				}
			}
			if err := orch.PerformSensitiveAction(context.Background(), args[0], args[1], proof); err != nil {
				return err
			}
			fmt.Println("Action accepted")
			return nil
		},
	}
	sensitiveCmd.Flags().StringVar(&proof, "proof", "", "step-up proof")

	sessionCmd.AddCommand(statusCmd, sensitiveCmd)
	root.AddCommand(sessionCmd)
}
