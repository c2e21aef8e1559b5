package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aegis-security/aegis/internal/core"
)

// RegisterAuthCommands adds login and logout.
func RegisterAuthCommands(root *cobra.Command) {
	var deviceID string

	loginCmd := &cobra.Command{
		Use:   "login <identity>",
		Short: "Authenticate through the security pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, err := buildOrchestrator()
			if err != nil {
				return err
			}

			secret, err := promptSecret("Secret")
			if err != nil {
				return err
			}

			result, err := orch.SecureLogin(context.Background(), args[0], secret, deviceID, "")
			if err != nil {
				var lockErr *core.LockoutError
				if errors.As(err, &lockErr) {
					return fmt.Errorf("account locked, retry in %d minutes", lockErr.MinutesRemaining)
				}
				return err
			}

			fmt.Printf("Signed in as %s (%s)\n", result.User.UserID, result.User.Role)
			return nil
		},
	}
	loginCmd.Flags().StringVar(&deviceID, "device", hostDeviceID(), "device identifier")

	logoutCmd := &cobra.Command{
		Use:   "logout <user-id>",
		Short: "End the current session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, err := buildOrchestrator()
			if err != nil {
				return err
			}
			orch.SecureLogout(args[0], deviceID)
			fmt.Println("Signed out")
			return nil
		},
	}
	logoutCmd.Flags().StringVar(&deviceID, "device", hostDeviceID(), "device identifier")

	root.AddCommand(loginCmd, logoutCmd)
}

func hostDeviceID() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown-device"
	}
	return host
}
