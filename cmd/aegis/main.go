// Aegis — on-device security layer for the marketplace client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aegis-security/aegis/cmd/aegis/cli"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "aegis",
		Short: "Aegis — on-device security layer",
		Long: `Aegis provides encryption at rest, login throttling, session lifecycle
management with step-up re-authentication, and behavioral anomaly detection
for the marketplace client. This CLI drives the same facade the app uses.`,
		Version:      version,
		SilenceUsage: true,
	}

	cli.RegisterAuthCommands(rootCmd)
	cli.RegisterSessionCommands(rootCmd)
	cli.RegisterAuditCommands(rootCmd)
	cli.RegisterActivityCommands(rootCmd)
	cli.RegisterConfigCommands(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
