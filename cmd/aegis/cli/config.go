package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aegis-security/aegis/internal/config"
)

// RegisterConfigCommands adds configuration inspection and editing.
func RegisterConfigCommands(root *cobra.Command) {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage client configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Printf("log_level:    %s\n", cfg.LogLevel)
			fmt.Printf("store_driver: %s\n", cfg.StoreDriver)
			fmt.Printf("store_path:   %s\n", cfg.StorePath)
			fmt.Printf("verifier_url: %s\n", cfg.VerifierURL)
			fmt.Printf("alert_url:    %s\n", cfg.AlertURL)
			return nil
		},
	}

	var (
		logLevel    string
		storeDriver string
		verifierURL string
		alertURL    string
	)
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Update configuration values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("store-driver") {
				if storeDriver != "sqlite" && storeDriver != "memory" {
					return fmt.Errorf("unknown store driver %q", storeDriver)
				}
				cfg.StoreDriver = storeDriver
			}
			if cmd.Flags().Changed("verifier-url") {
				cfg.VerifierURL = verifierURL
			}
			if cmd.Flags().Changed("alert-url") {
				cfg.AlertURL = alertURL
			}
			if err := config.Save(cfg); err != nil {
				return err
			}
			fmt.Println("Configuration saved")
			return nil
		},
	}
	setCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (trace..error)")
	setCmd.Flags().StringVar(&storeDriver, "store-driver", "", "storage driver (sqlite or memory)")
	setCmd.Flags().StringVar(&verifierURL, "verifier-url", "", "credential verification endpoint")
	setCmd.Flags().StringVar(&alertURL, "alert-url", "", "admin alert webhook")

	configCmd.AddCommand(showCmd, setCmd)
	root.AddCommand(configCmd)
}
