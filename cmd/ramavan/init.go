package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().String("user-id", "", "authenticated user id")
	initCmd.Flags().String("username", "", "authenticated username")
}

var initCmd = &cobra.Command{
	Use:   "init <base-url> <token>",
	Short: "Store server URL and token in ~/.ramavan/config.toml",
	Long:  "Initialize the Ramavan CLI by storing the server base URL and your access token\nin the local configuration file.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseURL, token := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.BaseURL = baseURL
		cfg.Auth.Token = token
		if v, _ := cmd.Flags().GetString("user-id"); v != "" {
			cfg.Auth.UserID = v
		}
		if v, _ := cmd.Flags().GetString("username"); v != "" {
			cfg.Auth.Username = v
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Configuration saved to %s\n", path)
		return nil
	},
}
