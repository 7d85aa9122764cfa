package main

import (
	"fmt"

	linsta "github.com/Bhupesh-S/Linsta-sub003"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store a session token in ~/.linsta/config.toml",
	Long:  "Store a bearer session token obtained from the Linsta app or backend.\nThe user id is read from the token's claims.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		session, err := linsta.NewSession(token)
		if err != nil {
			return fmt.Errorf("token rejected: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth.Token = token
		cfg.Auth.UserID = session.UserID
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Logged in as %s (saved to %s)\n", session.UserID, path)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the current session's user id",
	RunE: func(cmd *cobra.Command, args []string) error {
		session := getSession()
		fmt.Println(session.UserID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Drop the stored session token and cached conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		session := getSession()
		_ = session.Store.ClearCache()
		session.Close()

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth.Token = ""
		cfg.Auth.UserID = ""
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Logged out.")
		return nil
	},
}
