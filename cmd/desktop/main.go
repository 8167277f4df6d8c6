// Package main provides the heard-sync command: the local sync core served
// over REST/WebSocket on localhost, plus one-shot maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eodiceanne-star/heard-app-beta/internal/config"
)

// Version is set at build time
var Version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "heard-sync",
	Short: "Offline-first sync core for Heard",
	Long: `heard-sync keeps Heard's local collections on disk and replays queued
changes against the remote API whenever it is reachable.

Run 'heard-sync serve' to expose the local status API on localhost.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "session", Title: "Session Commands:"},
	)
	rootCmd.AddCommand(serveCmd, syncCmd, statusCmd, queueCmd)
	rootCmd.AddCommand(listCmd, profileCmd, exportCmd, importCmd, clearCmd)
	rootCmd.AddCommand(loginCmd, signupCmd, logoutCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadApp loads configuration and wires the core for a command.
func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "heard-sync v%s\n", Version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
