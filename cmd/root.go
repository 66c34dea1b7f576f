package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the jarvis application
var rootCmd = &cobra.Command{
	Use:   "jarvis",
	Short: "Google account access for the JARVIS voice assistant",
	Long: `jarvis manages the Google OAuth credentials the JARVIS voice assistant uses
for Gmail and Google Calendar.

It can run as:
  - A CLI to authorize accounts and run one-off mail and calendar requests
  - A long-running process that keeps the stored token fresh (serve)`,
	SilenceUsage: true,
}

// Flags shared by every command.
var (
	configPath  string
	accountName string
	debugMode   bool
	noBrowser   bool
)

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "jarvis version %s\n" .Version}}`)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the TOML config file (default: $XDG_CONFIG_HOME/jarvis/config.toml)")
	rootCmd.PersistentFlags().StringVar(&accountName, "account", "", "Local account name (default: 'default'). Can also use JARVIS_ACCOUNT env var.")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging. Can also use DEBUG_MODE env var.")
	rootCmd.PersistentFlags().BoolVar(&noBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")

	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newMailCmd())
	rootCmd.AddCommand(newCalendarCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
