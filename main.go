// Package main provides the chatspot binary: a terminal front end over the
// chat client core.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "chatspot"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are the persistent flags shared by every subcommand. Non-empty
// values win over the config file and the environment.
type globalFlags struct {
	configPath string
	logLevel   string
	storePath  string
	apiURL     string
	wsURL      string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "One-to-one chat from the terminal",
		Long: `Chatspot is a one-to-one chat client. Messages travel over a
websocket connection and are kept in a local store, so history and the
conversation list are available offline.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flags.storePath, "store", "", "Local store path")
	pf.StringVar(&flags.apiURL, "api-url", "", "Base URL of the chat API")
	pf.StringVar(&flags.wsURL, "ws-url", "", "Websocket endpoint, defaults to the API URL")

	cmd.AddCommand(
		registerCmd(flags),
		loginCmd(flags),
		logoutCmd(flags),
		whoamiCmd(flags),
		sendCmd(flags),
		clearCmd(flags),
		deleteCmd(flags),
		roomsCmd(flags),
		historyCmd(flags),
		watchCmd(flags),
		configCmd(flags),
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}
