package command

// root.go defines the root command and the global flags.

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var adminURL string // admin API base URL used by the peers commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "p2pmsg",
	Short: "p2pmsg - plain TCP peer messaging node",
	Long: `p2pmsg runs a peer messaging node speaking a newline-delimited JSON protocol:
- Hello handshake on every connection
- Ping / Pong liveness checks
- Terminate for a graceful close

Use "p2pmsg run" to start a node and "p2pmsg peers" to inspect or drive a running one.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminURL, "admin", "http://127.0.0.1:12380", "admin API URL of a running node")
}
