// Command satcat5d runs an all-software SatCat5 Ethernet switch, with an
// optional IPv4 router layered on top, wired together from a YAML
// configuration file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/the-aerospace-corporation/satcat5-sub003/internal/config"
)

// configPath is the global --config flag shared by every subcommand.
var configPath string

// rootCmd is the top-level cobra command for satcat5d.
var rootCmd = &cobra.Command{
	Use:   "satcat5d",
	Short: "All-software SatCat5 switch and IPv4 router daemon",
	Long:  "satcat5d builds a SatCat5 switch fabric, and optionally an IPv4 router, from a YAML configuration file.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(portCmd())
}

// loadConfig reads configPath (or "" for defaults-plus-env-only) and
// validates the result.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
