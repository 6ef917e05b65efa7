package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rover",
	Short: "Rover - supervised real-time robot controller",
	Long: `Rover runs a robot control pipeline (input, sense, plan, act, robot,
output) as independently supervised modules. A supervisor watches module
heartbeats, scores their health and restarts, resets, degrades or isolates
modules that fail. Any actuating module halts on the system-wide emergency stop.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Rover version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Log JSON lines instead of console output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(failuresCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(estopCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Rover version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}
