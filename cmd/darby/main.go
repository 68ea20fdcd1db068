package main

import (
	"context"
	"errors"
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
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status: 124 for timeouts,
// 1 for everything else.
func exitCode(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return 124
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "darby",
	Short: "Darby - personal automation assistant on small local models",
	Long: `Darby answers requests with the cheapest resource that can serve them:
instant answers and bash shortcuts straight from the capability manifest,
a native keyword classifier, and only then a small model resolved from a
local-first provider chain (on-device, MLX, Ollama, LM Studio, Groq,
Gemini, Anthropic).

Run it once per request, or keep "darby daemon" running to watch mail,
calendar, chat, notification, and repository sources and to execute
scheduled tasks.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("Darby version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Darby version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
