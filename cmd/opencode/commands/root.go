// Package commands provides the CLI commands for the agent engine.
package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time.
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	logLevel string
	logJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "ndc-agent",
	Short: "ndc-agent - interactive AI coding agent engine",
	Long: `ndc-agent drives a multi-round conversation with an LLM, executes
tools under a permission policy, verifies that declared tasks truly
completed, and persists session and learning state across restarts.

Run 'ndc-agent run "<message>"' to drive one turn, or 'ndc-agent verify
<task-id>' to run the Task Verifier against persisted task state.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
		if !logJSON {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit structured JSON logs instead of console output")
	rootCmd.SetVersionTemplate(fmt.Sprintf("ndc-agent %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(modelsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// workDir returns dir if set, otherwise the process's current directory.
func workDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
