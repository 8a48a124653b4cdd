package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Exit codes: one per failure class so callers can tell a failing step
// from a definition that never loaded.
const (
	exitOK          = 0
	exitFailure     = 1
	exitParseError  = 2
	exitUnknownTask = 3
	exitNoArtifact  = 4
)

var (
	verbose  bool
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "boxci",
	Short: "a minimal pipeline execution engine",
	Long:  "boxci loads a declarative pipeline definition, expands its parameter matrices and runs the resulting jobs.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())

	// commands report their outcome through exitCode instead of calling
	// os.Exit themselves, so their defers (signal handlers, log flushes)
	// still run
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitFailure)
	}
	os.Exit(exitCode)
}
