// Package main is lessonctl, the operator CLI for the lessons engine.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/lessons/pkg/logger"
)

var (
	serverAddr string
	logLevel   string
	jsonOutput bool

	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lessonctl",
	Short: "Operate the lessons engine",
	Long: `lessonctl talks to a running lessons server to trigger miner runs,
inspect and toggle overrides, and resolve lever deltas for a decision.

Examples:
  lessonctl mine
  lessonctl mine --book alpha
  lessonctl overrides list --active
  lessonctl overrides disable 6f1c...
  lessonctl match --pattern pm.uptrend.S1.buy_flag --category entry \
    --scope macro_phase=Recover,meso_phase=Rise,bucket=micro,timeframe=1h,volatility=normal,applied_mode_A=standard,applied_mode_E=trail`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = logger.New(logger.Config{Level: logLevel, Pretty: true, Output: os.Stderr})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", envOr("LESSONS_SERVER", "http://localhost:8010"), "Base URL of the lessons server")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON responses")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
