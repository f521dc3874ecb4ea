package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rezonia/fiscal-sync/internal/config"
)

var (
	version = "1.0.0"

	// Global flags
	verbose      bool
	outputFormat string
	profilesPath string
	logLevel     string

	cfg    *config.Config
	cfgErr error
)

var rootCmd = &cobra.Command{
	Use:   "fiscal-sync",
	Short: "Download CFDI invoices from the SAT and reconcile them with Zoho Books",
	Long: `fiscal-sync retrieves the fiscal documents issued to a taxpayer through the
SAT bulk download service, stores them as batches and reconciles them against
bills already recorded in Zoho Books.

Examples:
  # Download January's received invoices for one taxpayer
  fiscal-sync sync --rfc AAA010101AAA --start 2024-01-01 --end 2024-01-31

  # Run the daily sync for every flagged taxpayer
  fiscal-sync sync-all

  # Parse downloaded documents without touching any service
  fiscal-sync parse downloads/AAA010101AAA/ -f table

  # Check a stored batch against Zoho Books, then push what is missing
  fiscal-sync reconcile <batch-id> --rfc AAA010101AAA
  fiscal-sync publish <batch-id> --rfc AAA010101AAA`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json, table)")
	rootCmd.PersistentFlags().StringVar(&profilesPath, "profiles", "", "Taxpayer profiles file (env: PROFILES_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (env: LOG_LEVEL)")

	// Load from environment variables if not set via flags
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	cfg, cfgErr = config.Load()
	if cfgErr != nil {
		return
	}
	if profilesPath == "" {
		profilesPath = cfg.Profiles
	}
	if logLevel == "" {
		logLevel = cfg.Log.Level
	}
	if verbose {
		logLevel = "debug"
	}
}

func requireConfig() error {
	if cfgErr != nil {
		return fmt.Errorf("invalid configuration: %w", cfgErr)
	}
	return nil
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
