// Package main provides the CLI for the Deal Engine.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/filters"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/report"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Exit statuses.
const (
	exitError      = 1
	exitNoRated    = 2
	exitInvalidArg = 64
)

var (
	cfgFile    string
	outputJSON bool
	verbose    bool
	noColor    bool

	cfg    *config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:   "deal-engine-cli",
	Short: "Deal Engine CLI - rate used vehicle listings against reference pricing",
	Long: `Deal Engine CLI rates scraped marketplace listings against cached
reference pricing, fetching what the cache lacks.

Use this tool to:
  - Analyze a scraped listings file into a deal report
  - Inspect and refresh the pricing cache
  - Check how a trim string normalizes
  - Rate a single price against a valuation`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logLevel := cfg.Observability.LogLevel
		if verbose {
			logLevel = "debug"
		}
		logger = observability.NewLogger(observability.LogConfig{
			Level:       logLevel,
			Format:      cfg.Observability.LogFormat,
			ServiceName: "deal-engine-cli",
		})

		return nil
	},
}

// usageError marks bad command-line input.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...interface{}) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		newAnalyzeCmd(),
		newCacheCmd(),
		newNormalizeCmd(),
		newRateCmd(),
		newVersionCmd(),
	)
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	NewUI(outputJSON, noColor).Error("%v", err)
	os.Exit(exitCode(err))
}

// exitCode maps an error onto the process exit status.
func exitCode(err error) int {
	var ue *usageError
	switch {
	case errors.Is(err, report.ErrNoRatedListings):
		return exitNoRated
	case errors.As(err, &ue), errors.Is(err, filters.ErrInvalidRange):
		return exitInvalidArg
	default:
		return exitError
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.Encode(map[string]string{
					"version": version,
					"commit":  commit,
					"go":      runtime.Version(),
				})
				return
			}
			fmt.Printf("deal-engine-cli %s (%s, %s)\n", version, commit, runtime.Version())
		},
	}
}
