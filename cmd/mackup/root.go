package main

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool

	// logOutput is the console sink chosen by setupLogging.
	logOutput io.Writer = os.Stdout
)

var rootCmd = &cobra.Command{
	Use:   "mackup",
	Short: "Device-tagged backups to a shared network drive",
	Long: `mackup copies a list of folders to a mounted network share, zips them into
one archive per weekday and announces busy/done/error on a coordination
channel so several machines can take turns on the same share:
  - Wake-on-LAN and mounting of the share
  - Waiting for the previous device in the rotation
  - PostgreSQL dumps included in the archive
  - SSH shutdown of the share host
  - Telegram notifications

Run it from cron or launchd, or let "mackup schedule" keep it on a cron spec.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (required)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func setupLogging() {
	if jsonOutput {
		logOutput = os.Stdout
	} else {
		logOutput = consoleWriter(os.Stdout, false)
	}
	log.Logger = zerolog.New(logOutput).With().Timestamp().Logger()

	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func consoleWriter(out io.Writer, noColor bool) zerolog.ConsoleWriter {
	output := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05", NoColor: noColor}
	output.FormatLevel = func(i interface{}) string {
		if s, ok := i.(string); ok {
			return strings.ToUpper(s)
		}
		return ""
	}
	return output
}

// teeLogger returns a logger writing to the console and to the run log.
func teeLogger(runLog io.Writer) zerolog.Logger {
	w := zerolog.MultiLevelWriter(logOutput, consoleWriter(runLog, true))
	return zerolog.New(w).With().Timestamp().Logger()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
