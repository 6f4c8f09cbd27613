package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	Output  string
	Verbose bool
}

var opts = &options{Output: "text"}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "studyctl",
		Short: "Operator tool for the study gateway",
		Long: `studyctl runs maintenance tasks against the gateway's database and Redis.

Connection settings come from the same environment as the server
(DATABASE_URL, REDIS_URL, ...).`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
			if opts.Verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", opts.Output, "Output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", opts.Verbose, "Verbose output")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newHashPasswordCmd())
	rootCmd.AddCommand(newIssueKeyCmd())
	rootCmd.AddCommand(newRevokeKeysCmd())
	rootCmd.AddCommand(newDisableGameCmd())
	rootCmd.AddCommand(newSpikesCmd())
	rootCmd.AddCommand(newWatchNotificationsCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
