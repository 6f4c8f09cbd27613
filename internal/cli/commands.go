package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/studyforge/gateway/internal/model"
	"github.com/studyforge/gateway/internal/notify"
	"github.com/studyforge/gateway/internal/util"
)

// adminPasswordCost is the bcrypt cost for ADMIN_PASSWORD_HASH.
const adminPasswordCost = 12

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := util.HashPassword(args[0], cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", adminPasswordCost, "bcrypt cost")

	return cmd
}

func newIssueKeyCmd() *cobra.Command {
	var env string

	cmd := &cobra.Command{
		Use:   "issue-key <gameId>",
		Short: "Issue a game credential",
		Long: `Issue a credential for a game. The secret is printed once and cannot be
recovered later.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()

			issued, err := d.credentials.Issue(cmd.Context(), args[0], model.Environment(env))
			if err != nil {
				return err
			}

			return printResult(cmd.OutOrStdout(), issued, func(w io.Writer) {
				fmt.Fprintf(w, "credential: %s\n", issued.Credential.ID)
				fmt.Fprintf(w, "environment: %s\n", issued.Credential.Environment)
				fmt.Fprintf(w, "secret: %s\n", issued.Secret)
			})
		},
	}

	cmd.Flags().StringVar(&env, "env", string(model.EnvironmentDevelopment), "Environment: development, production")

	return cmd
}

func newRevokeKeysCmd() *cobra.Command {
	var gameID string

	cmd := &cobra.Command{
		Use:   "revoke-keys [credentialId...]",
		Short: "Revoke credentials by id, or every credential of a game",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (gameID == "") == (len(args) == 0) {
				return fmt.Errorf("pass credential ids or --game, not both")
			}

			d, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()

			var revoked int64
			if gameID != "" {
				revoked, err = d.credentials.RevokeAll(cmd.Context(), gameID)
			} else {
				revoked, err = d.credentials.RevokeMany(cmd.Context(), args)
			}
			if err != nil {
				return err
			}

			return printResult(cmd.OutOrStdout(), map[string]int64{"revoked": revoked}, func(w io.Writer) {
				fmt.Fprintf(w, "revoked %d credential(s)\n", revoked)
			})
		},
	}

	cmd.Flags().StringVar(&gameID, "game", "", "Revoke every active credential of this game")

	return cmd
}

func newDisableGameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable-game <gameId>",
		Short: "Disable a game, revoke its credentials and notify its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()

			result, err := d.audit.DisableGame(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return printResult(cmd.OutOrStdout(), result, func(w io.Writer) {
				fmt.Fprintf(w, "game %s disabled\n", result.Game.ID)
				fmt.Fprintf(w, "revoked %d credential(s)\n", result.RevokedCredentials)
				fmt.Fprintf(w, "notification: %s\n", result.NotificationID)
			})
		},
	}
}

func newSpikesCmd() *cobra.Command {
	var threshold int

	cmd := &cobra.Command{
		Use:   "spikes",
		Short: "List sessions whose AI request count exceeds the threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()

			var override *int
			effective := d.audit.SpikeThreshold()
			if cmd.Flags().Changed("threshold") {
				override = &threshold
				effective = threshold
			}
			spikes, err := d.audit.Spikes(cmd.Context(), override)
			if err != nil {
				return err
			}

			return printResult(cmd.OutOrStdout(), spikes, func(w io.Writer) {
				fmt.Fprintf(w, "Sessions above %d requests\n\n", effective)
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SESSION\tGAME\tREQUESTS\tPROMPT\tCOMPLETION")
				for _, s := range spikes {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", s.SessionID, s.GameID, s.RequestCount, s.PromptTokens, s.CompletionTokens)
				}
				tw.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&threshold, "threshold", 0, "Override the configured spike threshold")

	return cmd
}

func newWatchNotificationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch-notifications <recipientId>",
		Short: "Stream notifications published for a researcher",
		Long: `Subscribe to a researcher's notification channel and print each event.

Press Ctrl+C to stop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !util.IsValidUUID(args[0]) {
				return fmt.Errorf("recipientId must be a UUID")
			}

			redisClient, err := connectRedis(cfg)
			if err != nil {
				return err
			}
			defer redisClient.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.ErrOrStderr(), "watching notifications for %s\n", args[0])
			for event := range notify.NewRedisSink(redisClient).Subscribe(ctx, args[0]) {
				err := printResult(cmd.OutOrStdout(), event, func(w io.Writer) {
					fmt.Fprintf(w, "[%s] %s %s\n", event.CreatedAt.Format("15:04:05"), event.Type, event.Payload)
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
}
