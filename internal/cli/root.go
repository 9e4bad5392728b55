// Package cli implements the trac command tree over the client library.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/trac-client/internal/config"
	"github.com/spec-kit/trac-client/internal/observability"
	"github.com/spec-kit/trac-client/pkg/trac"
)

// session carries the wired-up dependencies every subcommand needs.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	conn   *trac.Connection
}

// Execute runs the trac command.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the trac command tree.
func NewRootCommand() *cobra.Command {
	s := &session{}

	var (
		flagURL      string
		flagUser     string
		flagPassword string
		flagProfile  string
		flagLogLevel string
	)

	cmd := &cobra.Command{
		Use:           "trac",
		Short:         "Work with a Trac-style issue tracker through its HTML interface",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithProfile(flagProfile)
			if err != nil {
				return err
			}
			if flagURL != "" {
				cfg.Tracker.BaseURL = flagURL
			}
			if flagUser != "" {
				cfg.Tracker.Username = flagUser
			}
			if flagPassword != "" {
				cfg.Tracker.Password = flagPassword
			}
			if flagLogLevel != "" {
				cfg.Logger.Level = flagLogLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := observability.NewLogger(cfg.Logger)
			if err != nil {
				return fmt.Errorf("failed to init logger: %w", err)
			}

			conn, err := trac.NewConnection(cfg.Tracker.BaseURL, cfg.Tracker.Username, cfg.Tracker.Password,
				trac.WithLogger(logger),
				trac.WithTimeout(cfg.Tracker.RequestTimeout()))
			if err != nil {
				return err
			}

			s.cfg = cfg
			s.logger = logger
			s.conn = conn
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if s.logger != nil {
				_ = s.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flagURL, "url", "", "Tracker base URL (overrides TRAC_URL and profiles)")
	cmd.PersistentFlags().StringVar(&flagUser, "user", "", "Tracker username")
	cmd.PersistentFlags().StringVar(&flagPassword, "password", "", "Tracker password")
	cmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "Named profile from the profiles file")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newShowCommand(s),
		newCreateCommand(s),
		newUpdateCommand(s),
		newCommentCommand(s),
		newAttachCommand(s),
		newAttachmentsCommand(s),
		newHistoryCommand(s),
		newSearchCommand(s),
	)
	return cmd
}
