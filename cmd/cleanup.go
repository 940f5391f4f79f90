package cmd

import (
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"os/signal"
	"syscall"
	"testimonial-recorder/config"
	server2 "testimonial-recorder/server"
	"testimonial-recorder/service"
)

func cleanup(config *config.Config) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "delete chunks left by an earlier recording attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(sessionID); err != nil {
				return fmt.Errorf("%w: %q", service.ErrInvalidSession, sessionID)
			}

			ctx, cancel := signal.NotifyContext(server2.SetupLogger(config), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			ctx = zerolog.Ctx(ctx).With().Str("session_id", sessionID).Logger().WithContext(ctx)

			transport, err := server2.BuildTransport(ctx, config)
			if err != nil {
				return err
			}
			uploads := service.NewUploadCoordinator(transport, server2.UploadConfig(config), service.NewLogSink(*zerolog.Ctx(ctx)), service.RealClock())
			if err := uploads.CleanupPrevious(ctx, sessionID); err != nil {
				return err
			}

			zerolog.Ctx(ctx).Info().Msg("previous recording removed")
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "doctor session uuid")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
