package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/walletsync/internal/app"
	"github.com/spf13/cobra"
)

func newServeCmd(e *env) *cobra.Command {
	var feedSource string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync coordinator, the HTTP API and the Notion export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if feedSource != "" {
				e.cfg.Feed.Source = feedSource
				if err := e.cfg.Validate(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, e)
		},
	}

	cmd.Flags().StringVar(&feedSource, "feed", "", "override feed.source (memory, redis)")

	return cmd
}

func serve(ctx context.Context, e *env) error {
	e.log.Info().
		Str("env", e.cfg.Env).
		Str("config", e.cfg.ConfigPath).
		Str("storage", e.cfg.Storage.Backend).
		Str("feed", e.cfg.Feed.Source).
		Bool("api", e.cfg.API.Enabled).
		Bool("notion", e.cfg.Notion.Enabled()).
		Msg("Starting walletsync")

	application, cleanup, err := app.New(ctx, e.cfg, e.log)
	defer cleanup()
	if err != nil {
		return err
	}

	if err := application.Run(ctx); err != nil {
		return err
	}
	e.log.Info().Msg("walletsync stopped")
	return nil
}
