package main

import (
	"errors"

	"github.com/dvloznov/walletsync/internal/app"
	"github.com/dvloznov/walletsync/internal/config"
	"github.com/dvloznov/walletsync/internal/feed"
	"github.com/dvloznov/walletsync/internal/feed/redisfeed"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newAuthorizeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "authorize [notDetermined|authorized|denied]",
		Short: "Show or set the authorization state of the redis feed",
		Long: `Without an argument, print the authorization state readers observe.
With one, store it; a running serve picks up the change on its next read.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			publisher, closeFn, err := openPublisher(e)
			if err != nil {
				return err
			}
			defer closeFn()

			if len(args) == 0 {
				state, err := publisher.Authorization(cmd.Context())
				if err != nil {
					return err
				}
				pterm.Info.Printf("Authorization: %s\n", state)
				return nil
			}

			state, err := feed.ParseAuthorizationState(args[0])
			if err != nil {
				return err
			}
			if err := publisher.SetAuthorization(cmd.Context(), state); err != nil {
				return err
			}
			pterm.Success.Printf("Authorization set to %s\n", state)
			return nil
		},
	}
}

// openPublisher connects to the feed Redis. Only the redis source has an
// out-of-process upstream to write to.
func openPublisher(e *env) (*redisfeed.Publisher, func(), error) {
	if e.cfg.Feed.Source != config.SourceRedis {
		return nil, nil, errors.New("this command needs feed.source set to redis")
	}

	client, err := app.NewFeedClient(e.cfg.Feed)
	if err != nil {
		return nil, nil, err
	}
	return redisfeed.NewPublisher(client, e.cfg.Feed.StreamPrefix), func() { _ = client.Close() }, nil
}
