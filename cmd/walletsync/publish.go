package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/feed"
	"github.com/dvloznov/walletsync/internal/feed/redisfeed"
	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

type publishFlags struct {
	Account string
}

func newPublishCmd(e *env) *cobra.Command {
	flags := &publishFlags{}

	cmd := &cobra.Command{
		Use:   "publish <accounts|balances|transactions> <file|->",
		Short: "Append a change batch to a redis feed",
		Long: `Append one batch to an upstream change feed. The file holds JSON of the form
{"inserted": [...], "updated": [...], "deleted": ["<id>", ...]}
and "-" reads it from stdin.`,
		Example: `  walletsync publish accounts accounts.json
  walletsync publish transactions --account 6f1c... txns.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseResourceKind(args[0])
			if err != nil {
				return err
			}

			var accountID uuid.UUID
			if kind != domain.ResourceAccounts {
				if accountID, err = uuid.Parse(flags.Account); err != nil {
					return fmt.Errorf("--account must be an account UUID: %w", err)
				}
			}

			data, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}

			publisher, closeFn, err := openPublisher(e)
			if err != nil {
				return err
			}
			defer closeFn()

			id, err := publishBatch(cmd.Context(), publisher, kind, accountID, data)
			if err != nil {
				return err
			}
			pterm.Success.Printf("Published %s batch %s\n", kind, id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.Account, "account", "a", "", "Account ID for balance and transaction batches")

	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	return data, nil
}

func publishBatch(ctx context.Context, p *redisfeed.Publisher, kind domain.ResourceKind, accountID uuid.UUID, data []byte) (string, error) {
	switch kind {
	case domain.ResourceAccounts:
		b, err := redisfeed.ParseBatch[feed.Account](data)
		if err != nil {
			return "", err
		}
		return p.PublishAccounts(ctx, b)
	case domain.ResourceBalances:
		b, err := redisfeed.ParseBatch[feed.Balance](data)
		if err != nil {
			return "", err
		}
		return p.PublishBalances(ctx, accountID, b)
	default:
		b, err := redisfeed.ParseBatch[feed.Transaction](data)
		if err != nil {
			return "", err
		}
		return p.PublishTransactions(ctx, accountID, b)
	}
}
