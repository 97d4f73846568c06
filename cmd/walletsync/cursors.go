package main

import (
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newCursorsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursors",
		Short: "List or reset persisted feed cursors",
	}

	cmd.AddCommand(newCursorsListCmd(e))
	cmd.AddCommand(newCursorsClearCmd(e))

	return cmd
}

func newCursorsListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every persisted cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := openLocalState(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer state.close()

			entries, err := state.cursors.List(cmd.Context())
			if err != nil {
				return err
			}

			tableData := pterm.TableData{{"Feed", "Account", "Cursor"}}
			for _, entry := range entries {
				scope := entry.Scope
				if scope == "" {
					scope = pterm.Gray("-")
				}
				tableData = append(tableData, []string{string(entry.Kind), scope, string(entry.Cursor)})
			}

			pterm.DefaultSection.Println("Cursors")
			_ = pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
			pterm.Info.Printf("Total: %d cursors\n", len(entries))
			return nil
		},
	}
}

type clearFlags struct {
	Kind    string
	Account string
	All     bool
	Yes     bool
}

// surveyOpts contains custom options for all survey prompts
var surveyOpts = []survey.AskOpt{
	survey.WithIcons(func(icons *survey.IconSet) {
		icons.Question.Text = "-"
	}),
}

func newCursorsClearCmd(e *env) *cobra.Command {
	flags := &clearFlags{}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget cursors so feeds are replayed from their start",
		Long: `Forget one cursor, or all of them with --all. The next serve replays the
affected feeds from the beginning; the store absorbs the replay.`,
		Example: `  walletsync cursors clear --kind accounts
  walletsync cursors clear --kind transactions --account 6f1c...
  walletsync cursors clear --all --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.All == (flags.Kind != "") {
				return errors.New("use either --kind or --all")
			}

			state, err := openLocalState(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer state.close()

			if flags.All {
				entries, err := state.cursors.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(entries) > 0 && !flags.Yes {
					pterm.Warning.Println("Every feed will be replayed from its start on the next serve")
					var confirmation bool
					confirmPrompt := &survey.Confirm{
						Message: fmt.Sprintf("Clear all %d cursors?", len(entries)),
						Default: false,
					}
					if err := survey.AskOne(confirmPrompt, &confirmation, surveyOpts...); err != nil {
						return err
					}
					if !confirmation {
						pterm.Info.Println("Nothing cleared")
						return nil
					}
				}
				for _, entry := range entries {
					if err := state.cursors.Clear(cmd.Context(), entry.Kind, entry.Scope); err != nil {
						return err
					}
				}
				pterm.Success.Printf("Cleared %d cursors\n", len(entries))
				return nil
			}

			kind, err := domain.ParseResourceKind(flags.Kind)
			if err != nil {
				return err
			}
			if kind == domain.ResourceAccounts && flags.Account != "" {
				return errors.New("the accounts feed has no per-account cursor")
			}
			if kind != domain.ResourceAccounts && flags.Account == "" {
				return fmt.Errorf("--account is required for the %s feed", kind)
			}

			if err := state.cursors.Clear(cmd.Context(), kind, flags.Account); err != nil {
				return err
			}
			pterm.Success.Printf("Cleared %s cursor\n", kind)
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.Kind, "kind", "k", "", "Feed kind (accounts, balances, transactions)")
	cmd.Flags().StringVarP(&flags.Account, "account", "a", "", "Account ID for balance and transaction feeds")
	cmd.Flags().BoolVar(&flags.All, "all", false, "Clear every cursor")
	cmd.Flags().BoolVarP(&flags.Yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}
