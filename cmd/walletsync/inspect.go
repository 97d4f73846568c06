package main

import (
	"fmt"
	"sort"

	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

type inspectFlags struct {
	Transactions bool
	AccountID    string
}

func newInspectCmd(e *env) *cobra.Command {
	flags := &inspectFlags{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the accounts and transactions in the local store",
		Long: `Show the persisted accounts with their latest balance and dues.
Use --transactions to list transactions as well, optionally for one account.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := openLocalState(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer state.close()

			accounts := state.store.Accounts()
			if flags.AccountID != "" {
				acc, ok := state.store.Account(flags.AccountID)
				if !ok {
					return fmt.Errorf("account %s not found", flags.AccountID)
				}
				accounts = []domain.Account{acc}
			}
			displayAccounts(accounts)

			if flags.Transactions || flags.AccountID != "" {
				txns := state.store.Transactions()
				if flags.AccountID != "" {
					txns = state.store.TransactionsForAccount(flags.AccountID)
				}
				displayTransactions(txns, accounts)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&flags.Transactions, "transactions", "t", false, "List transactions")
	cmd.Flags().StringVarP(&flags.AccountID, "account", "a", "", "Only show this account and its transactions")

	return cmd
}

func displayAccounts(accounts []domain.Account) {
	tableData := pterm.TableData{{"ID", "Title", "Kind", "Balance", "Dues", "Updated"}}

	for _, acc := range accounts {
		balance := "-"
		if latest, ok := acc.LatestBalance(); ok {
			text := fmt.Sprintf("%s %s", latest.Amount.StringFixed(2), acc.CurrencyCode)
			if latest.Amount.IsNegative() {
				balance = pterm.Red(text)
			} else {
				balance = pterm.Green(text)
			}
		}

		updated := pterm.Gray("never")
		if acc.UpdatedAt != nil {
			updated = acc.UpdatedAt.Local().Format("2006-01-02 15:04")
		}

		tableData = append(tableData, []string{
			acc.ID,
			acc.Title,
			acc.Kind.Title(),
			balance,
			fmt.Sprint(len(acc.Dues)),
			updated,
		})
	}

	pterm.DefaultSection.Println("Accounts")
	_ = pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
	pterm.Info.Printf("Total: %d accounts\n", len(accounts))
}

func displayTransactions(txns []domain.Transaction, accounts []domain.Account) {
	titles := make(map[string]string, len(accounts))
	for _, acc := range accounts {
		titles[acc.ID] = acc.Title
	}

	sort.SliceStable(txns, func(i, j int) bool { return txns[i].Date.After(txns[j].Date) })

	tableData := pterm.TableData{{"Date", "Account", "Description", "Amount"}}
	for _, tx := range txns {
		account := titles[tx.AccountID]
		if account == "" {
			account = tx.AccountID
		}

		amount := fmt.Sprintf("%s %s", tx.Amount.StringFixed(2), tx.CurrencyCode)
		if tx.Amount.IsNegative() {
			amount = pterm.Red(amount)
		} else {
			amount = pterm.Green(amount)
		}

		tableData = append(tableData, []string{
			tx.Date.Local().Format("2006-01-02"),
			account,
			tx.Description,
			amount,
		})
	}

	pterm.DefaultSection.Println("Transactions")
	_ = pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
	pterm.Info.Printf("Total: %d transactions\n", len(txns))
}
