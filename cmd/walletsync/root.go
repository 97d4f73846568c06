package main

import (
	"os"

	"github.com/dvloznov/walletsync/internal/config"
	"github.com/dvloznov/walletsync/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// env is the state every subcommand shares once flags are parsed.
type env struct {
	cfgFile string
	cfg     *config.Config
	log     zerolog.Logger
}

func (e *env) load() error {
	cfg, err := config.Load(e.cfgFile)
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.log = logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	return nil
}

func newRootCmd() *cobra.Command {
	e := &env{}

	rootCmd := &cobra.Command{
		Use:   "walletsync",
		Short: "walletsync keeps a local mirror of upstream financial data",
		Long: `walletsync follows the account, balance and transaction change feeds of
an upstream provider and keeps a local store of accounts and transactions
in step with them, resuming from the last persisted cursor after a restart.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&e.cfgFile, "config", "c", "", "set the config file path")

	rootCmd.AddCommand(newServeCmd(e))
	rootCmd.AddCommand(newInspectCmd(e))
	rootCmd.AddCommand(newCursorsCmd(e))
	rootCmd.AddCommand(newAuthorizeCmd(e))
	rootCmd.AddCommand(newPublishCmd(e))

	return rootCmd
}
