// Package cmd holds the command-line entry points: an interactive console
// session and the web UI.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	configx "github.com/tanpawarit/owid-chain/pkg/config"
	logx "github.com/tanpawarit/owid-chain/pkg/logger"
)

func NewRootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "owid-chain",
		Short: "Ask questions answered from Our World in Data, Wikipedia and arXiv",
		Long: `owid-chain runs a reasoning agent that picks one knowledge tool per step
and answers with a structured response: plain text, a table, a bar or line
chart, or dataset metadata with a preview of its rows.

Available subcommands:
  cli         Interactive console session
  web         Browser UI with chat and session history

Examples:
  owid-chain cli
  owid-chain --env prod.env web --addr :8080`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configx.SetEnvFile(envFile)
			conf, err := configx.New[logx.Config]("LOG")
			if err != nil {
				return err
			}
			logx.Init(*conf)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&envFile, "env", "", "Path to an env file (default: ./.env when present)")

	cmd.AddCommand(NewCLICmd())
	cmd.AddCommand(NewWebCmd())
	return cmd
}

// Execute runs the root command until it finishes or the process receives
// SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("owid-chain: exited with error")
		stop()
		os.Exit(1)
	}
}
