package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tanpawarit/owid-chain/ui/console"
)

func NewCLICmd() *cobra.Command {
	var (
		historyFile string
		noColor     bool
	)

	cmd := &cobra.Command{
		Use:   "cli",
		Short: "Ask questions in an interactive console session",
		Long: `Start a line-mode session. Each line is one question; type q to exit.
The conversation lives only as long as the process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			sess, err := a.registry.Create()
			if err != nil {
				return err
			}

			reader, err := console.NewLineReader(historyFile)
			if err != nil {
				return err
			}

			var opts []console.Option
			if noColor {
				opts = append(opts, console.WithoutColor())
			}
			repl, err := console.NewREPL(reader, sess, console.NewPresenter(os.Stdout, opts...), console.WithSpinner(os.Stderr))
			if err != nil {
				return err
			}
			return repl.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&historyFile, "history-file", ".agent-history-file", "File that keeps typed questions across runs (empty disables it)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable coloured output")
	return cmd
}
