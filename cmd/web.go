package cmd

import (
	"github.com/spf13/cobra"

	configx "github.com/tanpawarit/owid-chain/pkg/config"
	"github.com/tanpawarit/owid-chain/ui/web"
)

func NewWebCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serve the browser UI",
		Long: `Serve the chat page, the JSON and websocket API, /health and /metrics.
Each browser gets its own session, tracked by cookie.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configx.New[web.Config]("WEB")
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			srv, err := web.NewServer(*cfg, a.registry,
				web.WithTools(a.catalog.Descriptors()),
				web.WithGatherer(a.metrics),
				web.WithTurnBudget(a.turnBudget),
			)
			if err != nil {
				return err
			}
			go a.registry.Run(cmd.Context())
			return srv.ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: WEB_ADDR or :8501)")
	return cmd
}
