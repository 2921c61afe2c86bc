package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	configx "github.com/tanpawarit/chative-experts/pkg/config"
	"github.com/tanpawarit/chative-experts/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve turns over HTTP with server-sent events",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		httpCfg, err := configx.New[server.Config]("HTTP")
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			httpCfg.Addr = addr
		}

		a, err := bootstrap(ctx, false)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				log.Warn().Err(err).Msg("close resources")
			}
		}()

		deps := server.Deps{
			Turns:     a.orchestrator,
			Confirmer: a.interceptor,
			State:     a.state,
			History:   a.history,
			Metrics:   a.metrics.Handler(),
		}
		if a.verifier != nil {
			deps.Verifier = a.verifier
		}
		srv, err := server.New(*httpCfg, deps)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address, overrides HTTP_ADDR")
}

