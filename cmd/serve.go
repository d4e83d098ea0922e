package cmd

import (
	"github.com/bz888/studyhelper/internal/api/server"
	"github.com/bz888/studyhelper/internal/config"
	"github.com/bz888/studyhelper/internal/events"
	"github.com/bz888/studyhelper/internal/logger"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat session over HTTP and websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			if err := logger.InitLogger(cfg.Dev, cfg.LogPath, nil); err != nil {
				return err
			}
			defer logger.Close()
			log := logger.NewLogger("main")

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			deps, err := wire(ctx, cfg)
			if err != nil {
				return err
			}
			bus := events.NewBus()
			defer bus.Close()
			ctrl := deps.controller(cfg, bus)

			if r := deps.adapter.EnsureReady(ctx); !r.Ready {
				log.Warn().Str("model", cfg.Model).Str("reason", r.Reason).Msg("backend not ready yet")
			}

			srv := server.New(ctrl, bus, server.WithCatalog(deps.registry), server.WithModel(deps.adapter.Model))
			return srv.Run(ctx, cfg.Server.Addr)
		},
	}
}
