package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bz888/studyhelper/internal/api/server"
	"github.com/bz888/studyhelper/internal/config"
	"github.com/bz888/studyhelper/internal/controller"
	"github.com/bz888/studyhelper/internal/events"
	"github.com/bz888/studyhelper/internal/logger"
	"github.com/bz888/studyhelper/internal/ui"
	"github.com/spf13/cobra"
)

var configFile string

func newRootCmd() *cobra.Command {
	var serve bool

	rootCmd := &cobra.Command{
		Use:   "studyhelper",
		Short: "Chat with a local or hosted language model while you study",
		Long: `studyhelper streams answers from Ollama, OpenAI or Gemini into a terminal chat.

Examples:
  studyhelper                          # chat with the default Ollama model
  studyhelper --backend openai         # uses OPENAI_API_KEY
  studyhelper --serve --addr :8080     # also expose the session over HTTP
  studyhelper serve                    # HTTP only
  studyhelper models                   # list available models`,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, serve)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Config file (default ./studyhelper.yaml)")
	flags.StringP("backend", "b", "", "Backend: ollama, openai or gemini")
	flags.StringP("model", "m", "", "Model name")
	flags.Bool("dev", false, "Development mode")
	flags.String("log-path", "", "Directory for log files")
	flags.String("addr", "", "HTTP listen address")

	rootCmd.Flags().String("title", "", "Window title")
	rootCmd.Flags().BoolVar(&serve, "serve", false, "Serve the session over HTTP next to the terminal UI")

	rootCmd.AddCommand(newServeCmd(), newModelsCmd(), newAskCmd())
	return rootCmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runChat(cmd *cobra.Command, serve bool) error {
	cfg, err := config.Load(cmd.Flags(), configFile)
	if err != nil {
		return err
	}

	view := ui.New(cfg.Title, cfg.Dev)
	if err := logger.InitLogger(cfg.Dev, cfg.LogPath, view.DebugConsole()); err != nil {
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

	var sink controller.Sink = view
	var bus *events.Bus
	if serve {
		bus = events.NewBus()
		defer bus.Close()
		sink = controller.Tee(view, bus)
	}
	ctrl := deps.controller(cfg, sink)

	if serve {
		srv := server.New(ctrl, bus, server.WithCatalog(deps.registry), server.WithModel(deps.adapter.Model))
		go func() {
			if err := srv.Run(ctx, cfg.Server.Addr); err != nil {
				log.Error().Err(err).Msg("server stopped")
			}
		}()
	}

	view.Bind(ctrl, deps.adapter, deps.registry)
	if err := view.Run(ctx); err != nil {
		return fmt.Errorf("terminal ui: %w", err)
	}
	return nil
}
