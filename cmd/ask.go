package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bz888/studyhelper/internal/api"
	"github.com/bz888/studyhelper/internal/config"
	"github.com/bz888/studyhelper/internal/controller"
	"github.com/bz888/studyhelper/internal/logger"
	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var remote string

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and stream the answer",
		Long: `Ask a question and stream the answer to stdout. Ctrl-C stops the generation
and keeps what was written so far.

Examples:
  studyhelper ask "What is a derivative?"
  studyhelper ask "Explain TCP vs UDP" --remote localhost:8080`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			if remote != "" {
				return askRemote(cmd, remote, question)
			}
			return askLocal(cmd, question)
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "Ask a running studyhelper server instead of a backend")
	return cmd
}

func printEvents(out, errOut io.Writer) func(controller.Event) {
	return func(ev controller.Event) {
		switch ev.Type {
		case controller.EventAssistantTurnDelta:
			fmt.Fprint(out, ev.Text)
		case controller.EventAssistantTurnFinalized:
			fmt.Fprintln(out)
			if ev.Metrics != nil {
				fmt.Fprintln(errOut, ev.Metrics.String())
			}
		case controller.EventExchangeFailed:
			fmt.Fprintln(errOut, ev.Text)
		}
	}
}

// interruptContext returns a context for one exchange. The first Ctrl-C calls stop and
// cancels the context when there was nothing to stop, e.g. while a model is pulled.
// After that the default handler is back, so a second Ctrl-C ends the process.
func interruptContext(parent context.Context, stop func() bool) (context.Context, context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	return watchInterrupt(parent, sig, stop, func() { signal.Stop(sig) })
}

func watchInterrupt(parent context.Context, sig <-chan os.Signal, stop func() bool, release func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		defer release()
		select {
		case <-sig:
			if !stop() {
				cancel()
			}
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func askLocal(cmd *cobra.Command, question string) error {
	cfg, err := config.Load(cmd.Flags(), configFile)
	if err != nil {
		return err
	}
	if err := logger.InitLogger(cfg.Dev, cfg.LogPath, nil); err != nil {
		return err
	}
	defer logger.Close()

	deps, err := wire(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	ctrl := deps.controller(cfg, controller.SinkFunc(printEvents(cmd.OutOrStdout(), cmd.ErrOrStderr())))

	ctx, cancel := interruptContext(cmd.Context(), ctrl.Stop)
	defer cancel()
	return ctrl.Send(ctx, question)
}

func askRemote(cmd *cobra.Command, addr, question string) error {
	remote := api.NewRemote(addr, nil)
	show := printEvents(cmd.OutOrStdout(), cmd.ErrOrStderr())

	ctx, cancel := interruptContext(cmd.Context(), func() bool {
		stopped, err := remote.Stop(context.WithoutCancel(cmd.Context()))
		return err == nil && stopped
	})
	defer cancel()

	return remote.Chat(ctx, question, func(ev controller.Event) error {
		show(ev)
		return nil
	})
}
